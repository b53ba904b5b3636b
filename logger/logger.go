package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var Logger *logrus.Logger

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// InitLogger initializes the global logger with the specified configuration
func InitLogger(level, format, output string) error {
	l := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	l.SetLevel(logLevel)
	l.SetFormatter(formatter(format))

	switch output {
	case "", "stdout":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	default:
		if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
			return err
		}
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		l.SetOutput(file)
	}

	Logger = l
	return nil
}

func formatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
	}
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	if Logger == nil {
		InitLogger("info", "text", "stdout")
	}
	return Logger
}

// NewTaskLogger returns a logger that writes to the base logger's output and
// to w. Dashboard tasks use it so their log lines show up in the task buffer.
func NewTaskLogger(base *logrus.Logger, w io.Writer) *logrus.Logger {
	if base == nil {
		base = GetLogger()
	}
	l := logrus.New()
	l.SetLevel(base.GetLevel())
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	l.SetOutput(io.MultiWriter(base.Out, w))
	return l
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// WithFields creates a logger entry with multiple fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return GetLogger().WithFields(fields)
}

// WithError creates a logger entry with an error field
func WithError(err error) *logrus.Entry {
	return GetLogger().WithError(err)
}

// Infof logs an info message with formatting
func Infof(format string, args ...interface{}) {
	GetLogger().Infof(format, args...)
}

// Warnf logs a warning message with formatting
func Warnf(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}
