// Package llm turns a study group report into a weekly plan through a
// hosted language model.
package llm

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Provider completes prompts. When w is non-nil the text is also written to
// it as it arrives.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request, w io.Writer) (string, error)
}

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	Provider string
	APIKey   string
	Model    string
	Timeout  time.Duration
	Stream   bool
}

// NewProvider creates the configured provider.
func NewProvider(ctx context.Context, cfg ProviderConfig, logger *logrus.Logger) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for %s provider", cfg.Provider)
	}

	logger.WithFields(logrus.Fields{
		"provider": cfg.Provider,
		"model":    cfg.Model,
	}).Debug("Initializing LLM provider")

	switch cfg.Provider {
	case "claude", "":
		return NewClaudeProvider(cfg, logger), nil
	case "gemini":
		return NewGeminiProvider(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
