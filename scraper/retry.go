package scraper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryPolicy tries fast once, then waits longer between retries.
type RetryPolicy struct {
	Attempts  int
	FirstWait time.Duration
	Wait      time.Duration
}

// Retry runs fn until it succeeds or the attempts run out. The last error
// is returned.
func Retry(ctx context.Context, p RetryPolicy, logger *logrus.Logger, what string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		wait := p.FirstWait
		if i > 0 {
			wait = p.Wait
			logger.WithFields(logrus.Fields{
				"action":  what,
				"attempt": i + 1,
				"wait":    wait,
			}).Info("Retrying")
		}
		if err := pause(ctx, wait); err != nil {
			return err
		}
		if err = fn(); err == nil {
			return nil
		}
		logger.WithError(err).WithField("action", what).Warn("Attempt failed")
	}
	return err
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
