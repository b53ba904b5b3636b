package stealth

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// Config contains pacing and fingerprint settings for browser automation
type Config struct {
	Enabled        bool
	MinDelay       time.Duration
	MaxDelay       time.Duration
	TypeDelayMin   time.Duration
	TypeDelayMax   time.Duration
	ViewportWidth  int
	ViewportHeight int
}

// Manager makes browser interaction look like a person at a keyboard
type Manager struct {
	config Config
	logger *logrus.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewManager creates a new stealth manager
func NewManager(config Config, logger *logrus.Logger) *Manager {
	return &Manager{
		config: config,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

const automationScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
window.chrome = window.chrome || { runtime: {} };
`

// ApplyStealth hides automation indicators on every document the page loads
// and sets the viewport. Failures are logged and do not stop the run.
func (s *Manager) ApplyStealth(page *rod.Page) error {
	if !s.config.Enabled {
		s.logger.Debug("Stealth features disabled")
		return nil
	}

	var failed []string

	if _, err := page.EvalOnNewDocument(automationScript); err != nil {
		s.logger.WithError(err).Warn("Failed to disable automation indicators")
		failed = append(failed, "automation indicators")
	}

	if s.config.ViewportWidth > 0 && s.config.ViewportHeight > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:  s.config.ViewportWidth,
			Height: s.config.ViewportHeight,
		}); err != nil {
			s.logger.WithError(err).Warn("Failed to set viewport")
			failed = append(failed, "viewport")
		}
	}

	if len(failed) > 0 {
		s.logger.WithField("failed_features", failed).Warn("Proceeding without some stealth features")
	} else {
		s.logger.Debug("Stealth techniques applied")
	}
	return nil
}

// RandomDelay returns a duration between the configured bounds
func (s *Manager) RandomDelay() time.Duration {
	return s.between(s.config.MinDelay, s.config.MaxDelay)
}

func (s *Manager) between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + time.Duration(s.rng.Int63n(int64(hi-lo)+1))
}

// Pause waits a random delay or until ctx is done
func (s *Manager) Pause(ctx context.Context) error {
	return sleep(ctx, s.RandomDelay())
}

// HumanLikeType types text into el one character at a time
func (s *Manager) HumanLikeType(ctx context.Context, el *rod.Element, text string) error {
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("failed to focus input: %w", err)
	}
	if err := el.Input(""); err != nil {
		return fmt.Errorf("failed to clear input: %w", err)
	}
	for _, r := range text {
		if err := el.Input(string(r)); err != nil {
			return fmt.Errorf("failed to type: %w", err)
		}
		if err := sleep(ctx, s.between(s.config.TypeDelayMin, s.config.TypeDelayMax)); err != nil {
			return err
		}
	}
	s.logger.WithField("text_length", len(text)).Debug("Typed text")
	return nil
}

// IntelligentClick pauses, then clicks the element matching selector
func (s *Manager) IntelligentClick(ctx context.Context, page *rod.Page, selector string) error {
	if err := s.Pause(ctx); err != nil {
		return err
	}
	element, err := page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %s not found: %w", selector, err)
	}
	if err := element.ScrollIntoView(); err != nil {
		s.logger.WithError(err).Debug("Scroll into view failed")
	}
	return element.Click(proto.InputMouseButtonLeft, 1)
}

func sleep(ctx context.Context, d time.Duration) error {
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
