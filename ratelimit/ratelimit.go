package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrDailyLimit is returned once an action has used up its daily quota.
var ErrDailyLimit = errors.New("daily limit exceeded")

// RateLimiter paces portal page loads, bookings and LLM requests so the
// automation stays well below anything a person could not plausibly do
type RateLimiter struct {
	logger         *logrus.Logger
	config         Config
	lastActionTime map[ActionType]time.Time
	dailyCounts    map[ActionType]int
	dailyResetTime time.Time
	mu             sync.Mutex

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand
}

// Config defines rate limiting behavior
type Config struct {
	MinDelay     time.Duration `yaml:"min_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	PageDelay    time.Duration `yaml:"page_delay"`
	BookingDelay time.Duration `yaml:"booking_delay"`
	LLMDelay     time.Duration `yaml:"llm_delay"`

	DailyPages    int `yaml:"daily_pages"`
	DailyBookings int `yaml:"daily_bookings"`
	DailyLLM      int `yaml:"daily_llm"`

	JitterPercent float64 `yaml:"jitter_percent"`
}

// ActionType represents the kinds of paced actions
type ActionType string

const (
	ActionPage    ActionType = "page"
	ActionBooking ActionType = "booking"
	ActionLLM     ActionType = "llm"
)

// NewRateLimiter creates a new rate limiter with the given configuration
func NewRateLimiter(config Config, logger *logrus.Logger) *RateLimiter {
	rl := &RateLimiter{
		logger:         logger,
		config:         config,
		lastActionTime: make(map[ActionType]time.Time),
		dailyCounts:    make(map[ActionType]int),
		now:            time.Now,
		sleep:          sleepCtx,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	rl.dailyResetTime = nextMidnight(rl.now())
	return rl
}

// WaitForPermission waits until the action can be performed. The slot is
// reserved before sleeping so concurrent callers queue behind each other.
func (rl *RateLimiter) WaitForPermission(ctx context.Context, action ActionType) error {
	rl.mu.Lock()
	now := rl.now()
	rl.resetIfDue(now)

	if limit := rl.dailyLimit(action); limit > 0 && rl.dailyCounts[action] >= limit {
		count := rl.dailyCounts[action]
		rl.mu.Unlock()
		return fmt.Errorf("%w for %s: %d/%d", ErrDailyLimit, action, count, limit)
	}

	delay := rl.addJitter(rl.calculateDelay(action, now))
	rl.lastActionTime[action] = now.Add(delay)
	rl.dailyCounts[action]++
	rl.mu.Unlock()

	if delay <= 0 {
		return nil
	}

	rl.logger.WithFields(logrus.Fields{
		"action": string(action),
		"delay":  delay,
	}).Debug("Rate limiting - waiting")

	if err := rl.sleep(ctx, delay); err != nil {
		rl.mu.Lock()
		if rl.dailyCounts[action] > 0 {
			rl.dailyCounts[action]--
		}
		rl.mu.Unlock()
		return err
	}
	return nil
}

func (rl *RateLimiter) dailyLimit(action ActionType) int {
	switch action {
	case ActionPage:
		return rl.config.DailyPages
	case ActionBooking:
		return rl.config.DailyBookings
	case ActionLLM:
		return rl.config.DailyLLM
	default:
		return 0
	}
}

// calculateDelay determines how long to wait before the next action
func (rl *RateLimiter) calculateDelay(action ActionType, now time.Time) time.Duration {
	last := rl.lastActionTime[action]
	if last.IsZero() {
		return 0
	}

	var required time.Duration
	switch action {
	case ActionPage:
		required = rl.config.PageDelay
	case ActionBooking:
		required = rl.config.BookingDelay
	case ActionLLM:
		required = rl.config.LLMDelay
	}
	if rl.config.MinDelay > required {
		required = rl.config.MinDelay
	}
	if rl.config.MaxDelay > required {
		required += time.Duration(rl.rng.Int63n(int64(rl.config.MaxDelay-required) + 1))
	}

	elapsed := now.Sub(last)
	if elapsed >= required {
		return 0
	}
	return required - elapsed
}

func (rl *RateLimiter) addJitter(delay time.Duration) time.Duration {
	if rl.config.JitterPercent <= 0 || delay <= 0 {
		return delay
	}
	jitter := float64(delay) * rl.config.JitterPercent / 100.0
	d := float64(delay) + (rl.rng.Float64()*2-1)*jitter
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func (rl *RateLimiter) resetIfDue(now time.Time) {
	if now.Before(rl.dailyResetTime) {
		return
	}
	rl.dailyCounts = make(map[ActionType]int)
	rl.dailyResetTime = nextMidnight(now)
	rl.logger.Info("Daily rate limits reset")
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Remaining returns how many more times action may run today, or -1 when
// it has no daily cap.
func (rl *RateLimiter) Remaining(action ActionType) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.resetIfDue(rl.now())
	limit := rl.dailyLimit(action)
	if limit <= 0 {
		return -1
	}
	if left := limit - rl.dailyCounts[action]; left > 0 {
		return left
	}
	return 0
}

// GetStats returns current rate limiting statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	stats := map[string]interface{}{
		"daily_pages":      rl.dailyCounts[ActionPage],
		"daily_bookings":   rl.dailyCounts[ActionBooking],
		"daily_llm":        rl.dailyCounts[ActionLLM],
		"next_daily_reset": rl.dailyResetTime.Format(time.RFC3339),
	}
	for action, last := range rl.lastActionTime {
		stats["last_"+string(action)] = last.Format(time.RFC3339)
	}
	return stats
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		MinDelay:      300 * time.Millisecond,
		MaxDelay:      1500 * time.Millisecond,
		PageDelay:     500 * time.Millisecond,
		BookingDelay:  5 * time.Second,
		LLMDelay:      time.Second,
		DailyPages:    500,
		DailyBookings: 3,
		DailyLLM:      200,
		JitterPercent: 10,
	}
}
