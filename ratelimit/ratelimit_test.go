package ratelimit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTime struct {
	now    time.Time
	sleeps []time.Duration
}

func (f *fakeTime) Now() time.Time { return f.now }

func (f *fakeTime) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return nil
}

func newTestLimiter(cfg Config, start time.Time) (*RateLimiter, *fakeTime) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ft := &fakeTime{now: start}
	rl := NewRateLimiter(cfg, logger)
	rl.now = ft.Now
	rl.sleep = ft.Sleep
	rl.dailyResetTime = nextMidnight(start)
	return rl, ft
}

func TestFirstActionDoesNotWait(t *testing.T) {
	rl, ft := newTestLimiter(Config{MinDelay: time.Second}, time.Date(2025, 11, 24, 9, 0, 0, 0, time.UTC))
	require.NoError(t, rl.WaitForPermission(context.Background(), ActionPage))
	assert.Empty(t, ft.sleeps)
}

func TestSecondActionWaitsForMinDelay(t *testing.T) {
	rl, ft := newTestLimiter(Config{MinDelay: 2 * time.Second, PageDelay: time.Second}, time.Date(2025, 11, 24, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	require.NoError(t, rl.WaitForPermission(ctx, ActionPage))
	require.NoError(t, rl.WaitForPermission(ctx, ActionPage))
	assert.Equal(t, []time.Duration{2 * time.Second}, ft.sleeps)

	ft.now = ft.now.Add(10 * time.Second)
	require.NoError(t, rl.WaitForPermission(ctx, ActionPage))
	assert.Len(t, ft.sleeps, 1, "enough time has passed")
}

func TestDailyLimit(t *testing.T) {
	rl, ft := newTestLimiter(Config{DailyBookings: 2}, time.Date(2025, 11, 24, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	require.NoError(t, rl.WaitForPermission(ctx, ActionBooking))
	require.NoError(t, rl.WaitForPermission(ctx, ActionBooking))
	assert.Equal(t, 0, rl.Remaining(ActionBooking))

	err := rl.WaitForPermission(ctx, ActionBooking)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDailyLimit))

	ft.now = time.Date(2025, 11, 25, 0, 0, 1, 0, time.UTC)
	assert.NoError(t, rl.WaitForPermission(ctx, ActionBooking), "counts reset after midnight")
	assert.Equal(t, 1, rl.Remaining(ActionBooking))
}

func TestUncappedAction(t *testing.T) {
	rl, _ := newTestLimiter(Config{}, time.Date(2025, 11, 24, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, -1, rl.Remaining(ActionLLM))
}

func TestLLMRequestsArePacedAndCapped(t *testing.T) {
	rl, ft := newTestLimiter(Config{LLMDelay: 3 * time.Second, DailyLLM: 2}, time.Date(2025, 11, 24, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	require.NoError(t, rl.WaitForPermission(ctx, ActionLLM))
	require.NoError(t, rl.WaitForPermission(ctx, ActionLLM))
	assert.Equal(t, []time.Duration{3 * time.Second}, ft.sleeps)

	err := rl.WaitForPermission(ctx, ActionLLM)
	assert.ErrorIs(t, err, ErrDailyLimit)
	assert.Equal(t, 2, rl.GetStats()["daily_llm"])
}

func TestCancelledWaitRefundsSlot(t *testing.T) {
	rl, _ := newTestLimiter(Config{MinDelay: time.Second, DailyPages: 5}, time.Date(2025, 11, 24, 9, 0, 0, 0, time.UTC))
	require.NoError(t, rl.WaitForPermission(context.Background(), ActionPage))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := rl.WaitForPermission(ctx, ActionPage)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 4, rl.Remaining(ActionPage))
}

func TestGetStats(t *testing.T) {
	rl, _ := newTestLimiter(DefaultConfig(), time.Date(2025, 11, 24, 9, 0, 0, 0, time.UTC))
	require.NoError(t, rl.WaitForPermission(context.Background(), ActionPage))
	stats := rl.GetStats()
	assert.Equal(t, 1, stats["daily_pages"])
	assert.Contains(t, stats, "last_page")
}
