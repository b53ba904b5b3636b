package stealth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"studygroup-assistant/logger"
)

func TestRandomDelayWithinBounds(t *testing.T) {
	m := NewManager(Config{MinDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond}, logger.Discard())
	for i := 0; i < 200; i++ {
		d := m.RandomDelay()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 20*time.Millisecond)
	}
}

func TestRandomDelayFixedWhenBoundsEqual(t *testing.T) {
	m := NewManager(Config{MinDelay: 5 * time.Millisecond, MaxDelay: 5 * time.Millisecond}, logger.Discard())
	assert.Equal(t, 5*time.Millisecond, m.RandomDelay())
}

func TestPauseHonoursCancel(t *testing.T) {
	m := NewManager(Config{MinDelay: time.Hour, MaxDelay: time.Hour}, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Pause(ctx), context.Canceled)
}
