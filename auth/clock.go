package auth

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time for the second-factor wait.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the real clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FakeClock advances instantly on Sleep.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

// Sleeps returns every duration slept so far.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// Schedule hands out at most timeout/interval attempts, sleeping one
// interval before each, and stops once the deadline has passed.
type Schedule struct {
	clock    Clock
	interval time.Duration
	deadline time.Time
	max      int
	n        int
}

func NewSchedule(clock Clock, interval, timeout time.Duration) *Schedule {
	if interval <= 0 {
		interval = time.Second
	}
	max := int(timeout / interval)
	if max < 1 {
		max = 1
	}
	return &Schedule{
		clock:    clock,
		interval: interval,
		deadline: clock.Now().Add(timeout),
		max:      max,
	}
}

// Next waits one interval and reports whether another attempt may run.
func (s *Schedule) Next(ctx context.Context) bool {
	if s.n >= s.max {
		return false
	}
	if err := s.clock.Sleep(ctx, s.interval); err != nil {
		return false
	}
	if s.clock.Now().After(s.deadline) {
		return false
	}
	s.n++
	return true
}

// Attempt returns the number of attempts handed out so far.
func (s *Schedule) Attempt() int { return s.n }

// Max returns the attempt limit.
func (s *Schedule) Max() int { return s.max }

// Deadline returns the wall-clock limit.
func (s *Schedule) Deadline() time.Time { return s.deadline }
