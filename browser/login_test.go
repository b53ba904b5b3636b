package browser

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studygroup-assistant/auth"
	"studygroup-assistant/logger"
)

func urls(t *testing.T, raw ...string) func() (*url.URL, error) {
	i := 0
	return func() (*url.URL, error) {
		if i >= len(raw) {
			i = len(raw) - 1
		}
		u, err := url.Parse(raw[i])
		require.NoError(t, err)
		i++
		return u, nil
	}
}

func matcher(t *testing.T) auth.TargetMatcher {
	m, err := auth.NewTargetMatcher("https://learning.example.edu", nil, nil)
	require.NoError(t, err)
	return m
}

func TestAwaitPortalDetectsLogin(t *testing.T) {
	clock := auth.NewFakeClock(time.Unix(0, 0))
	schedule := auth.NewSchedule(clock, 2*time.Second, time.Minute)

	ok, err := awaitPortal(context.Background(), urls(t,
		"https://login.microsoftonline.com/common/oauth2/authorize",
		"https://login.microsoftonline.com/common/login",
		"https://learning.example.edu/",
	), matcher(t), schedule, logger.Discard())

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, schedule.Attempt())
}

func TestAwaitPortalTimeoutAcceptsPortalHost(t *testing.T) {
	schedule := auth.NewSchedule(auth.NewFakeClock(time.Unix(0, 0)), 2*time.Second, 6*time.Second)

	ok, err := awaitPortal(context.Background(), urls(t,
		"https://learning.example.edu/login/saml",
	), matcher(t), schedule, logger.Discard())

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAwaitPortalTimeout(t *testing.T) {
	schedule := auth.NewSchedule(auth.NewFakeClock(time.Unix(0, 0)), 2*time.Second, 6*time.Second)

	ok, err := awaitPortal(context.Background(), urls(t,
		"https://login.microsoftonline.com/common/login",
	), matcher(t), schedule, logger.Discard())

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, schedule.Attempt())
}

func TestAwaitPortalSkipsURLErrors(t *testing.T) {
	schedule := auth.NewSchedule(auth.NewFakeClock(time.Unix(0, 0)), time.Second, 3*time.Second)
	calls := 0
	current := func() (*url.URL, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("target closed")
		}
		return url.Parse("https://learning.example.edu/courses")
	}

	ok, err := awaitPortal(context.Background(), current, matcher(t), schedule, logger.Discard())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, calls)
}
