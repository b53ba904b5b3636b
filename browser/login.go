package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"studygroup-assistant/auth"
	"studygroup-assistant/session"
)

// ErrLoginRequired is returned when no valid session exists and the browser
// cannot ask the operator to sign in.
var ErrLoginRequired = errors.New("login required: saved session is missing or expired")

// LoginOptions describe how to confirm a browser session.
type LoginOptions struct {
	Origin        *url.URL
	ProbeURL      string
	Matcher       auth.TargetMatcher
	ManualTimeout time.Duration
	PollInterval  time.Duration
	Clock         auth.Clock
}

// EnsureLogin restores saved cookies and checks them against the probe URL
// before anything else happens in the browser. When they are not valid and
// the browser is visible, it waits for the operator to sign in by hand.
// On success the current cookies are saved back to store.
func (s *Session) EnsureLogin(ctx context.Context, store *session.Store, opts LoginOptions) error {
	if s.restoreAndProbe(ctx, store, opts) {
		return s.save(store)
	}

	if s.opts.Headless {
		return ErrLoginRequired
	}

	if _, err := s.Navigate(ctx, opts.ProbeURL); err != nil {
		return err
	}
	s.logger.WithField("timeout", opts.ManualTimeout.String()).Warn("Please sign in in the browser window")

	clock := opts.Clock
	if clock == nil {
		clock = auth.SystemClock{}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	schedule := auth.NewSchedule(clock, interval, opts.ManualTimeout)

	ok, err := awaitPortal(ctx, func() (*url.URL, error) { return s.CurrentURL(ctx) }, opts.Matcher, schedule, s.logger)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("manual login not completed within %s: %w", opts.ManualTimeout, ErrLoginRequired)
	}
	return s.save(store)
}

func (s *Session) restoreAndProbe(ctx context.Context, store *session.Store, opts LoginOptions) bool {
	if !store.Restore(s, opts.Origin) {
		return false
	}
	page, err := s.Navigate(ctx, opts.ProbeURL)
	if err != nil {
		s.logger.WithError(err).Warn("Session probe failed")
		return false
	}
	if !opts.Matcher.Matches(page.URL) {
		s.logger.WithField("url", page.URL.String()).Info("Saved session expired")
		return false
	}
	s.logger.Info("Saved session is valid")
	return true
}

func (s *Session) save(store *session.Store) error {
	cookies, err := session.Capture(s.Source())
	if err != nil {
		return err
	}
	return store.Persist(cookies)
}

// awaitPortal polls current until matcher accepts it or the schedule runs
// out. Past the deadline a URL on a portal host is accepted with a warning.
func awaitPortal(ctx context.Context, current func() (*url.URL, error), matcher auth.TargetMatcher, schedule *auth.Schedule, logger *logrus.Logger) (bool, error) {
	var last *url.URL
	for schedule.Next(ctx) {
		u, err := current()
		if err != nil {
			logger.WithError(err).Debug("Could not read browser URL")
			continue
		}
		last = u
		if matcher.Matches(u) {
			logger.WithField("url", u.String()).Info("Manual login detected")
			return true, nil
		}
		if schedule.Attempt()%15 == 0 {
			logger.WithField("attempt", schedule.Attempt()).Info("Still waiting for login")
		}
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if last != nil && matcher.OnHost(last) {
		logger.WithField("url", last.String()).Warn("Login timeout reached but browser is on the portal, proceeding")
		return true, nil
	}
	return false, nil
}
