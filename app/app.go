// Package app wires configuration, storage and the portal, booking and
// planning workflows together for the CLI and the dashboard.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"studygroup-assistant/auth"
	"studygroup-assistant/browser"
	"studygroup-assistant/config"
	"studygroup-assistant/ratelimit"
	"studygroup-assistant/session"
	"studygroup-assistant/stealth"
	"studygroup-assistant/storage"
)

// App holds the shared pieces every workflow needs.
type App struct {
	cfg     *config.Config
	db      *storage.Database
	limiter *ratelimit.RateLimiter
	logger  *logrus.Logger

	// launch opens a browser; replaced in tests
	launch func(log *logrus.Logger) (*browser.Session, error)
}

// New opens the database and prepares the rate limiter.
func New(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	db, err := storage.NewDatabase(cfg.Storage.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{
		cfg:     cfg,
		db:      db,
		limiter: ratelimit.NewRateLimiter(limiterConfig(cfg.Limits), logger),
		logger:  logger,
	}
	a.launch = a.openBrowser
	return a, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.db.Close()
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

func limiterConfig(l config.LimitsConfig) ratelimit.Config {
	rc := ratelimit.DefaultConfig()
	if l.MinDelay > 0 {
		rc.MinDelay = l.MinDelay
	}
	if l.MaxDelay > 0 {
		rc.MaxDelay = l.MaxDelay
	}
	if l.LLMDelay > 0 {
		rc.LLMDelay = l.LLMDelay
	}
	rc.DailyPages = l.DailyPages
	rc.DailyBookings = l.DailyBookings
	rc.DailyLLM = l.DailyLLM
	return rc
}

// Track records fn as a task run of kind.
func (a *App) Track(kind string, fn func() error) error {
	run := &storage.TaskRun{ID: uuid.NewString(), Kind: kind}
	if err := a.db.StartTaskRun(run); err != nil {
		a.logger.WithError(err).Warn("Failed to record task run")
	}
	err := fn()
	if ferr := a.db.FinishTaskRun(run.ID, err); ferr != nil {
		a.logger.WithError(ferr).Warn("Failed to record task result")
	}
	return err
}

func (a *App) openBrowser(log *logrus.Logger) (*browser.Session, error) {
	bc := a.cfg.Browser
	sm := stealth.NewManager(stealth.Config{
		Enabled:        true,
		MinDelay:       a.cfg.Limits.MinDelay,
		MaxDelay:       a.cfg.Limits.MaxDelay,
		TypeDelayMin:   bc.TypeDelayMin,
		TypeDelayMax:   bc.TypeDelayMax,
		ViewportWidth:  bc.ViewportWidth,
		ViewportHeight: bc.ViewportHeight,
	}, log)

	return browser.Launch(browser.Options{
		Headless:       bc.Headless,
		UserAgent:      bc.UserAgent,
		ExecutablePath: bc.ExecutablePath,
		ProfileDir:     bc.ProfileDir,
		SlowMo:         bc.SlowMo,
		PageTimeout:    bc.PageTimeout,
	}, sm, log)
}

// loginOptions builds the browser login check for a site rooted at base.
func (a *App) loginOptions(base, probe string, extraHosts []string) (browser.LoginOptions, error) {
	origin, err := url.Parse(base)
	if err != nil || origin.Host == "" {
		return browser.LoginOptions{}, fmt.Errorf("invalid site URL %q", base)
	}
	matcher, err := auth.NewTargetMatcher(base, extraHosts, a.cfg.Login.AuthMarkers)
	if err != nil {
		return browser.LoginOptions{}, err
	}
	if probe == "" {
		probe = base
	}
	return browser.LoginOptions{
		Origin:        &url.URL{Scheme: origin.Scheme, Host: origin.Host},
		ProbeURL:      probe,
		Matcher:       matcher,
		ManualTimeout: a.cfg.Login.ManualTimeout,
		PollInterval:  2 * time.Second,
		Clock:         auth.SystemClock{},
	}, nil
}

// Login runs the HTTP login sequence and saves the portal session.
func (a *App) Login(ctx context.Context) (*auth.Result, error) {
	return a.login(ctx, a.logger)
}

func (a *App) login(ctx context.Context, log *logrus.Logger) (*auth.Result, error) {
	cred, err := config.LoadCredentials(a.cfg)
	if err != nil {
		return nil, err
	}

	lc := a.cfg.Login
	target, err := auth.NewTargetMatcher(a.cfg.Portal.BaseURL, a.cfg.Portal.ExtraHosts, lc.AuthMarkers)
	if err != nil {
		return nil, err
	}

	seq, err := auth.NewSequencer(auth.Options{
		Target: target,
		Markers: auth.Markers{
			MFA:     lc.MFAMarkers,
			Pending: lc.PendingMarkers,
			KMSI:    lc.KMSIMarkers,
			Error:   lc.ErrorMarkers,
		},
		FormID:         lc.FormID,
		UserAgent:      lc.UserAgent,
		MaxSteps:       lc.MaxSteps,
		PollInterval:   lc.PollInterval,
		MFATimeout:     lc.MFATimeout,
		RequestTimeout: lc.RequestTimeout,
		Clock:          auth.SystemClock{},
		Notifier:       auth.ConsoleNotifier(log),
	}, session.NewStore(a.cfg.Portal.SessionFile, log), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create login sequencer: %w", err)
	}

	return seq.Run(ctx, auth.Credential{
		Identifier: cred.Identifier,
		Secret:     cred.Secret,
		EntryURL:   cred.EntryURL,
	})
}

// ensurePortal confirms the browser is signed in to the portal. When no
// saved session works and the browser cannot ask the operator, the HTTP
// login sequence is run once to refresh the cookie file.
func (a *App) ensurePortal(ctx context.Context, b *browser.Session, log *logrus.Logger) error {
	opts, err := a.loginOptions(a.cfg.Portal.BaseURL, a.cfg.Portal.ProbeURL, a.cfg.Portal.ExtraHosts)
	if err != nil {
		return err
	}
	store := session.NewStore(a.cfg.Portal.SessionFile, log)

	err = b.EnsureLogin(ctx, store, opts)
	if !errors.Is(err, browser.ErrLoginRequired) {
		return err
	}

	log.Info("No valid portal session, signing in with saved credentials")
	result, lerr := a.login(ctx, log)
	if lerr != nil {
		return fmt.Errorf("%w: %v", err, lerr)
	}
	if !result.Success() {
		return fmt.Errorf("%w: %s", err, result.Message)
	}
	return b.EnsureLogin(ctx, store, opts)
}

// writeLine writes an operator-facing line when w is set.
func writeLine(w io.Writer, format string, args ...any) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, format+"\n", args...)
}
