package auth

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"studygroup-assistant/inspect"
	"studygroup-assistant/session"
)

// Credential is the operator's login input.
type Credential struct {
	Identifier string
	Secret     string
	EntryURL   string
}

// Options configure a Sequencer.
type Options struct {
	Target         TargetMatcher
	Markers        Markers
	FormID         string
	UserAgent      string
	MaxSteps       int
	PollInterval   time.Duration
	MFATimeout     time.Duration
	RequestTimeout time.Duration
	Clock          Clock
	Notifier       Notifier
}

// Result is the outcome of a login run. Provider-reported failures land in
// Message; transport and parse failures are also returned as errors.
type Result struct {
	State      State
	Ambiguous  bool
	Restored   bool
	FinalURL   string
	Message    string
	RoundTrips int
	Cookies    session.CookieSet
}

// Success reports whether the run ended authenticated.
func (r *Result) Success() bool {
	return r.State == StateAuthenticated
}

// Sequencer drives the federated login over plain HTTP.
type Sequencer struct {
	opts       Options
	store      *session.Store
	jar        *session.Jar
	transport  *Transport
	classifier *Classifier
	poller     *Poller
	logger     *logrus.Logger
}

// NewSequencer creates a sequencer whose cookies are restored from and
// saved to store.
func NewSequencer(opts Options, store *session.Store, logger *logrus.Logger) (*Sequencer, error) {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 10
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.MFATimeout <= 0 {
		opts.MFATimeout = 5 * time.Minute
	}

	jar, err := session.NewJar()
	if err != nil {
		return nil, err
	}
	transport := NewTransport(jar, opts.UserAgent, opts.RequestTimeout, logger)

	return &Sequencer{
		opts:      opts,
		store:     store,
		jar:       jar,
		transport: transport,
		classifier: &Classifier{
			Target:  opts.Target,
			Markers: opts.Markers,
		},
		poller: NewPoller(transport, opts.Clock, opts.Notifier, opts.Markers.Pending, logger),
		logger: logger,
	}, nil
}

// Jar exposes the cookie jar, e.g. for follow-up requests on the same session.
func (s *Sequencer) Jar() *session.Jar {
	return s.jar
}

type loginContext struct {
	page         *inspect.Page
	state        State
	step         int
	mfaAttempted bool
}

// Run performs the login. Saved cookies are tried first; when the first
// request already lands on the portal no credentials are posted.
func (s *Sequencer) Run(ctx context.Context, cred Credential) (*Result, error) {
	result := &Result{State: StateInit}

	entry, err := url.Parse(cred.EntryURL)
	if err != nil || entry.Host == "" {
		return s.fail(result, fmt.Errorf("invalid entry URL %q", cred.EntryURL))
	}
	origin := &url.URL{Scheme: entry.Scheme, Host: entry.Host}

	s.logger.WithFields(logrus.Fields{
		"entry":      redact(entry),
		"identifier": maskIdentifier(cred.Identifier),
	}).Info("Starting login")

	result.Restored = s.store.Restore(s.jar, origin)

	page, err := s.transport.Get(ctx, entry.String())
	if err != nil {
		return s.fail(result, fmt.Errorf("failed to load entry page: %w", err))
	}

	if s.opts.Target.Matches(page.URL) {
		if result.Restored {
			s.logger.Info("Saved session is still valid")
		} else {
			s.logger.Info("Already authenticated")
		}
		return s.finish(result, page, false)
	}
	if result.Restored {
		s.logger.Info("Saved session expired, logging in again")
	}

	lc := &loginContext{page: page, state: StateInit}

	for lc.step = 1; ; lc.step++ {
		if lc.step > s.opts.MaxSteps {
			result.Message = fmt.Sprintf("login did not finish after %d steps", s.opts.MaxSteps)
			return s.fail(result, fmt.Errorf("%s", result.Message))
		}

		previous := lc.state
		switch lc.state {
		case StateInit:
			lc.page, err = s.submitCredential(ctx, lc.page, cred.Identifier, "")
			lc.state = StateUsernameSubmitted
		case StateUsernameSubmitted:
			lc.page, err = s.submitCredential(ctx, lc.page, cred.Identifier, cred.Secret)
			lc.state = StatePasswordSubmitted
		case StateMFAPending:
			lc.page, err = s.awaitSecondFactor(ctx, lc.page)
			lc.mfaAttempted = true
		case StateKeepSignedInPrompt:
			lc.page, err = s.declineKeepSignedIn(ctx, lc.page)
		case StateRelay:
			lc.page, err = s.submitRelay(ctx, lc.page)
		}
		if err != nil {
			return s.fail(result, err)
		}

		verdict := s.classifier.Classify(lc.page, lc.mfaAttempted)
		s.logger.WithFields(logrus.Fields{
			"step":    lc.step,
			"from":    previous.String(),
			"verdict": verdict.State.String(),
			"url":     redact(lc.page.URL),
		}).Debug("Login step classified")

		switch {
		case verdict.State == StateFailed:
			result.Message = verdict.Message
			result.FinalURL = redact(lc.page.URL)
			result.RoundTrips = s.transport.RoundTrips()
			result.State = StateFailed
			s.logger.WithField("message", verdict.Message).Error("Login rejected by identity provider")
			return result, nil

		case verdict.State == StateAuthenticated && !verdict.Ambiguous:
			return s.finish(result, lc.page, false)

		case verdict.Ambiguous && lc.state == StateUsernameSubmitted:
			// the password page carries no marker of its own

		case verdict.Ambiguous:
			return s.finish(result, lc.page, true)

		default:
			lc.state = verdict.State
		}
	}
}

// submitCredential posts the identifier (and secret, when given) using the
// embedded provider config when it has tokens, otherwise the login form.
func (s *Sequencer) submitCredential(ctx context.Context, page *inspect.Page, identifier, secret string) (*inspect.Page, error) {
	cfg := inspect.DecodeProviderConfig(inspect.ExtractEmbeddedConfig(page.HTML))

	var fields url.Values
	var action string
	switch {
	case cfg.HasPostParams():
		fields = inspect.BuildSubmission(cfg, identifier, secret, inspect.ModePrefilled)
		action = cfg.PostURL
	case cfg.HasTokens():
		fields = inspect.BuildSubmission(cfg, identifier, secret, inspect.ModeCredential)
		action = cfg.PostURL
	default:
		form := inspect.ExtractForm(page.HTML, s.opts.FormID)
		if form == nil {
			form = inspect.ExtractForm(page.HTML, "")
		}
		if form == nil {
			return nil, fmt.Errorf("no login form or provider config on %s", redact(page.URL))
		}
		fields = inspect.FillForm(form, identifier, secret)
		action = form.Action
	}

	target, err := page.Resolve(action)
	if err != nil {
		return nil, err
	}

	step := "username"
	if secret != "" {
		step = "password"
	}
	s.logger.WithFields(logrus.Fields{
		"step":   step,
		"action": redact(target),
	}).Info("Submitting credentials")

	return s.transport.Post(ctx, target, fields)
}

func (s *Sequencer) awaitSecondFactor(ctx context.Context, page *inspect.Page) (*inspect.Page, error) {
	cfg := inspect.DecodeProviderConfig(inspect.ExtractEmbeddedConfig(page.HTML))

	if cfg.Empty() {
		s.logger.WithField("url", redact(page.URL)).Warn("Second-factor page carries no provider config, polling the page itself")
	}
	endpoint := cfg.PollEndpoint()
	pollURL := page.URL
	if endpoint != "" {
		resolved, err := page.Resolve(endpoint)
		if err != nil {
			return nil, err
		}
		pollURL = resolved
	}

	return s.poller.AwaitApproval(ctx, Challenge{
		DisplayCode: inspect.ExtractDisplayCode(page.HTML, cfg),
		PollURL:     pollURL,
		Fields:      inspect.BuildSubmission(cfg, "", "", inspect.ModePoll),
		Interval:    s.opts.PollInterval,
		Timeout:     s.opts.MFATimeout,
		Page:        page,
	})
}

func (s *Sequencer) declineKeepSignedIn(ctx context.Context, page *inspect.Page) (*inspect.Page, error) {
	cfg := inspect.DecodeProviderConfig(inspect.ExtractEmbeddedConfig(page.HTML))

	var fields url.Values
	action := cfg.PostURL
	switch {
	case cfg.HasPostParams():
		fields = inspect.BuildSubmission(cfg, "", "", inspect.ModePrefilled)
	case cfg.HasTokens():
		fields = inspect.BuildSubmission(cfg, "", "", inspect.ModePoll)
		fields.Set(inspect.FieldType, "28")
	default:
		form := inspect.ExtractForm(page.HTML, "")
		if form == nil {
			return nil, fmt.Errorf("keep-signed-in prompt without a form on %s", redact(page.URL))
		}
		fields = inspect.FillForm(form, "", "")
		action = form.Action
	}
	DeclineKeepSignedIn(fields)

	target, err := page.Resolve(action)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Declining \"stay signed in\"")
	return s.transport.Post(ctx, target, fields)
}

// DeclineKeepSignedIn rewrites fields so the provider records "no".
func DeclineKeepSignedIn(fields url.Values) {
	fields.Set(inspect.FieldOptions, "3")
	fields.Del("DontShowAgain")
}

func (s *Sequencer) submitRelay(ctx context.Context, page *inspect.Page) (*inspect.Page, error) {
	fields := s.classifier.RelayFields
	if fields == nil {
		fields = DefaultRelayFields
	}
	form := inspect.ExtractFormWith(page.HTML, fields...)
	if form == nil {
		return nil, fmt.Errorf("relay form vanished from %s", redact(page.URL))
	}
	target, err := page.Resolve(form.Action)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("action", redact(target)).Info("Submitting relay form")
	return s.transport.Post(ctx, target, form.Fields)
}

func (s *Sequencer) finish(result *Result, page *inspect.Page, ambiguous bool) (*Result, error) {
	result.State = StateAuthenticated
	result.Ambiguous = ambiguous
	result.FinalURL = redact(page.URL)
	result.RoundTrips = s.transport.RoundTrips()

	if ambiguous {
		s.logger.WithField("url", result.FinalURL).Warn("Login appears successful (verification ambiguous)")
	} else {
		s.logger.WithField("url", result.FinalURL).Info("Login successful")
	}

	cookies, err := session.Capture(s.jar.Source())
	if err != nil {
		return result, fmt.Errorf("failed to capture cookies: %w", err)
	}
	result.Cookies = cookies

	if err := s.store.Persist(cookies); err != nil {
		return result, fmt.Errorf("failed to save session: %w", err)
	}
	return result, nil
}

func (s *Sequencer) fail(result *Result, err error) (*Result, error) {
	result.State = StateFailed
	if result.Message == "" {
		result.Message = err.Error()
	}
	result.RoundTrips = s.transport.RoundTrips()
	s.logger.WithError(err).Error("Login failed")
	return result, err
}

func maskIdentifier(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == '@' {
			if i <= 2 {
				return "***" + id[i:]
			}
			return id[:2] + "***" + id[i:]
		}
	}
	if len(id) <= 2 {
		return "***"
	}
	return id[:2] + "***"
}
