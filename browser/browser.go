// Package browser runs a Chromium session through rod for the pages that
// need a real browser: the calendar agenda, group rosters and room booking.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"studygroup-assistant/inspect"
	"studygroup-assistant/session"
	"studygroup-assistant/stealth"
)

// Options configure the launched browser
type Options struct {
	Headless       bool
	UserAgent      string
	ExecutablePath string
	ProfileDir     string
	SlowMo         time.Duration
	PageTimeout    time.Duration
}

// Session is one browser with one working tab
type Session struct {
	browser *rod.Browser
	page    *rod.Page
	opts    Options
	stealth *stealth.Manager
	logger  *logrus.Logger
}

// Launch starts the browser and opens a blank tab
func Launch(opts Options, sm *stealth.Manager, logger *logrus.Logger) (*Session, error) {
	logger.WithField("headless", opts.Headless).Info("Initializing browser")

	l := launcher.New().
		Leakless(false).
		Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("no-first-run").
		Set("no-default-browser-check")
	if opts.ExecutablePath != "" {
		l = l.Bin(opts.ExecutablePath)
	}
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if opts.SlowMo > 0 {
		b = b.SlowMotion(opts.SlowMo)
	}
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			logger.WithError(err).Warn("Failed to set user agent")
		}
	}
	if sm != nil {
		if err := sm.ApplyStealth(page); err != nil {
			logger.WithError(err).Warn("Failed to apply stealth")
		}
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 30 * time.Second
	}

	logger.Info("Browser initialized successfully")
	return &Session{browser: b, page: page, opts: opts, stealth: sm, logger: logger}, nil
}

// Page returns the working tab bound to ctx with the page timeout applied.
func (s *Session) Page(ctx context.Context) *rod.Page {
	return s.page.Context(ctx).Timeout(s.opts.PageTimeout)
}

// Stealth returns the pacing helper used for clicks and typing.
func (s *Session) Stealth() *stealth.Manager {
	return s.stealth
}

// Headless reports whether the browser is invisible to the operator.
func (s *Session) Headless() bool {
	return s.opts.Headless
}

// Navigate loads target and returns the resulting page.
func (s *Session) Navigate(ctx context.Context, target string) (*inspect.Page, error) {
	p := s.Page(ctx)
	if err := p.Navigate(target); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", target, err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", target, err)
	}
	return s.Snapshot(ctx)
}

// WaitFor waits until selector is present on the current page.
func (s *Session) WaitFor(ctx context.Context, selector string) error {
	if _, err := s.Page(ctx).Element(selector); err != nil {
		return fmt.Errorf("timed out waiting for %s: %w", selector, err)
	}
	return nil
}

// Click pauses like a person would and clicks selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	if s.stealth != nil {
		return s.stealth.IntelligentClick(ctx, s.Page(ctx), selector)
	}
	el, err := s.Page(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %s not found: %w", selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// ClickJS clicks selector from script, for inputs hidden behind styled labels.
func (s *Session) ClickJS(ctx context.Context, selector string) error {
	_, err := s.Page(ctx).Eval(`(sel) => {
		const el = document.querySelector(sel);
		if (!el) throw new Error("missing " + sel);
		el.click();
	}`, selector)
	if err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

// SetValue assigns an input or select value from script and fires change.
// Read-only date pickers and sliders only accept values this way.
func (s *Session) SetValue(ctx context.Context, selector, value string) error {
	_, err := s.Page(ctx).Eval(`(sel, v) => {
		const el = document.querySelector(sel);
		if (!el) throw new Error("missing " + sel);
		el.value = v;
		el.dispatchEvent(new Event("change", { bubbles: true }));
	}`, selector, value)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", selector, err)
	}
	return nil
}

// Type enters text into selector one key at a time.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	el, err := s.Page(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %s not found: %w", selector, err)
	}
	if s.stealth != nil {
		return s.stealth.HumanLikeType(ctx, el, text)
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(text)
}

// FrameContents returns the HTML of every iframe on the current page. When
// tab is set and present inside a frame it is clicked first.
func (s *Session) FrameContents(ctx context.Context, tab string) ([]string, error) {
	iframes, err := s.Page(ctx).Elements("iframe")
	if err != nil {
		return nil, fmt.Errorf("failed to list iframes: %w", err)
	}

	var contents []string
	for i, el := range iframes {
		frame, err := el.Frame()
		if err != nil {
			s.logger.WithError(err).WithField("iframe", i).Debug("Skipping iframe")
			continue
		}
		frame = frame.Context(ctx).Timeout(s.opts.PageTimeout)
		if tab != "" {
			if has, tabEl, _ := frame.Has(tab); has {
				if err := tabEl.Click(proto.InputMouseButtonLeft, 1); err != nil {
					s.logger.WithError(err).Debug("Failed to click iframe tab")
				}
				if s.stealth != nil {
					_ = s.stealth.Pause(ctx)
				}
			}
		}
		html, err := frame.HTML()
		if err != nil {
			s.logger.WithError(err).WithField("iframe", i).Debug("Failed to read iframe")
			continue
		}
		contents = append(contents, html)
	}
	return contents, nil
}

// Snapshot returns the current URL and HTML.
func (s *Session) Snapshot(ctx context.Context) (*inspect.Page, error) {
	u, err := s.CurrentURL(ctx)
	if err != nil {
		return nil, err
	}
	html, err := s.Page(ctx).HTML()
	if err != nil {
		return nil, fmt.Errorf("failed to read page HTML: %w", err)
	}
	return &inspect.Page{URL: u, Status: 200, HTML: html}, nil
}

// CurrentURL returns the tab's URL.
func (s *Session) CurrentURL(ctx context.Context) (*url.URL, error) {
	info, err := s.Page(ctx).Info()
	if err != nil {
		return nil, fmt.Errorf("failed to read page info: %w", err)
	}
	u, err := url.Parse(info.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page URL: %w", err)
	}
	return u, nil
}

// Inject installs one saved cookie in the browser.
func (s *Session) Inject(origin *url.URL, name string, c session.Cookie) error {
	param := &proto.NetworkCookieParam{
		Name:   name,
		Value:  c.Value,
		Domain: c.Domain,
		Path:   c.Path,
		Secure: c.Secure,
	}
	if param.Path == "" {
		param.Path = "/"
	}
	if param.Domain == "" {
		param.URL = origin.String()
	}
	if err := s.page.SetCookies([]*proto.NetworkCookieParam{param}); err != nil {
		return fmt.Errorf("failed to set cookie %s: %w", name, err)
	}
	return nil
}

// Source exposes the browser's cookies for capture.
func (s *Session) Source() session.Source {
	return browserSource{s}
}

type browserSource struct{ s *Session }

func (b browserSource) Cookies() (session.CookieSet, error) {
	cookies, err := b.s.browser.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read browser cookies: %w", err)
	}
	set := make(session.CookieSet, len(cookies))
	for _, c := range cookies {
		set[c.Name] = session.Cookie{
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
			Secure: c.Secure,
		}
	}
	return set, nil
}

// Close shuts the browser down.
func (s *Session) Close() error {
	if s.browser == nil {
		return nil
	}
	return s.browser.Close()
}
