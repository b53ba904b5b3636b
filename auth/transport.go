package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"studygroup-assistant/inspect"
)

const maxBody = 8 << 20

// StatusError is returned for any response outside 2xx.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d", e.Method, e.URL, e.Code)
}

// Transport performs the sequencer's requests and counts round trips.
// Redirects are followed and count as part of the same round trip.
type Transport struct {
	client     *http.Client
	userAgent  string
	logger     *logrus.Logger
	roundTrips atomic.Int64
}

// NewTransport creates a transport backed by jar. A zero timeout leaves the
// client without a deadline.
func NewTransport(jar http.CookieJar, userAgent string, timeout time.Duration, logger *logrus.Logger) *Transport {
	return &Transport{
		client:    &http.Client{Jar: jar, Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Get fetches target.
func (t *Transport) Get(ctx context.Context, target string) (*inspect.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return t.do(req)
}

// Post submits form to target.
func (t *Transport) Post(ctx context.Context, target *url.URL, form url.Values) (*inspect.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.do(req)
}

// RoundTrips returns how many requests were sent.
func (t *Transport) RoundTrips() int {
	return int(t.roundTrips.Load())
}

func (t *Transport) do(req *http.Request) (*inspect.Page, error) {
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	t.roundTrips.Add(1)
	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to %s %s: %w", req.Method, redact(req.URL), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", redact(req.URL), err)
	}

	final := resp.Request.URL
	t.logger.WithFields(logrus.Fields{
		"method":   req.Method,
		"url":      redact(req.URL),
		"final":    redact(final),
		"status":   resp.StatusCode,
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Debug("Login request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: req.Method, URL: redact(final), Code: resp.StatusCode}
	}

	return &inspect.Page{URL: final, Status: resp.StatusCode, HTML: string(body)}, nil
}

// redact drops the query string, which carries provider tokens.
func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.RawQuery = ""
	c.Fragment = ""
	return c.String()
}
