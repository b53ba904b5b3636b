package session

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Jar is an http.CookieJar that remembers the full attributes of every
// cookie it accepts, so the set can be captured and persisted later.
type Jar struct {
	inner *cookiejar.Jar

	mu      sync.Mutex
	records CookieSet
}

// NewJar creates an empty recording jar.
func NewJar() (*Jar, error) {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Jar{inner: inner, records: CookieSet{}}, nil
}

// SetCookies implements http.CookieJar. Only cookies the inner jar actually
// kept are recorded; a rejected cookie never replaces an accepted one.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	for _, c := range cookies {
		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(now)) {
			delete(j.records, c.Name)
			continue
		}
		domain := c.Domain
		if domain == "" {
			domain = u.Hostname()
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		rec := Cookie{
			Value:  c.Value,
			Domain: domain,
			Path:   path,
			Secure: c.Secure,
		}
		if !j.holds(u, c.Name, rec) {
			continue
		}
		j.records[c.Name] = rec
	}
}

// holds reports whether the inner jar would send name=rec.Value back to
// the host and path rec was scoped to.
func (j *Jar) holds(origin *url.URL, name string, rec Cookie) bool {
	target := cookieURL(origin, rec)
	if rec.Secure {
		target.Scheme = "https"
	}
	for _, got := range j.inner.Cookies(target) {
		if got.Name == name && got.Value == rec.Value {
			return true
		}
	}
	return false
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

// Inject installs one saved cookie and checks that the jar kept it.
func (j *Jar) Inject(origin *url.URL, name string, c Cookie) error {
	target := cookieURL(origin, c)
	j.SetCookies(target, []*http.Cookie{{
		Name:   name,
		Value:  c.Value,
		Domain: c.Domain,
		Path:   target.Path,
		Secure: c.Secure,
	}})

	for _, got := range j.inner.Cookies(target) {
		if got.Name == name && got.Value == c.Value {
			return nil
		}
	}

	j.mu.Lock()
	delete(j.records, name)
	j.mu.Unlock()
	return fmt.Errorf("cookie %q rejected for %s", name, target.Host)
}

// Snapshot returns a copy of every cookie the jar has accepted.
func (j *Jar) Snapshot() CookieSet {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(CookieSet, len(j.records))
	for name, c := range j.records {
		out[name] = c
	}
	return out
}

// Source exposes the recorded cookies for Capture.
func (j *Jar) Source() Source {
	return jarSource{j}
}

type jarSource struct{ j *Jar }

func (s jarSource) Cookies() (CookieSet, error) {
	return s.j.Snapshot(), nil
}
