package auth

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultExclusions are URL fragments that mean the browser is still inside
// the identity provider even when the host looks right.
var DefaultExclusions = []string{"login", "auth", "microsoft", "saml"}

// TargetMatcher decides whether a URL is the authenticated portal.
type TargetMatcher struct {
	Hosts   []string
	Exclude []string
}

// NewTargetMatcher builds a matcher for baseURL's host plus any extra hosts.
func NewTargetMatcher(baseURL string, extraHosts, exclude []string) (TargetMatcher, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return TargetMatcher{}, fmt.Errorf("invalid portal URL %q", baseURL)
	}
	hosts := []string{strings.ToLower(u.Host)}
	for _, h := range extraHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	if exclude == nil {
		exclude = DefaultExclusions
	}
	return TargetMatcher{Hosts: hosts, Exclude: exclude}, nil
}

// Matches reports whether u is on a portal host and free of every exclusion.
func (m TargetMatcher) Matches(u *url.URL) bool {
	if u == nil {
		return false
	}
	host := strings.ToLower(u.Host)
	onHost := false
	for _, h := range m.Hosts {
		if host == h {
			onHost = true
			break
		}
	}
	if !onHost {
		return false
	}

	full := strings.ToLower(u.String())
	for _, ex := range m.Exclude {
		if ex != "" && strings.Contains(full, strings.ToLower(ex)) {
			return false
		}
	}
	return true
}

// OnHost reports whether u is on a portal host, ignoring exclusions.
func (m TargetMatcher) OnHost(u *url.URL) bool {
	if u == nil {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, h := range m.Hosts {
		if host == h {
			return true
		}
	}
	return false
}
