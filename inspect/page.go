// Package inspect pulls forms, tokens and markers out of identity provider pages.
package inspect

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is one fetched response: where it ended up and what it said.
type Page struct {
	URL    *url.URL
	Status int
	HTML   string
}

// Resolve turns a form action or endpoint into an absolute URL using the
// page's final URL as the base.
func (p *Page) Resolve(ref string) (*url.URL, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("empty action URL on %s", p.URL)
	}
	target, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to parse action URL %q: %w", ref, err)
	}
	if p.URL == nil {
		if !target.IsAbs() {
			return nil, fmt.Errorf("relative action URL %q without a base", ref)
		}
		return target, nil
	}
	return p.URL.ResolveReference(target), nil
}

// ContainsAny reports whether html contains any of the markers.
func ContainsAny(html string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(html, m) {
			return true
		}
	}
	return false
}

func parse(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}
