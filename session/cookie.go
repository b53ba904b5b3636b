// Package session keeps the authenticated cookie set between runs.
package session

import (
	"net/url"
	"sort"
)

// Cookie is one persisted cookie. Expiry and other attributes are not kept.
type Cookie struct {
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
	Secure bool   `json:"secure"`
}

// CookieSet maps a cookie name to its attributes. Names are unique within a set.
type CookieSet map[string]Cookie

// Names returns the cookie names in sorted order.
func (s CookieSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Injector accepts cookies scoped to an origin. Both the HTTP jar and the
// browser session implement it.
type Injector interface {
	Inject(origin *url.URL, name string, c Cookie) error
}

// Source enumerates the cookies a client currently holds.
type Source interface {
	Cookies() (CookieSet, error)
}

// Capture reads every cookie from src.
func Capture(src Source) (CookieSet, error) {
	set, err := src.Cookies()
	if err != nil {
		return nil, err
	}
	if set == nil {
		set = CookieSet{}
	}
	return set, nil
}
