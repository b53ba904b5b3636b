package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ErrNoSession is returned by Load when no cookie file exists yet.
var ErrNoSession = errors.New("no saved session")

// Store reads and writes a cookie set as a JSON file.
type Store struct {
	path   string
	logger *logrus.Logger
}

// NewStore creates a store backed by the file at path.
func NewStore(path string, logger *logrus.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the cookie file.
func (s *Store) Load() (CookieSet, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	set := CookieSet{}
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return set, nil
}

// Persist overwrites the cookie file with set.
func (s *Store) Persist(set CookieSet) error {
	if set == nil {
		set = CookieSet{}
	}
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"path":    s.path,
		"cookies": len(set),
	}).Info("Session saved")
	return nil
}

// Restore injects the saved cookies into inj, scoped to origin. Cookies
// that are rejected are skipped. It reports false when there is no usable
// file or when not a single cookie was accepted. A true result says nothing
// about whether the session is still valid; callers must probe.
func (s *Store) Restore(inj Injector, origin *url.URL) bool {
	set, err := s.Load()
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			s.logger.WithField("path", s.path).Debug("No saved session")
		} else {
			s.logger.WithError(err).Warn("Saved session unreadable, ignoring")
		}
		return false
	}

	accepted := 0
	for _, name := range set.Names() {
		if err := inj.Inject(origin, name, set[name]); err != nil {
			s.logger.WithFields(logrus.Fields{
				"cookie": name,
				"domain": set[name].Domain,
			}).WithError(err).Debug("Skipping cookie")
			continue
		}
		accepted++
	}

	s.logger.WithFields(logrus.Fields{
		"accepted": accepted,
		"total":    len(set),
	}).Info("Saved session restored")

	return accepted > 0
}

// cookieURL is the URL a cookie is installed under: origin's scheme, the
// cookie's domain (or origin's host) and the cookie's path.
func cookieURL(origin *url.URL, c Cookie) *url.URL {
	host := trimDot(c.Domain)
	if host == "" {
		host = origin.Hostname()
	}
	path := c.Path
	if path == "" {
		path = "/"
	}
	scheme := origin.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: host, Path: path}
}

func trimDot(domain string) string {
	for len(domain) > 0 && domain[0] == '.' {
		domain = domain[1:]
	}
	return domain
}
