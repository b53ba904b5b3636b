package session

import (
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studygroup-assistant/logger"
)

type recordingInjector struct {
	reject map[string]bool
	got    map[string]Cookie
}

func (r *recordingInjector) Inject(origin *url.URL, name string, c Cookie) error {
	if r.reject[name] {
		return errors.New("rejected")
	}
	if r.got == nil {
		r.got = map[string]Cookie{}
	}
	r.got[name] = c
	return nil
}

func TestPersistThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewStore(path, logger.Discard())

	set := CookieSet{
		"ESTSAUTH": {Value: "abc", Domain: ".login.example", Path: "/", Secure: true},
		"portal":   {Value: "xyz", Domain: "portal.example", Path: "/"},
	}
	require.NoError(t, store.Persist(set))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, set, loaded)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestPersistOverwrites(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"), logger.Discard())
	require.NoError(t, store.Persist(CookieSet{"a": {Value: "1"}}))
	require.NoError(t, store.Persist(CookieSet{"b": {Value: "2"}}))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, CookieSet{"b": {Value: "2"}}, loaded)
}

func TestPersistFailsLoudly(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	store := NewStore(filepath.Join(blocker, "session.json"), logger.Discard())
	assert.Error(t, store.Persist(CookieSet{"a": {Value: "1"}}))
}

func TestLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "none.json"), logger.Discard())
	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRestoreMissingFileReturnsFalse(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "none.json"), logger.Discard())
	inj := &recordingInjector{}
	origin, _ := url.Parse("https://portal.example/")

	assert.False(t, store.Restore(inj, origin))
	assert.Empty(t, inj.got)
}

func TestRestoreCorruptFileReturnsFalse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	store := NewStore(path, logger.Discard())
	origin, _ := url.Parse("https://portal.example/")
	assert.False(t, store.Restore(&recordingInjector{}, origin))
}

func TestRestoreSkipsRejectedCookies(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"), logger.Discard())
	require.NoError(t, store.Persist(CookieSet{
		"good": {Value: "1", Domain: "portal.example", Path: "/"},
		"bad":  {Value: "2", Domain: "portal.example", Path: "/"},
	}))

	inj := &recordingInjector{reject: map[string]bool{"bad": true}}
	origin, _ := url.Parse("https://portal.example/")

	assert.True(t, store.Restore(inj, origin))
	assert.Contains(t, inj.got, "good")
	assert.NotContains(t, inj.got, "bad")
}

func TestRestoreAllRejectedReturnsFalse(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"), logger.Discard())
	require.NoError(t, store.Persist(CookieSet{"bad": {Value: "2"}}))

	inj := &recordingInjector{reject: map[string]bool{"bad": true}}
	origin, _ := url.Parse("https://portal.example/")
	assert.False(t, store.Restore(inj, origin))
}

func TestJarRestoreAndCaptureRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"), logger.Discard())
	saved := CookieSet{
		"session": {Value: "abc", Domain: "portal.example", Path: "/"},
		"sso":     {Value: "def", Domain: ".portal.example", Path: "/"},
	}
	require.NoError(t, store.Persist(saved))

	jar, err := NewJar()
	require.NoError(t, err)
	origin, _ := url.Parse("https://portal.example/")
	require.True(t, store.Restore(jar, origin))

	sent := jar.Cookies(&url.URL{Scheme: "https", Host: "portal.example", Path: "/home"})
	names := map[string]string{}
	for _, c := range sent {
		names[c.Name] = c.Value
	}
	assert.Equal(t, map[string]string{"session": "abc", "sso": "def"}, names)

	captured, err := Capture(jar.Source())
	require.NoError(t, err)
	assert.Equal(t, saved, captured)
}

func TestJarRejectsSecureCookieOnPlainOrigin(t *testing.T) {
	jar, err := NewJar()
	require.NoError(t, err)
	origin, _ := url.Parse("http://portal.example/")

	err = jar.Inject(origin, "secure_only", Cookie{Value: "1", Domain: "portal.example", Path: "/", Secure: true})
	assert.Error(t, err)
	assert.NotContains(t, jar.Snapshot(), "secure_only")
}

func TestJarRecordsServerCookies(t *testing.T) {
	jar, err := NewJar()
	require.NoError(t, err)

	u, _ := url.Parse("http://127.0.0.1:8080/login")
	jar.SetCookies(u, []*http.Cookie{
		{Name: "host_only", Value: "1"},
		{Name: "scoped", Value: "2", Path: "/app", Secure: true},
	})

	snap := jar.Snapshot()
	assert.Equal(t, Cookie{Value: "1", Domain: "127.0.0.1", Path: "/"}, snap["host_only"])
	assert.Equal(t, Cookie{Value: "2", Domain: "127.0.0.1", Path: "/app", Secure: true}, snap["scoped"])

	jar.SetCookies(u, []*http.Cookie{{Name: "host_only", Value: "", MaxAge: -1}})
	assert.NotContains(t, jar.Snapshot(), "host_only")
}

func TestJarSkipsCookiesForForeignDomains(t *testing.T) {
	jar, err := NewJar()
	require.NoError(t, err)

	u, _ := url.Parse("https://portal.example/home")
	jar.SetCookies(u, []*http.Cookie{
		{Name: "session", Value: "good", Domain: "portal.example"},
		{Name: "tracker", Value: "x", Domain: "evil.test"},
	})

	snap := jar.Snapshot()
	assert.Contains(t, snap, "session")
	assert.NotContains(t, snap, "tracker")

	captured, err := jar.Source().Cookies()
	require.NoError(t, err)
	assert.NotContains(t, captured, "tracker")

	jar.SetCookies(u, []*http.Cookie{{Name: "session", Value: "forged", Domain: "evil.test"}})
	assert.Equal(t, "good", jar.Snapshot()["session"].Value)
}

func TestJarSkipsCookiesForPublicSuffix(t *testing.T) {
	jar, err := NewJar()
	require.NoError(t, err)

	u, _ := url.Parse("https://portal.example.com/home")
	jar.SetCookies(u, []*http.Cookie{{Name: "wide", Value: "1", Domain: "com"}})
	assert.Empty(t, jar.Snapshot())
}
