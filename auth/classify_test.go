package auth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studygroup-assistant/inspect"
)

func testClassifier(t *testing.T) *Classifier {
	target, err := NewTargetMatcher("https://portal.example", []string{"portal-cdn.example"}, nil)
	require.NoError(t, err)
	return &Classifier{
		Target: target,
		Markers: Markers{
			MFA:   []string{"idRichContext_DisplaySign"},
			KMSI:  []string{"KmsiInterrupt"},
			Error: []string{"Your account or password is incorrect"},
		},
	}
}

func page(t *testing.T, raw, html string) *inspect.Page {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return &inspect.Page{URL: u, Status: 200, HTML: html}
}

func TestTargetMatcher(t *testing.T) {
	m, err := NewTargetMatcher("https://portal.example/", []string{"Portal-CDN.example"}, nil)
	require.NoError(t, err)

	cases := map[string]bool{
		"https://portal.example/home":                       true,
		"https://PORTAL.example/courses/1":                  true,
		"https://portal-cdn.example/files":                  true,
		"https://portal.example/login/saml":                 false,
		"https://portal.example/?redirect=oauth2/authorize": false,
		"https://portal.example/microsoft_callback":         false,
		"https://login.microsoftonline.com/common":          false,
		"https://evil.example/portal.example":               false,
	}
	for raw, want := range cases {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, m.Matches(u), raw)
	}
	assert.False(t, m.Matches(nil))

	_, err = NewTargetMatcher("not a url", nil, nil)
	assert.Error(t, err)
}

func TestClassifyAuthenticatedURLWinsOverBody(t *testing.T) {
	c := testClassifier(t)
	v := c.Classify(page(t, "https://portal.example/home",
		`<div id="errorText">oops</div> KmsiInterrupt idRichContext_DisplaySign`), false)
	assert.Equal(t, StateAuthenticated, v.State)
	assert.False(t, v.Ambiguous)
}

func TestClassifyOrder(t *testing.T) {
	c := testClassifier(t)
	idp := "https://login.example/common/login"

	assert.Equal(t, StateMFAPending,
		c.Classify(page(t, idp, `idRichContext_DisplaySign KmsiInterrupt`), false).State)
	assert.Equal(t, StateKeepSignedInPrompt,
		c.Classify(page(t, idp, `idRichContext_DisplaySign KmsiInterrupt`), true).State,
		"second factor is not re-entered once attempted")

	v := c.Classify(page(t, idp, `<div id="errorText">Your account or password is incorrect.</div>`), false)
	assert.Equal(t, StateFailed, v.State)
	assert.Equal(t, "Your account or password is incorrect.", v.Message)

	v = c.Classify(page(t, idp, `<p>Your account or password is incorrect</p>`), false)
	assert.Equal(t, StateFailed, v.State)
	assert.NotEmpty(t, v.Message, "generic fallback message")

	v = c.Classify(page(t, idp, `<form action="https://portal.example/acs"><input name="SAMLResponse" value="x"></form>`), false)
	assert.Equal(t, StateRelay, v.State)
	require.NotNil(t, v.Relay)

	v = c.Classify(page(t, idp, `<p>something else</p>`), false)
	assert.Equal(t, StateAuthenticated, v.State)
	assert.True(t, v.Ambiguous)
}

func TestDeclineKeepSignedIn(t *testing.T) {
	fields := url.Values{"LoginOptions": {"1"}, "DontShowAgain": {"true"}, "flowToken": {"ft"}}
	DeclineKeepSignedIn(fields)
	assert.Equal(t, "3", fields.Get("LoginOptions"))
	assert.NotContains(t, fields, "DontShowAgain")
	assert.Equal(t, "ft", fields.Get("flowToken"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "mfa_pending", StateMFAPending.String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateKeepSignedInPrompt.Terminal())
}
