package inspect

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usernamePage = `<html><head>
<script>//<![CDATA[
$Config={"urlPost":"/common/login","sFT":"flow-1","sFTName":"flowToken","sCtx":"ctx-1","canary":"can-1","sessionId":"req-1","strings":{"brace":"}{"}};
//]]></script>
</head><body>
<form id="i0281" method="post" action="/common/login">
  <input type="email" name="loginfmt" value="">
  <input type="hidden" name="login">
  <input type="hidden" name="ctx" value="ctx-form">
  <input type="submit" value="Next">
</form>
</body></html>`

func TestExtractFormByID(t *testing.T) {
	form := ExtractForm(usernamePage, "i0281")
	require.NotNil(t, form)
	assert.Equal(t, "/common/login", form.Action)
	assert.Equal(t, "", form.Fields.Get("loginfmt"))
	assert.Equal(t, "ctx-form", form.Fields.Get("ctx"))
	_, hasLogin := form.Fields["login"]
	assert.True(t, hasLogin, "input without value is kept with empty value")
	assert.Len(t, form.Fields, 3, "unnamed submit input is skipped")
}

func TestExtractFormFirstWhenNoID(t *testing.T) {
	html := `<form action="a"><input name="x" value="1"></form><form action="b"></form>`
	form := ExtractForm(html, "")
	require.NotNil(t, form)
	assert.Equal(t, "a", form.Action)
}

func TestExtractFormAbsent(t *testing.T) {
	assert.Nil(t, ExtractForm(`<html><body><p>nothing</p></body></html>`, ""))
	assert.Nil(t, ExtractForm(usernamePage, "missing"))
}

func TestExtractFormWith(t *testing.T) {
	html := `<form id="search"><input name="q"></form>
<form method="post" action="https://portal.example/saml/acs"><input type="hidden" name="SAMLResponse" value="PHNhbWw+"><input type="hidden" name="RelayState" value="/home"></form>`
	form := ExtractFormWith(html, "SAMLResponse", "id_token")
	require.NotNil(t, form)
	assert.Equal(t, "https://portal.example/saml/acs", form.Action)
	assert.Equal(t, "PHNhbWw+", form.Fields.Get("SAMLResponse"))
	assert.Nil(t, ExtractFormWith(html, "code"))
}

func TestExtractEmbeddedConfig(t *testing.T) {
	cfg := ExtractEmbeddedConfig(usernamePage)
	assert.Equal(t, "/common/login", cfg["urlPost"])
	assert.Equal(t, "flow-1", cfg["sFT"])
	strs, ok := cfg["strings"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "}{", strs["brace"])
}

func TestExtractEmbeddedConfigMissingOrMalformed(t *testing.T) {
	cases := map[string]string{
		"no marker":    `<script>var x = {"a":1};</script>`,
		"unterminated": `<script>$Config = {malformed</script>`,
		"bad json":     `<script>$Config = {urlPost: '/x'};</script>`,
		"no script":    `<p>plain</p>`,
	}
	for name, html := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := ExtractEmbeddedConfig(html)
			assert.NotNil(t, cfg)
			assert.Empty(t, cfg)
		})
	}
}

func TestExtractEmbeddedConfigSkipsReads(t *testing.T) {
	html := `<script>if ($Config.urlPost) {}</script><script>$Config = {"sFT":"t"};</script>`
	cfg := ExtractEmbeddedConfig(html)
	assert.Equal(t, "t", cfg["sFT"])
}

func TestDecodeProviderConfig(t *testing.T) {
	raw := map[string]any{
		"urlPost":     "/kmsi",
		"sFT":         "ft",
		"sCtx":        "c",
		"canary":      "k",
		"sessionId":   "s",
		"urlEndAuth":  "/end",
		"oPostParams": map[string]any{"type": float64(28), "LoginOptions": "1", "flag": true},
	}
	cfg := DecodeProviderConfig(raw)
	assert.Equal(t, "/kmsi", cfg.PostURL)
	assert.Equal(t, "flowToken", cfg.FlowTokenName, "default name")
	assert.True(t, cfg.HasTokens())
	assert.True(t, cfg.HasPostParams())
	assert.Equal(t, "28", cfg.PostParams["type"])
	assert.Equal(t, "true", cfg.PostParams["flag"])
	assert.Equal(t, "/end", cfg.EndAuthURL)
	assert.False(t, cfg.Empty())

	assert.True(t, DecodeProviderConfig(map[string]any{}).Empty())
	assert.False(t, DecodeProviderConfig(map[string]any{"urlBeginAuth": "/begin"}).Empty())
}

func TestPollEndpointFallsBack(t *testing.T) {
	full := DecodeProviderConfig(map[string]any{
		"urlPost":      "/login",
		"urlBeginAuth": "/begin",
		"urlEndAuth":   "/end",
	})
	assert.Equal(t, "/end", full.PollEndpoint())

	beginOnly := DecodeProviderConfig(map[string]any{"urlPost": "/login", "urlBeginAuth": "/begin"})
	assert.Equal(t, "/begin", beginOnly.BeginAuthURL)
	assert.Equal(t, "/begin", beginOnly.PollEndpoint())

	postOnly := DecodeProviderConfig(map[string]any{"urlPost": "/login"})
	assert.Equal(t, "/login", postOnly.PollEndpoint())

	assert.Empty(t, DecodeProviderConfig(map[string]any{}).PollEndpoint())
}

func TestBuildSubmissionCredential(t *testing.T) {
	cfg := DecodeProviderConfig(ExtractEmbeddedConfig(usernamePage))

	fields := BuildSubmission(cfg, "student@example.edu", "", ModeCredential)
	assert.Equal(t, "student@example.edu", fields.Get("loginfmt"))
	assert.Equal(t, "student@example.edu", fields.Get("login"))
	assert.Equal(t, "flow-1", fields.Get("flowToken"))
	assert.Equal(t, "ctx-1", fields.Get("ctx"))
	assert.Equal(t, "can-1", fields.Get("canary"))
	assert.Equal(t, "req-1", fields.Get("hpgrequestid"))
	_, hasPasswd := fields["passwd"]
	assert.False(t, hasPasswd)

	fields = BuildSubmission(cfg, "student@example.edu", "hunter2", ModeCredential)
	assert.Equal(t, "hunter2", fields.Get("passwd"))
}

func TestBuildSubmissionPrefilled(t *testing.T) {
	cfg := ProviderConfig{
		FlowTokenName: "flowToken",
		FlowToken:     "fresh",
		Context:       "c",
		PostParams:    map[string]string{"flowToken": "embedded", "extra": "kept", "loginfmt": "old"},
	}
	fields := BuildSubmission(cfg, "new@example.edu", "", ModePrefilled)
	assert.Equal(t, "embedded", fields.Get("flowToken"), "prefilled token wins")
	assert.Equal(t, "kept", fields.Get("extra"))
	assert.Equal(t, "new@example.edu", fields.Get("loginfmt"))
	assert.Equal(t, "c", fields.Get("ctx"))
}

func TestBuildSubmissionPollNeverSendsCredentials(t *testing.T) {
	cfg := ProviderConfig{FlowTokenName: "flowToken", FlowToken: "ft", Context: "c", Canary: "k"}
	fields := BuildSubmission(cfg, "student@example.edu", "secret", ModePoll)
	assert.Equal(t, url.Values{
		"flowToken": {"ft"},
		"ctx":       {"c"},
		"canary":    {"k"},
	}, fields)
}

func TestFillForm(t *testing.T) {
	form := ExtractForm(usernamePage, "i0281")
	require.NotNil(t, form)
	fields := FillForm(form, "me@example.edu", "pw")
	assert.Equal(t, "me@example.edu", fields.Get("loginfmt"))
	assert.Equal(t, "pw", fields.Get("passwd"))
	assert.Equal(t, "", form.Fields.Get("loginfmt"), "form is not mutated")
}

func TestExtractDisplayCode(t *testing.T) {
	html := `<div id="idRichContext_DisplaySign" class="displaySign"> 12-34 </div>`
	assert.Equal(t, "12-34", ExtractDisplayCode(html, ProviderConfig{}))
	assert.Equal(t, "77", ExtractDisplayCode(`<p></p>`, ProviderConfig{DisplaySign: "77"}))
	assert.Equal(t, "", ExtractDisplayCode(`<p></p>`, ProviderConfig{}))
}

func TestExtractErrorMessage(t *testing.T) {
	html := `<div id="errorText">Your account or password is incorrect.</div>`
	assert.Equal(t, "Your account or password is incorrect.", ExtractErrorMessage(html, ProviderConfig{}))
	assert.True(t, HasErrorText(html, ProviderConfig{}))

	assert.Equal(t, "from config", ExtractErrorMessage(`<p></p>`, ProviderConfig{ErrorText: "from config"}))
	assert.Equal(t, genericLoginError, ExtractErrorMessage(`<div id="errorText"></div>`, ProviderConfig{}))
	assert.False(t, HasErrorText(`<div id="errorText"></div>`, ProviderConfig{}))
}

func TestPageResolve(t *testing.T) {
	base, _ := url.Parse("https://login.example/tenant/oauth2/authorize?x=1")
	p := &Page{URL: base}

	got, err := p.Resolve("/common/login")
	require.NoError(t, err)
	assert.Equal(t, "https://login.example/common/login", got.String())

	got, err = p.Resolve("kmsi")
	require.NoError(t, err)
	assert.Equal(t, "https://login.example/tenant/oauth2/kmsi", got.String())

	_, err = p.Resolve("  ")
	assert.Error(t, err)
}

func TestContainsAny(t *testing.T) {
	assert.True(t, ContainsAny("...KmsiInterrupt...", []string{"Stay signed in", "KmsiInterrupt"}))
	assert.False(t, ContainsAny("plain", []string{"", "x"}))
}
