package auth

import (
	"studygroup-assistant/inspect"
)

// DefaultRelayFields name the hidden inputs of auto-post forms that carry
// the provider's assertion back to the portal.
var DefaultRelayFields = []string{"SAMLResponse", "wresult", "id_token"}

// Markers are the page fragments the classifier looks for.
type Markers struct {
	MFA     []string
	Pending []string
	KMSI    []string
	Error   []string
}

// Verdict is the classification of one response.
type Verdict struct {
	State     State
	Ambiguous bool
	Message   string
	Relay     *inspect.Form
}

// Classifier maps a response to the next login state.
type Classifier struct {
	Target      TargetMatcher
	Markers     Markers
	RelayFields []string
}

// Classify inspects page. Rules apply in order: a portal URL wins outright,
// then second-factor (skipped once it has been attempted), the keep-signed-in
// prompt, provider errors and relay forms. Anything else is an ambiguous
// success.
func (c *Classifier) Classify(page *inspect.Page, mfaAttempted bool) Verdict {
	if c.Target.Matches(page.URL) {
		return Verdict{State: StateAuthenticated}
	}

	if !mfaAttempted && inspect.ContainsAny(page.HTML, c.Markers.MFA) {
		return Verdict{State: StateMFAPending}
	}

	if inspect.ContainsAny(page.HTML, c.Markers.KMSI) {
		return Verdict{State: StateKeepSignedInPrompt}
	}

	cfg := inspect.DecodeProviderConfig(inspect.ExtractEmbeddedConfig(page.HTML))
	if inspect.HasErrorText(page.HTML, cfg) || inspect.ContainsAny(page.HTML, c.Markers.Error) {
		return Verdict{
			State:   StateFailed,
			Message: inspect.ExtractErrorMessage(page.HTML, cfg),
		}
	}

	fields := c.RelayFields
	if fields == nil {
		fields = DefaultRelayFields
	}
	if form := inspect.ExtractFormWith(page.HTML, fields...); form != nil && form.Action != "" {
		return Verdict{State: StateRelay, Relay: form}
	}

	return Verdict{State: StateAuthenticated, Ambiguous: true}
}
