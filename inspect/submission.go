package inspect

import (
	"net/url"
)

// Mode selects how BuildSubmission assembles a payload.
type Mode int

const (
	// ModePrefilled reuses the page's own prefilled field set.
	ModePrefilled Mode = iota
	// ModeCredential assembles the provider's credential fields.
	ModeCredential
	// ModePoll sends only the tokens, for second-factor status checks.
	ModePoll
)

func (m Mode) String() string {
	switch m {
	case ModePrefilled:
		return "prefilled"
	case ModeCredential:
		return "credential"
	case ModePoll:
		return "poll"
	default:
		return "unknown"
	}
}

// Provider field names.
const (
	FieldLoginFmt = "loginfmt"
	FieldLogin    = "login"
	FieldPasswd   = "passwd"
	FieldCtx      = "ctx"
	FieldCanary   = "canary"
	FieldRequest  = "hpgrequestid"
	FieldOptions  = "LoginOptions"
	FieldType     = "type"
)

// BuildSubmission builds the field set for the next post. Identifier and
// secret are only written when non-empty, and never in ModePoll.
func BuildSubmission(cfg ProviderConfig, identifier, secret string, mode Mode) url.Values {
	fields := url.Values{}

	switch mode {
	case ModePrefilled:
		for k, v := range cfg.PostParams {
			fields.Set(k, v)
		}
		setCredentials(fields, identifier, secret)
		addTokens(fields, cfg, false)

	case ModeCredential:
		fields.Set("i13", "0")
		fields.Set(FieldType, "11")
		fields.Set(FieldOptions, "3")
		fields.Set("ps", "2")
		fields.Set("NewUser", "1")
		fields.Set("fspost", "0")
		fields.Set("i21", "0")
		fields.Set("CookieDisclosure", "0")
		fields.Set("IsFidoSupported", "1")
		fields.Set("isSignupPost", "0")
		setCredentials(fields, identifier, secret)
		addTokens(fields, cfg, true)

	case ModePoll:
		addTokens(fields, cfg, true)
	}

	return fields
}

// FillForm overlays identifier and secret on a scraped form's fields.
func FillForm(form *Form, identifier, secret string) url.Values {
	fields := url.Values{}
	for k, v := range form.Fields {
		fields[k] = append([]string(nil), v...)
	}
	setCredentials(fields, identifier, secret)
	return fields
}

func setCredentials(fields url.Values, identifier, secret string) {
	if identifier != "" {
		fields.Set(FieldLoginFmt, identifier)
		fields.Set(FieldLogin, identifier)
	}
	if secret != "" {
		fields.Set(FieldPasswd, secret)
	}
}

func addTokens(fields url.Values, cfg ProviderConfig, overwrite bool) {
	set := func(k, v string) {
		if v == "" {
			return
		}
		if !overwrite && fields.Get(k) != "" {
			return
		}
		fields.Set(k, v)
	}
	set(cfg.FlowTokenName, cfg.FlowToken)
	set(FieldCtx, cfg.Context)
	set(FieldCanary, cfg.Canary)
	set(FieldRequest, cfg.SessionID)
}
