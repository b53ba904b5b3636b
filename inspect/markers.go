package inspect

import (
	"strings"
)

const genericLoginError = "login failed: the identity provider rejected the request"

var displayCodeSelectors = []string{
	"#idRichContext_DisplaySign",
	".displaySign",
	"#displaySign",
}

var errorSelectors = []string{
	"#errorText",
	"#usernameError",
	"#passwordError",
	"#error",
}

// ExtractDisplayCode returns the code the operator must confirm on their
// device, or "" when the page shows none.
func ExtractDisplayCode(html string, cfg ProviderConfig) string {
	if doc, err := parse(html); err == nil {
		for _, sel := range displayCodeSelectors {
			if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
				return text
			}
		}
	}
	return cfg.DisplaySign
}

// ExtractErrorMessage returns the provider's error text for a failed step,
// falling back to a generic message.
func ExtractErrorMessage(html string, cfg ProviderConfig) string {
	if doc, err := parse(html); err == nil {
		for _, sel := range errorSelectors {
			if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
				return text
			}
		}
	}
	if cfg.ErrorText != "" {
		return cfg.ErrorText
	}
	return genericLoginError
}

// HasErrorText reports whether the page shows provider error text, either
// in a known error element or in the embedded config.
func HasErrorText(html string, cfg ProviderConfig) bool {
	if cfg.ErrorText != "" {
		return true
	}
	doc, err := parse(html)
	if err != nil {
		return false
	}
	for _, sel := range errorSelectors {
		if strings.TrimSpace(doc.Find(sel).First().Text()) != "" {
			return true
		}
	}
	return false
}
