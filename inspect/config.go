package inspect

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const configMarker = "$Config"

// ExtractEmbeddedConfig finds the provider's "$Config = {...};" script
// assignment and decodes it. A missing or malformed object yields an
// empty map, never an error.
func ExtractEmbeddedConfig(html string) map[string]any {
	out := map[string]any{}

	for _, script := range scriptBodies(html) {
		obj, ok := objectAfter(script, configMarker)
		if !ok {
			continue
		}
		decoded := map[string]any{}
		if err := json.Unmarshal([]byte(obj), &decoded); err != nil {
			return out
		}
		return decoded
	}
	return out
}

func scriptBodies(html string) []string {
	doc, err := parse(html)
	if err != nil {
		return []string{html}
	}
	var bodies []string
	doc.Find("script").Each(func(i int, s *goquery.Selection) {
		bodies = append(bodies, s.Text())
	})
	if len(bodies) == 0 {
		bodies = append(bodies, html)
	}
	return bodies
}

// objectAfter slices the brace-balanced object literal assigned to marker.
// Braces inside string literals are ignored.
func objectAfter(src, marker string) (string, bool) {
	for {
		idx := strings.Index(src, marker)
		if idx < 0 {
			return "", false
		}
		src = src[idx+len(marker):]
		rest := strings.TrimLeft(src, " \t\r\n")
		if !strings.HasPrefix(rest, "=") || strings.HasPrefix(rest, "==") {
			continue
		}
		rest = strings.TrimLeft(rest[1:], " \t\r\n")
		if !strings.HasPrefix(rest, "{") {
			continue
		}
		return balanced(rest)
	}
}

func balanced(s string) (string, bool) {
	depth := 0
	var quote byte
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// ProviderConfig is the typed view of the embedded config. Each field is
// optional; which ones are present depends on the page variant.
type ProviderConfig struct {
	// PostURL is where the current step posts (urlPost).
	PostURL string
	// FlowToken is the anti-forgery flow token (sFT).
	FlowToken string
	// FlowTokenName is the field name the flow token is posted under (sFTName).
	FlowTokenName string
	// Context is the opaque request context (sCtx).
	Context string
	// Canary is the anti-forgery canary (canary).
	Canary string
	// SessionID is the provider's request id (sessionId).
	SessionID string
	// PostParams is a prefilled field set; interstitial pages only (oPostParams).
	PostParams map[string]string
	// BeginAuthURL and EndAuthURL are second-factor endpoints.
	BeginAuthURL string
	EndAuthURL   string
	// ErrorText is set on pages that report a failed step (sErrTxt).
	ErrorText string
	// DisplaySign is the number-matching code, when the page carries it.
	DisplaySign string
}

// DecodeProviderConfig lifts the raw map into ProviderConfig.
func DecodeProviderConfig(raw map[string]any) ProviderConfig {
	cfg := ProviderConfig{
		PostURL:       str(raw, "urlPost"),
		FlowToken:     str(raw, "sFT"),
		FlowTokenName: str(raw, "sFTName"),
		Context:       str(raw, "sCtx"),
		Canary:        str(raw, "canary"),
		SessionID:     str(raw, "sessionId"),
		BeginAuthURL:  str(raw, "urlBeginAuth"),
		EndAuthURL:    str(raw, "urlEndAuth"),
		ErrorText:     str(raw, "sErrTxt"),
		DisplaySign:   str(raw, "sDisplaySign"),
	}
	if cfg.FlowTokenName == "" {
		cfg.FlowTokenName = "flowToken"
	}
	if params, ok := raw["oPostParams"].(map[string]any); ok {
		cfg.PostParams = make(map[string]string, len(params))
		for k, v := range params {
			cfg.PostParams[k] = scalar(v)
		}
	}
	return cfg
}

// Empty reports whether no known key was present.
func (c ProviderConfig) Empty() bool {
	return c.PostURL == "" && c.FlowToken == "" && c.Context == "" &&
		c.PostParams == nil && c.BeginAuthURL == "" && c.EndAuthURL == "" && c.ErrorText == ""
}

// HasPostParams reports whether the page carries a prefilled field set.
func (c ProviderConfig) HasPostParams() bool {
	return len(c.PostParams) > 0
}

// HasTokens reports whether the anti-forgery tokens needed to post are present.
func (c ProviderConfig) HasTokens() bool {
	return c.PostURL != "" && c.FlowToken != ""
}

// PollEndpoint is where a pending second factor is checked: the end-auth
// endpoint, then the begin-auth one, then the step's own post target.
func (c ProviderConfig) PollEndpoint() string {
	switch {
	case c.EndAuthURL != "":
		return c.EndAuthURL
	case c.BeginAuthURL != "":
		return c.BeginAuthURL
	default:
		return c.PostURL
	}
}

func str(raw map[string]any, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	return scalar(v)
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
