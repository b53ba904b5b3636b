package inspect

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// Form is the set of named inputs of an HTML form and where it posts to.
type Form struct {
	ID     string
	Action string
	Fields url.Values
}

// ExtractForm returns the form with the given id, or the first form on the
// page when formID is empty. Inputs without a value get "". It returns nil
// when there is no matching form.
func ExtractForm(html, formID string) *Form {
	doc, err := parse(html)
	if err != nil {
		return nil
	}

	sel := doc.Find("form")
	if formID != "" {
		sel = doc.Find("form#" + formID)
	}
	form := sel.First()
	if form.Length() == 0 {
		return nil
	}
	return formFrom(form)
}

// ExtractFormWith returns the first form that has an input named field.
// Relay pages (SAML, OIDC form_post) are found this way.
func ExtractFormWith(html string, fields ...string) *Form {
	doc, err := parse(html)
	if err != nil {
		return nil
	}

	var found *Form
	doc.Find("form").EachWithBreak(func(i int, s *goquery.Selection) bool {
		for _, f := range fields {
			if s.Find(`input[name="` + f + `"]`).Length() > 0 {
				found = formFrom(s)
				return false
			}
		}
		return true
	})
	return found
}

func formFrom(form *goquery.Selection) *Form {
	out := &Form{
		ID:     form.AttrOr("id", ""),
		Action: form.AttrOr("action", ""),
		Fields: url.Values{},
	}
	form.Find("input").Each(func(i int, input *goquery.Selection) {
		name, ok := input.Attr("name")
		if !ok || name == "" {
			return
		}
		out.Fields.Set(name, input.AttrOr("value", ""))
	})
	return out
}
