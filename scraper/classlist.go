package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	notSpecified  = "Not specified"
	notFound      = "Not found in Class List"
	needsClassAcc = "TBD - needs Class List access"
)

// MemberDetails is a student's background from the class list.
type MemberDetails struct {
	Origin     string `json:"origin"`
	Education  string `json:"education"`
	Occupation string `json:"previous_occupation"`
}

func fill(v string) MemberDetails {
	return MemberDetails{Origin: v, Education: v, Occupation: v}
}

// ParseClassList reads the profile cards of the class list tool, keyed by
// display name.
func ParseClassList(html string) map[string]MemberDetails {
	out := make(map[string]MemberDetails)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return out
	}
	doc.Find("li.profile-box").Each(func(_ int, card *goquery.Selection) {
		nameEl := card.Find(`h5[name="displayName"]`).First()
		if nameEl.Length() == 0 {
			nameEl = card.Find(`div[name="displayName"]`).First()
		}
		name := strings.TrimSpace(nameEl.Text())
		if name == "" {
			return
		}
		out[name] = MemberDetails{
			Origin:     field(card, "nationality-country"),
			Education:  field(card, "education"),
			Occupation: field(card, "jobTitle-employerName"),
		}
	})
	return out
}

func field(card *goquery.Selection, name string) string {
	v := strings.Join(strings.Fields(card.Find(`div[name="`+name+`"]`).First().Text()), " ")
	if v == "" {
		return notSpecified
	}
	return v
}

// MatchMembers looks every roster name up in the class list: exact name
// first, then case-insensitive containment either way.
func MatchMembers(members []string, classList map[string]MemberDetails) (map[string]MemberDetails, int) {
	out := make(map[string]MemberDetails, len(members))
	found := 0
	for _, m := range members {
		if d, ok := classList[m]; ok {
			out[m] = d
			found++
			continue
		}
		lm := strings.ToLower(m)
		matched := false
		for full, d := range classList {
			lf := strings.ToLower(full)
			if strings.Contains(lf, lm) || strings.Contains(lm, lf) {
				out[m] = d
				found++
				matched = true
				break
			}
		}
		if !matched {
			out[m] = fill(notFound)
		}
	}
	return out, found
}

// PlaceholderDetails marks every member as pending class list access.
func PlaceholderDetails(members []string) map[string]MemberDetails {
	out := make(map[string]MemberDetails, len(members))
	for _, m := range members {
		out[m] = fill(needsClassAcc)
	}
	return out
}
