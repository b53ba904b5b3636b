package scraper

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// SavedPages are portal pages saved from a browser. Only Agenda is required.
type SavedPages struct {
	Agenda string
	Groups string
	Roster string
}

// ParseSaved builds a snapshot from saved pages without visiting the portal.
// The group is picked from Groups by keyword and members come from Roster.
func ParseSaved(pages SavedPages, keyword string, now time.Time, window time.Duration) (*Snapshot, error) {
	snap := &Snapshot{TakenAt: now, Details: map[string]MemberDetails{}}

	var err error
	snap.Assignments, snap.Events, err = ParseAgenda(pages.Agenda, now, window)
	if err != nil {
		return nil, err
	}

	if pages.Groups != "" {
		if g, ok := FindStudyGroupLink(pages.Groups, keyword); ok {
			snap.Group = g.Text
		}
	}
	if pages.Roster != "" {
		snap.Members = ParseRoster(pages.Roster)
		snap.Details = PlaceholderDetails(snap.Members)
	}
	return snap, nil
}

// ListGroups returns every group linked from a groups page, one per target.
func ListGroups(html string) []Link {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var groups []Link
	seen := make(map[string]bool)
	doc.Find(`a[href*="/groups/"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !isGroupHome(href) || seen[href] {
			return
		}
		label := strings.Join(strings.Fields(a.Text()), " ")
		if label == "" {
			return
		}
		seen[href] = true
		groups = append(groups, Link{Text: label, Href: href})
	})
	return groups
}

// isGroupHome accepts /groups/<id> and rejects tabs below it.
func isGroupHome(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	_, rest, ok := strings.Cut(u.Path, "/groups/")
	if !ok {
		return false
	}
	rest = strings.TrimSuffix(rest, "/")
	return rest != "" && !strings.Contains(rest, "/")
}
