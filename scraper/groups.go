package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link is an anchor found on a page.
type Link struct {
	Text string
	Href string
}

// FindStudyGroupLink returns the first link whose text contains keyword.
func FindStudyGroupLink(html, keyword string) (Link, bool) {
	return findLink(html, keyword)
}

// FindPeopleLink returns the group's People tab, falling back to Members.
func FindPeopleLink(html string) (Link, bool) {
	if l, ok := findLink(html, "People"); ok {
		return l, true
	}
	return findLink(html, "Members")
}

func findLink(html, text string) (Link, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Link{}, false
	}
	var found Link
	ok := false
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		label := strings.Join(strings.Fields(a.Text()), " ")
		if !strings.Contains(label, text) {
			return true
		}
		href, _ := a.Attr("href")
		found = Link{Text: label, Href: href}
		ok = true
		return false
	})
	return found, ok
}

// ParseRoster returns the student names from a group's People page. Names
// keep page order.
func ParseRoster(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var names []string
	doc.Find("div.student_roster a.user_name").Each(func(_ int, a *goquery.Selection) {
		if name := strings.TrimSpace(a.Text()); name != "" {
			names = append(names, name)
		}
	})
	return names
}
