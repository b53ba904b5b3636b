// Package scraper pulls upcoming work and study group details out of the
// learning portal pages.
package scraper

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Item types
const (
	TypeAssignment = "Assignment"
	TypeQuiz       = "Quiz"
	TypeEvent      = "Event"
)

// Item is one dated agenda entry.
type Item struct {
	Title  string    `json:"title"`
	Course string    `json:"course"`
	Type   string    `json:"type"`
	When   time.Time `json:"when"`
}

// Key identifies an item for de-duplication.
func (i Item) Key() string {
	return i.Title + "|" + i.When.Format("2006-01-02 15:04") + "|" + i.Course
}

// ParseAgenda reads the calendar agenda view. Only items between now and
// now+window are returned, assignments and quizzes separately from events,
// each sorted by time.
func ParseAgenda(html string, now time.Time, window time.Duration) (assignments, events []Item, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse agenda: %w", err)
	}

	end := now.Add(window)
	seen := make(map[string]bool)
	var day string

	doc.Find("div.agenda-day, li.agenda-event__item").Each(func(_ int, s *goquery.Selection) {
		if s.Is("div.agenda-day") {
			if d := strings.TrimSpace(s.Find(`h3.agenda-date span[aria-hidden="true"]`).First().Text()); d != "" {
				day = d
			}
			return
		}

		kind := itemType(s)
		if kind == "" {
			return
		}
		clock := cleanTime(s.Find("div.agenda-event__time").First().Text())
		if day == "" || clock == "" {
			return
		}
		when, ok := agendaTime(day, clock, now)
		if !ok || when.Before(now) || when.After(end) {
			return
		}

		item := Item{
			Title:  textOr(s.Find("span.agenda-event__title").First(), "Untitled"),
			Course: itemCourse(s),
			Type:   kind,
			When:   when,
		}
		if seen[item.Key()] {
			return
		}
		seen[item.Key()] = true

		if kind == TypeEvent {
			events = append(events, item)
		} else {
			assignments = append(assignments, item)
		}
	})

	byTime := func(items []Item) {
		sort.SliceStable(items, func(a, b int) bool { return items[a].When.Before(items[b].When) })
	}
	byTime(assignments)
	byTime(events)
	return assignments, events, nil
}

func itemType(s *goquery.Selection) string {
	icon := s.Find("i").First()
	switch {
	case icon.HasClass("icon-quiz"):
		return TypeQuiz
	case icon.HasClass("icon-assignment"):
		return TypeAssignment
	case icon.HasClass("icon-calendar-month"):
		return TypeEvent
	}
	return ""
}

func itemCourse(s *goquery.Selection) string {
	course := "Unknown Course"
	s.Find("span.screenreader-only").EachWithBreak(func(_ int, sr *goquery.Selection) bool {
		text := strings.TrimSpace(sr.Text())
		if strings.HasPrefix(text, "Calendar ") {
			course = strings.Join(strings.Fields(strings.TrimPrefix(text, "Calendar ")), " ")
			return false
		}
		return true
	})
	return course
}

func cleanTime(raw string) string {
	t := strings.TrimSpace(raw)
	t = strings.TrimPrefix(t, "Due ")
	t = strings.TrimPrefix(t, "Starts at ")
	return strings.TrimSpace(t)
}

// agendaTime combines a "Tue, 25 Nov" heading with "16:00". The heading has
// no year, so the one closest to now is used.
func agendaTime(day, clock string, now time.Time) (time.Time, bool) {
	t, err := time.ParseInLocation("Mon, 2 Jan 2006 15:04", fmt.Sprintf("%s %d %s", day, now.Year(), clock), now.Location())
	if err != nil {
		return time.Time{}, false
	}
	if t.Before(now.AddDate(0, -6, 0)) {
		t = t.AddDate(1, 0, 0)
	}
	return t, true
}

func textOr(s *goquery.Selection, fallback string) string {
	if t := strings.TrimSpace(s.Text()); t != "" {
		return t
	}
	return fallback
}
