package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"studygroup-assistant/inspect"
	"studygroup-assistant/ratelimit"
)

// ErrNoStudyGroup is returned when the groups page lists no matching group.
var ErrNoStudyGroup = errors.New("no study group found")

// studentsTab is the Students tab inside the class list tool.
const studentsTab = "#cl-profileLayoutTabs > li:nth-child(2) > a"

// Browser is the part of a browser session the scraper drives.
type Browser interface {
	Navigate(ctx context.Context, target string) (*inspect.Page, error)
	WaitFor(ctx context.Context, selector string) error
	Snapshot(ctx context.Context) (*inspect.Page, error)
	FrameContents(ctx context.Context, tab string) ([]string, error)
}

// Options say where to look and how patiently.
type Options struct {
	CalendarURL  string
	GroupsURL    string
	ClassListURL string
	GroupKeyword string
	Window       time.Duration
	Retry        RetryPolicy
	Now          func() time.Time
}

// Snapshot is everything one scrape collected.
type Snapshot struct {
	Assignments []Item                   `json:"assignments"`
	Events      []Item                   `json:"events"`
	Group       string                   `json:"group"`
	Members     []string                 `json:"members"`
	Details     map[string]MemberDetails `json:"details"`
	Matched     int                      `json:"matched"`
	TakenAt     time.Time                `json:"taken_at"`
}

// Scraper walks the portal in a logged-in browser.
type Scraper struct {
	browser Browser
	limiter *ratelimit.RateLimiter
	opts    Options
	logger  *logrus.Logger
}

// NewScraper creates a scraper. The browser must already be logged in.
func NewScraper(b Browser, limiter *ratelimit.RateLimiter, opts Options, logger *logrus.Logger) *Scraper {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Window <= 0 {
		opts.Window = 14 * 24 * time.Hour
	}
	if opts.GroupKeyword == "" {
		opts.GroupKeyword = "Study Group"
	}
	return &Scraper{browser: b, limiter: limiter, opts: opts, logger: logger}
}

// Run collects the agenda, the study group roster and member backgrounds.
// Missing class list data degrades to placeholders.
func (s *Scraper) Run(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{TakenAt: s.opts.Now()}

	if err := s.collectAgenda(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.collectRoster(ctx, snap); err != nil {
		return nil, err
	}
	s.collectDetails(ctx, snap)

	s.logger.WithFields(logrus.Fields{
		"assignments": len(snap.Assignments),
		"events":      len(snap.Events),
		"members":     len(snap.Members),
		"matched":     snap.Matched,
	}).Info("Scrape completed")
	return snap, nil
}

func (s *Scraper) visit(ctx context.Context, target string) (*inspect.Page, error) {
	if s.limiter != nil {
		if err := s.limiter.WaitForPermission(ctx, ratelimit.ActionPage); err != nil {
			return nil, err
		}
	}
	var page *inspect.Page
	err := Retry(ctx, s.opts.Retry, s.logger, "navigate", func() error {
		var err error
		page, err = s.browser.Navigate(ctx, target)
		return err
	})
	return page, err
}

func (s *Scraper) collectAgenda(ctx context.Context, snap *Snapshot) error {
	s.logger.WithField("url", s.opts.CalendarURL).Info("Extracting upcoming assignments and events")
	if _, err := s.visit(ctx, s.opts.CalendarURL); err != nil {
		return fmt.Errorf("failed to open calendar: %w", err)
	}
	if err := s.browser.WaitFor(ctx, "li.agenda-event__item"); err != nil {
		s.logger.WithError(err).Warn("Agenda items did not appear")
	}
	page, err := s.browser.Snapshot(ctx)
	if err != nil {
		return err
	}

	snap.Assignments, snap.Events, err = ParseAgenda(page.HTML, snap.TakenAt, s.opts.Window)
	return err
}

func (s *Scraper) collectRoster(ctx context.Context, snap *Snapshot) error {
	s.logger.Info("Extracting study group members")

	groupsPage, err := s.visit(ctx, s.opts.GroupsURL)
	if err != nil {
		return fmt.Errorf("failed to open groups page: %w", err)
	}

	var group Link
	attempt := 0
	err = Retry(ctx, s.opts.Retry, s.logger, "find study group", func() error {
		if attempt++; attempt > 1 {
			page, err := s.browser.Snapshot(ctx)
			if err != nil {
				return err
			}
			groupsPage = page
		}
		var ok bool
		if group, ok = FindStudyGroupLink(groupsPage.HTML, s.opts.GroupKeyword); !ok {
			return ErrNoStudyGroup
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to find study group: %w", err)
	}
	snap.Group = group.Text
	s.logger.WithField("group", group.Text).Info("Found study group")

	page, err := s.follow(ctx, groupsPage, group)
	if err != nil {
		return err
	}
	if people, ok := FindPeopleLink(page.HTML); ok {
		if page, err = s.follow(ctx, page, people); err != nil {
			return err
		}
	} else {
		s.logger.Warn("No People tab, reading the group page")
	}

	snap.Members = ParseRoster(page.HTML)
	if len(snap.Members) == 0 {
		s.logger.Warn("Could not find roster section")
	}
	return nil
}

func (s *Scraper) follow(ctx context.Context, from *inspect.Page, link Link) (*inspect.Page, error) {
	target, err := from.Resolve(link.Href)
	if err != nil {
		return nil, fmt.Errorf("bad link %q: %w", link.Text, err)
	}
	return s.visit(ctx, target.String())
}

func (s *Scraper) collectDetails(ctx context.Context, snap *Snapshot) {
	if len(snap.Members) == 0 {
		snap.Details = map[string]MemberDetails{}
		return
	}
	s.logger.Info("Extracting member details from Class List")

	html, ok := s.classListHTML(ctx, snap.Members)
	if !ok {
		s.logger.Warn("Could not read Class List, using placeholder data")
		snap.Details = PlaceholderDetails(snap.Members)
		return
	}
	snap.Details, snap.Matched = MatchMembers(snap.Members, ParseClassList(html))
}

// classListHTML finds the document holding the student cards. The tool is
// normally framed, so each iframe is checked for one of the first member
// names before the top page itself.
func (s *Scraper) classListHTML(ctx context.Context, members []string) (string, bool) {
	if s.opts.ClassListURL == "" {
		return "", false
	}
	page, err := s.visit(ctx, s.opts.ClassListURL)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to open Class List")
		return "", false
	}

	probe := members
	if len(probe) > 2 {
		probe = probe[:2]
	}
	mentions := func(html string) bool {
		for _, name := range probe {
			if strings.Contains(html, name) {
				return true
			}
		}
		return false
	}

	frames, err := s.browser.FrameContents(ctx, studentsTab)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read Class List frames")
	}
	for _, html := range frames {
		if mentions(html) {
			return html, true
		}
	}
	if mentions(page.HTML) {
		return page.HTML, true
	}
	return "", false
}
