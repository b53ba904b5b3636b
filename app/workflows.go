package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"studygroup-assistant/booking"
	"studygroup-assistant/llm"
	"studygroup-assistant/report"
	"studygroup-assistant/scraper"
	"studygroup-assistant/session"
	"studygroup-assistant/storage"
)

// Report scrapes the portal, writes the text report and stores what it found.
func (a *App) Report(ctx context.Context, w io.Writer) error {
	return a.report(ctx, a.logger, w)
}

func (a *App) report(ctx context.Context, log *logrus.Logger, w io.Writer) error {
	b, err := a.launch(log)
	if err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}
	defer b.Close()

	if err := a.ensurePortal(ctx, b, log); err != nil {
		return err
	}

	pc := a.cfg.Portal
	s := scraper.NewScraper(b, a.limiter, scraper.Options{
		CalendarURL:  pc.CalendarURL,
		GroupsURL:    pc.GroupsURL,
		ClassListURL: pc.ClassListURL,
		GroupKeyword: pc.GroupKeyword,
		Window:       time.Duration(a.cfg.Report.WindowDays) * 24 * time.Hour,
		Retry: scraper.RetryPolicy{
			Attempts:  pc.RetryAttempts,
			FirstWait: pc.RetryFirstWait,
			Wait:      pc.RetryWait,
		},
	}, log)

	snap, err := s.Run(ctx)
	if err != nil {
		return err
	}
	return a.publish(snap, log, w)
}

// ReportFiles name portal pages saved to disk. Agenda is required.
type ReportFiles struct {
	Agenda string
	Groups string
	Roster string
}

// ReportFromFiles builds the report from saved pages instead of a live
// portal session.
func (a *App) ReportFromFiles(files ReportFiles, w io.Writer) error {
	var pages scraper.SavedPages
	for _, f := range []struct {
		path string
		dst  *string
	}{
		{files.Agenda, &pages.Agenda},
		{files.Groups, &pages.Groups},
		{files.Roster, &pages.Roster},
	} {
		if f.path == "" {
			continue
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			return fmt.Errorf("failed to read saved page: %w", err)
		}
		*f.dst = string(data)
	}
	if pages.Agenda == "" {
		return fmt.Errorf("an agenda page is required")
	}

	a.logger.WithFields(logrus.Fields{
		"agenda": files.Agenda,
		"groups": files.Groups,
		"roster": files.Roster,
	}).Info("Building report from saved pages")

	window := time.Duration(a.cfg.Report.WindowDays) * 24 * time.Hour
	snap, err := scraper.ParseSaved(pages, a.cfg.Portal.GroupKeyword, time.Now(), window)
	if err != nil {
		return err
	}

	if pages.Groups != "" {
		groups := scraper.ListGroups(pages.Groups)
		writeLine(w, "Groups on page: %d", len(groups))
		for _, g := range groups {
			writeLine(w, "  %s (%s)", g.Text, g.Href)
		}
	}
	return a.publish(snap, a.logger, w)
}

// publish writes the report for snap, stores it and prints a summary.
func (a *App) publish(snap *scraper.Snapshot, log *logrus.Logger, w io.Writer) error {
	text := report.Build(snap, time.Now())
	if err := report.Write(a.cfg.Report.Output, text); err != nil {
		return err
	}

	newItems, err := a.saveSnapshot(snap)
	if err != nil {
		log.WithError(err).Warn("Failed to store snapshot")
	}

	writeLine(w, "Assignments: %d, events: %d (%d new)", len(snap.Assignments), len(snap.Events), newItems)
	writeLine(w, "Study group: %s (%d members, %d matched in class list)", snap.Group, len(snap.Members), snap.Matched)
	writeLine(w, "Report saved to %s", a.cfg.Report.Output)
	return nil
}

func (a *App) saveSnapshot(snap *scraper.Snapshot) (int, error) {
	items := make([]*storage.Item, 0, len(snap.Assignments)+len(snap.Events))
	for _, list := range [][]scraper.Item{snap.Assignments, snap.Events} {
		for _, it := range list {
			items = append(items, &storage.Item{
				Key:    it.Key(),
				Title:  it.Title,
				Course: it.Course,
				Type:   it.Type,
				DueAt:  it.When,
			})
		}
	}
	newItems, err := a.db.SaveItems(items)
	if err != nil {
		return 0, err
	}

	members := make([]*storage.Member, 0, len(snap.Members))
	for _, name := range snap.Members {
		d := snap.Details[name]
		members = append(members, &storage.Member{
			Name:       name,
			Origin:     d.Origin,
			Education:  d.Education,
			Occupation: d.Occupation,
		})
	}
	if snap.Group != "" {
		if err := a.db.SaveMembers(snap.Group, members); err != nil {
			return newItems, err
		}
	}
	return newItems, nil
}

// Plan answers query from the last written report and stores the answer.
func (a *App) Plan(ctx context.Context, query string, w io.Writer) error {
	return a.plan(ctx, a.logger, query, w)
}

func (a *App) plan(ctx context.Context, log *logrus.Logger, query string, w io.Writer) error {
	if query == "" {
		query = a.cfg.LLM.DefaultQuery
	}

	text, err := report.Read(a.cfg.Report.Output)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no report at %s, run the report first", a.cfg.Report.Output)
		}
		return err
	}

	lc := a.cfg.LLM
	provider, err := llm.NewProvider(ctx, llm.ProviderConfig{
		Provider: lc.Provider,
		APIKey:   lc.APIKey,
		Model:    lc.Model,
		Timeout:  lc.Timeout,
		Stream:   lc.Stream,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM provider: %w", err)
	}

	planner := llm.NewPlanner(provider, llm.PlannerOptions{
		System:      lc.SystemPrompt,
		ChunkTokens: lc.ChunkTokens,
		MaxTokens:   lc.MaxTokens,
		Temperature: lc.Temperature,
		Limiter:     a.limiter,
	}, log)

	answer, err := planner.Plan(ctx, text, query, w)
	if err != nil {
		return err
	}
	writeLine(w, "")

	if err := a.db.SavePlan(&storage.Plan{
		Query:    query,
		Provider: provider.Name(),
		Content:  answer,
	}); err != nil {
		log.WithError(err).Warn("Failed to store plan")
	}
	return nil
}

// LoadBooking reads the saved booking config.
func (a *App) LoadBooking() (*booking.Config, error) {
	return booking.LoadConfig(a.cfg.Booking.ConfigFile)
}

// UpdateBooking merges updates into the saved booking config and saves it.
// The file is only rewritten when there is something to merge.
func (a *App) UpdateBooking(updates map[string]any) (*booking.Config, error) {
	current, err := a.LoadBooking()
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return current, nil
	}
	merged, err := current.Merge(updates)
	if err != nil {
		return nil, err
	}
	if err := merged.Save(a.cfg.Booking.ConfigFile); err != nil {
		return nil, err
	}
	a.logger.WithField("fields", len(updates)).Info("Booking config updated")
	return merged, nil
}

// Book reserves a room for cfg and records the attempt.
func (a *App) Book(ctx context.Context, cfg *booking.Config, w io.Writer) error {
	return a.book(ctx, a.logger, cfg, w)
}

func (a *App) book(ctx context.Context, log *logrus.Logger, cfg *booking.Config, w io.Writer) error {
	opts, err := a.loginOptions(a.cfg.Booking.BaseURL, "", nil)
	if err != nil {
		return err
	}

	b, err := a.launch(log)
	if err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}
	defer b.Close()

	store := session.NewStore(a.cfg.Booking.SessionFile, log)
	ensure := func(ctx context.Context) error {
		return b.EnsureLogin(ctx, store, opts)
	}

	booker := booking.NewBooker(b, a.limiter, a.cfg.Booking.BaseURL, ensure, log)
	result, runErr := booker.Run(ctx, cfg)

	record := &storage.Booking{
		Date:      cfg.BookingDate,
		StartTime: cfg.StartTime,
		Duration:  cfg.DurationHours,
		Building:  cfg.Building,
		Outcome:   "failed",
	}
	if result != nil {
		record.Room = result.Room.Name
		record.Title = result.Values.Title
		record.Outcome = string(result.Status)
		record.Message = result.Message
	}
	if runErr != nil {
		record.Message = runErr.Error()
	}
	if err := a.db.SaveBooking(record); err != nil {
		log.WithError(err).Warn("Failed to store booking")
	}

	if runErr != nil {
		return runErr
	}
	return outcome(result, w)
}

func outcome(result *booking.Result, w io.Writer) error {
	switch result.Status {
	case booking.StatusBooked:
		writeLine(w, "Booked %s on %s at %s:%s", result.Room.Name, result.Values.Date, result.Values.Hour, result.Values.Minute)
		return nil
	case booking.StatusRejected:
		return fmt.Errorf("booking rejected: %s", result.Message)
	default:
		writeLine(w, "Booking status unclear for %s, check the booking site", result.Room.Name)
		return nil
	}
}

// StatusReport is the stored state shown by the status command.
type StatusReport struct {
	Stats    map[string]int
	LastRuns map[string]*storage.TaskRun
	Bookings []*storage.Booking
	Upcoming []*storage.Item
}

// Status collects stored counts, the last run of each task and recent bookings.
func (a *App) Status(now time.Time) (*StatusReport, error) {
	stats, err := a.db.GetStats(now)
	if err != nil {
		return nil, err
	}
	out := &StatusReport{Stats: stats, LastRuns: map[string]*storage.TaskRun{}}

	for _, kind := range TaskKinds {
		run, err := a.db.GetLastTaskRun(kind)
		if err != nil {
			return nil, err
		}
		if run != nil {
			out.LastRuns[kind] = run
		}
	}
	if out.Bookings, err = a.db.GetRecentBookings(5); err != nil {
		return nil, err
	}
	window := time.Duration(a.cfg.Report.WindowDays) * 24 * time.Hour
	if out.Upcoming, err = a.db.GetUpcomingItems(now, now.Add(window)); err != nil {
		return nil, err
	}
	return out, nil
}
