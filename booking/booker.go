package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"studygroup-assistant/inspect"
	"studygroup-assistant/ratelimit"
)

// ErrNoRooms is returned when the search offers no room.
var ErrNoRooms = errors.New("no available rooms")

// Page selectors on the booking site
const (
	selMyBookings  = "#userBookings"
	selBookRoom    = ".toBookingPage"
	selDate        = "#bookingdatepicker"
	selHour        = "#starthourbox"
	selMinute      = "#startminutesbox"
	selDuration    = "#durationbox"
	selAttendees   = "#noofattendees"
	selTitle       = "#meetingTitlebox"
	selBuilding    = "#sitebox"
	selSearch      = "button[type='submit'].lbs-btn-default"
	selRoomList    = "#availblerooms"
	selBookButton  = "#bookButton"
	selBookingDone = "#bookingSuccessfulDialog, #bookingFailedDialog"
)

// Browser is the part of a browser session the booker drives.
type Browser interface {
	Navigate(ctx context.Context, target string) (*inspect.Page, error)
	WaitFor(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	ClickJS(ctx context.Context, selector string) error
	SetValue(ctx context.Context, selector, value string) error
	Type(ctx context.Context, selector, text string) error
	Snapshot(ctx context.Context) (*inspect.Page, error)
}

// Result is what a booking run did.
type Result struct {
	Status  Status
	Room    Room
	Message string
	Values  FormValues
}

// Booker books one room per run.
type Booker struct {
	browser     Browser
	limiter     *ratelimit.RateLimiter
	baseURL     string
	ensureLogin func(ctx context.Context) error
	logger      *logrus.Logger
}

// NewBooker creates a booker. ensureLogin must leave the browser with a
// verified session; it runs before anything is submitted.
func NewBooker(b Browser, limiter *ratelimit.RateLimiter, baseURL string, ensureLogin func(ctx context.Context) error, logger *logrus.Logger) *Booker {
	return &Booker{
		browser:     b,
		limiter:     limiter,
		baseURL:     baseURL,
		ensureLogin: ensureLogin,
		logger:      logger,
	}
}

// Run books the first room that fits cfg.
func (b *Booker) Run(ctx context.Context, cfg *Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	values, err := NewFormValues(cfg)
	if err != nil {
		return nil, err
	}
	result := &Result{Values: values}

	b.logger.WithFields(logrus.Fields{
		"date":      cfg.BookingDate,
		"time":      cfg.StartTime,
		"duration":  cfg.DurationHours,
		"attendees": cfg.Attendees,
		"building":  cfg.Building,
	}).Info("Starting room booking")

	if b.limiter != nil {
		if err := b.limiter.WaitForPermission(ctx, ratelimit.ActionBooking); err != nil {
			return nil, err
		}
	}
	if b.ensureLogin != nil {
		if err := b.ensureLogin(ctx); err != nil {
			return nil, fmt.Errorf("login failed: %w", err)
		}
	}

	if err := b.openForm(ctx); err != nil {
		return nil, err
	}
	if err := b.fillForm(ctx, values); err != nil {
		return nil, err
	}

	room, err := b.pickRoom(ctx)
	if err != nil {
		return nil, err
	}
	result.Room = room

	if err := b.browser.Click(ctx, selBookButton); err != nil {
		return nil, fmt.Errorf("failed to click Book: %w", err)
	}
	if err := b.browser.WaitFor(ctx, selBookingDone); err != nil {
		b.logger.WithError(err).Debug("No booking dialog appeared")
	}

	page, err := b.browser.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	result.Status, result.Message = Classify(page.URL.String(), page.HTML)

	entry := b.logger.WithFields(logrus.Fields{
		"room":   room.Name,
		"status": string(result.Status),
	})
	switch result.Status {
	case StatusBooked:
		entry.Info("Booking successful")
	case StatusRejected:
		entry.WithField("message", result.Message).Error("Booking failed")
	default:
		entry.Warn("Booking status unclear, please check the booking site")
	}
	return result, nil
}

func (b *Booker) step(ctx context.Context, name string, fn func() error) error {
	if b.limiter != nil {
		if err := b.limiter.WaitForPermission(ctx, ratelimit.ActionPage); err != nil {
			return err
		}
	}
	if err := fn(); err != nil {
		return fmt.Errorf("failed to %s: %w", name, err)
	}
	return nil
}

func (b *Booker) openForm(ctx context.Context) error {
	if err := b.step(ctx, "open booking site", func() error {
		_, err := b.browser.Navigate(ctx, b.baseURL)
		return err
	}); err != nil {
		return err
	}
	if err := b.step(ctx, "open My Bookings", func() error {
		if err := b.browser.WaitFor(ctx, selMyBookings); err != nil {
			return err
		}
		return b.browser.Click(ctx, selMyBookings)
	}); err != nil {
		return err
	}
	return b.step(ctx, "open Book Room", func() error {
		if err := b.browser.WaitFor(ctx, selBookRoom); err != nil {
			return err
		}
		if err := b.browser.Click(ctx, selBookRoom); err != nil {
			return err
		}
		return b.browser.WaitFor(ctx, selDate)
	})
}

func (b *Booker) fillForm(ctx context.Context, v FormValues) error {
	fields := []struct{ sel, value string }{
		{selDate, v.Date},
		{selHour, v.Hour},
		{selMinute, v.Minute},
		{selDuration, v.Duration},
		{selAttendees, v.Attendees},
		{selBuilding, v.Building},
	}
	for _, f := range fields {
		if err := b.browser.SetValue(ctx, f.sel, f.value); err != nil {
			return err
		}
	}
	if err := b.browser.Type(ctx, selTitle, v.Title); err != nil {
		return fmt.Errorf("failed to type title: %w", err)
	}
	b.logger.WithField("title", v.Title).Debug("Booking form filled")

	return b.step(ctx, "search rooms", func() error {
		return b.browser.Click(ctx, selSearch)
	})
}

func (b *Booker) pickRoom(ctx context.Context) (Room, error) {
	if err := b.browser.WaitFor(ctx, selRoomList); err != nil {
		return Room{}, fmt.Errorf("room list did not load: %w", err)
	}
	page, err := b.browser.Snapshot(ctx)
	if err != nil {
		return Room{}, err
	}
	room, ok := FirstRoom(page.HTML)
	if !ok || room.ID == "" {
		return Room{}, ErrNoRooms
	}
	b.logger.WithField("room", room.Name).Info("Selecting first available room")
	if err := b.browser.ClickJS(ctx, "#"+room.ID); err != nil {
		return Room{}, err
	}
	return room, nil
}
