package booking

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// buildingCodes maps building names to the site select values.
var buildingCodes = map[string]string{
	"North Building":    "NB",
	"Sammy Ofer Centre": "SOC",
	"Sussex Place":      "Susx Plc",
}

const defaultBuilding = "Susx Plc"

// FormValues are the booking form inputs, already in the site's formats.
type FormValues struct {
	Date      string // DD/MM/YYYY
	Hour      string
	Minute    string
	Duration  string // minutes
	Attendees string
	Title     string
	Building  string
}

// NewFormValues converts a config into form inputs.
func NewFormValues(c *Config) (FormValues, error) {
	day, err := time.Parse("2006-01-02", c.BookingDate)
	if err != nil {
		return FormValues{}, fmt.Errorf("invalid booking date %q: %w", c.BookingDate, err)
	}
	hour, minute, ok := strings.Cut(c.StartTime, ":")
	if !ok {
		return FormValues{}, fmt.Errorf("invalid start time %q", c.StartTime)
	}
	code, ok := buildingCodes[c.Building]
	if !ok {
		code = defaultBuilding
	}
	title := c.StudyGroupName
	if c.ProjectName != "" {
		title += " - " + c.ProjectName
	}
	return FormValues{
		Date:      day.Format("02/01/2006"),
		Hour:      hour,
		Minute:    minute,
		Duration:  strconv.Itoa(int(math.Round(c.DurationHours * 60))),
		Attendees: strconv.Itoa(c.Attendees),
		Title:     title,
		Building:  code,
	}, nil
}

// Room is an offered room.
type Room struct {
	ID   string
	Name string
}

// FirstRoom returns the first room offered on the availability page.
func FirstRoom(html string) (Room, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Room{}, false
	}
	input := doc.Find("input.selectedRoom").First()
	if input.Length() == 0 {
		return Room{}, false
	}
	id, _ := input.Attr("id")
	room := Room{ID: id, Name: id}
	if id != "" {
		if label := strings.TrimSpace(doc.Find(`label[for="` + id + `"]`).First().Text()); label != "" {
			room.Name = strings.Join(strings.Fields(label), " ")
		}
	}
	return room, true
}

// Status is the site's answer to a booking.
type Status string

const (
	StatusBooked   Status = "booked"
	StatusRejected Status = "rejected"
	StatusUnclear  Status = "unclear"
)

// Classify reads the page after Book was clicked. A page that shows
// neither dialog is reported as unclear.
func Classify(pageURL, html string) (Status, string) {
	if strings.Contains(pageURL, "bookingSuccessfulDialog") || strings.Contains(html, "bookingSuccessfulDialog") {
		return StatusBooked, ""
	}
	if strings.Contains(pageURL, "bookingFailedDialog") || strings.Contains(html, "bookingFailedDialog") {
		msg := "booking failed"
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			if t := strings.TrimSpace(doc.Find("#failedBookingMessage").First().Text()); t != "" {
				msg = t
			}
		}
		return StatusRejected, msg
	}
	return StatusUnclear, ""
}
