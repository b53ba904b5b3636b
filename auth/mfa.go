package auth

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"studygroup-assistant/inspect"
)

// Notifier surfaces the display code to the operator.
type Notifier func(displayCode string)

// ConsoleNotifier prints the code to stdout and logs it.
func ConsoleNotifier(logger *logrus.Logger) Notifier {
	return func(code string) {
		if code == "" {
			fmt.Println("\n>>> Approve the sign-in request on your authenticator app")
		} else {
			fmt.Printf("\n>>> Approve the sign-in request on your authenticator app. Number: %s\n\n", code)
		}
		logger.WithField("display_code", code).Warn("Waiting for second-factor approval")
	}
}

// Fetcher posts a poll and returns the resulting page.
type Fetcher interface {
	Post(ctx context.Context, target *url.URL, form url.Values) (*inspect.Page, error)
}

// Challenge is a pending second-factor request.
type Challenge struct {
	DisplayCode string
	PollURL     *url.URL
	Fields      url.Values
	Interval    time.Duration
	Timeout     time.Duration
	// Page is the challenge page. Approval is judged against its URL.
	Page *inspect.Page
}

// Poller waits for out-of-band approval.
type Poller struct {
	fetcher Fetcher
	clock   Clock
	notify  Notifier
	pending []string
	logger  *logrus.Logger
}

func NewPoller(fetcher Fetcher, clock Clock, notify Notifier, pending []string, logger *logrus.Logger) *Poller {
	if clock == nil {
		clock = SystemClock{}
	}
	if notify == nil {
		notify = ConsoleNotifier(logger)
	}
	return &Poller{
		fetcher: fetcher,
		clock:   clock,
		notify:  notify,
		pending: pending,
		logger:  logger,
	}
}

// AwaitApproval shows the display code, then polls at a fixed interval until
// the page no longer looks pending and has moved off the challenge URL.
// When the deadline passes it returns the last page seen and no error; the
// caller's classification decides what that page means.
func (p *Poller) AwaitApproval(ctx context.Context, ch Challenge) (*inspect.Page, error) {
	p.notify(ch.DisplayCode)

	schedule := NewSchedule(p.clock, ch.Interval, ch.Timeout)
	last := ch.Page
	fields := ch.Fields

	p.logger.WithFields(logrus.Fields{
		"interval":     ch.Interval.String(),
		"max_attempts": schedule.Max(),
	}).Info("Polling for second-factor approval")

	for schedule.Next(ctx) {
		page, err := p.fetcher.Post(ctx, ch.PollURL, fields)
		if err != nil {
			return last, fmt.Errorf("failed to poll second-factor status: %w", err)
		}
		last = page

		if p.approved(ch.Page, page) {
			p.logger.WithField("attempt", schedule.Attempt()).Info("Second-factor approved")
			return page, nil
		}

		if cfg := inspect.DecodeProviderConfig(inspect.ExtractEmbeddedConfig(page.HTML)); cfg.FlowToken != "" {
			fields = inspect.BuildSubmission(cfg, "", "", inspect.ModePoll)
		}

		if schedule.Attempt()%10 == 0 {
			p.logger.WithField("attempt", schedule.Attempt()).Info("Still waiting for second-factor approval")
		}
	}

	if err := ctx.Err(); err != nil {
		return last, err
	}

	p.logger.WithField("attempts", schedule.Attempt()).Warn("Second-factor approval not observed before the deadline")
	return last, nil
}

func (p *Poller) approved(challenge, page *inspect.Page) bool {
	if inspect.ContainsAny(page.HTML, p.pending) {
		return false
	}
	if challenge == nil || challenge.URL == nil || page.URL == nil {
		return true
	}
	return page.URL.String() != challenge.URL.String()
}
