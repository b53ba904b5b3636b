package app

import (
	"context"
	"io"

	"studygroup-assistant/booking"
	"studygroup-assistant/dashboard"
	"studygroup-assistant/logger"
)

// TaskKinds are the task names recorded in the task_runs table.
var TaskKinds = []string{"login", string(dashboard.KindAssignments), string(dashboard.KindBooking), string(dashboard.KindLLM)}

// taskRunner adapts App to the dashboard. Each task logs into its own
// output buffer as well as the main log.
type taskRunner struct {
	app *App
}

func (r taskRunner) Report(ctx context.Context, w io.Writer) error {
	return r.app.report(ctx, logger.NewTaskLogger(r.app.logger, w), w)
}

func (r taskRunner) UpdateBooking(updates map[string]any) (*booking.Config, error) {
	return r.app.UpdateBooking(updates)
}

func (r taskRunner) Book(ctx context.Context, cfg *booking.Config, w io.Writer) error {
	return r.app.book(ctx, logger.NewTaskLogger(r.app.logger, w), cfg, w)
}

func (r taskRunner) Plan(ctx context.Context, query string, w io.Writer) error {
	return r.app.plan(ctx, logger.NewTaskLogger(r.app.logger, w), query, w)
}

func (r taskRunner) Limits() map[string]interface{} {
	return r.app.limiter.GetStats()
}

// Dashboard builds the dashboard server backed by this app.
func (a *App) Dashboard(addr string) *dashboard.Server {
	if addr == "" {
		addr = a.cfg.Dashboard.Addr
	}
	return dashboard.NewServer(taskRunner{app: a}, a.db, dashboard.Options{
		Addr:           addr,
		WeeklySchedule: a.cfg.Dashboard.WeeklySchedule,
		DefaultQuery:   a.cfg.LLM.DefaultQuery,
	}, a.logger)
}

// Serve runs the dashboard until ctx is cancelled.
func (a *App) Serve(ctx context.Context, addr string) error {
	return a.Dashboard(addr).Serve(ctx)
}
