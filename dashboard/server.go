package dashboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"studygroup-assistant/booking"
	"studygroup-assistant/storage"
)

// Runner performs the work behind each task kind. Output meant for the
// operator goes to w.
type Runner interface {
	Report(ctx context.Context, w io.Writer) error
	UpdateBooking(updates map[string]any) (*booking.Config, error)
	Book(ctx context.Context, cfg *booking.Config, w io.Writer) error
	Plan(ctx context.Context, query string, w io.Writer) error
	Limits() map[string]interface{}
}

// History records task runs and serves the latest plan. It may be nil.
type History interface {
	StartTaskRun(run *storage.TaskRun) error
	FinishTaskRun(id string, runErr error) error
	LatestPlan() (*storage.Plan, error)
}

// Options configure the server.
type Options struct {
	Addr           string
	WeeklySchedule string
	DefaultQuery   string
}

// Server is the dashboard HTTP server.
type Server struct {
	opts     Options
	registry *Registry
	runner   Runner
	history  History
	engine   *gin.Engine
	cron     *cron.Cron
	logger   *logrus.Logger

	// tasks outlive the request that started them
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates the server and registers its routes.
func NewServer(runner Runner, history History, opts Options, logger *logrus.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:     opts,
		registry: NewRegistry(),
		runner:   runner,
		history:  history,
		logger:   logger,
		baseCtx:  ctx,
		cancel:   cancel,
	}
	s.engine = s.routes()
	return s
}

// Registry exposes the task registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/", s.handleIndex)
	r.GET("/plan", s.handlePlan)

	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/limits", s.handleLimits)
		api.POST("/run-assignments", s.handleRunAssignments)
		api.POST("/book-room", s.handleBookRoom)
		api.POST("/query-llm", s.handleQueryLLM)
		api.GET("/output/:kind", s.handleOutput)
		api.POST("/clear/:kind", s.handleClear)
		api.GET("/stream/:kind", s.handleStream)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("Request served")
	}
}

// Serve listens on opts.Addr until ctx is cancelled, then shuts down and
// waits for running tasks.
func (s *Server) Serve(ctx context.Context) error {
	if s.opts.WeeklySchedule != "" {
		if err := s.Schedule(s.opts.WeeklySchedule); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.opts.Addr).Info("Dashboard listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve dashboard: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close stops the scheduler, cancels running tasks and waits for them.
func (s *Server) Close() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.cancel()
	s.wg.Wait()
}

// Schedule runs the report task followed by the plan task on spec, a
// standard five-field cron expression.
func (s *Server) Schedule(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, s.weekly); err != nil {
		return fmt.Errorf("invalid weekly schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	s.logger.WithField("schedule", spec).Info("Weekly report scheduled")
	return nil
}

func (s *Server) weekly() {
	s.logger.Info("Starting scheduled weekly report")
	run, err := s.launch(KindAssignments, "Starting scheduled assignment extraction...\n", s.runner.Report)
	if err != nil {
		s.logger.WithError(err).Warn("Skipping scheduled report")
		return
	}
	<-run.done
	if run.err != nil {
		return
	}

	query := s.opts.DefaultQuery
	if _, err := s.launch(KindLLM, "Query: "+query+"\n\n", func(ctx context.Context, w io.Writer) error {
		return s.runner.Plan(ctx, query, w)
	}); err != nil {
		s.logger.WithError(err).Warn("Skipping scheduled plan")
	}
}

type launched struct {
	run  *Run
	done chan struct{}
	err  error
}

// launch starts fn in the background as a run of kind.
func (s *Server) launch(kind Kind, header string, fn func(ctx context.Context, w io.Writer) error) (*launched, error) {
	run, err := s.registry.Start(kind, header)
	if err != nil {
		return nil, err
	}

	if s.history != nil {
		if err := s.history.StartTaskRun(&storage.TaskRun{
			ID:        run.ID,
			Kind:      string(kind),
			StartedAt: run.Started,
		}); err != nil {
			s.logger.WithError(err).Warn("Failed to record task run")
		}
	}

	l := &launched{run: run, done: make(chan struct{})}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(l.done)

		entry := s.logger.WithFields(logrus.Fields{"kind": string(kind), "run_id": run.ID})
		entry.Info("Task started")

		l.err = fn(s.baseCtx, run)

		if s.history != nil {
			if err := s.history.FinishTaskRun(run.ID, l.err); err != nil {
				entry.WithError(err).Warn("Failed to record task result")
			}
		}
		if l.err != nil {
			entry.WithError(l.err).Error("Task failed")
		} else {
			entry.Info("Task finished")
		}
		s.registry.Finish(run, l.err)
	}()
	return l, nil
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexPage))
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.All())
}

func (s *Server) handleLimits(c *gin.Context) {
	c.JSON(http.StatusOK, s.runner.Limits())
}

func (s *Server) started(c *gin.Context, l *launched, err error, busy, message string) {
	if errors.Is(err, ErrTaskRunning) {
		c.JSON(http.StatusBadRequest, gin.H{"error": busy})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": message, "run_id": l.run.ID})
}

func (s *Server) handleRunAssignments(c *gin.Context) {
	l, err := s.launch(KindAssignments, "Starting assignment extraction...\n", s.runner.Report)
	s.started(c, l, err, "Assignment extraction is already running", "Assignment extraction started")
}

func (s *Server) handleBookRoom(c *gin.Context) {
	if status, _ := s.registry.Status(KindBooking); status.Running {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Room booking is already running"})
		return
	}

	var updates map[string]any
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&updates); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Failed to update config: %v", err)})
			return
		}
	}
	cfg, err := s.runner.UpdateBooking(updates)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Failed to update config: %v", err)})
		return
	}

	l, err := s.launch(KindBooking, "Starting room booking...\n", func(ctx context.Context, w io.Writer) error {
		return s.runner.Book(ctx, cfg, w)
	})
	s.started(c, l, err, "Room booking is already running", "Room booking started")
}

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleQueryLLM(c *gin.Context) {
	var req queryRequest
	_ = c.ShouldBindJSON(&req)
	if req.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No query provided"})
		return
	}

	l, err := s.launch(KindLLM, "Query: "+req.Query+"\n\n", func(ctx context.Context, w io.Writer) error {
		return s.runner.Plan(ctx, req.Query, w)
	})
	s.started(c, l, err, "LLM query is already running", "LLM query started")
}

func (s *Server) handleOutput(c *gin.Context) {
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid process type"})
		return
	}
	status, _ := s.registry.Status(kind)
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleClear(c *gin.Context) {
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid process type"})
		return
	}
	if err := s.registry.Clear(kind); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot clear output while process is running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Output cleared"})
}

func (s *Server) handlePlan(c *gin.Context) {
	if s.history == nil {
		c.String(http.StatusNotFound, "no plans stored")
		return
	}
	plan, err := s.history.LatestPlan()
	if err != nil {
		s.logger.WithError(err).Error("Failed to load latest plan")
		c.String(http.StatusInternalServerError, "failed to load plan")
		return
	}
	if plan == nil {
		c.String(http.StatusNotFound, "no plans stored yet")
		return
	}

	html, err := renderMarkdown(plan.Content)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to render plan")
		return
	}
	page := fmt.Sprintf(planPage, plan.CreatedAt.Local().Format("2006-01-02 15:04"), html)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify),
)

func renderMarkdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
