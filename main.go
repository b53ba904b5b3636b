package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"studygroup-assistant/app"
	"studygroup-assistant/config"
	"studygroup-assistant/logger"
)

var (
	configFile string
	verbose    bool
	headless   bool
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "studygroup-assistant",
		Short: "Learning portal assistant for study groups",
		Long:  `Signs in to the learning portal, collects upcoming deadlines and the study group roster, plans the week with an LLM and books study rooms.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./config/config.yaml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "Run browser in headless mode")

	// Add subcommands
	rootCmd.AddCommand(createLoginCmd())
	rootCmd.AddCommand(createReportCmd())
	rootCmd.AddCommand(createPlanCmd())
	rootCmd.AddCommand(createBookCmd())
	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createStatusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func createLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in to the learning portal",
		Long:  `Runs the federated sign-in over HTTP, waiting for second-factor approval if asked, and saves the session cookies.`,
		RunE:  runLogin,
	}
}

func createReportCmd() *cobra.Command {
	var (
		fromFile   string
		groupsFile string
		rosterFile string
	)

	var cmd = &cobra.Command{
		Use:   "report",
		Short: "Collect deadlines and the study group roster",
		Long:  `Scrapes the portal agenda, study group and class list and writes the text report. With --from-file the report is built from saved pages and no browser is started.`,
		RunE:  runReport,
	}
	cmd.Flags().StringVar(&fromFile, "from-file", "", "Saved calendar agenda page to read instead of the portal")
	cmd.Flags().StringVar(&groupsFile, "groups-file", "", "Saved groups page (with --from-file)")
	cmd.Flags().StringVar(&rosterFile, "roster-file", "", "Saved study group People page (with --from-file)")
	return cmd
}

func createPlanCmd() *cobra.Command {
	var query string

	var cmd = &cobra.Command{
		Use:   "plan",
		Short: "Ask the LLM to plan the week from the last report",
		RunE:  runPlan,
	}
	cmd.Flags().StringVar(&query, "query", "", "Question to ask (defaults to llm.default_query)")
	return cmd
}

func createBookCmd() *cobra.Command {
	var (
		date      string
		start     string
		duration  float64
		attendees int
		building  string
	)

	var cmd = &cobra.Command{
		Use:   "book",
		Short: "Book a study room",
		Long:  `Books the first available room using the saved booking config. Flags override and update the saved values.`,
		RunE:  runBook,
	}
	cmd.Flags().StringVar(&date, "date", "", "Booking date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&start, "start", "", "Start time (HH:MM)")
	cmd.Flags().Float64Var(&duration, "duration", 0, "Duration in hours")
	cmd.Flags().IntVar(&attendees, "attendees", 0, "Number of attendees")
	cmd.Flags().StringVar(&building, "building", "", "Building name")
	return cmd
}

func createServeCmd() *cobra.Command {
	var addr string

	var cmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the local dashboard",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to dashboard.addr)")
	return cmd
}

func createStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show status and statistics",
		Long:  `Display stored counts, the last run of each task and recent bookings.`,
		RunE:  runStatus,
	}
}

// Command runners

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	return a.Track("login", func() error {
		result, err := a.Login(ctx)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if !result.Success() {
			return fmt.Errorf("login unsuccessful: %s", result.Message)
		}

		fmt.Printf("Login successful!\n")
		if result.Ambiguous {
			logger.Warnf("Login ended at %s without an explicit confirmation", result.FinalURL)
			fmt.Printf("  (no explicit confirmation from the identity provider, check the portal)\n")
		}
		fmt.Printf("  Final URL: %s\n", result.FinalURL)
		fmt.Printf("  Session restored: %v\n", result.Restored)
		fmt.Printf("  Cookies saved: %d\n", len(result.Cookies))
		return nil
	})
}

func runReport(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	files := app.ReportFiles{}
	files.Agenda, _ = cmd.Flags().GetString("from-file")
	files.Groups, _ = cmd.Flags().GetString("groups-file")
	files.Roster, _ = cmd.Flags().GetString("roster-file")
	if files.Agenda == "" && (files.Groups != "" || files.Roster != "") {
		return fmt.Errorf("--groups-file and --roster-file need --from-file")
	}

	return a.Track("assignments", func() error {
		if files.Agenda != "" {
			return a.ReportFromFiles(files, os.Stdout)
		}
		return a.Report(ctx, os.Stdout)
	})
}

func runPlan(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	query, _ := cmd.Flags().GetString("query")

	ctx, stop := signalContext()
	defer stop()

	return a.Track("llm", func() error {
		return a.Plan(ctx, query, os.Stdout)
	})
}

func runBook(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	updates := map[string]any{}
	if v, _ := cmd.Flags().GetString("date"); v != "" {
		updates["booking_date"] = v
	}
	if v, _ := cmd.Flags().GetString("start"); v != "" {
		updates["start_time"] = v
	}
	if v, _ := cmd.Flags().GetFloat64("duration"); v > 0 {
		updates["duration_hours"] = v
	}
	if v, _ := cmd.Flags().GetInt("attendees"); v > 0 {
		updates["attendees"] = v
	}
	if v, _ := cmd.Flags().GetString("building"); v != "" {
		updates["building"] = v
	}

	bookingCfg, err := a.UpdateBooking(updates)
	if err != nil {
		return fmt.Errorf("failed to load booking config: %w", err)
	}
	if len(updates) > 0 {
		logger.WithFields(logrus.Fields(updates)).Info("Booking config updated from flags")
	}

	ctx, stop := signalContext()
	defer stop()

	return a.Track("booking", func() error {
		return a.Book(ctx, bookingCfg, os.Stdout)
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = a.Config().Dashboard.Addr
	}
	logger.Infof("Open http://%s in a browser, press Ctrl+C to stop", addr)

	ctx, stop := signalContext()
	defer stop()

	return a.Serve(ctx, addr)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.Config()
	st, err := a.Status(time.Now())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Printf("Study Group Assistant Status\n")
	fmt.Printf("============================\n")
	fmt.Printf("\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Portal: %s\n", cfg.Portal.BaseURL)
	fmt.Printf("  Booking site: %s\n", cfg.Booking.BaseURL)
	fmt.Printf("  LLM: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Printf("  Headless: %v\n", cfg.Browser.Headless)
	fmt.Printf("\n")
	fmt.Printf("Statistics:\n")
	fmt.Printf("  Upcoming items: %d\n", st.Stats["upcoming_items"])
	fmt.Printf("  Study group members: %d\n", st.Stats["members"])
	fmt.Printf("  Rooms booked: %d\n", st.Stats["bookings"])
	fmt.Printf("  Plans stored: %d\n", st.Stats["plans"])
	fmt.Printf("\n")
	fmt.Printf("Limits:\n")
	fmt.Printf("  Daily bookings: %d/%d\n", st.Stats["bookings_today"], cfg.Limits.DailyBookings)
	fmt.Printf("\n")

	fmt.Printf("Last runs:\n")
	for _, kind := range app.TaskKinds {
		run, ok := st.LastRuns[kind]
		if !ok {
			fmt.Printf("  %-12s never\n", kind)
			continue
		}
		line := fmt.Sprintf("  %-12s %s at %s", kind, run.Status, run.StartedAt.Local().Format("2006-01-02 15:04"))
		if run.Error != "" {
			line += " (" + run.Error + ")"
		}
		fmt.Println(line)
	}

	if len(st.Upcoming) > 0 {
		fmt.Printf("\nUpcoming:\n")
		for _, it := range st.Upcoming {
			fmt.Printf("  %s  %-10s %s - %s\n", it.DueAt.Local().Format("Mon 02 Jan 15:04"), it.Type, it.Course, it.Title)
		}
	}

	if len(st.Bookings) > 0 {
		fmt.Printf("\nRecent bookings:\n")
		for _, b := range st.Bookings {
			fmt.Printf("  %s %s %-8s %s %s\n", b.Date, b.StartTime, b.Outcome, b.Building, strings.TrimSpace(b.Room))
		}
	}
	return nil
}

// Helper functions

func setup(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := setupLogger(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = headless
	}

	a, err := app.New(cfg, logger.GetLogger())
	if err != nil {
		logger.WithError(err).Error("Failed to initialize")
		return nil, err
	}
	return a, nil
}

func setupLogger(lc config.LoggingConfig) error {
	level := lc.Level
	if verbose {
		level = "debug"
	}
	if level == "" {
		level = "info"
	}
	return logger.InitLogger(level, lc.Format, lc.Output)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
