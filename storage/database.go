package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Database represents the SQLite database connection
type Database struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Item is a stored assignment, quiz or event
type Item struct {
	ID        int       `json:"id"`
	Key       string    `json:"key"`
	Title     string    `json:"title"`
	Course    string    `json:"course"`
	Type      string    `json:"type"`
	DueAt     time.Time `json:"due_at"`
	FirstSeen time.Time `json:"first_seen"`
}

// Member represents a study group member and their background
type Member struct {
	ID         int       `json:"id"`
	GroupName  string    `json:"group_name"`
	Name       string    `json:"name"`
	Origin     string    `json:"origin"`
	Education  string    `json:"education"`
	Occupation string    `json:"occupation"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Booking represents a room booking attempt
type Booking struct {
	ID        int       `json:"id"`
	Date      string    `json:"date"`
	StartTime string    `json:"start_time"`
	Duration  float64   `json:"duration_hours"`
	Building  string    `json:"building"`
	Room      string    `json:"room"`
	Title     string    `json:"title"`
	Outcome   string    `json:"outcome"` // booked, rejected, unclear, failed
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskRun represents one dashboard or CLI task execution
type TaskRun struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"` // running, succeeded, failed
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Plan is a stored LLM answer
type Plan struct {
	ID        int       `json:"id"`
	Query     string    `json:"query"`
	Provider  string    `json:"provider"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewDatabase creates a new database connection
func NewDatabase(dbPath string, logger *logrus.Logger) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; dashboard tasks share the handle
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{
		db:     db,
		logger: logger,
	}

	if err := database.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	logger.WithField("path", dbPath).Debug("Database initialized successfully")
	return database, nil
}

// initTables creates all necessary tables
func (d *Database) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			item_key TEXT UNIQUE NOT NULL,
			title TEXT NOT NULL,
			course TEXT,
			type TEXT NOT NULL,
			due_at DATETIME NOT NULL,
			first_seen DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS members (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_name TEXT NOT NULL,
			name TEXT NOT NULL,
			origin TEXT,
			education TEXT,
			occupation TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (group_name, name)
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			start_time TEXT NOT NULL,
			duration_hours REAL NOT NULL,
			building TEXT,
			room TEXT,
			title TEXT,
			outcome TEXT NOT NULL,
			message TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS task_runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS plans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			query TEXT NOT NULL,
			provider TEXT,
			content TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_due_at ON items(due_at)`,
		`CREATE INDEX IF NOT EXISTS idx_task_runs_kind ON task_runs(kind, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_created_at ON bookings(created_at)`,
	}

	for _, query := range queries {
		if _, err := d.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %s, error: %w", query, err)
		}
	}

	d.logger.Debug("Database tables initialized successfully")
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// SaveItems upserts agenda items by key and returns how many were new
func (d *Database) SaveItems(items []*Item) (int, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO items (item_key, title, course, type, due_at)
			  VALUES (?, ?, ?, ?, ?)
			  ON CONFLICT(item_key) DO UPDATE SET title = excluded.title, type = excluded.type`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare item insert: %w", err)
	}
	defer stmt.Close()

	var before int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&before); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	for _, it := range items {
		if _, err := stmt.Exec(it.Key, it.Title, it.Course, it.Type, it.DueAt.UTC()); err != nil {
			return 0, fmt.Errorf("failed to save item %q: %w", it.Title, err)
		}
	}
	var after int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&after); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit items: %w", err)
	}
	d.logger.WithFields(logrus.Fields{
		"items": len(items),
		"new":   after - before,
	}).Debug("Items saved")
	return after - before, nil
}

// GetUpcomingItems returns items due between from and to, soonest first
func (d *Database) GetUpcomingItems(from, to time.Time) ([]*Item, error) {
	rows, err := d.db.Query(`SELECT id, item_key, title, course, type, due_at, first_seen
			  FROM items WHERE due_at >= ? AND due_at <= ? ORDER BY due_at`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Key, &it.Title, &it.Course, &it.Type, &it.DueAt, &it.FirstSeen); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// SaveMembers replaces the stored roster details for a group
func (d *Database) SaveMembers(group string, members []*Member) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range members {
		_, err := tx.Exec(`INSERT INTO members (group_name, name, origin, education, occupation, updated_at)
				  VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
				  ON CONFLICT(group_name, name) DO UPDATE SET
				  origin = excluded.origin, education = excluded.education,
				  occupation = excluded.occupation, updated_at = CURRENT_TIMESTAMP`,
			group, m.Name, m.Origin, m.Education, m.Occupation)
		if err != nil {
			return fmt.Errorf("failed to save member %q: %w", m.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit members: %w", err)
	}
	d.logger.WithFields(logrus.Fields{
		"group":   group,
		"members": len(members),
	}).Debug("Members saved")
	return nil
}

// GetMembers returns a group's members by name
func (d *Database) GetMembers(group string) ([]*Member, error) {
	rows, err := d.db.Query(`SELECT id, group_name, name, origin, education, occupation, updated_at
			  FROM members WHERE group_name = ? ORDER BY name`, group)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.GroupName, &m.Name, &m.Origin, &m.Education, &m.Occupation, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// SaveBooking records a booking attempt
func (d *Database) SaveBooking(b *Booking) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	result, err := d.db.Exec(`INSERT INTO bookings (date, start_time, duration_hours, building, room, title, outcome, message, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Date, b.StartTime, b.Duration, b.Building, b.Room, b.Title, b.Outcome, b.Message, b.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get booking ID: %w", err)
	}
	b.ID = int(id)
	d.logger.WithFields(logrus.Fields{
		"date":    b.Date,
		"outcome": b.Outcome,
	}).Debug("Booking saved")
	return nil
}

// GetRecentBookings returns the latest bookings, newest first
func (d *Database) GetRecentBookings(limit int) ([]*Booking, error) {
	rows, err := d.db.Query(`SELECT id, date, start_time, duration_hours, building, room, title, outcome, message, created_at
			  FROM bookings ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.Date, &b.StartTime, &b.Duration, &b.Building, &b.Room, &b.Title, &b.Outcome, &b.Message, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, &b)
	}
	return bookings, rows.Err()
}

// StartTaskRun records a task as running
func (d *Database) StartTaskRun(run *TaskRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = "running"
	_, err := d.db.Exec(`INSERT INTO task_runs (id, kind, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Kind, run.Status, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save task run: %w", err)
	}
	return nil
}

// FinishTaskRun marks a task run as succeeded or failed
func (d *Database) FinishTaskRun(id string, runErr error) error {
	status, msg := "succeeded", ""
	if runErr != nil {
		status, msg = "failed", runErr.Error()
	}
	result, err := d.db.Exec(`UPDATE task_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, msg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update task run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("task run %s not found", id)
	}

	d.logger.WithFields(logrus.Fields{
		"id":     id,
		"status": status,
	}).Debug("Task run finished")
	return nil
}

// GetLastTaskRun returns the most recent run of kind, or nil
func (d *Database) GetLastTaskRun(kind string) (*TaskRun, error) {
	row := d.db.QueryRow(`SELECT id, kind, status, error, started_at, finished_at
			  FROM task_runs WHERE kind = ? ORDER BY started_at DESC LIMIT 1`, kind)
	var run TaskRun
	var errText sql.NullString
	var finished sql.NullTime
	if err := row.Scan(&run.ID, &run.Kind, &run.Status, &errText, &run.StartedAt, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task run: %w", err)
	}
	run.Error = errText.String
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

// SavePlan stores an LLM answer
func (d *Database) SavePlan(p *Plan) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	result, err := d.db.Exec(`INSERT INTO plans (query, provider, content, created_at) VALUES (?, ?, ?, ?)`,
		p.Query, p.Provider, p.Content, p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get plan ID: %w", err)
	}
	p.ID = int(id)
	return nil
}

// LatestPlan returns the newest stored plan, or nil
func (d *Database) LatestPlan() (*Plan, error) {
	row := d.db.QueryRow(`SELECT id, query, provider, content, created_at FROM plans ORDER BY created_at DESC, id DESC LIMIT 1`)
	var p Plan
	if err := row.Scan(&p.ID, &p.Query, &p.Provider, &p.Content, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &p, nil
}

// GetStats returns stored counts for the status command and dashboard
func (d *Database) GetStats(now time.Time) (map[string]int, error) {
	row := d.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM items WHERE due_at >= ?) as upcoming_items,
			(SELECT COUNT(*) FROM members) as members,
			(SELECT COUNT(*) FROM bookings WHERE outcome IN ('booked', 'unclear')) as bookings,
			(SELECT COUNT(*) FROM bookings WHERE DATE(created_at) = DATE(?)) as bookings_today,
			(SELECT COUNT(*) FROM plans) as plans
	`, now.UTC(), now.UTC())

	var upcoming, members, bookings, today, plans int
	if err := row.Scan(&upcoming, &members, &bookings, &today, &plans); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return map[string]int{
		"upcoming_items": upcoming,
		"members":        members,
		"bookings":       bookings,
		"bookings_today": today,
		"plans":          plans,
	}, nil
}
