// Package dashboard serves the local web UI that starts and watches the
// assistant's long running tasks.
package dashboard

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names a task.
type Kind string

const (
	KindAssignments Kind = "assignments"
	KindBooking     Kind = "booking"
	KindLLM         Kind = "llm"
)

// Kinds lists every task kind the dashboard knows.
var Kinds = []Kind{KindAssignments, KindBooking, KindLLM}

var (
	// ErrTaskRunning is returned when a task of the same kind is in flight.
	ErrTaskRunning = errors.New("task is already running")
	// ErrUnknownKind is returned for task kinds the registry does not track.
	ErrUnknownKind = errors.New("invalid process type")
)

// ParseKind validates a kind taken from a URL.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", ErrUnknownKind
}

// Status is the public view of one task kind.
type Status struct {
	Running bool   `json:"running"`
	Output  string `json:"output"`
	LastRun string `json:"last_run"`
	RunID   string `json:"run_id,omitempty"`
}

type task struct {
	running bool
	output  strings.Builder
	lastRun time.Time
	runID   string
	subs    map[chan string]struct{}
}

// Registry owns the state of every task kind. All transitions happen under
// one mutex.
type Registry struct {
	mu    sync.Mutex
	tasks map[Kind]*task
	now   func() time.Time
}

// NewRegistry creates a registry with every kind idle.
func NewRegistry() *Registry {
	r := &Registry{tasks: make(map[Kind]*task), now: time.Now}
	for _, k := range Kinds {
		r.tasks[k] = &task{subs: make(map[chan string]struct{})}
	}
	return r
}

// Run is a started task. It is an io.Writer over the task's output buffer.
type Run struct {
	ID       string
	Kind     Kind
	Started  time.Time
	registry *Registry
}

// Start marks kind as running, resets its output to header and returns the
// run. It fails with ErrTaskRunning when kind is already running.
func (r *Registry) Start(kind Kind, header string) (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[kind]
	if !ok {
		return nil, ErrUnknownKind
	}
	if t.running {
		return nil, ErrTaskRunning
	}

	t.running = true
	t.runID = uuid.NewString()
	t.lastRun = r.now()
	t.output.Reset()
	t.output.WriteString(header)
	r.publish(t, header)

	return &Run{ID: t.runID, Kind: kind, Started: t.lastRun, registry: r}, nil
}

// Write appends to the run's output. Writes after Finish or from a stale run
// are dropped.
func (run *Run) Write(p []byte) (int, error) {
	r := run.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.tasks[run.Kind]
	if !t.running || t.runID != run.ID {
		return len(p), nil
	}
	t.output.Write(p)
	r.publish(t, string(p))
	return len(p), nil
}

// Finish writes the closing line and marks the run's kind idle.
func (r *Registry) Finish(run *Run, err error) {
	line := "\n✓ Completed\n"
	if err != nil {
		line = "\n✗ Error: " + err.Error() + "\n"
	}
	run.Write([]byte(line))

	r.mu.Lock()
	defer r.mu.Unlock()
	if t := r.tasks[run.Kind]; t.runID == run.ID {
		t.running = false
	}
}

// Clear empties an idle task's output.
func (r *Registry) Clear(kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[kind]
	if !ok {
		return ErrUnknownKind
	}
	if t.running {
		return ErrTaskRunning
	}
	t.output.Reset()
	return nil
}

// Status returns a copy of kind's state.
func (r *Registry) Status(kind Kind) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[kind]
	if !ok {
		return Status{}, ErrUnknownKind
	}
	return t.status(), nil
}

// All returns every task's state keyed by kind.
func (r *Registry) All() map[Kind]Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[Kind]Status, len(r.tasks))
	for k, t := range r.tasks {
		out[k] = t.status()
	}
	return out
}

func (t *task) status() Status {
	s := Status{
		Running: t.running,
		Output:  t.output.String(),
		RunID:   t.runID,
	}
	if !t.lastRun.IsZero() {
		s.LastRun = t.lastRun.Format("2006-01-02 15:04:05")
	}
	return s
}

// Subscribe returns the output so far and a channel of later writes. The
// channel is buffered; a subscriber that falls behind loses chunks rather
// than blocking the task. cancel must be called to release the channel.
func (r *Registry) Subscribe(kind Kind) (snapshot string, ch <-chan string, cancel func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[kind]
	if !ok {
		return "", nil, nil, ErrUnknownKind
	}
	c := make(chan string, 64)
	t.subs[c] = struct{}{}

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			r.mu.Lock()
			delete(t.subs, c)
			r.mu.Unlock()
		})
	}
	return t.output.String(), c, cancel, nil
}

func (r *Registry) publish(t *task, chunk string) {
	for c := range t.subs {
		select {
		case c <- chunk:
		default:
		}
	}
}
