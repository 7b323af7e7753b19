package orchestrator

import (
	"context"
	"sync"

	"github.com/helixir/session-workflow-engine/internal/domain"
)

// Run is the in-memory state of one session's expansion. Counters are only
// written by the run's own goroutine, between rounds.
type Run struct {
	SessionID    string
	CollectionID string
	Direction    domain.Direction

	machine *Machine

	mu            sync.Mutex
	round         int
	lastAdded     int
	total         int
	zeroAddStreak int
	halted        bool

	cancel   context.CancelFunc
	wake     chan struct{}
	wakeOnce sync.Once
}

// RunState is a point-in-time copy of a run's counters.
type RunState struct {
	SessionID     string `json:"session_id"`
	State         State  `json:"state"`
	Round         int    `json:"round"`
	LastAdded     int    `json:"last_added"`
	Total         int    `json:"total"`
	ZeroAddStreak int    `json:"zero_add_streak"`
	Halted        bool   `json:"halted"`
}

func newRun(sessionID, collectionID string, direction domain.Direction) *Run {
	return &Run{
		SessionID:    sessionID,
		CollectionID: collectionID,
		Direction:    direction,
		machine:      NewMachine(),
		wake:         make(chan struct{}),
	}
}

// Snapshot returns the run's current counters.
func (r *Run) Snapshot() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunState{
		SessionID:     r.SessionID,
		State:         r.machine.State(),
		Round:         r.round,
		LastAdded:     r.lastAdded,
		Total:         r.total,
		ZeroAddStreak: r.zeroAddStreak,
		Halted:        r.halted,
	}
}

// arm installs the cancel function of the goroutine about to drive the run.
func (r *Run) arm(cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
}

// interrupt cancels in-flight work and wakes an inter-round delay.
func (r *Run) interrupt() {
	r.wakeOnce.Do(func() { close(r.wake) })
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// redirect replaces the direction of a halted run before it is resumed.
func (r *Run) redirect(d domain.Direction) {
	r.mu.Lock()
	r.Direction = d
	r.mu.Unlock()
}

func (r *Run) halt() {
	r.mu.Lock()
	r.halted = true
	r.mu.Unlock()
}

// tryResume clears the halted flag. Only one caller wins.
func (r *Run) tryResume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.halted {
		return false
	}
	r.halted = false
	return true
}

// JobKind names a background stage that runs at most once per session at a time.
type JobKind string

const (
	JobPrune JobKind = "prune"
	JobGraph JobKind = "graph"
)

type jobKey struct {
	sessionID string
	kind      JobKind
}

// Registry tracks active runs and stage jobs. At most one run and one job of
// each kind exist per session.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Run
	jobs map[jobKey]context.CancelFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		runs: make(map[string]*Run),
		jobs: make(map[jobKey]context.CancelFunc),
	}
}

// Add registers run unless the session already has one. It returns the run
// that is registered afterwards and whether it is the one passed in.
func (r *Registry) Add(run *Run) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.runs[run.SessionID]; ok {
		return existing, false
	}
	r.runs[run.SessionID] = run
	return run, true
}

// Get returns the session's run.
func (r *Registry) Get(sessionID string) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[sessionID]
	return run, ok
}

// IsLive reports whether run is still the registered run for its session.
func (r *Registry) IsLive(run *Run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[run.SessionID] == run
}

// Remove unregisters run if it is still the registered run for its session.
func (r *Registry) Remove(run *Run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs[run.SessionID] != run {
		return false
	}
	delete(r.runs, run.SessionID)
	return true
}

// Len returns the number of registered runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// Runs returns the registered runs.
func (r *Registry) Runs() []*Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	return out
}

// BeginJob claims the job slot for a session. It returns false if a job of
// the same kind is already running.
func (r *Registry) BeginJob(sessionID string, kind JobKind, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := jobKey{sessionID: sessionID, kind: kind}
	if _, busy := r.jobs[key]; busy {
		return false
	}
	r.jobs[key] = cancel
	return true
}

// EndJob releases a job slot.
func (r *Registry) EndJob(sessionID string, kind JobKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobKey{sessionID: sessionID, kind: kind})
}

// JobActive reports whether a job of kind is running for the session.
func (r *Registry) JobActive(sessionID string, kind JobKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[jobKey{sessionID: sessionID, kind: kind}]
	return ok
}

// interruptAll cancels every run and job without unregistering runs.
func (r *Registry) interruptAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		run.interrupt()
	}
	for _, cancel := range r.jobs {
		cancel()
	}
}
