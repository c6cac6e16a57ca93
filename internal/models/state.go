package models

import (
	"sync"
	"time"
)

// State is a named job state. Equality is by name.
type State string

// Job lifecycle states. The last four are endstates.
const (
	StateOpen      State = "open"
	StatePreparing State = "preparing"
	StatePrepared  State = "prepared"
	StateRunning   State = "running"
	StateAborted   State = "aborted"
	StateFailed    State = "failed"
	StateTimedout  State = "timedout"
	StatePassed    State = "passed"
)

// EndStates lists the terminal job states.
var EndStates = []State{StateAborted, StateFailed, StateTimedout, StatePassed}

// IsEndState reports whether s is terminal.
func (s State) IsEndState() bool {
	for _, e := range EndStates {
		if s == e {
			return true
		}
	}
	return false
}

func (s State) String() string { return string(s) }

// StateChange is one entry of a job's append-only state history.
type StateChange struct {
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	State     State     `json:"state" yaml:"state"`
}

// StateTracker holds the current state of a job plus its history, and wakes
// waiters whenever the state changes.
type StateTracker struct {
	mu      sync.Mutex
	changed *sync.Cond
	current State
	history []StateChange
}

// NewStateTracker creates a tracker in the given initial state.
func NewStateTracker(initial State) *StateTracker {
	t := &StateTracker{}
	t.changed = sync.NewCond(&t.mu)
	t.set(initial)
	return t
}

// Get returns the current state.
func (t *StateTracker) Get() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Set records a state change, appends it to the history and wakes all
// waiters.
func (t *StateTracker) Set(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set(s)
}

func (t *StateTracker) set(s State) {
	t.history = append(t.history, StateChange{CreatedAt: time.Now(), State: s})
	t.current = s
	t.changed.Broadcast()
}

// History returns a copy of the state history. The last entry is always the
// current state.
func (t *StateTracker) History() []StateChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StateChange, len(t.history))
	copy(out, t.history)
	return out
}

// FirstEntered returns the time the given state was first entered, and
// whether it has been entered at all.
func (t *StateTracker) FirstEntered(s State) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.history {
		if c.State == s {
			return c.CreatedAt, true
		}
	}
	return time.Time{}, false
}

// Wait blocks until pred holds for the current state.
func (t *StateTracker) Wait(pred func(State) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !pred(t.current) {
		t.changed.Wait()
	}
}
