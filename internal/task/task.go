package task

import (
	"strings"
	"time"
)

// State represents the lifecycle of a tracked task.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateComplete   State = "complete"
	StateError      State = "error"
)

var allStates = []State{StatePending, StateInProgress, StateComplete, StateError}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

// Terminal reports whether a state permits no further transitions.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stateSet[normalized]
	return normalized, ok
}

// Task is one tracked user-initiated action awaiting external completion.
type Task struct {
	ID         string
	Label      string
	Identifier string
	OriginRef  string
	State      State

	// BoundEventID is set at most once per lifecycle; an explicit Reset is
	// the only way to clear it.
	BoundEventID  string
	FallbackBound bool

	Progress          int
	Detail            string
	SawProgressSignal bool

	CreatedAt time.Time
	UpdatedAt time.Time

	// Seq orders tasks by creation for tie-breaking; CreatedAt alone can
	// collide within clock resolution.
	Seq int64
}

// Bindable reports whether the task is a candidate for event binding.
func (t *Task) Bindable() bool {
	return t.State == StateInProgress && t.BoundEventID == ""
}
