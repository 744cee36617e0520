package match

import (
	"errors"
	"log/slog"
	"sort"

	"taskwatch/internal/logging"
	"taskwatch/internal/task"
)

// Event is the correlation evidence carried by a download event.
type Event struct {
	ID        string
	NameHint  string
	SourceRef string
}

// Unmatched is a parked download event awaiting new evidence.
type Unmatched struct {
	EventID   string
	NameHint  string
	SourceRef string
	seq       int64
}

// Matcher binds download events to unbound in-progress tasks.
type Matcher struct {
	reg    *task.Registry
	opts   Options
	logger *slog.Logger

	unmatched map[string]*Unmatched
	parkSeq   int64

	// bound maps event id to task id, enforcing at most one task per event.
	bound map[string]string
}

// NewMatcher constructs a matcher over the given registry.
func NewMatcher(reg *task.Registry, opts Options, logger *slog.Logger) *Matcher {
	return &Matcher{
		reg:       reg,
		opts:      opts,
		logger:    logging.WithComponent(logger, "matcher"),
		unmatched: make(map[string]*Unmatched),
		bound:     make(map[string]string),
	}
}

// Attempt tries to bind the event to the best-scoring unbound in-progress
// task. It returns the bound task id and whether a binding exists after the
// call. Attempting an already-bound event is a no-op reporting the existing
// binding.
func (m *Matcher) Attempt(ev Event) (string, bool) {
	if taskID, ok := m.bound[ev.ID]; ok {
		return taskID, true
	}

	candidates := m.reg.Unbound()
	if len(candidates) == 0 {
		return "", false
	}

	// An exact origin reference match is the strongest evidence after the
	// identifier rule and skips scoring entirely.
	if ev.SourceRef != "" {
		for _, t := range candidates {
			if t.OriginRef != "" && t.OriginRef == ev.SourceRef {
				if m.bind(t, ev, scoreIdentifier, false) {
					return t.ID, true
				}
			}
		}
	}

	if ev.NameHint == "" {
		if ev.SourceRef != "" {
			// A referrer existed but matched nothing; that is failed
			// evidence, not absent evidence, so no fallback.
			return "", false
		}
		return m.fallbackBind(ev, candidates)
	}

	var best *task.Task
	bestScore := 0
	for _, t := range candidates {
		score := Score(ev.NameHint, t.Label, t.Identifier, m.opts)
		if score > bestScore || (score == bestScore && best != nil && t.Seq < best.Seq) {
			best = t
			bestScore = score
		}
	}
	if best == nil || bestScore < m.opts.Threshold {
		m.logger.Debug("no candidate above threshold",
			logging.String(logging.FieldEventID, ev.ID),
			logging.String("name", ev.NameHint),
			logging.Int("best_score", bestScore))
		return "", false
	}
	if m.bind(best, ev, bestScore, false) {
		return best.ID, true
	}
	return "", false
}

// fallbackBind binds an evidence-free event to the single oldest unbound
// task. It is strictly weaker than an evidence-based bind and is flagged as
// such on the task and in the log.
func (m *Matcher) fallbackBind(ev Event, candidates []*task.Task) (string, bool) {
	oldest := candidates[0]
	for _, t := range candidates[1:] {
		if t.Seq < oldest.Seq {
			oldest = t
		}
	}
	if m.bind(oldest, ev, 0, true) {
		return oldest.ID, true
	}
	return "", false
}

func (m *Matcher) bind(t *task.Task, ev Event, score int, fallback bool) bool {
	if err := m.reg.MarkBound(t.ID, ev.ID); err != nil {
		// AlreadyBound is a non-match at this level, not an error.
		if !errors.Is(err, task.ErrAlreadyBound) && !errors.Is(err, task.ErrNotBindable) {
			m.logger.Warn("bind failed",
				logging.String(logging.FieldTaskID, t.ID),
				logging.String(logging.FieldEventID, ev.ID),
				logging.Error(err))
		}
		return false
	}
	m.bound[ev.ID] = t.ID
	m.Drop(ev.ID)
	if fallback {
		t.FallbackBound = true
		m.logger.Warn("fallback bind without correlation evidence",
			logging.String(logging.FieldTaskID, t.ID),
			logging.String(logging.FieldEventID, ev.ID),
			logging.String(logging.FieldDecisionType, "fallback_bind"))
	} else {
		m.logger.Info("event bound",
			logging.String(logging.FieldTaskID, t.ID),
			logging.String(logging.FieldEventID, ev.ID),
			logging.Int("score", score))
	}
	return true
}

// BoundTask returns the task id an event is bound to, if any.
func (m *Matcher) BoundTask(eventID string) (string, bool) {
	taskID, ok := m.bound[eventID]
	return taskID, ok
}

// Unbind forgets the event binding for a task being reset so the task can
// bind a fresh event. The event itself stays consumed.
func (m *Matcher) Unbind(taskID string) {
	for eventID, boundTo := range m.bound {
		if boundTo == taskID {
			delete(m.bound, eventID)
		}
	}
}

// Park stores an event that failed to bind, keyed by event id. Parking an
// already-parked event merges newer evidence in.
func (m *Matcher) Park(ev Event) {
	if entry, ok := m.unmatched[ev.ID]; ok {
		if ev.NameHint != "" {
			entry.NameHint = ev.NameHint
		}
		if ev.SourceRef != "" {
			entry.SourceRef = ev.SourceRef
		}
		return
	}
	m.parkSeq++
	m.unmatched[ev.ID] = &Unmatched{
		EventID:   ev.ID,
		NameHint:  ev.NameHint,
		SourceRef: ev.SourceRef,
		seq:       m.parkSeq,
	}
	m.logger.Debug("event parked unmatched",
		logging.String(logging.FieldEventID, ev.ID),
		logging.String("name", ev.NameHint))
}

// Parked returns the unmatched entry for an event id.
func (m *Matcher) Parked(eventID string) (Unmatched, bool) {
	entry, ok := m.unmatched[eventID]
	if !ok {
		return Unmatched{}, false
	}
	return *entry, true
}

// Drop removes an event from the unmatched queue.
func (m *Matcher) Drop(eventID string) {
	delete(m.unmatched, eventID)
}

// Resweep re-attempts every parked event with a usable name, in arrival
// order. Called when new binding capacity appears, i.e. a task entered
// InProgress. Events that bind are removed from the queue.
func (m *Matcher) Resweep() int {
	entries := make([]*Unmatched, 0, len(m.unmatched))
	for _, entry := range m.unmatched {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	boundCount := 0
	for _, entry := range entries {
		if entry.NameHint == "" && entry.SourceRef == "" {
			continue
		}
		if _, ok := m.Attempt(Event{ID: entry.EventID, NameHint: entry.NameHint, SourceRef: entry.SourceRef}); ok {
			boundCount++
		}
	}
	return boundCount
}

// UnmatchedCount reports the number of parked events.
func (m *Matcher) UnmatchedCount() int {
	return len(m.unmatched)
}
