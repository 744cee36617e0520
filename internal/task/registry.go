package task

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"taskwatch/internal/logging"
)

// Hooks receive registry side effects. All hooks run on the caller's
// goroutine; the registry itself is not safe for concurrent use and is owned
// by the engine loop.
type Hooks struct {
	// OnChange fires on every state transition and progress update.
	OnChange func(*Task)
	// OnTerminal fires when a task reaches Complete or Error.
	OnTerminal func(*Task)
	// OnDirty fires when a non-terminal mutation should eventually be
	// persisted. Delivery is best-effort and may be coalesced.
	OnDirty func(*Task)
}

// Registry is the authoritative mapping from task id to task record.
type Registry struct {
	tasks  map[string]*Task
	seq    int64
	hooks  Hooks
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *slog.Logger, hooks Hooks) *Registry {
	return &Registry{
		tasks:  make(map[string]*Task),
		hooks:  hooks,
		logger: logging.WithComponent(logger, "registry"),
		now:    time.Now,
	}
}

// Create registers a new task in Pending state and returns it.
func (r *Registry) Create(label, identifier, originRef string) *Task {
	r.seq++
	now := r.now().UTC()
	t := &Task{
		ID:         uuid.NewString(),
		Label:      label,
		Identifier: identifier,
		OriginRef:  originRef,
		State:      StatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
		Seq:        r.seq,
	}
	r.tasks[t.ID] = t
	r.logger.Debug("task created",
		logging.String(logging.FieldTaskID, t.ID),
		logging.String("label", label))
	r.markDirty(t)
	return t
}

// Restore loads previously persisted tasks, preserving their creation order.
// It must be called before any Create.
func (r *Registry) Restore(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })
	for i := range tasks {
		t := tasks[i]
		r.tasks[t.ID] = &t
		if t.Seq > r.seq {
			r.seq = t.Seq
		}
	}
}

// Get returns the task for id.
func (r *Registry) Get(id string) (*Task, bool) {
	t, ok := r.tasks[id]
	return t, ok
}

// MarkBound records the immutable binding between a task and an event.
func (r *Registry) MarkBound(id, eventID string) error {
	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if t.BoundEventID != "" {
		return fmt.Errorf("%w: task %s bound to event %s", ErrAlreadyBound, id, t.BoundEventID)
	}
	if t.State != StateInProgress {
		return fmt.Errorf("%w: task %s is %s", ErrNotBindable, id, t.State)
	}
	t.BoundEventID = eventID
	t.UpdatedAt = r.now().UTC()
	r.logger.Info("task bound",
		logging.String(logging.FieldTaskID, id),
		logging.String(logging.FieldEventID, eventID))
	r.markDirty(t)
	return nil
}

// Transition moves a task to a new state. A transition into the state the
// task already terminally holds is a no-op that still re-notifies observers.
func (r *Registry) Transition(id string, state State, detail string) error {
	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if t.State.Terminal() {
		if t.State == state {
			r.notifyChange(t)
			return nil
		}
		return fmt.Errorf("%w: task %s is %s, requested %s", ErrTerminalState, id, t.State, state)
	}

	t.State = state
	if detail != "" {
		t.Detail = detail
	}
	t.UpdatedAt = r.now().UTC()

	r.logger.Info("task transitioned",
		logging.String(logging.FieldTaskID, id),
		logging.String("state", string(state)),
		logging.String("detail", detail))

	r.notifyChange(t)
	if state.Terminal() {
		if r.hooks.OnTerminal != nil {
			r.hooks.OnTerminal(t)
		}
	} else {
		r.markDirty(t)
	}
	return nil
}

// SetProgress records observed progress evidence for an in-progress task.
func (r *Registry) SetProgress(id string, percent int, detail string) error {
	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if t.State != StateInProgress {
		return nil
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	t.Progress = percent
	t.SawProgressSignal = true
	if detail != "" {
		t.Detail = detail
	}
	t.UpdatedAt = r.now().UTC()
	r.notifyChange(t)
	r.markDirty(t)
	return nil
}

// SetDetail updates the free-text status annotation without touching progress.
func (r *Registry) SetDetail(id, detail string) error {
	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	t.Detail = detail
	t.UpdatedAt = r.now().UTC()
	r.notifyChange(t)
	r.markDirty(t)
	return nil
}

// Reset returns a task to Pending and clears its binding, progress, and
// progress signal so a retry can bind independently.
func (r *Registry) Reset(id string) error {
	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	t.State = StatePending
	t.BoundEventID = ""
	t.FallbackBound = false
	t.Progress = 0
	t.SawProgressSignal = false
	t.Detail = "reset"
	t.UpdatedAt = r.now().UTC()
	r.logger.Info("task reset", logging.String(logging.FieldTaskID, id))
	r.notifyChange(t)
	r.markDirty(t)
	return nil
}

// Unbound returns tasks eligible for binding, ordered by creation.
func (r *Registry) Unbound() []*Task {
	var out []*Task
	for _, t := range r.tasks {
		if t.Bindable() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Snapshot returns value copies of every task, ordered by creation.
func (r *Registry) Snapshot() []Task {
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// ClearCompleted removes Complete tasks and returns their ids.
func (r *Registry) ClearCompleted() []string {
	var removed []string
	for id, t := range r.tasks {
		if t.State == StateComplete {
			delete(r.tasks, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Stats returns a count of tasks grouped by state.
func (r *Registry) Stats() map[State]int {
	stats := make(map[State]int, len(allStates))
	for _, t := range r.tasks {
		stats[t.State]++
	}
	return stats
}

func (r *Registry) notifyChange(t *Task) {
	if r.hooks.OnChange != nil {
		r.hooks.OnChange(t)
	}
}

func (r *Registry) markDirty(t *Task) {
	if r.hooks.OnDirty != nil {
		r.hooks.OnDirty(t)
	}
}
