package task_test

import (
	"errors"
	"testing"

	"taskwatch/internal/logging"
	"taskwatch/internal/task"
)

func newRegistry() *task.Registry {
	return task.NewRegistry(logging.NewNop(), task.Hooks{})
}

func TestCreateStartsPending(t *testing.T) {
	reg := newRegistry()
	tsk := reg.Create("Label", "id-1", "magnet:x")

	if tsk.State != task.StatePending {
		t.Fatalf("expected pending, got %s", tsk.State)
	}
	if tsk.ID == "" {
		t.Fatal("expected generated id")
	}
	second := reg.Create("Other", "", "")
	if second.Seq <= tsk.Seq {
		t.Fatalf("expected increasing seq, got %d then %d", tsk.Seq, second.Seq)
	}
}

func TestMarkBoundRequiresInProgress(t *testing.T) {
	reg := newRegistry()
	tsk := reg.Create("Label", "", "")

	if err := reg.MarkBound(tsk.ID, "ev1"); !errors.Is(err, task.ErrNotBindable) {
		t.Fatalf("expected ErrNotBindable, got %v", err)
	}

	if err := reg.Transition(tsk.ID, task.StateInProgress, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := reg.MarkBound(tsk.ID, "ev1"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := reg.MarkBound(tsk.ID, "ev2"); !errors.Is(err, task.ErrAlreadyBound) {
		t.Fatalf("expected ErrAlreadyBound, got %v", err)
	}
	if tsk.BoundEventID != "ev1" {
		t.Fatalf("binding overwritten: %s", tsk.BoundEventID)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	reg := newRegistry()
	tsk := reg.Create("Label", "", "")

	if err := reg.Transition(tsk.ID, task.StateInProgress, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := reg.Transition(tsk.ID, task.StateComplete, "done"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// Re-asserting the same terminal state is a tolerated duplicate.
	if err := reg.Transition(tsk.ID, task.StateComplete, ""); err != nil {
		t.Fatalf("duplicate terminal: %v", err)
	}
	if err := reg.Transition(tsk.ID, task.StateError, "oops"); !errors.Is(err, task.ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
}

func TestSetProgressClampsAndLatches(t *testing.T) {
	reg := newRegistry()
	tsk := reg.Create("Label", "", "")

	// Progress on a pending task changes nothing.
	if err := reg.SetProgress(tsk.ID, 40, ""); err != nil {
		t.Fatalf("set progress: %v", err)
	}
	if tsk.SawProgressSignal {
		t.Fatal("pending task must not latch progress")
	}

	if err := reg.Transition(tsk.ID, task.StateInProgress, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := reg.SetProgress(tsk.ID, 150, "downloading"); err != nil {
		t.Fatalf("set progress: %v", err)
	}
	if tsk.Progress != 100 {
		t.Fatalf("expected clamp to 100, got %d", tsk.Progress)
	}
	if !tsk.SawProgressSignal {
		t.Fatal("expected latched progress signal")
	}
}

func TestResetClearsBindingAndProgress(t *testing.T) {
	reg := newRegistry()
	tsk := reg.Create("Label", "", "")
	if err := reg.Transition(tsk.ID, task.StateInProgress, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := reg.MarkBound(tsk.ID, "ev1"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := reg.SetProgress(tsk.ID, 50, ""); err != nil {
		t.Fatalf("set progress: %v", err)
	}

	if err := reg.Reset(tsk.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if tsk.State != task.StatePending {
		t.Fatalf("expected pending after reset, got %s", tsk.State)
	}
	if tsk.BoundEventID != "" || tsk.Progress != 0 || tsk.SawProgressSignal || tsk.FallbackBound {
		t.Fatalf("reset left residue: %+v", tsk)
	}
}

func TestUnboundOrdersByCreation(t *testing.T) {
	reg := newRegistry()
	first := reg.Create("A", "", "")
	second := reg.Create("B", "", "")
	third := reg.Create("C", "", "")

	for _, id := range []string{third.ID, first.ID, second.ID} {
		if err := reg.Transition(id, task.StateInProgress, ""); err != nil {
			t.Fatalf("transition: %v", err)
		}
	}
	if err := reg.MarkBound(second.ID, "ev1"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	unbound := reg.Unbound()
	if len(unbound) != 2 {
		t.Fatalf("expected 2 unbound, got %d", len(unbound))
	}
	if unbound[0].ID != first.ID || unbound[1].ID != third.ID {
		t.Fatal("unbound tasks out of creation order")
	}
}

func TestClearCompletedRemovesOnlyComplete(t *testing.T) {
	reg := newRegistry()
	done := reg.Create("Done", "", "")
	failed := reg.Create("Failed", "", "")
	for _, id := range []string{done.ID, failed.ID} {
		if err := reg.Transition(id, task.StateInProgress, ""); err != nil {
			t.Fatalf("transition: %v", err)
		}
	}
	if err := reg.Transition(done.ID, task.StateComplete, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := reg.Transition(failed.ID, task.StateError, "boom"); err != nil {
		t.Fatalf("error: %v", err)
	}

	removed := reg.ClearCompleted()
	if len(removed) != 1 || removed[0] != done.ID {
		t.Fatalf("unexpected removal set: %v", removed)
	}
	if _, ok := reg.Get(failed.ID); !ok {
		t.Fatal("error task must survive clear-completed")
	}
}

func TestRestorePreservesSequence(t *testing.T) {
	reg := newRegistry()
	reg.Restore([]task.Task{
		{ID: "b", Label: "B", State: task.StatePending, Seq: 7},
		{ID: "a", Label: "A", State: task.StateInProgress, Seq: 3},
	})

	next := reg.Create("C", "", "")
	if next.Seq != 8 {
		t.Fatalf("expected seq to continue from restored max, got %d", next.Seq)
	}
	snapshot := reg.Snapshot()
	if len(snapshot) != 3 || snapshot[0].ID != "a" || snapshot[1].ID != "b" {
		t.Fatalf("unexpected snapshot order: %+v", snapshot)
	}
}

func TestHooksFire(t *testing.T) {
	var changes, terminals, dirty int
	reg := task.NewRegistry(logging.NewNop(), task.Hooks{
		OnChange:   func(*task.Task) { changes++ },
		OnTerminal: func(*task.Task) { terminals++ },
		OnDirty:    func(*task.Task) { dirty++ },
	})

	tsk := reg.Create("Label", "", "")
	if dirty == 0 {
		t.Fatal("create should mark dirty")
	}
	if err := reg.Transition(tsk.ID, task.StateInProgress, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if changes == 0 {
		t.Fatal("transition should notify change")
	}
	if err := reg.Transition(tsk.ID, task.StateComplete, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if terminals != 1 {
		t.Fatalf("expected one terminal hook, got %d", terminals)
	}
}
