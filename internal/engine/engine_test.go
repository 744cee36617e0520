package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskwatch/internal/config"
	"taskwatch/internal/engine"
	"taskwatch/internal/logging"
	"taskwatch/internal/notifications"
	"taskwatch/internal/task"
	"taskwatch/internal/testsupport"
)

type fakeTrigger struct {
	mu      sync.Mutex
	fail    bool
	release chan struct{} // when non-nil, Trigger blocks until closed
	calls   []string
}

func (f *fakeTrigger) Trigger(ctx context.Context, originRef string) error {
	f.mu.Lock()
	release := f.release
	fail := f.fail
	f.calls = append(f.calls, originRef)
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errors.New("agent rejected trigger")
	}
	return nil
}

func (f *fakeTrigger) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func startEngine(t *testing.T, cfg *config.Config, trigger engine.Trigger) *engine.Engine {
	t.Helper()
	st := testsupport.MustOpenStore(t, cfg)
	eng := engine.New(cfg, st, notifications.NewService(cfg), trigger, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = eng.Run(ctx) }()
	return eng
}

func testConfig(t *testing.T) *config.Config {
	cfg := testsupport.NewConfig(t)
	cfg.Origin.TriggerDelayMS = 0
	return cfg
}

func getTask(t *testing.T, eng *engine.Engine, id string) (task.Task, bool) {
	t.Helper()
	status, err := eng.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, tsk := range status.Tasks {
		if tsk.ID == id {
			return tsk, true
		}
	}
	return task.Task{}, false
}

func waitFor(t *testing.T, message string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}

func waitForState(t *testing.T, eng *engine.Engine, id string, want task.State) {
	t.Helper()
	waitFor(t, "task never reached state "+string(want), func() bool {
		tsk, ok := getTask(t, eng, id)
		return ok && tsk.State == want
	})
}

func TestStartBindCompleteLifecycle(t *testing.T) {
	cfg := testConfig(t)
	trigger := &fakeTrigger{}
	eng := startEngine(t, cfg, trigger)
	ctx := context.Background()

	ids, err := eng.StartTasks(ctx, []engine.OriginSpec{{Ref: "magnet:a", Label: "My Great Book"}}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 task id, got %d", len(ids))
	}
	id := ids[0]
	waitForState(t, eng, id, task.StateInProgress)

	if err := eng.HandleEventCreated(ctx, "ev1", "My Great Book.epub", ""); err != nil {
		t.Fatalf("event created: %v", err)
	}
	waitFor(t, "event never bound", func() bool {
		tsk, ok := getTask(t, eng, id)
		return ok && tsk.BoundEventID == "ev1"
	})

	if err := eng.HandleEventTerminal(ctx, "ev1", engine.OutcomeComplete, ""); err != nil {
		t.Fatalf("event terminal: %v", err)
	}
	waitForState(t, eng, id, task.StateComplete)
}

func TestEventBeforeTriggerAckStillBinds(t *testing.T) {
	cfg := testConfig(t)
	release := make(chan struct{})
	trigger := &fakeTrigger{release: release}
	eng := startEngine(t, cfg, trigger)
	ctx := context.Background()

	ids, err := eng.StartTasks(ctx, []engine.OriginSpec{{Ref: "magnet:a", Label: "Early Bird"}}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := ids[0]

	// The event arrives while the trigger is still in flight and the task
	// is not yet bindable; it must be parked, not lost.
	if err := eng.HandleEventCreated(ctx, "ev1", "Early Bird.zip", ""); err != nil {
		t.Fatalf("event created: %v", err)
	}
	waitFor(t, "event never parked", func() bool {
		status, err := eng.Status(ctx)
		return err == nil && status.UnmatchedCount == 1
	})

	close(release)
	waitFor(t, "parked event never bound after acknowledgement", func() bool {
		tsk, ok := getTask(t, eng, id)
		return ok && tsk.BoundEventID == "ev1"
	})
}

func TestInterruptedEventFailsTask(t *testing.T) {
	cfg := testConfig(t)
	eng := startEngine(t, cfg, &fakeTrigger{})
	ctx := context.Background()

	ids, err := eng.StartTasks(ctx, []engine.OriginSpec{{Ref: "magnet:a", Label: "Doomed Download"}}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := ids[0]
	waitForState(t, eng, id, task.StateInProgress)

	if err := eng.HandleEventCreated(ctx, "ev1", "Doomed Download.zip", ""); err != nil {
		t.Fatalf("event created: %v", err)
	}
	waitFor(t, "event never bound", func() bool {
		tsk, ok := getTask(t, eng, id)
		return ok && tsk.BoundEventID == "ev1"
	})

	if err := eng.HandleEventTerminal(ctx, "ev1", engine.OutcomeInterrupted, "disk full"); err != nil {
		t.Fatalf("event terminal: %v", err)
	}
	waitForState(t, eng, id, task.StateError)
	tsk, _ := getTask(t, eng, id)
	if tsk.Detail != "disk full" {
		t.Fatalf("expected error detail, got %q", tsk.Detail)
	}
}

func TestUnboundTerminalDoesNotCompleteTasks(t *testing.T) {
	cfg := testConfig(t)
	eng := startEngine(t, cfg, &fakeTrigger{})
	ctx := context.Background()

	ids, err := eng.StartTasks(ctx, []engine.OriginSpec{{Ref: "magnet:a", Label: "Patient Task"}}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := ids[0]
	waitForState(t, eng, id, task.StateInProgress)

	// An event whose name matches nothing parks, and its terminal event
	// must not complete an unrelated task.
	if err := eng.HandleEventCreated(ctx, "ev1", "qqqq.bin", ""); err != nil {
		t.Fatalf("event created: %v", err)
	}
	if err := eng.HandleEventTerminal(ctx, "ev1", engine.OutcomeComplete, ""); err != nil {
		t.Fatalf("event terminal: %v", err)
	}

	waitFor(t, "abandoned event still parked", func() bool {
		status, err := eng.Status(ctx)
		return err == nil && status.UnmatchedCount == 0
	})
	tsk, _ := getTask(t, eng, id)
	if tsk.State != task.StateInProgress {
		t.Fatalf("task must stay in progress, got %s", tsk.State)
	}
}

func TestTriggerFailureFailsTask(t *testing.T) {
	cfg := testConfig(t)
	trigger := &fakeTrigger{fail: true}
	eng := startEngine(t, cfg, trigger)
	ctx := context.Background()

	ids, err := eng.StartTasks(ctx, []engine.OriginSpec{{Ref: "magnet:a", Label: "Never Starts"}}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, eng, ids[0], task.StateError)
}

func TestRetryResetsAndRebinds(t *testing.T) {
	cfg := testConfig(t)
	trigger := &fakeTrigger{fail: true}
	eng := startEngine(t, cfg, trigger)
	ctx := context.Background()

	ids, err := eng.StartTasks(ctx, []engine.OriginSpec{{Ref: "magnet:a", Label: "Second Chance"}}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := ids[0]
	waitForState(t, eng, id, task.StateError)

	trigger.setFail(false)
	retried, err := eng.RetryTasks(ctx, []string{id}, 0)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(retried) != 1 || retried[0] != id {
		t.Fatalf("unexpected retried set: %v", retried)
	}
	waitForState(t, eng, id, task.StateInProgress)

	if err := eng.HandleEventCreated(ctx, "ev2", "Second Chance.zip", ""); err != nil {
		t.Fatalf("event created: %v", err)
	}
	waitFor(t, "retried task never bound", func() bool {
		tsk, ok := getTask(t, eng, id)
		return ok && tsk.BoundEventID == "ev2"
	})
}

func TestRetryUnknownIDLeavesBatchUntouched(t *testing.T) {
	cfg := testConfig(t)
	trigger := &fakeTrigger{fail: true}
	eng := startEngine(t, cfg, trigger)
	ctx := context.Background()

	ids, err := eng.StartTasks(ctx, []engine.OriginSpec{{Ref: "magnet:a", Label: "Stuck Download"}}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := ids[0]
	waitForState(t, eng, id, task.StateError)

	// A batch containing an unknown id must fail without resetting the
	// known task, which would otherwise sit in Pending with no trigger
	// ever dispatched for it.
	if _, err := eng.RetryTasks(ctx, []string{id, "no-such-task"}, 0); !errors.Is(err, task.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
	tsk, ok := getTask(t, eng, id)
	if !ok || tsk.State != task.StateError {
		t.Fatalf("task should remain in Error, got %+v", tsk)
	}

	trigger.setFail(false)
	retried, err := eng.RetryTasks(ctx, []string{id}, 0)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(retried) != 1 || retried[0] != id {
		t.Fatalf("unexpected retried set: %v", retried)
	}
	waitForState(t, eng, id, task.StateInProgress)
}

func TestLateNameRematchBindsParkedEvent(t *testing.T) {
	cfg := testConfig(t)
	eng := startEngine(t, cfg, &fakeTrigger{})
	ctx := context.Background()

	// The event arrives before any task exists and carries no evidence, so
	// it parks instead of binding.
	if err := eng.HandleEventCreated(ctx, "ev1", "", ""); err != nil {
		t.Fatalf("event created: %v", err)
	}
	waitFor(t, "event never parked", func() bool {
		status, err := eng.Status(ctx)
		return err == nil && status.UnmatchedCount == 1
	})

	ids, err := eng.StartTasks(ctx, []engine.OriginSpec{{Ref: "magnet:a", Label: "Named Later"}}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := ids[0]
	waitForState(t, eng, id, task.StateInProgress)

	// The resweep on trigger acknowledgement skips the nameless event.
	status, err := eng.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.UnmatchedCount != 1 {
		t.Fatalf("nameless event should stay parked, count %d", status.UnmatchedCount)
	}

	if err := eng.HandleEventName(ctx, "ev1", "Named Later.zip"); err != nil {
		t.Fatalf("event name: %v", err)
	}
	waitFor(t, "event never bound after name arrived", func() bool {
		tsk, ok := getTask(t, eng, id)
		return ok && tsk.BoundEventID == "ev1"
	})
	status, err = eng.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.UnmatchedCount != 0 {
		t.Fatalf("bound event should leave the unmatched queue, count %d", status.UnmatchedCount)
	}

	if err := eng.HandleEventTerminal(ctx, "ev1", engine.OutcomeComplete, ""); err != nil {
		t.Fatalf("event terminal: %v", err)
	}
	waitForState(t, eng, id, task.StateComplete)
}

func TestClearCompletedRemovesTasks(t *testing.T) {
	cfg := testConfig(t)
	eng := startEngine(t, cfg, &fakeTrigger{})
	ctx := context.Background()

	ids, err := eng.StartTasks(ctx, []engine.OriginSpec{{Ref: "magnet:a", Label: "Done Soon"}}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := ids[0]
	waitForState(t, eng, id, task.StateInProgress)

	if err := eng.HandleEventCreated(ctx, "ev1", "Done Soon.zip", ""); err != nil {
		t.Fatalf("event created: %v", err)
	}
	if err := eng.HandleEventTerminal(ctx, "ev1", engine.OutcomeComplete, ""); err != nil {
		t.Fatalf("event terminal: %v", err)
	}
	waitForState(t, eng, id, task.StateComplete)

	removed, err := eng.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("clear completed: %v", err)
	}
	if len(removed) != 1 || removed[0] != id {
		t.Fatalf("unexpected removed set: %v", removed)
	}
	if _, ok := getTask(t, eng, id); ok {
		t.Fatal("cleared task still present")
	}
}

func TestSubscribeObservesTransitions(t *testing.T) {
	cfg := testConfig(t)
	eng := startEngine(t, cfg, &fakeTrigger{})
	ctx := context.Background()

	changes, cancel := eng.Subscribe()
	defer cancel()

	ids, err := eng.StartTasks(ctx, []engine.OriginSpec{{Ref: "magnet:a", Label: "Watched"}}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case change := <-changes:
			if change.TaskID == ids[0] && change.State == task.StateInProgress {
				return
			}
		case <-deadline:
			t.Fatal("never observed in-progress transition")
		}
	}
}
