package engine

import (
	"context"
	"fmt"

	"taskwatch/internal/task"
)

// OriginSpec describes one download target to start.
type OriginSpec struct {
	Ref        string
	Label      string
	Identifier string
}

// Status is a point-in-time view of the engine for status reporting.
type Status struct {
	Tasks          []task.Task
	Stats          map[task.State]int
	UnmatchedCount int
}

type startTasksCmd struct {
	specs   []OriginSpec
	delayMS int
	reply   chan startTasksReply
}

type startTasksReply struct {
	taskIDs []string
}

type retryTasksCmd struct {
	ids     []string
	delayMS int
	reply   chan retryTasksReply
}

type retryTasksReply struct {
	retried []string
	err     error
}

type statusCmd struct {
	reply chan Status
}

type clearCompletedCmd struct {
	reply chan []string
}

type flushDirtyCmd struct{}

type sweepExpiredCmd struct{}

func (startTasksCmd) isMessage()     {}
func (retryTasksCmd) isMessage()     {}
func (statusCmd) isMessage()         {}
func (clearCompletedCmd) isMessage() {}
func (flushDirtyCmd) isMessage()     {}
func (sweepExpiredCmd) isMessage()   {}

// StartTasks creates one task per spec and schedules their triggers. A
// positive delayMS overrides the configured inter-task pacing delay. It
// returns the new task ids.
func (e *Engine) StartTasks(ctx context.Context, specs []OriginSpec, delayMS int) ([]string, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no targets given")
	}
	cmd := startTasksCmd{specs: specs, delayMS: delayMS, reply: make(chan startTasksReply, 1)}
	if err := e.post(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case reply := <-cmd.reply:
		return reply.taskIDs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RetryTasks resets failed tasks back to Pending and re-triggers them. A
// positive delayMS overrides the configured inter-task pacing delay. It
// returns the ids actually retried.
func (e *Engine) RetryTasks(ctx context.Context, ids []string, delayMS int) ([]string, error) {
	cmd := retryTasksCmd{ids: ids, delayMS: delayMS, reply: make(chan retryTasksReply, 1)}
	if err := e.post(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case reply := <-cmd.reply:
		return reply.retried, reply.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns a snapshot of all tasks and counters.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	cmd := statusCmd{reply: make(chan Status, 1)}
	if err := e.post(ctx, cmd); err != nil {
		return Status{}, err
	}
	select {
	case snapshot := <-cmd.reply:
		return snapshot, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// ClearCompleted removes Complete tasks from the registry and the persisted
// snapshot, returning the removed ids.
func (e *Engine) ClearCompleted(ctx context.Context) ([]string, error) {
	cmd := clearCompletedCmd{reply: make(chan []string, 1)}
	if err := e.post(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case removed := <-cmd.reply:
		return removed, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleEventCreated feeds a download-created event into the loop.
func (e *Engine) HandleEventCreated(ctx context.Context, eventID, nameHint, sourceRef string) error {
	return e.post(ctx, EventCreated{EventID: eventID, NameHint: nameHint, SourceRef: sourceRef})
}

// HandleEventName feeds a name-determined event into the loop.
func (e *Engine) HandleEventName(ctx context.Context, eventID, name string) error {
	return e.post(ctx, EventNameDetermined{EventID: eventID, Name: name})
}

// HandleEventTerminal feeds a terminal event into the loop.
func (e *Engine) HandleEventTerminal(ctx context.Context, eventID string, outcome TerminalOutcome, detail string) error {
	return e.post(ctx, EventTerminal{EventID: eventID, Outcome: outcome, ErrorDetail: detail})
}

// FlushDirty asks the loop to persist coalesced non-terminal changes.
func (e *Engine) FlushDirty(ctx context.Context) error {
	return e.post(ctx, flushDirtyCmd{})
}

// SweepExpired asks the loop to fail tasks monitored past the safety bound.
func (e *Engine) SweepExpired(ctx context.Context) error {
	return e.post(ctx, sweepExpiredCmd{})
}
