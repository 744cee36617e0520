package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"taskwatch/internal/config"
	"taskwatch/internal/logging"
	"taskwatch/internal/match"
	"taskwatch/internal/notifications"
	"taskwatch/internal/poller"
	"taskwatch/internal/store"
	"taskwatch/internal/task"
)

const inboxBuffer = 256

// Trigger issues the origin-side action that starts a download. A nil
// Trigger means no agent is configured; tasks then enter InProgress
// immediately and wait for events.
type Trigger interface {
	Trigger(ctx context.Context, originRef string) error
}

// Engine is the cooperative core. One goroutine (Run) owns the registry, the
// matcher, the dirty set, and the monitored deadlines; every other component
// communicates through the inbox.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	notifier notifications.Service
	trigger  Trigger

	registry  *task.Registry
	matcher   *match.Matcher
	poller    *poller.Poller
	broadcast *broadcaster

	inbox     chan message
	runCtx    context.Context
	dirty     map[string]struct{}
	deadlines map[string]time.Time

	// batch accounting since the last settled notification
	settledComplete int
	settledFailed   int
}

// New wires an engine from its collaborators. The store may not be nil; the
// trigger may be.
func New(cfg *config.Config, st *store.Store, notifier notifications.Service, trigger Trigger, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:       cfg,
		logger:    logging.WithComponent(logger, "engine"),
		store:     st,
		notifier:  notifier,
		trigger:   trigger,
		broadcast: newBroadcaster(),
		inbox:     make(chan message, inboxBuffer),
		dirty:     make(map[string]struct{}),
		deadlines: make(map[string]time.Time),
	}

	e.registry = task.NewRegistry(logger, task.Hooks{
		OnChange:   e.onChange,
		OnTerminal: e.onTerminal,
		OnDirty:    e.onDirty,
	})
	e.matcher = match.NewMatcher(e.registry, match.OptionsFromConfig(cfg), logger)

	interval := time.Duration(cfg.Poller.IntervalSeconds) * time.Second
	e.poller = poller.New(proberOrNoop(trigger), interval, e.deliverProbe, logger)
	return e
}

// proberOrNoop adapts the trigger into a prober when it can answer progress
// queries; otherwise probing reports nothing.
func proberOrNoop(trigger Trigger) poller.Prober {
	if p, ok := trigger.(poller.Prober); ok && p != nil {
		return p
	}
	return noopProber{}
}

type noopProber struct{}

func (noopProber) Probe(context.Context, string) (poller.Snapshot, error) {
	return poller.Snapshot{}, nil
}

// Restore loads the persisted task snapshot into the registry. Must be
// called before Run.
func (e *Engine) Restore(ctx context.Context) error {
	tasks, err := e.store.LoadTasks(ctx)
	if err != nil {
		return err
	}
	e.registry.Restore(tasks)

	// In-progress tasks resume monitoring; their bindings did not survive
	// the restart, so the matcher starts empty and parked events are gone.
	// The subsystem's terminal events still resolve them by re-match.
	now := time.Now()
	for _, t := range tasks {
		if t.State == task.StateInProgress {
			e.deadlines[t.ID] = now.Add(e.maxMonitor())
		}
	}
	if len(tasks) > 0 {
		e.logger.Info("state restored", logging.Int("tasks", len(tasks)))
	}
	return nil
}

// Subscribe registers an observer for task status changes.
func (e *Engine) Subscribe() (<-chan StatusChange, func()) {
	return e.broadcast.Subscribe()
}

// Run drives the loop until ctx is cancelled. No handler failure terminates
// the loop; errors are logged and absorbed.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	e.poller.Bind(ctx)
	defer e.poller.Stop()
	defer e.broadcast.close()

	// Resume watching tasks that were in progress before a restart.
	for _, t := range e.registry.Snapshot() {
		if t.State == task.StateInProgress && t.OriginRef != "" {
			e.poller.Watch(t.ID, t.OriginRef)
		}
	}

	e.logger.Info("engine loop started")
	for {
		select {
		case <-ctx.Done():
			e.flushDirty(context.Background())
			e.logger.Info("engine loop stopped")
			return ctx.Err()
		case msg := <-e.inbox:
			e.dispatch(ctx, msg)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, msg message) {
	switch m := msg.(type) {
	case startTasksCmd:
		m.reply <- e.handleStartTasks(m.specs, m.delayMS)
	case retryTasksCmd:
		m.reply <- e.handleRetryTasks(m.ids, m.delayMS)
	case statusCmd:
		m.reply <- Status{
			Tasks:          e.registry.Snapshot(),
			Stats:          e.registry.Stats(),
			UnmatchedCount: e.matcher.UnmatchedCount(),
		}
	case clearCompletedCmd:
		m.reply <- e.handleClearCompleted(ctx)
	case flushDirtyCmd:
		e.flushDirty(ctx)
	case sweepExpiredCmd:
		e.sweepExpired()
	case EventCreated:
		e.handleEventCreated(m)
	case EventNameDetermined:
		e.handleEventName(m)
	case EventTerminal:
		e.handleEventTerminal(m)
	case triggerAcknowledged:
		e.handleTriggerAck(m.TaskID)
	case triggerFailed:
		e.handleTriggerFailed(m.TaskID, m.Err)
	case probeResult:
		e.handleProbeResult(m.res)
	default:
		e.logger.Error("unhandled message variant", logging.Any("message", msg))
	}
}

func (e *Engine) post(ctx context.Context, msg message) error {
	select {
	case e.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliverProbe runs on the poller goroutine and re-serializes the result.
func (e *Engine) deliverProbe(res poller.Result) {
	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	_ = e.post(ctx, probeResult{res: res})
}

func (e *Engine) handleStartTasks(specs []OriginSpec, delayMS int) startTasksReply {
	ids := make([]string, 0, len(specs))
	targets := make([]dispatchTarget, 0, len(specs))
	for _, spec := range specs {
		t := e.registry.Create(spec.Label, spec.Identifier, spec.Ref)
		ids = append(ids, t.ID)
		targets = append(targets, dispatchTarget{taskID: t.ID, originRef: spec.Ref})
	}
	go e.dispatchTriggers(targets, delayMS)
	return startTasksReply{taskIDs: ids}
}

func (e *Engine) handleRetryTasks(ids []string, delayMS int) retryTasksReply {
	// Validate the whole batch before mutating anything: an unknown id must
	// be reported without leaving earlier tasks reset but never re-triggered.
	tasks := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		t, ok := e.registry.Get(id)
		if !ok {
			return retryTasksReply{err: task.ErrUnknownTask}
		}
		tasks = append(tasks, t)
	}

	var retried []string
	targets := make([]dispatchTarget, 0, len(tasks))
	for _, t := range tasks {
		if t.State != task.StateError {
			continue
		}
		e.matcher.Unbind(t.ID)
		if err := e.registry.Reset(t.ID); err != nil {
			e.logger.Warn("reset failed",
				logging.String(logging.FieldTaskID, t.ID),
				logging.Error(err))
			continue
		}
		retried = append(retried, t.ID)
		targets = append(targets, dispatchTarget{taskID: t.ID, originRef: t.OriginRef})
	}
	if len(targets) > 0 {
		go e.dispatchTriggers(targets, delayMS)
	}
	return retryTasksReply{retried: retried}
}

func (e *Engine) handleClearCompleted(ctx context.Context) []string {
	removed := e.registry.ClearCompleted()
	for _, id := range removed {
		delete(e.dirty, id)
	}
	if _, err := e.store.DeleteCompleted(ctx); err != nil {
		e.logger.Warn("purge completed tasks", logging.Error(err))
	}
	return removed
}

type dispatchTarget struct {
	taskID    string
	originRef string
}

// dispatchTriggers issues triggers sequentially with a pacing delay between
// them, posting each outcome back into the loop. A positive delayMS overrides
// the configured default.
func (e *Engine) dispatchTriggers(targets []dispatchTarget, delayMS int) {
	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if delayMS <= 0 {
		delayMS = e.cfg.Origin.TriggerDelayMS
	}
	delay := time.Duration(delayMS) * time.Millisecond

	for i, tgt := range targets {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if e.trigger == nil || tgt.originRef == "" {
			_ = e.post(ctx, triggerAcknowledged{TaskID: tgt.taskID})
			continue
		}
		if err := e.trigger.Trigger(ctx, tgt.originRef); err != nil {
			_ = e.post(ctx, triggerFailed{TaskID: tgt.taskID, Err: err})
			continue
		}
		_ = e.post(ctx, triggerAcknowledged{TaskID: tgt.taskID})
	}
}

func (e *Engine) handleTriggerAck(taskID string) {
	t, ok := e.registry.Get(taskID)
	if !ok {
		return
	}
	if err := e.registry.Transition(taskID, task.StateInProgress, "triggered"); err != nil {
		e.logger.Warn("transition to in progress",
			logging.String(logging.FieldTaskID, taskID),
			logging.Error(err))
		return
	}
	e.deadlines[taskID] = time.Now().Add(e.maxMonitor())
	if t.OriginRef != "" {
		e.poller.Watch(taskID, t.OriginRef)
	}

	// New binding capacity appeared; events that arrived before the
	// acknowledgement may match now.
	if bound := e.matcher.Resweep(); bound > 0 {
		e.logger.Info("parked events bound on resweep", logging.Int("bound", bound))
	}
}

func (e *Engine) handleTriggerFailed(taskID string, err error) {
	detail := "trigger failed"
	if err != nil {
		detail = "trigger failed: " + err.Error()
	}
	if terr := e.registry.Transition(taskID, task.StateError, detail); terr != nil {
		e.logger.Warn("transition to error",
			logging.String(logging.FieldTaskID, taskID),
			logging.Error(terr))
	}
}

func (e *Engine) handleEventCreated(m EventCreated) {
	ev := match.Event{ID: m.EventID, NameHint: m.NameHint, SourceRef: m.SourceRef}
	if parked, ok := e.matcher.Parked(m.EventID); ok {
		if ev.NameHint == "" {
			ev.NameHint = parked.NameHint
		}
		if ev.SourceRef == "" {
			ev.SourceRef = parked.SourceRef
		}
	}
	if _, bound := e.matcher.Attempt(ev); !bound {
		e.matcher.Park(ev)
	}
}

func (e *Engine) handleEventName(m EventNameDetermined) {
	if _, ok := e.matcher.BoundTask(m.EventID); ok {
		return
	}
	ev := match.Event{ID: m.EventID, NameHint: m.Name}
	if parked, ok := e.matcher.Parked(m.EventID); ok && parked.SourceRef != "" {
		ev.SourceRef = parked.SourceRef
	}
	if _, bound := e.matcher.Attempt(ev); !bound {
		e.matcher.Park(ev)
	}
}

func (e *Engine) handleEventTerminal(m EventTerminal) {
	taskID, bound := e.matcher.BoundTask(m.EventID)
	if !bound && m.Outcome == OutcomeComplete {
		// One last attempt with whatever evidence was parked; after this
		// the event is abandoned for good.
		if parked, ok := e.matcher.Parked(m.EventID); ok {
			taskID, bound = e.matcher.Attempt(match.Event{
				ID:        parked.EventID,
				NameHint:  parked.NameHint,
				SourceRef: parked.SourceRef,
			})
		}
	}
	e.matcher.Drop(m.EventID)
	if !bound {
		e.logger.Warn("terminal event for unbound download",
			logging.String(logging.FieldEventID, m.EventID),
			logging.String("outcome", string(m.Outcome)))
		return
	}

	switch m.Outcome {
	case OutcomeComplete:
		if err := e.registry.Transition(taskID, task.StateComplete, "download complete"); err != nil {
			e.logger.Warn("complete transition",
				logging.String(logging.FieldTaskID, taskID),
				logging.Error(err))
		}
	case OutcomeInterrupted:
		detail := m.ErrorDetail
		if detail == "" {
			detail = "download interrupted"
		}
		if err := e.registry.Transition(taskID, task.StateError, detail); err != nil {
			e.logger.Warn("error transition",
				logging.String(logging.FieldTaskID, taskID),
				logging.Error(err))
		}
	default:
		e.logger.Error("unknown terminal outcome",
			logging.String(logging.FieldEventID, m.EventID),
			logging.String("outcome", string(m.Outcome)))
	}
}

func (e *Engine) handleProbeResult(res poller.Result) {
	t, ok := e.registry.Get(res.TaskID)
	if !ok || t.State != task.StateInProgress {
		e.poller.Forget(res.TaskID)
		return
	}

	if res.Err != nil {
		if errors.Is(res.Err, poller.ErrTargetGone) {
			if err := e.registry.Transition(res.TaskID, task.StateError, "download target vanished"); err != nil {
				e.logger.Warn("error transition",
					logging.String(logging.FieldTaskID, res.TaskID),
					logging.Error(err))
			}
			return
		}
		// Transient probe failures change nothing; the next tick retries.
		e.logger.Debug("probe failed",
			logging.String(logging.FieldTaskID, res.TaskID),
			logging.Error(res.Err))
		return
	}

	switch poller.Classify(res.Snapshot, t.SawProgressSignal, t.BoundEventID != "") {
	case poller.ClassDownloading:
		_ = e.registry.SetProgress(res.TaskID, res.Snapshot.Percent, "downloading")
	case poller.ClassPreparing:
		// Latch the progress signal without inventing a percentage.
		_ = e.registry.SetProgress(res.TaskID, t.Progress, "preparing")
	case poller.ClassReady:
		_ = e.registry.SetDetail(res.TaskID, "ready")
	case poller.ClassUnknown:
	}
}

func (e *Engine) sweepExpired() {
	now := time.Now()
	for id, deadline := range e.deadlines {
		if now.Before(deadline) {
			continue
		}
		t, ok := e.registry.Get(id)
		if !ok || t.State.Terminal() {
			delete(e.deadlines, id)
			continue
		}
		e.logger.Warn("monitoring window expired",
			logging.String(logging.FieldTaskID, id))
		if err := e.registry.Transition(id, task.StateError, "monitoring window expired"); err != nil {
			e.logger.Warn("expire transition",
				logging.String(logging.FieldTaskID, id),
				logging.Error(err))
		}
	}
}

func (e *Engine) flushDirty(ctx context.Context) {
	if len(e.dirty) == 0 {
		return
	}
	tasks := make([]task.Task, 0, len(e.dirty))
	for id := range e.dirty {
		if t, ok := e.registry.Get(id); ok {
			tasks = append(tasks, *t)
		}
	}
	if err := e.store.SaveTasks(ctx, tasks); err != nil {
		e.logger.Warn("flush tasks", logging.Error(err))
		return
	}
	e.dirty = make(map[string]struct{})
}

func (e *Engine) maxMonitor() time.Duration {
	minutes := e.cfg.Poller.MaxMonitorMinutes
	if minutes <= 0 {
		minutes = 120
	}
	return time.Duration(minutes) * time.Minute
}

// onChange runs on the engine goroutine for every registry mutation.
func (e *Engine) onChange(t *task.Task) {
	e.broadcast.publish(StatusChange{
		TaskID:   t.ID,
		Label:    t.Label,
		State:    t.State,
		Detail:   t.Detail,
		Progress: t.Progress,
	})
}

// onDirty marks a task for the next coalesced flush.
func (e *Engine) onDirty(t *task.Task) {
	e.dirty[t.ID] = struct{}{}
}

// onTerminal persists a terminal transition synchronously, stops monitoring,
// and pushes notifications.
func (e *Engine) onTerminal(t *task.Task) {
	e.poller.Forget(t.ID)
	delete(e.deadlines, t.ID)
	delete(e.dirty, t.ID)

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.SaveTask(saveCtx, *t); err != nil {
		e.logger.Error("persist terminal task",
			logging.String(logging.FieldTaskID, t.ID),
			logging.Error(err))
	}

	label := t.Label
	if label == "" {
		label = t.ID
	}
	switch t.State {
	case task.StateComplete:
		e.settledComplete++
		go e.notifyAsync(func(ctx context.Context) error {
			return e.notifier.NotifyTaskComplete(ctx, label)
		})
	case task.StateError:
		e.settledFailed++
		detail := t.Detail
		go e.notifyAsync(func(ctx context.Context) error {
			return e.notifier.NotifyTaskFailed(ctx, label, detail)
		})
	}
	e.checkSettled()
}

// checkSettled fires the batch notification once no task remains pending or
// in progress.
func (e *Engine) checkSettled() {
	if e.settledComplete+e.settledFailed == 0 {
		return
	}
	stats := e.registry.Stats()
	if stats[task.StatePending] > 0 || stats[task.StateInProgress] > 0 {
		return
	}
	completed, failed := e.settledComplete, e.settledFailed
	e.settledComplete, e.settledFailed = 0, 0
	go e.notifyAsync(func(ctx context.Context) error {
		return e.notifier.NotifyBatchSettled(ctx, completed, failed)
	})
}

func (e *Engine) notifyAsync(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		e.logger.Warn("notification failed", logging.Error(err))
	}
}
