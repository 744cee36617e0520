package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"taskwatch/internal/logging"
)

// ErrTargetGone reports that a monitored target no longer exists at the
// origin; the engine treats this as a task error.
var ErrTargetGone = errors.New("target gone")

// Prober answers one progress query for an origin reference.
type Prober interface {
	Probe(ctx context.Context, originRef string) (Snapshot, error)
}

// Result is one probe outcome delivered back to the engine.
type Result struct {
	TaskID   string
	Snapshot Snapshot
	Err      error
}

// Poller runs a lazy periodic loop issuing one probe per monitored task per
// tick. The loop starts on the first Watch and stops when the monitored set
// empties, so an idle daemon does no background work.
type Poller struct {
	prober   Prober
	interval time.Duration
	deliver  func(Result)
	logger   *slog.Logger

	mu        sync.Mutex
	monitored map[string]string // task id -> origin ref
	running   bool
	cancel    context.CancelFunc
	parent    context.Context
}

// New constructs a poller delivering results through the given callback.
// The callback must not block indefinitely; the engine re-serializes results
// into its own loop.
func New(prober Prober, interval time.Duration, deliver func(Result), logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		prober:    prober,
		interval:  interval,
		deliver:   deliver,
		logger:    logging.WithComponent(logger, "poller"),
		monitored: make(map[string]string),
	}
}

// Bind attaches the parent context used for lazily started loops.
func (p *Poller) Bind(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parent = ctx
}

// Watch adds a task to the monitored set, starting the loop if needed.
func (p *Poller) Watch(taskID, originRef string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.monitored[taskID] = originRef
	if p.running || p.parent == nil {
		return
	}
	loopCtx, cancel := context.WithCancel(p.parent)
	p.running = true
	p.cancel = cancel
	go p.run(loopCtx)
	p.logger.Debug("poll loop started")
}

// Forget removes a task from the monitored set.
func (p *Poller) Forget(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.monitored, taskID)
}

// Monitoring reports whether a task is currently monitored.
func (p *Poller) Monitoring(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.monitored[taskID]
	return ok
}

// Stop terminates the loop regardless of the monitored set.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.running = false
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		targets := p.snapshotTargets()
		if len(targets) == 0 {
			p.mu.Lock()
			// Re-check under the lock; a Watch may have raced the
			// empty tick.
			if len(p.monitored) == 0 {
				p.running = false
				p.cancel = nil
				p.mu.Unlock()
				p.logger.Debug("poll loop stopped, monitored set empty")
				return
			}
			p.mu.Unlock()
			continue
		}

		for taskID, originRef := range targets {
			probeCtx, cancel := context.WithTimeout(ctx, p.interval)
			snapshot, err := p.prober.Probe(probeCtx, originRef)
			cancel()
			if ctx.Err() != nil {
				return
			}
			p.deliver(Result{TaskID: taskID, Snapshot: snapshot, Err: err})
		}
	}
}

func (p *Poller) snapshotTargets() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.monitored))
	for id, ref := range p.monitored {
		out[id] = ref
	}
	return out
}
