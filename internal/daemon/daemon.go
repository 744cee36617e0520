package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"taskwatch/internal/config"
	"taskwatch/internal/engine"
	"taskwatch/internal/logging"
	"taskwatch/internal/notifications"
	"taskwatch/internal/origin"
	"taskwatch/internal/store"
)

// Daemon coordinates the engine and its supporting services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	engine   *engine.Engine
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
}

// StatusReport represents daemon runtime information.
type StatusReport struct {
	Running      bool
	PID          int
	DatabasePath string
	LockPath     string
	Engine       engine.Status
}

// New constructs a daemon with initialized dependencies. The store is opened
// here and closed by Close.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	notifier := notifications.NewService(cfg)

	var trigger engine.Trigger
	if agent := origin.NewAgent(cfg, logger); agent != nil {
		trigger = agent
	}

	eng := engine.New(cfg, st, notifier, trigger, logger)

	lockPath := filepath.Join(cfg.Paths.StateDir, "taskwatchd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "daemon"),
		store:    st,
		engine:   eng,
		notifier: notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Engine exposes the underlying engine for event ingestion and subscribers.
func (d *Daemon) Engine() *engine.Engine {
	return d.engine
}

// Run acquires the instance lock, restores persisted state, and drives the
// engine loop, maintenance jobs, and webhook API until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another taskwatch daemon instance is already running")
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	if err := d.engine.Restore(ctx); err != nil {
		return fmt.Errorf("restore tasks: %w", err)
	}

	d.running.Store(true)
	defer d.running.Store(false)
	d.logger.Info("taskwatch daemon started", logging.String("lock", d.lockPath))

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := d.engine.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		return d.runMaintenance(groupCtx)
	})

	if strings.TrimSpace(d.cfg.Paths.APIBind) != "" {
		api := newAPIServer(d.cfg, d.engine, d.logger)
		group.Go(func() error {
			return api.run(groupCtx)
		})
	}

	err = group.Wait()
	d.logger.Info("taskwatch daemon stopped")
	return err
}

// runMaintenance schedules the coalesced persistence flush and the stale
// monitoring sweep. Each job posts a command into the engine loop.
func (d *Daemon) runMaintenance(ctx context.Context) error {
	flushEvery := d.cfg.Persistence.FlushIntervalSeconds
	if flushEvery <= 0 {
		flushEvery = 15
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %ds", flushEvery), func() {
		if err := d.engine.FlushDirty(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("schedule flush", logging.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule flush job: %w", err)
	}
	if _, err := scheduler.AddFunc("@every 1m", func() {
		if err := d.engine.SweepExpired(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("schedule sweep", logging.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep job: %w", err)
	}

	scheduler.Start()
	<-ctx.Done()
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	return nil
}

// StartTasks creates and triggers one task per target spec. A positive
// delayMS overrides the configured inter-task trigger delay.
func (d *Daemon) StartTasks(ctx context.Context, specs []engine.OriginSpec, delayMS int) ([]string, error) {
	return d.engine.StartTasks(ctx, specs, delayMS)
}

// RetryTasks resets failed tasks and re-triggers them.
func (d *Daemon) RetryTasks(ctx context.Context, ids []string, delayMS int) ([]string, error) {
	return d.engine.RetryTasks(ctx, ids, delayMS)
}

// ClearCompleted removes completed tasks from memory and disk.
func (d *Daemon) ClearCompleted(ctx context.Context) ([]string, error) {
	return d.engine.ClearCompleted(ctx)
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) (StatusReport, error) {
	report := StatusReport{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockPath:     d.lockPath,
	}
	if !report.Running {
		return report, nil
	}
	snapshot, err := d.engine.Status(ctx)
	if err != nil {
		return report, err
	}
	report.Engine = snapshot
	return report, nil
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}
