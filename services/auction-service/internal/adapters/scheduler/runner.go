package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/floroz/hammer/services/auction-service/internal/domain/sweeper"
)

// ErrSweepInProgress is returned by Tick when another replica holds the sweep lock.
var ErrSweepInProgress = errors.New("sweep already running elsewhere")

const defaultLockKey = "hammer:auction-sweeper"

// Sweeper is the task the runner schedules. *sweeper.Sweeper implements it.
type Sweeper interface {
	Sweep(ctx context.Context) (sweeper.Report, error)
}

type Config struct {
	Interval time.Duration
	LockKey  string
	// LockTTL must exceed the longest expected sweep, or two replicas may overlap.
	LockTTL time.Duration
}

// Runner triggers sweeps on a fixed interval. Each Run owns a fresh cron instance,
// so a runner can be stopped and started again.
type Runner struct {
	sweeper Sweeper
	locker  Locker
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
}

func NewRunner(sw Sweeper, locker Locker, cfg Config, logger *slog.Logger) (*Runner, error) {
	if sw == nil {
		return nil, errors.New("runner requires a sweeper")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", cfg.Interval)
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if cfg.LockKey == "" {
		cfg.LockKey = defaultLockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	return &Runner{
		sweeper: sw,
		locker:  locker,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Run schedules sweeps until ctx is cancelled, then waits for the tick in flight.
// A tick that overruns the interval makes the next one skip rather than overlap.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("runner is already running")
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	cronLogger := slogCronLogger{logger: r.logger}
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	schedule := "@every " + r.cfg.Interval.String()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := r.Tick(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) && ctx.Err() == nil {
			r.logger.Error("Sweep finished with errors", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep %q: %w", schedule, err)
	}

	r.logger.Info("Sweep scheduler started", "interval", r.cfg.Interval.String())
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("Sweep scheduler stopped")
	return nil
}

// Tick runs one sweep under the distributed lock.
func (r *Runner) Tick(ctx context.Context) (sweeper.Report, error) {
	unlock, ok, err := r.locker.TryLock(ctx, r.cfg.LockKey, r.cfg.LockTTL)
	if err != nil {
		return sweeper.Report{}, fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	if !ok {
		r.logger.Debug("Sweep lock held elsewhere, skipping tick")
		return sweeper.Report{}, ErrSweepInProgress
	}
	defer func() {
		// ctx may already be cancelled by shutdown.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := unlock(releaseCtx); err != nil {
			r.logger.Warn("Failed to release sweep lock", "error", err)
		}
	}()

	return r.sweeper.Sweep(ctx)
}

// slogCronLogger adapts slog to cron.Logger.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
