// Package scheduler drives the periodic registry tasks.
//
// Each task runs on its own ticker in its own goroutine, so a slow task
// never delays the others. Runs of the same task never overlap: a tick or a
// RunNow call that arrives while the task is running is skipped and counted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itsneelabh/ordregistry/core"
	"github.com/itsneelabh/ordregistry/registry"
)

// Task is one periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// TaskStats describes the history of one task.
type TaskStats struct {
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
	LastRun      time.Time     `json:"lastRun"`
	LastDuration time.Duration `json:"lastDuration"`
	LastError    string        `json:"lastError,omitempty"`
	Skipped      int64         `json:"skipped"`
}

// ErrTaskRunning is returned by RunNow when the task is already running.
var ErrTaskRunning = errors.New("task already running")

type taskState struct {
	task  Task
	busy  atomic.Bool
	mu    sync.Mutex
	stats TaskStats
}

// Scheduler runs a fixed set of tasks until stopped.
type Scheduler struct {
	tickers   TickerSource
	logger    core.Logger
	telemetry core.Telemetry
	now       func() time.Time

	mu      sync.Mutex
	tasks   []*taskState
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickerSource replaces the wall-clock tickers.
func WithTickerSource(src TickerSource) Option {
	return func(s *Scheduler) { s.tickers = src }
}

// WithLogger sets the logger.
func WithLogger(logger core.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTelemetry sets the telemetry provider.
func WithTelemetry(t core.Telemetry) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.telemetry = t
		}
	}
}

// New creates an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		tickers:   RealTickers,
		logger:    &core.NoOpLogger{},
		telemetry: &core.NoOpTelemetry{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a task. Tasks cannot be added while the scheduler runs.
func (s *Scheduler) Add(task Task) error {
	if task.Name == "" || task.Run == nil {
		return fmt.Errorf("task needs a name and a run function: %w", core.ErrInvalidConfiguration)
	}
	if task.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive: %w", task.Name, core.ErrInvalidConfiguration)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("add task %s: %w", task.Name, core.ErrAlreadyStarted)
	}
	for _, t := range s.tasks {
		if t.task.Name == task.Name {
			return fmt.Errorf("duplicate task %s: %w", task.Name, core.ErrInvalidConfiguration)
		}
	}
	s.tasks = append(s.tasks, &taskState{task: task})
	return nil
}

// Start launches every task loop. The loops stop when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return core.ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	for _, ts := range s.tasks {
		ticker := s.tickers(ts.task.Interval)
		s.wg.Add(1)
		go s.loop(ctx, ts, ticker)
	}

	s.logger.Info("Scheduler started", map[string]interface{}{
		"operation": "scheduler_start",
		"tasks":     len(s.tasks),
	})
	return nil
}

// Stop cancels every task loop and waits for in-flight runs to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return core.ErrNotStarted
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.logger.Info("Scheduler stopped", map[string]interface{}{
		"operation": "scheduler_stop",
	})
	return nil
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow runs the named task once in the calling goroutine. It returns
// ErrTaskRunning without running when a run is already in progress.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var target *taskState
	for _, ts := range s.tasks {
		if ts.task.Name == name {
			target = ts
		}
	}
	s.mu.Unlock()
	if target == nil {
		return fmt.Errorf("task %s: %w", name, core.ErrInvalidConfiguration)
	}
	return s.run(ctx, target)
}

// Stats returns a copy of every task's history keyed by task name.
func (s *Scheduler) Stats() map[string]TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TaskStats, len(s.tasks))
	for _, ts := range s.tasks {
		ts.mu.Lock()
		out[ts.task.Name] = ts.stats
		ts.mu.Unlock()
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, ts *taskState, ticker Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			_ = s.run(ctx, ts)
			// A tick buffered during the run is dropped.
			select {
			case <-ticker.C():
				s.skip(ts, "tick")
			default:
			}
		}
	}
}

func (s *Scheduler) skip(ts *taskState, trigger string) {
	ts.mu.Lock()
	ts.stats.Skipped++
	ts.mu.Unlock()
	s.logger.Debug("Task still running, run skipped", map[string]interface{}{
		"operation": "scheduler_skip",
		"task":      ts.task.Name,
		"trigger":   trigger,
	})
}

// run executes one task run unless one is already in progress.
func (s *Scheduler) run(ctx context.Context, ts *taskState) error {
	if !ts.busy.CompareAndSwap(false, true) {
		s.skip(ts, "overlap")
		return fmt.Errorf("task %s: %w", ts.task.Name, ErrTaskRunning)
	}
	defer ts.busy.Store(false)
	return s.execute(ctx, ts)
}

// execute runs the task, recovering panics so a broken task cannot take its
// loop down.
func (s *Scheduler) execute(ctx context.Context, ts *taskState) (err error) {
	ctx, span := s.telemetry.StartSpan(ctx, "scheduler."+ts.task.Name)
	defer span.End()

	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", ts.task.Name, r)
		}
		elapsed := s.now().Sub(start)

		ts.mu.Lock()
		ts.stats.Runs++
		ts.stats.LastRun = start
		ts.stats.LastDuration = elapsed
		ts.stats.LastError = ""
		if err != nil {
			ts.stats.Failures++
			ts.stats.LastError = err.Error()
		}
		ts.mu.Unlock()

		s.telemetry.RecordMetric("scheduler.task.duration_ms", float64(elapsed.Milliseconds()),
			map[string]string{"task": ts.task.Name})
		if err != nil {
			span.RecordError(err)
			s.logger.Warn("Scheduled task failed", map[string]interface{}{
				"operation": "scheduler_run",
				"task":      ts.task.Name,
				"error":     err.Error(),
			})
			return
		}
		s.logger.Debug("Scheduled task completed", map[string]interface{}{
			"operation":   "scheduler_run",
			"task":        ts.task.Name,
			"duration_ms": elapsed.Milliseconds(),
		})
	}()

	return ts.task.Run(ctx)
}

// Task names of the registry schedule.
const (
	TaskDiscovery  = "discovery"
	TaskRefresh    = "metadata_refresh"
	TaskCompliance = "compliance"
	TaskCleanup    = "cleanup"
)

// Registry is the part of the engine the registry tasks drive.
type Registry interface {
	Rebuild(ctx context.Context) (*registry.Snapshot, error)
	RefreshMetadata(ctx context.Context) (registry.RefreshResult, error)
	ValidateAll(ctx context.Context) (*registry.ComplianceReport, error)
	Cleanup(ctx context.Context) (registry.CleanupResult, error)
}

// RegistryTasks returns the four periodic registry tasks.
func RegistryTasks(r Registry, cfg core.ScheduleConfig) []Task {
	return []Task{
		{
			Name:     TaskDiscovery,
			Interval: cfg.DiscoveryInterval,
			Run: func(ctx context.Context) error {
				_, err := r.Rebuild(ctx)
				return err
			},
		},
		{
			Name:     TaskRefresh,
			Interval: cfg.RefreshInterval,
			Run: func(ctx context.Context) error {
				_, err := r.RefreshMetadata(ctx)
				return err
			},
		},
		{
			Name:     TaskCompliance,
			Interval: cfg.ComplianceInterval,
			Run: func(ctx context.Context) error {
				_, err := r.ValidateAll(ctx)
				return err
			},
		},
		{
			Name:     TaskCleanup,
			Interval: cfg.CleanupInterval,
			Run: func(ctx context.Context) error {
				_, err := r.Cleanup(ctx)
				return err
			},
		},
	}
}

// ForRegistry creates a scheduler loaded with the registry tasks.
func ForRegistry(r Registry, cfg core.ScheduleConfig, opts ...Option) (*Scheduler, error) {
	s := New(opts...)
	for _, t := range RegistryTasks(r, cfg) {
		if err := s.Add(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}
