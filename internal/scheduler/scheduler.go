// Package scheduler provides cron-based scheduling for maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/maileyo/maileyo/internal/config"
	"github.com/robfig/cron/v3"
)

// Job names registered by AddMaintenanceJobs.
const (
	JobPruneSessions = "prune-sessions"
	JobPruneTokens   = "prune-tokens"
)

// JobFunc is the callback invoked when a job runs.
type JobFunc func(ctx context.Context) error

// JobStatus represents the state of a scheduled job.
type JobStatus struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	Schedule  string    `json:"schedule"`
	LastError string    `json:"last_error,omitempty"`
}

type job struct {
	entry    cron.EntryID
	schedule string
	fn       JobFunc
	running  bool
	lastRun  time.Time
	lastErr  error
}

// Scheduler manages cron-based job scheduling.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*job

	ctx     context.Context    // cancelled on Stop
	cancel  context.CancelFunc // cancels ctx
	wg      sync.WaitGroup     // tracks running job goroutines
	started bool
	stopped bool
}

// New creates an empty Scheduler.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		logger: slog.Default(),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// AddJob schedules fn under name, replacing any job of the same name.
// Returns an error if the cron expression is invalid.
func (s *Scheduler) AddJob(name, cronExpr string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.jobs[name]; exists {
		s.cron.Remove(old.entry)
		delete(s.jobs, name)
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		j, ok := s.jobs[name]
		if s.stopped || !ok || j.running {
			s.mu.Unlock()
			return
		}
		j.running = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.runJob(name, j)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.jobs[name] = &job{entry: entryID, schedule: cronExpr, fn: fn}
	s.logger.Info("scheduled job",
		"job", name,
		"schedule", cronExpr,
		"next_run", s.cron.Entry(entryID).Next)
	return nil
}

// Pruner is the store cleanup the maintenance jobs run.
type Pruner interface {
	PruneRevokedSessions(ctx context.Context, now time.Time) (int64, error)
	PruneExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// AddMaintenanceJobs registers the store cleanup jobs from cfg.
// Returns the number of jobs scheduled and any errors encountered.
func (s *Scheduler) AddMaintenanceJobs(cfg config.MaintenanceConfig, p Pruner) (int, []error) {
	prune := func(what string, fn func(context.Context, time.Time) (int64, error)) JobFunc {
		return func(ctx context.Context) error {
			n, err := fn(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("prune %s: %w", what, err)
			}
			s.logger.Info("pruned", "what", what, "rows", n)
			return nil
		}
	}

	specs := []struct {
		name, expr string
		fn         JobFunc
	}{
		{JobPruneSessions, cfg.PruneSessions, prune("revoked sessions", p.PruneRevokedSessions)},
		{JobPruneTokens, cfg.PruneTokens, prune("expired tokens", p.PruneExpiredTokens)},
	}

	var errs []error
	scheduled := 0
	for _, spec := range specs {
		if spec.expr == "" {
			continue
		}
		if err := s.AddJob(spec.name, spec.expr, spec.fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", spec.name, err))
		} else {
			scheduled++
		}
	}
	return scheduled, errs
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", n)
}

// IsRunning returns true if the scheduler has been started and not yet stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop stops the scheduler, cancels running jobs, and returns a context
// that is done when all of them have finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	ctx, done := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		done()
	}()
	return ctx
}

// runJob executes a job. The caller must have already called wg.Add(1)
// and set j.running.
func (s *Scheduler) runJob(name string, j *job) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		j.running = false
		s.mu.Unlock()
	}()

	s.logger.Debug("starting job", "job", name)
	start := time.Now()

	err := j.fn(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	j.lastRun = time.Now()
	j.lastErr = err
	if err != nil {
		s.logger.Error("job failed", "job", name, "duration", time.Since(start), "error", err)
		return
	}
	s.logger.Info("job completed", "job", name, "duration", time.Since(start))
}

// IsScheduled returns true if a job with name exists.
func (s *Scheduler) IsScheduled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.jobs[name]
	return exists
}

// Trigger runs a job now, outside its schedule. Returns an error if the job
// is unknown or already running, or the scheduler has been stopped.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	j, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job %s is not scheduled", name)
	}
	if j.running {
		return fmt.Errorf("job %s is already running", name)
	}

	j.running = true
	s.wg.Add(1)
	go s.runJob(name, j)
	return nil
}

// TriggerAll starts every job that is not already running.
func (s *Scheduler) TriggerAll() {
	s.mu.RLock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	s.mu.RUnlock()

	for _, name := range names {
		if err := s.Trigger(name); err != nil {
			s.logger.Warn("trigger failed", "job", name, "error", err)
		}
	}
}

// Status returns the state of every job, sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for name, j := range s.jobs {
		status := JobStatus{
			Name:     name,
			Running:  j.running,
			LastRun:  j.lastRun,
			NextRun:  s.cron.Entry(j.entry).Next,
			Schedule: j.schedule,
		}
		if j.lastErr != nil {
			status.LastError = j.lastErr.Error()
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(a, b int) bool { return statuses[a].Name < statuses[b].Name })
	return statuses
}
