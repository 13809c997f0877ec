package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TTAWDTT/MercuryDesk-sub000/pkg/models"
)

// SyncRunner performs one synchronization pass. Implemented by syncer.Engine.
type SyncRunner interface {
	SyncAccount(ctx context.Context, account *models.Account, forceFull bool) (int, error)
}

// Scheduler decouples requesting a sync from performing one. Jobs run on a
// fixed-size worker pool, each with its own context; the registry is the only
// state shared across jobs and is guarded by one mutex.
type Scheduler struct {
	runner SyncRunner
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*models.SyncJob

	slots      chan struct{} // worker pool semaphore
	retention  time.Duration
	jobTimeout time.Duration
	now        func() time.Time
	inline     bool
}

// Option customizes a scheduler.
type Option func(*Scheduler)

// WithRetention sets how long terminal jobs stay queryable.
func WithRetention(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithJobTimeout bounds a single job's execution.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithInlineExecution runs jobs synchronously inside Enqueue. This is the
// execution policy for persistence backends that cannot be shared across
// goroutines (single-connection in-memory databases); callers still observe
// the same job state machine.
func WithInlineExecution() Option {
	return func(s *Scheduler) {
		s.inline = true
	}
}

// New creates a scheduler backed by poolSize concurrent workers.
func New(runner SyncRunner, poolSize int, logger *slog.Logger, opts ...Option) *Scheduler {
	if poolSize <= 0 {
		poolSize = 1
	}
	s := &Scheduler{
		runner:     runner,
		logger:     logger.With("component", "scheduler"),
		jobs:       make(map[string]*models.SyncJob),
		slots:      make(chan struct{}, poolSize),
		retention:  6 * time.Hour,
		jobTimeout: 5 * time.Minute,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue registers a sync job for an account and dispatches it to a worker.
// It returns an immediate snapshot; jobs beyond pool capacity stay queued
// until a worker frees up. Under the inline policy the job runs to completion
// before returning.
func (s *Scheduler) Enqueue(userID int64, account *models.Account, forceFull bool) *models.SyncJob {
	job := &models.SyncJob{
		ID:         uuid.NewString(),
		UserID:     userID,
		AccountID:  account.ID,
		ForceFull:  forceFull,
		Status:     models.JobQueued,
		EnqueuedAt: s.now(),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	// The account snapshot is captured here; a job never reads shared state
	// while running.
	acc := *account

	if s.inline {
		s.execute(job.ID, &acc, forceFull)
		return s.snapshot(job.ID)
	}

	go func() {
		s.slots <- struct{}{}
		defer func() { <-s.slots }()
		s.execute(job.ID, &acc, forceFull)
	}()

	return s.snapshot(job.ID)
}

// Get returns a user-scoped snapshot of a job, or nil when the job is
// unknown, expired, or belongs to another user. Terminal jobs older than the
// retention window are purged opportunistically on every call.
func (s *Scheduler) Get(jobID string, userID int64) *models.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()

	job, ok := s.jobs[jobID]
	if !ok || job.UserID != userID {
		return nil
	}
	copied := *job
	return &copied
}

// execute runs one job on the calling goroutine, converting every failure
// (including panics) into a failed terminal state. Workers never crash the pool.
func (s *Scheduler) execute(jobID string, account *models.Account, forceFull bool) {
	s.transition(jobID, func(job *models.SyncJob) {
		job.Status = models.JobRunning
		job.StartedAt = s.now()
	})

	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	inserted, err := s.runSafely(ctx, account, forceFull)

	s.transition(jobID, func(job *models.SyncJob) {
		job.FinishedAt = s.now()
		if err != nil {
			job.Status = models.JobFailed
			job.Error = err.Error()
			return
		}
		job.Status = models.JobSucceeded
		job.Inserted = inserted
	})

	if err != nil {
		s.logger.Error("sync job failed", "job_id", jobID, "account_id", account.ID, "error", err)
	} else {
		s.logger.Info("sync job finished", "job_id", jobID, "account_id", account.ID, "inserted", inserted)
	}
}

func (s *Scheduler) runSafely(ctx context.Context, account *models.Account, forceFull bool) (inserted int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panicked: %v", r)
		}
	}()
	return s.runner.SyncAccount(ctx, account, forceFull)
}

func (s *Scheduler) transition(jobID string, mutate func(*models.SyncJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		mutate(job)
	}
}

func (s *Scheduler) snapshot(jobID string) *models.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	copied := *job
	return &copied
}

// purgeLocked drops terminal jobs older than the retention window. Callers
// must hold s.mu.
func (s *Scheduler) purgeLocked() {
	cutoff := s.now().Add(-s.retention)
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}
