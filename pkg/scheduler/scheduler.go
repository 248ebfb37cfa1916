package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/stash/pkg/log"
	"github.com/cuemby/stash/pkg/metrics"
	"github.com/cuemby/stash/pkg/migrate"
	"github.com/cuemby/stash/pkg/types"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent bounds how many migrations copy files at once
const DefaultMaxConcurrent = 2

// ErrStopped is the scheduler's component state once Stop has been called
var ErrStopped = errors.New("scheduler stopped")

// Scheduler admits at most one migration per tenant and runs admitted jobs
// on a bounded pool shared by all tenants
type Scheduler struct {
	deps   migrate.Deps
	sem    *semaphore.Weighted
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*migrate.Job
	wg   sync.WaitGroup
}

// NewScheduler creates a scheduler running up to maxConcurrent jobs at a time
func NewScheduler(deps migrate.Deps, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		deps:   deps,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		logger: log.WithComponent("scheduler"),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*migrate.Job),
	}
	metrics.SetComponent("scheduler", nil)
	return s
}

// Start admits a migration of tenantID to target. It returns false without
// doing anything if the tenant already has a job in flight or the scheduler
// has been stopped. It never waits for the job.
func (s *Scheduler) Start(tenantID string, target types.BackendDescriptor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return false
	}
	if _, exists := s.jobs[tenantID]; exists {
		s.logger.Debug().Str("tenant_id", tenantID).Msg("Migration already in flight")
		return false
	}

	job := migrate.NewJob(tenantID, target, s.deps)
	s.jobs[tenantID] = job
	s.wg.Add(1)
	go s.run(job)

	s.logger.Info().
		Str("tenant_id", tenantID).
		Str("job_id", job.ID()).
		Str("backend", target.Type).
		Msg("Migration admitted")
	return true
}

// run waits for a worker slot, runs the job and evicts it from the registry
func (s *Scheduler) run(job *migrate.Job) {
	defer s.wg.Done()
	defer s.remove(job)

	metrics.MigrationsQueued.Inc()
	err := s.sem.Acquire(s.ctx, 1)
	metrics.MigrationsQueued.Dec()
	if err != nil {
		_ = job.Fail(err)
		return
	}
	defer s.sem.Release(1)

	_ = job.Run(s.ctx)
}

func (s *Scheduler) remove(job *migrate.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jobs[job.TenantID()] == job {
		delete(s.jobs, job.TenantID())
	}
}

// Progress returns the snapshot of the tenant's in-flight job. The second
// result is false when the tenant has no job in flight.
func (s *Scheduler) Progress(tenantID string) (migrate.Progress, bool) {
	s.mu.Lock()
	job, ok := s.jobs[tenantID]
	s.mu.Unlock()

	if !ok {
		return migrate.Progress{}, false
	}
	return job.Progress(), true
}

// InFlight returns the number of admitted jobs that have not finished
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Wait blocks until every admitted job has finished
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Stop cancels all queued and running jobs and waits for them to finish.
// Running jobs observe cancellation between files. The returned error
// aggregates the failures of jobs that were in flight.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	inFlight := make([]*migrate.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		inFlight = append(inFlight, job)
	}
	s.cancel()
	s.mu.Unlock()

	s.logger.Info().Int("jobs", len(inFlight)).Msg("Stopping scheduler")
	s.wg.Wait()
	metrics.SetComponent("scheduler", ErrStopped)

	var result *multierror.Error
	for _, job := range inFlight {
		if err := job.Err(); err != nil {
			result = multierror.Append(result, fmt.Errorf("tenant %s: %w", job.TenantID(), err))
		}
	}
	return result.ErrorOrNil()
}
