package migrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/stash/pkg/events"
	"github.com/cuemby/stash/pkg/log"
	"github.com/cuemby/stash/pkg/metrics"
	"github.com/cuemby/stash/pkg/storage"
	"github.com/cuemby/stash/pkg/tenant"
	"github.com/cuemby/stash/pkg/transfer"
	"github.com/cuemby/stash/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrAlreadyStarted is returned by Run and Fail on a job that already left
// the queued state
var ErrAlreadyStarted = errors.New("migration job already started")

// StorageResolver opens source and destination handles. *storage.Factory
// satisfies it.
type StorageResolver interface {
	Modules() []string
	Domains(module string) ([]string, error)
	GetStorage(ctx context.Context, tenantID, module string) (storage.Handle, error)
	GetStorageFromConsumer(ctx context.Context, tenantID, module string, desc types.BackendDescriptor) (storage.Handle, error)
}

// TenantService reads and updates tenant records. *tenant.Manager satisfies it.
type TenantService interface {
	GetTenant(ctx context.Context, id string) (*types.Tenant, error)
	SaveTenant(ctx context.Context, t *types.Tenant) error
	SaveStorageSettings(ctx context.Context, settings *types.StorageSettings) error
}

// Notifier receives migration lifecycle events. *events.Broker satisfies it.
type Notifier interface {
	Publish(event *events.Event)
}

// Reporter receives progress snapshots for out-of-process readers
type Reporter interface {
	Report(ctx context.Context, p Progress) error
}

// Deps are the collaborators a job runs against. Notifier and Reporter are
// optional.
type Deps struct {
	Storage  StorageResolver
	Tenants  TenantService
	Notifier Notifier
	Reporter Reporter
}

// Job migrates every file of one tenant to a new backend and then commits
// that backend as the tenant's storage of record.
type Job struct {
	id       string
	tenantID string
	target   types.BackendDescriptor
	deps     Deps
	logger   zerolog.Logger

	started  atomic.Bool
	progress atomic.Pointer[Progress]

	mu       sync.Mutex // serializes snapshot writers
	err      error
	once     sync.Once
	done     chan struct{}
	restores []func(context.Context)
}

// NewJob creates a queued job
func NewJob(tenantID string, target types.BackendDescriptor, deps Deps) *Job {
	id := uuid.New().String()
	j := &Job{
		id:       id,
		tenantID: tenantID,
		target:   target,
		deps:     deps,
		logger:   log.WithJob(id, tenantID),
		done:     make(chan struct{}),
	}
	j.progress.Store(&Progress{
		JobID:    id,
		TenantID: tenantID,
		Backend:  target.Type,
		Status:   StatusQueued,
		QueuedAt: time.Now(),
	})
	return j
}

func (j *Job) ID() string       { return j.id }
func (j *Job) TenantID() string { return j.tenantID }

// Target returns the backend the job migrates to
func (j *Job) Target() types.BackendDescriptor { return j.target }

// Progress returns the latest snapshot
func (j *Job) Progress() Progress {
	return *j.progress.Load()
}

// Err returns the error the job failed with, or nil
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Done is closed once the job reaches a terminal state
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// update publishes a modified copy of the current snapshot
func (j *Job) update(fn func(p *Progress)) Progress {
	j.mu.Lock()
	defer j.mu.Unlock()

	next := *j.progress.Load()
	fn(&next)
	j.progress.Store(&next)
	return next
}

func (j *Job) report(ctx context.Context, p Progress) {
	if j.deps.Reporter == nil {
		return
	}
	if err := j.deps.Reporter.Report(context.WithoutCancel(ctx), p); err != nil {
		j.logger.Warn().Err(err).Msg("Failed to report migration progress")
	}
}

func (j *Job) notify(typ events.EventType, message string) {
	if j.deps.Notifier == nil {
		return
	}
	j.deps.Notifier.Publish(&events.Event{
		Type:     typ,
		TenantID: j.tenantID,
		Message:  message,
		Metadata: map[string]string{
			"job_id":  j.id,
			"backend": j.target.Type,
		},
	})
}

// Fail finalizes a job that never ran, for example because it was cancelled
// while waiting for a worker slot.
func (j *Job) Fail(err error) error {
	if !j.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	j.finish(context.Background(), err)
	return nil
}

// Run executes the job. Every failure, including a panic, is captured in the
// job's status and returned; nothing escapes past the job boundary.
func (j *Job) Run(ctx context.Context) (err error) {
	if !j.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	timer := metrics.NewTimer()
	metrics.MigrationsRunning.Inc()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("migration panicked: %v", r)
		}
		metrics.MigrationsRunning.Dec()
		timer.ObserveDuration(metrics.MigrationDuration)
		if err != nil {
			j.rollback(ctx)
		}
		j.finish(ctx, err)
	}()

	return j.run(ctx)
}

func (j *Job) run(ctx context.Context) error {
	modules := j.deps.Storage.Modules()
	p := j.update(func(p *Progress) {
		p.Status = StatusStarted
		p.StartedAt = time.Now()
		p.StepCount = len(modules) + 1
	})

	t, err := j.deps.Tenants.GetTenant(ctx, j.tenantID)
	if err != nil {
		return fmt.Errorf("failed to resolve tenant: %w", err)
	}
	ctx = tenant.WithCurrent(ctx, t)
	ctx = tenant.AuthenticateOwner(ctx, t)

	if err := j.setTenantStatus(ctx, t, types.TenantStatusMigrating); err != nil {
		return err
	}

	j.logger.Info().
		Str("backend", j.target.Type).
		Int("modules", len(modules)).
		Msg("Migration started")
	j.notify(events.EventMigrationStarted, "")
	j.report(ctx, p)

	for i, module := range modules {
		if err := ctx.Err(); err != nil {
			return err
		}
		j.update(func(p *Progress) { p.Module = module })

		if err := j.migrateModule(ctx, module); err != nil {
			return fmt.Errorf("module %s: %w", module, err)
		}

		p = j.update(func(p *Progress) {
			p.StepsDone = i + 1
			p.Percentage = percentage(p.StepsDone, p.StepCount)
		})
		j.report(ctx, p)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return j.commit(context.WithoutCancel(ctx), t)
}

// migrateModule copies every file of one module: each declared domain, then
// files under the module root that belong to no declared domain.
func (j *Job) migrateModule(ctx context.Context, module string) error {
	oldH, err := j.deps.Storage.GetStorage(ctx, j.tenantID, module)
	if err != nil {
		return err
	}
	newH, err := j.deps.Storage.GetStorageFromConsumer(ctx, j.tenantID, module, j.target)
	if err != nil {
		return err
	}
	domains, err := j.deps.Storage.Domains(module)
	if err != nil {
		return err
	}

	u := transfer.New(oldH, newH, transfer.WithObserver(j.observe))
	logger := j.logger.With().Str("module", module).Logger()

	declared := make(map[string]bool, len(domains))
	for _, domain := range domains {
		declared[domain] = true

		files, err := oldH.ListFilesRelative(ctx, domain, "", "*.*", true)
		if err != nil {
			return fmt.Errorf("failed to list domain %s: %w", domain, err)
		}
		logger.Debug().Str("domain", domain).Int("files", len(files)).Msg("Migrating domain")

		if err := j.copyAll(ctx, u, domain, files); err != nil {
			return err
		}
	}

	files, err := oldH.ListFilesRelative(ctx, "", "", "*.*", true)
	if err != nil {
		return fmt.Errorf("failed to list module root: %w", err)
	}
	rootFiles := files[:0]
	for _, f := range files {
		if first, _, nested := strings.Cut(f, "/"); nested && declared[first] {
			continue
		}
		rootFiles = append(rootFiles, f)
	}
	logger.Debug().Int("files", len(rootFiles)).Msg("Migrating module root")

	return j.copyAll(ctx, u, "", rootFiles)
}

func (j *Job) copyAll(ctx context.Context, u *transfer.Utility, domain string, files []string) error {
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := u.CopyFile(ctx, domain, f, domain, f); err != nil {
			return err
		}
	}
	return nil
}

func (j *Job) observe(_, _ string, n int64) {
	j.update(func(p *Progress) {
		p.FilesCopied++
		p.BytesCopied += n
	})
}

// commit makes the target backend the tenant's storage of record and
// reactivates the tenant. Callers pass a context that cannot be cancelled
// between the two writes.
func (j *Job) commit(ctx context.Context, t *types.Tenant) error {
	settings := &types.StorageSettings{
		TenantID: j.tenantID,
		Backend:  j.target,
	}
	if err := j.deps.Tenants.SaveStorageSettings(ctx, settings); err != nil {
		return fmt.Errorf("failed to commit storage settings: %w", err)
	}

	t.Status = types.TenantStatusActive
	if err := j.deps.Tenants.SaveTenant(ctx, t); err != nil {
		return fmt.Errorf("failed to reactivate tenant: %w", err)
	}

	j.mu.Lock()
	j.restores = nil
	j.mu.Unlock()
	return nil
}

// setTenantStatus saves a new status and remembers how to undo it
func (j *Job) setTenantStatus(ctx context.Context, t *types.Tenant, status types.TenantStatus) error {
	prev := t.Status
	t.Status = status
	if err := j.deps.Tenants.SaveTenant(ctx, t); err != nil {
		t.Status = prev
		return fmt.Errorf("failed to set tenant status: %w", err)
	}

	j.mu.Lock()
	j.restores = append(j.restores, func(ctx context.Context) {
		t.Status = prev
		if err := j.deps.Tenants.SaveTenant(ctx, t); err != nil {
			j.logger.Error().Err(err).Str("status", string(prev)).Msg("Failed to restore tenant status")
		}
	})
	j.mu.Unlock()
	return nil
}

// rollback restores the tenant status the job changed. It runs on a context
// detached from cancellation so a stopped job still cleans up.
func (j *Job) rollback(ctx context.Context) {
	j.mu.Lock()
	restores := j.restores
	j.restores = nil
	j.mu.Unlock()

	rctx := context.WithoutCancel(ctx)
	for i := len(restores) - 1; i >= 0; i-- {
		restores[i](rctx)
	}
}

// finish moves the job to its terminal state exactly once
func (j *Job) finish(ctx context.Context, err error) {
	j.once.Do(func() {
		j.mu.Lock()
		j.err = err
		j.mu.Unlock()

		p := j.update(func(p *Progress) {
			p.IsCompleted = true
			p.FinishedAt = time.Now()
			if err == nil {
				p.Status = StatusDone
				p.StepsDone = p.StepCount
				p.Percentage = 100
				p.Module = ""
				return
			}
			p.Status = StatusFailed
			p.Error = err.Error()
		})

		metrics.MigrationsTotal.WithLabelValues(string(p.Status)).Inc()

		if err == nil {
			j.logger.Info().
				Int64("files", p.FilesCopied).
				Int64("bytes", p.BytesCopied).
				Msg("Migration completed")
			j.notify(events.EventMigrationCompleted, "")
		} else {
			j.logger.Error().
				Err(err).
				Int("percentage", p.Percentage).
				Msg("Migration failed")
			j.notify(events.EventMigrationFailed, err.Error())
		}
		j.report(ctx, p)

		close(j.done)
	})
}
