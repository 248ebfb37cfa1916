package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/stash/pkg/events"
	"github.com/cuemby/stash/pkg/log"
	"github.com/cuemby/stash/pkg/metrics"
	"github.com/cuemby/stash/pkg/migrate"
	"github.com/cuemby/stash/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultInterval is the time between reconciliation cycles
const DefaultInterval = 10 * time.Second

// TenantStore is the tenant access the reconciler needs
type TenantStore interface {
	ListTenants() ([]*types.Tenant, error)
	GetTenant(ctx context.Context, id string) (*types.Tenant, error)
	SaveTenant(ctx context.Context, t *types.Tenant) error
}

// JobTracker reports whether a tenant has a migration in flight
type JobTracker interface {
	Progress(tenantID string) (migrate.Progress, bool)
}

// Reconciler releases tenants left in the migrating status by a job that no
// longer exists, for example after the process was killed mid-migration.
// The state store is opened by a single process, so a migrating tenant with
// no job in this process's scheduler is orphaned.
type Reconciler struct {
	tenants  TenantStore
	jobs     JobTracker
	notifier migrate.Notifier
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewReconciler creates a new reconciler. notifier may be nil.
func NewReconciler(tenants TenantStore, jobs JobTracker, notifier migrate.Notifier) *Reconciler {
	return &Reconciler{
		tenants:  tenants,
		jobs:     jobs,
		notifier: notifier,
		interval: DefaultInterval,
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler and waits for the loop to exit
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

// run is the main reconciliation loop
func (r *Reconciler) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Reconcile(context.Background()); err != nil {
				r.logger.Error().Err(err).Msg("Reconciliation failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one reconciliation cycle and returns the IDs of the
// tenants it released
func (r *Reconciler) Reconcile(ctx context.Context) ([]string, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	tenants, err := r.tenants.ListTenants()
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	var released []string
	for _, t := range tenants {
		if t.Status != types.TenantStatusMigrating {
			continue
		}
		if _, inFlight := r.jobs.Progress(t.ID); inFlight {
			continue
		}

		ok, err := r.release(ctx, t.ID)
		if err != nil {
			r.logger.Error().Err(err).Str("tenant_id", t.ID).Msg("Failed to release tenant")
			continue
		}
		if ok {
			released = append(released, t.ID)
		}
	}

	return released, nil
}

// release re-reads the tenant so a job that finished since the listing is
// not overwritten, then reactivates it
func (r *Reconciler) release(ctx context.Context, tenantID string) (bool, error) {
	t, err := r.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if t.Status != types.TenantStatusMigrating {
		return false, nil
	}
	if _, inFlight := r.jobs.Progress(tenantID); inFlight {
		return false, nil
	}

	t.Status = types.TenantStatusActive
	if err := r.tenants.SaveTenant(ctx, t); err != nil {
		return false, err
	}

	metrics.TenantsRecoveredTotal.Inc()
	r.logger.Warn().
		Str("tenant_id", tenantID).
		Msg("Tenant released from interrupted migration")

	if r.notifier != nil {
		r.notifier.Publish(&events.Event{
			Type:     events.EventTenantUpdated,
			TenantID: tenantID,
			Message:  "released from interrupted migration",
		})
	}
	return true, nil
}
