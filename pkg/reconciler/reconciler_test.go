package reconciler

import (
	"context"
	"sync"
	"testing"

	"github.com/cuemby/stash/pkg/events"
	"github.com/cuemby/stash/pkg/metrics"
	"github.com/cuemby/stash/pkg/migrate"
	"github.com/cuemby/stash/pkg/state"
	"github.com/cuemby/stash/pkg/tenant"
	"github.com/cuemby/stash/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs map[string]bool

func (f fakeJobs) Progress(tenantID string) (migrate.Progress, bool) {
	if f[tenantID] {
		return migrate.Progress{TenantID: tenantID, Status: migrate.StatusStarted}, true
	}
	return migrate.Progress{}, false
}

type eventLog struct {
	mu     sync.Mutex
	events []*events.Event
}

func (l *eventLog) Publish(ev *events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func newTestTenants(t *testing.T, statuses map[string]types.TenantStatus) *tenant.Manager {
	t.Helper()
	store, err := state.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for id, status := range statuses {
		require.NoError(t, store.CreateTenant(&types.Tenant{ID: id, OwnerID: "owner", Status: status}))
	}
	return tenant.NewManager(store)
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name         string
		statuses     map[string]types.TenantStatus
		inFlight     fakeJobs
		wantReleased []string
	}{
		{
			name:     "nothing migrating",
			statuses: map[string]types.TenantStatus{"a": types.TenantStatusActive, "b": types.TenantStatusSuspended},
		},
		{
			name:         "orphaned migration released",
			statuses:     map[string]types.TenantStatus{"a": types.TenantStatusMigrating},
			wantReleased: []string{"a"},
		},
		{
			name:     "running migration left alone",
			statuses: map[string]types.TenantStatus{"a": types.TenantStatusMigrating},
			inFlight: fakeJobs{"a": true},
		},
		{
			name: "mixed",
			statuses: map[string]types.TenantStatus{
				"running":  types.TenantStatusMigrating,
				"orphaned": types.TenantStatusMigrating,
				"idle":     types.TenantStatusActive,
			},
			inFlight:     fakeJobs{"running": true},
			wantReleased: []string{"orphaned"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tenants := newTestTenants(t, tt.statuses)
			log := &eventLog{}
			r := NewReconciler(tenants, tt.inFlight, log)
			before := testutil.ToFloat64(metrics.TenantsRecoveredTotal)

			released, err := r.Reconcile(context.Background())
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.wantReleased, released)
			assert.Equal(t, float64(len(tt.wantReleased)), testutil.ToFloat64(metrics.TenantsRecoveredTotal)-before)
			assert.Len(t, log.events, len(tt.wantReleased))

			for id, status := range tt.statuses {
				got, err := tenants.GetTenant(context.Background(), id)
				require.NoError(t, err)

				want := status
				for _, rel := range tt.wantReleased {
					if rel == id {
						want = types.TenantStatusActive
					}
				}
				assert.Equal(t, want, got.Status, id)
			}
		})
	}
}

func TestReconcile_EventsDescribeRelease(t *testing.T) {
	tenants := newTestTenants(t, map[string]types.TenantStatus{"acme": types.TenantStatusMigrating})
	log := &eventLog{}

	_, err := NewReconciler(tenants, fakeJobs{}, log).Reconcile(context.Background())
	require.NoError(t, err)

	require.Len(t, log.events, 1)
	assert.Equal(t, events.EventTenantUpdated, log.events[0].Type)
	assert.Equal(t, "acme", log.events[0].TenantID)
}

func TestReconcile_NilNotifier(t *testing.T) {
	tenants := newTestTenants(t, map[string]types.TenantStatus{"acme": types.TenantStatusMigrating})

	released, err := NewReconciler(tenants, fakeJobs{}, nil).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, released)
}

func TestReconciler_StartStop(t *testing.T) {
	tenants := newTestTenants(t, nil)
	r := NewReconciler(tenants, fakeJobs{}, nil)

	r.Start()
	r.Stop()
	r.Stop()
}
