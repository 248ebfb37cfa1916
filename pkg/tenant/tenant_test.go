package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/stash/pkg/security"
	"github.com/cuemby/stash/pkg/state"
	"github.com/cuemby/stash/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *state.BoltStore) {
	t.Helper()
	store, err := state.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.CreateTenant(&types.Tenant{
		ID:      "acme",
		OwnerID: "owner-1",
		Status:  types.TenantStatusActive,
	}))
	return NewManager(store), store
}

func TestGetTenant(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	got, err := mgr.GetTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.OwnerID)

	_, err = mgr.GetTenant(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveTenantStampsUpdatedAt(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	got, err := mgr.GetTenant(ctx, "acme")
	require.NoError(t, err)
	got.Status = types.TenantStatusMigrating
	require.NoError(t, mgr.SaveTenant(ctx, got))

	stored, err := store.GetTenant("acme")
	require.NoError(t, err)
	assert.Equal(t, types.TenantStatusMigrating, stored.Status)
	assert.False(t, stored.UpdatedAt.IsZero())
}

func TestSaveStorageSettingsRequiresOwner(t *testing.T) {
	mgr, _ := newTestManager(t)
	owner, err := mgr.GetTenant(context.Background(), "acme")
	require.NoError(t, err)

	settings := &types.StorageSettings{
		TenantID: "acme",
		Backend:  types.BackendDescriptor{Type: types.BackendMemory},
	}

	tests := []struct {
		name    string
		ctx     context.Context
		wantErr error
	}{
		{"no tenant", context.Background(), ErrForbidden},
		{"tenant without principal", WithCurrent(context.Background(), owner), ErrForbidden},
		{"other tenant", AuthenticateOwner(context.Background(), &types.Tenant{ID: "globex", OwnerID: "owner-1"}), ErrForbidden},
		{"owner", AuthenticateOwner(context.Background(), owner), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mgr.SaveStorageSettings(tt.ctx, settings)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
		})
	}

	got, err := mgr.GetStorageSettings(context.Background(), "acme")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.BackendMemory, got.Backend.Type)
}

func TestStorageSettingsCredentialsSealedAtRest(t *testing.T) {
	store, err := state.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.CreateTenant(&types.Tenant{ID: "acme", OwnerID: "owner-1", Status: types.TenantStatusActive}))

	sm, err := security.NewSecretsManagerFromPassword("stash-test")
	require.NoError(t, err)
	mgr := NewManager(store, WithSecrets(sm))

	owner, err := mgr.GetTenant(context.Background(), "acme")
	require.NoError(t, err)
	ctx := AuthenticateOwner(context.Background(), owner)

	settings := &types.StorageSettings{
		TenantID: "acme",
		Backend: types.BackendDescriptor{
			Type:    types.BackendAzure,
			Options: map[string]string{"container": "files", "account_key": "c2VjcmV0"},
		},
	}
	require.NoError(t, mgr.SaveStorageSettings(ctx, settings))
	assert.Equal(t, "c2VjcmV0", settings.Backend.Options["account_key"], "caller's settings untouched")

	raw, err := store.GetStorageSettings("acme")
	require.NoError(t, err)
	assert.Equal(t, "files", raw.Backend.Options["container"])
	assert.True(t, security.IsSealed(raw.Backend.Options["account_key"]))

	got, err := mgr.GetStorageSettings(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, settings.Backend, got.Backend)

	// A manager without the key refuses to hand out sealed credentials
	_, err = NewManager(store).GetStorageSettings(context.Background(), "acme")
	assert.ErrorContains(t, err, "no secrets key is configured")
}

func TestGetStorageSettingsMissingIsNil(t *testing.T) {
	mgr, _ := newTestManager(t)

	got, err := mgr.GetStorageSettings(context.Background(), "acme")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestPrincipal(t *testing.T) {
	_, ok := Principal(context.Background())
	assert.False(t, ok)

	ctx := AuthenticateOwner(context.Background(), &types.Tenant{ID: "acme", OwnerID: "u1"})
	p, ok := Principal(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", p)

	cur, ok := Current(ctx)
	assert.True(t, ok)
	assert.Equal(t, "acme", cur.ID)
}
