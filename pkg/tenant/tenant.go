package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/stash/pkg/security"
	"github.com/cuemby/stash/pkg/state"
	"github.com/cuemby/stash/pkg/types"
)

var (
	// ErrNotFound is returned when a tenant does not exist
	ErrNotFound = errors.New("tenant not found")

	// ErrForbidden is returned when the context principal may not act on a tenant
	ErrForbidden = errors.New("forbidden")
)

// Store is the persistence the manager needs. state.BoltStore satisfies it.
type Store interface {
	GetTenant(id string) (*types.Tenant, error)
	ListTenants() ([]*types.Tenant, error)
	UpdateTenant(tenant *types.Tenant) error
	SaveStorageSettings(settings *types.StorageSettings) error
	GetStorageSettings(tenantID string) (*types.StorageSettings, error)
}

// Manager resolves and saves tenant records and commits storage settings
type Manager struct {
	store   Store
	secrets *security.SecretsManager
	now     func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithSecrets seals credential options of storage settings at rest
func WithSecrets(sm *security.SecretsManager) Option {
	return func(m *Manager) {
		m.secrets = sm
	}
}

// NewManager creates a tenant manager over store
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetTenant returns the tenant with the given ID
func (m *Manager) GetTenant(ctx context.Context, id string) (*types.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := m.store.GetTenant(id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load tenant %s: %w", id, err)
	}
	return t, nil
}

// SaveTenant persists t and stamps UpdatedAt
func (m *Manager) SaveTenant(ctx context.Context, t *types.Tenant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.UpdatedAt = m.now()
	if err := m.store.UpdateTenant(t); err != nil {
		return fmt.Errorf("failed to save tenant %s: %w", t.ID, err)
	}
	return nil
}

// ListTenants returns every stored tenant
func (m *Manager) ListTenants() ([]*types.Tenant, error) {
	tenants, err := m.store.ListTenants()
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return tenants, nil
}

// GetStorageSettings returns the tenant's storage settings of record, or nil
// when the tenant still uses the default backend.
func (m *Manager) GetStorageSettings(ctx context.Context, tenantID string) (*types.StorageSettings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := m.store.GetStorageSettings(tenantID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load storage settings for %s: %w", tenantID, err)
	}

	if m.secrets == nil {
		for k, v := range s.Backend.Options {
			if security.IsSealed(v) {
				return nil, fmt.Errorf("storage settings for %s: option %s is encrypted but no secrets key is configured", tenantID, k)
			}
		}
		return s, nil
	}

	s.Backend, err = m.secrets.OpenOptions(s.Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt storage settings for %s: %w", tenantID, err)
	}
	return s, nil
}

// SaveStorageSettings commits settings as the tenant's storage of record. The
// context must carry the tenant's owner as principal.
func (m *Manager) SaveStorageSettings(ctx context.Context, settings *types.StorageSettings) error {
	t, err := m.GetTenant(ctx, settings.TenantID)
	if err != nil {
		return err
	}
	if err := RequireOwner(ctx, t); err != nil {
		return err
	}

	settings.UpdatedAt = m.now()
	stored := *settings
	if m.secrets != nil {
		stored.Backend, err = m.secrets.SealOptions(settings.Backend)
		if err != nil {
			return fmt.Errorf("failed to encrypt storage settings for %s: %w", settings.TenantID, err)
		}
	}
	if err := m.store.SaveStorageSettings(&stored); err != nil {
		return fmt.Errorf("failed to save storage settings for %s: %w", settings.TenantID, err)
	}
	return nil
}
