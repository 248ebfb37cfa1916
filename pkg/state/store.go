package state

import (
	"errors"

	"github.com/cuemby/stash/pkg/types"
)

// ErrNotFound is returned (wrapped) when a record does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for tenant state storage
type Store interface {
	// Tenants
	CreateTenant(tenant *types.Tenant) error
	GetTenant(id string) (*types.Tenant, error)
	ListTenants() ([]*types.Tenant, error)
	UpdateTenant(tenant *types.Tenant) error
	DeleteTenant(id string) error

	// Storage settings
	SaveStorageSettings(settings *types.StorageSettings) error
	GetStorageSettings(tenantID string) (*types.StorageSettings, error)
	DeleteStorageSettings(tenantID string) error

	// Utility
	Close() error
}
