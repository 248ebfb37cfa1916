package types

import (
	"sort"
	"strings"
	"time"
)

// Tenant represents an isolated customer organization. All storage and
// migration jobs are scoped to exactly one tenant.
type Tenant struct {
	ID        string
	Name      string
	OwnerID   string
	Status    TenantStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TenantStatus represents the lifecycle state of a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusMigrating TenantStatus = "migrating"
	TenantStatusRemoved   TenantStatus = "removed"
)

// Backend types understood by the storage factory
const (
	BackendDisc   = "disc"
	BackendMemory = "memory"
	BackendS3     = "s3"
	BackendGCS    = "gcs"
	BackendAzure  = "azure"
)

// BackendDescriptor identifies a physical storage target. Options are
// driver-specific (a disc path, a bucket and credentials, ...).
type BackendDescriptor struct {
	Type    string            `json:"type" yaml:"type"`
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Option returns the named option or def when it is unset
func (d BackendDescriptor) Option(name, def string) string {
	if v, ok := d.Options[name]; ok && v != "" {
		return v
	}
	return def
}

// Fingerprint returns a stable identity for the descriptor. Two descriptors
// with the same type and options address the same physical backend.
func (d BackendDescriptor) Fingerprint() string {
	keys := make([]string, 0, len(d.Options))
	for k := range d.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(d.Type)
	for _, k := range keys {
		b.WriteByte(';')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(d.Options[k])
	}
	return b.String()
}

// StorageSettings is a tenant's storage configuration of record
type StorageSettings struct {
	TenantID  string            `json:"tenant_id"`
	Backend   BackendDescriptor `json:"backend"`
	UpdatedAt time.Time         `json:"updated_at"`
}
