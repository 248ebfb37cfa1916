package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/stash/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketTenants         = []byte("tenants")
	bucketStorageSettings = []byte("storage_settings")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "stash.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTenants, bucketStorageSettings} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Tenant operations
func (s *BoltStore) CreateTenant(tenant *types.Tenant) error {
	return s.put(bucketTenants, tenant.ID, tenant)
}

func (s *BoltStore) GetTenant(id string) (*types.Tenant, error) {
	var tenant types.Tenant
	if err := s.get(bucketTenants, id, &tenant); err != nil {
		return nil, fmt.Errorf("tenant %s: %w", id, err)
	}
	return &tenant, nil
}

func (s *BoltStore) ListTenants() ([]*types.Tenant, error) {
	var tenants []*types.Tenant
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTenants)
		return b.ForEach(func(k, v []byte) error {
			var tenant types.Tenant
			if err := json.Unmarshal(v, &tenant); err != nil {
				return err
			}
			tenants = append(tenants, &tenant)
			return nil
		})
	})
	return tenants, err
}

func (s *BoltStore) UpdateTenant(tenant *types.Tenant) error {
	return s.CreateTenant(tenant) // Same as create (upsert)
}

func (s *BoltStore) DeleteTenant(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketTenants).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketStorageSettings).Delete([]byte(id))
	})
}

// Storage settings operations, keyed by tenant ID
func (s *BoltStore) SaveStorageSettings(settings *types.StorageSettings) error {
	return s.put(bucketStorageSettings, settings.TenantID, settings)
}

func (s *BoltStore) GetStorageSettings(tenantID string) (*types.StorageSettings, error) {
	var settings types.StorageSettings
	if err := s.get(bucketStorageSettings, tenantID, &settings); err != nil {
		return nil, fmt.Errorf("storage settings for tenant %s: %w", tenantID, err)
	}
	return &settings, nil
}

func (s *BoltStore) DeleteStorageSettings(tenantID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStorageSettings).Delete([]byte(tenantID))
	})
}

func (s *BoltStore) put(bucket []byte, key string, value any) error {
	if key == "" {
		return fmt.Errorf("empty key for bucket %s", bucket)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) get(bucket []byte, key string, out any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, out)
	})
}
