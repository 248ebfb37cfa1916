/*
Package state provides BoltDB-backed persistence for tenants and their storage
settings of record.

# Buckets

	tenants           tenant ID -> JSON types.Tenant
	storage_settings  tenant ID -> JSON types.StorageSettings

The database lives at <data_dir>/stash.db with 0600 permissions. Reads use
db.View (concurrent snapshots), writes use db.Update (serialized, fsync on
commit), so committing new storage settings after a migration is durable
before the tenant is reactivated.

# Design Patterns

Upsert Pattern:
  - Create and Update share one implementation (bucket Put)
  - SaveStorageSettings overwrites the previous record

Idempotent Deletes:
  - Deleting a missing key is not an error
  - DeleteTenant also removes the tenant's storage settings

Not Found:
  - Missing records return an error wrapping ErrNotFound; test with errors.Is
*/
package state
