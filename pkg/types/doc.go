/*
Package types defines the value types shared by every stash package.

# Tenants

A Tenant is opaque to the migration engine except for three fields: ID,
OwnerID (the principal storage operations are authorized as) and Status.
Status moves to migrating while a job copies data and back to active when the
new storage settings are committed.

# Backends

A BackendDescriptor names a physical storage target by driver type plus
driver options:

	types.BackendDescriptor{
		Type:    types.BackendS3,
		Options: map[string]string{"bucket": "portal-data", "region": "eu-west-1"},
	}

Fingerprint is used by the storage factory to pool backend clients, so two
descriptors that differ only in map iteration order share one client.

StorageSettings binds a descriptor to a tenant; persisting it makes the
descriptor the tenant's storage of record.
*/
package types
