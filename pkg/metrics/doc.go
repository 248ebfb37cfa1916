/*
Package metrics provides Prometheus metrics and health endpoints for stash.

All metrics are package-level variables registered with the default registry
at init, so any package can update them without setup. They are exposed by
Handler on /metrics.

# Metrics Catalog

Tenants:

	stash_tenants_total{status}          gauge, sampled by Collector

Migrations:

	stash_migrations_running             gauge, jobs copying files
	stash_migrations_queued              gauge, jobs waiting for a worker slot
	stash_migrations_total{status}       counter, finished jobs by outcome
	stash_migration_duration_seconds     histogram, job wall time

Transfers:

	stash_transfer_files_total           counter
	stash_transfer_bytes_total           counter
	stash_transfer_errors_total{stage}   counter, stage is read|write|verify

Storage:

	stash_storage_backends_pooled        gauge, open backend clients in the pool
	stash_storage_probe_duration_seconds histogram{backend,result}, preflight write probes

Reconciliation:

	stash_reconciliation_duration_seconds histogram
	stash_reconciliation_cycles_total     counter
	stash_tenants_recovered_total         counter, tenants released from interrupted migrations

# Timer

	timer := metrics.NewTimer()
	err := job.Run(ctx)
	timer.ObserveDuration(metrics.MigrationDuration)

# Health

Components report their latest state with SetComponent; a nil error marks
them healthy. The process is unhealthy when a critical component (state,
scheduler) fails and degraded when any other component does. HealthHandler
serves the report on /components and LivenessHandler answers /live; pkg/api
mounts both next to its own /health and /ready probes.
*/
package metrics
