/*
Package reconciler repairs tenant state left behind by migrations that did
not finish.

A migration job moves its tenant to the migrating status and restores the
previous status when it fails. If the process dies mid-migration no job is
left to do that, and the tenant stays migrating forever. Only one process
can hold the bbolt state store open, so a tenant that is migrating while the
local scheduler has no job for it is known to be orphaned.

Each cycle lists tenants, skips those with a job in flight, re-reads the
remaining migrating tenants and sets them active. The storage settings of
record are left untouched: the interrupted job never committed, so the tenant
keeps reading from its previous backend and files already copied to the
target are simply ignored until the migration is retried.

Commands that run migrations call Reconcile once before admitting jobs and
keep the loop running every DefaultInterval while they wait:

	recon := reconciler.NewReconciler(tenants, sched, broker)
	if _, err := recon.Reconcile(ctx); err != nil {
		return err
	}
	recon.Start()
	defer recon.Stop()

Each cycle is timed into stash_reconciliation_duration_seconds; released
tenants are counted in stash_tenants_recovered_total and announced with a
tenant.updated event.
*/
package reconciler
