/*
Package migrate moves a tenant's complete file estate from its current
storage backend to a new one.

A Job walks every module in the factory's enumeration order. For each module
it copies the files of every declared domain, then the files under the module
root that belong to no declared domain. When all modules are copied the job
commits the target backend as the tenant's storage settings and reactivates
the tenant.

# States

	queued ──▶ started ──▶ done
	                  └──▶ failed

Terminal states never change. A queued job may also fail directly when it is
cancelled before a worker picks it up.

# Progress

The percentage advances once per module and once for the commit, so it
reaches 100 exactly when the job is done. Snapshots are immutable and
replaced atomically; any goroutine may call Progress at any time.

# Failure

Errors and panics are captured in the job, reported through Err and the
snapshot's Error field, and never propagate past Run. Files already copied
stay on the target. The tenant's previous status is restored.

Re-running a failed migration copies every file again. That is harmless on
stores where a write replaces the object, but on append-only or versioned
stores it leaves duplicate versions of files copied by the earlier run.
*/
package migrate
