/*
Package log provides structured logging for stash using zerolog.

The package wraps a single global zerolog.Logger. Call Init once at process
start (the CLI does this from its persistent flags); every other package derives
child loggers from it so that records carry the fields operators filter on.

# Child Loggers

	log.WithComponent("scheduler")      // component=scheduler
	log.WithTenantID("acme")            // tenant_id=acme
	log.WithJob(jobID, "acme")          // component=migrate job_id=... tenant_id=acme

Migration code adds per-file fields (module, domain, path) at the call site
rather than creating a logger per file.

# Output

JSON output is meant for log shippers; console output (the default) is for
operators running `stash migrate` in a terminal:

	2026-10-19T10:30:00Z INF module migrated component=migrate module=files tenant_id=acme

# Levels

debug, info, warn and error. Unknown strings passed to ParseLevel fall back to
info, matching Init's own default.
*/
package log
