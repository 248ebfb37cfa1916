/*
Package health probes storage backends before work is committed to them.

A Checker performs one attempt and returns a Result. Probe repeats a checker
until it succeeds or fails Config.Retries times in a row, tracking the
outcome in a Status:

	h, _ := factory.GetStorageFromConsumer(ctx, tenantID, "files", target)
	status := health.Probe(ctx, health.NewStorageChecker(h), health.DefaultConfig())
	if !status.Healthy {
		return fmt.Errorf("target unreachable: %s", status.LastResult.Message)
	}

StorageChecker saves a small probe file at the module root of a handle,
checks its size, reads it back and deletes it. A backend that passes accepts
writes with the credentials and prefix the migration will use. Each attempt
is timed into stash_storage_probe_duration_seconds labelled by backend type
and result.
*/
package health
