/*
Package scheduler admits and runs storage migrations.

The Scheduler owns a registry of in-flight jobs keyed by tenant ID and a
weighted semaphore that bounds how many jobs copy files at once. Admission
checks and inserts under one lock, so a tenant never has two jobs:

	s := scheduler.NewScheduler(migrate.Deps{
		Storage:  factory,
		Tenants:  tenants,
		Notifier: broker,
		Reporter: cache,
	}, cfg.Scheduler.MaxConcurrent)
	defer s.Stop()

	s.Start("acme", target) // true: admitted
	s.Start("acme", target) // false: already in flight

	if p, ok := s.Progress("acme"); ok {
		fmt.Println(p.Status, p.Percentage)
	}

Each admitted job runs in its own goroutine. It waits in the queued state
until a slot frees up, runs, and is removed from the registry once it reaches
a terminal state. Progress reports nothing for a tenant whose job has been
removed; the Reporter keeps the final snapshot for later readers.

Stop cancels the scheduler's context. Queued jobs fail with context.Canceled
without running. Running jobs finish the file they are copying and then fail
the same way.
*/
package scheduler
