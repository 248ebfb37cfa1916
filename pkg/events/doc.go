/*
Package events provides an in-process publish/subscribe broker for tenant
and migration events.

Publishers hand events to a buffered channel; a single goroutine fans them
out to subscriber channels. Delivery is best effort: a subscriber whose
buffer is full misses the event rather than stalling the broker.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{
		Type:     events.EventMigrationStarted,
		TenantID: "acme",
	})

	for ev := range sub {
		log.Info().Str("type", string(ev.Type)).Msg("event")
	}

Migration jobs publish migration.started when they begin copying and exactly
one of migration.completed or migration.failed when they finish. Failed
events carry the error text in Message.
*/
package events
