/*
Package api serves the operational HTTP endpoints of a stash process.

A HealthServer is started by long-running commands such as stash migrate
when a metrics address is configured:

	GET /health      process is up, with build version
	GET /ready       state store readable and optional dependencies reachable
	GET /live        uptime
	GET /components  per-component health from pkg/metrics
	GET /metrics     Prometheus exposition

Readiness fails with 503 when the state store cannot list tenants or when a
registered dependency (for example the Redis progress cache) does not answer
a ping.

	hs := api.NewHealthServer(store, version)
	hs.AddCheck("redis", cache)
	if err := hs.Start(":9090"); err != nil {
		return err
	}
	defer hs.Shutdown(context.Background())
*/
package api
