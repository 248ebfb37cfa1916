package main

import (
	"context"
	"fmt"

	"github.com/cuemby/stash/pkg/config"
	"github.com/cuemby/stash/pkg/events"
	"github.com/cuemby/stash/pkg/log"
	"github.com/cuemby/stash/pkg/metrics"
	"github.com/cuemby/stash/pkg/migrate"
	"github.com/cuemby/stash/pkg/progress"
	"github.com/cuemby/stash/pkg/security"
	"github.com/cuemby/stash/pkg/state"
	"github.com/cuemby/stash/pkg/storage"
	"github.com/cuemby/stash/pkg/tenant"
	"github.com/hashicorp/go-multierror"
)

// runtime holds the long-lived collaborators one command invocation needs
type runtime struct {
	cfg     config.Config
	store   *state.BoltStore
	tenants *tenant.Manager
	factory *storage.Factory
	broker  *events.Broker
	cache   *progress.RedisCache

	sub     events.Subscriber
	drained chan struct{}
}

// openRuntime opens the state store and storage factory. The Redis progress
// cache is connected only when an address is configured.
func openRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	store, err := state.NewBoltStore(cfg.DataDir)
	if err != nil {
		metrics.SetComponent("state", err)
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	metrics.SetComponent("state", nil)

	var opts []tenant.Option
	if cfg.Secrets.Key != "" {
		sm, err := security.NewSecretsManagerFromPassword(cfg.Secrets.Key)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		opts = append(opts, tenant.WithSecrets(sm))
	} else {
		logger := log.WithComponent("security")
		logger.Warn().Msg("No secrets key configured; backend credentials are stored in plaintext")
	}

	rt := &runtime{
		cfg:     cfg,
		store:   store,
		tenants: tenant.NewManager(store, opts...),
		broker:  events.NewBroker(),
		drained: make(chan struct{}),
	}
	rt.factory = storage.NewFactory(cfg.Modules, rt.tenants, cfg.DefaultBackend)

	if cfg.Redis.Addr != "" {
		cache, err := progress.NewRedisCache(ctx, progress.Config{
			Addr:   cfg.Redis.Addr,
			Prefix: cfg.Redis.Prefix,
			TTL:    cfg.Redis.TTL,
		})
		metrics.SetComponent("redis", err)
		if err != nil {
			_ = rt.factory.Close()
			_ = store.Close()
			return nil, err
		}
		rt.cache = cache
	}

	rt.broker.Start()
	rt.sub = rt.broker.Subscribe()
	go rt.logEvents()

	return rt, nil
}

// logEvents writes every published event to the structured log
func (rt *runtime) logEvents() {
	defer close(rt.drained)
	logger := log.WithComponent("events")
	for ev := range rt.sub {
		logger.Info().
			Str("event_id", ev.ID).
			Str("type", string(ev.Type)).
			Str("tenant_id", ev.TenantID).
			Str("message", ev.Message).
			Msg("Event")
	}
}

// deps returns the collaborators a migration job runs against. notifier
// wraps the broker so callers can observe job outcomes synchronously.
func (rt *runtime) deps(notifier migrate.Notifier) migrate.Deps {
	deps := migrate.Deps{
		Storage:  rt.factory,
		Tenants:  rt.tenants,
		Notifier: notifier,
	}
	if rt.cache != nil {
		deps.Reporter = rt.cache
	}
	return deps
}

// Close releases everything openRuntime acquired
func (rt *runtime) Close() error {
	rt.broker.Unsubscribe(rt.sub)
	<-rt.drained
	rt.broker.Stop()

	var result *multierror.Error
	if err := rt.factory.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if rt.cache != nil {
		if err := rt.cache.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close progress cache: %w", err))
		}
	}
	if err := rt.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to close state store: %w", err))
	}
	return result.ErrorOrNil()
}
