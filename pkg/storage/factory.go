package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/bluele/gcache"
	"github.com/cuemby/stash/pkg/config"
	"github.com/cuemby/stash/pkg/log"
	"github.com/cuemby/stash/pkg/metrics"
	"github.com/cuemby/stash/pkg/types"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// DefaultPoolSize bounds how many backend clients the factory keeps open
const DefaultPoolSize = 64

// SettingsProvider returns a tenant's storage settings of record, or nil when
// the tenant uses the default backend. tenant.Manager satisfies it.
type SettingsProvider interface {
	GetStorageSettings(ctx context.Context, tenantID string) (*types.StorageSettings, error)
}

// Factory resolves storage handles for tenant modules. Backend clients are
// pooled by descriptor fingerprint; handles are cheap views over them.
type Factory struct {
	modules        []config.Module
	domains        map[string][]string
	settings       SettingsProvider
	defaultBackend types.BackendDescriptor
	poolSize       int
	logger         zerolog.Logger

	driversMu sync.RWMutex
	drivers   map[string]DriverFunc

	poolMu  sync.Mutex
	pool    gcache.Cache
	pinned  map[string]Backend // memory backends; their content dies with the client
	created []Backend
}

// Option configures a Factory
type Option func(*Factory)

// WithPoolSize sets the maximum number of pooled backend clients
func WithPoolSize(n int) Option {
	return func(f *Factory) {
		if n > 0 {
			f.poolSize = n
		}
	}
}

// WithDriver registers an additional backend driver
func WithDriver(name string, fn DriverFunc) Option {
	return func(f *Factory) {
		f.drivers[name] = fn
	}
}

// NewFactory creates a factory for the declared modules. Modules are
// enumerated in declaration order.
func NewFactory(modules []config.Module, settings SettingsProvider, defaultBackend types.BackendDescriptor, opts ...Option) *Factory {
	f := &Factory{
		modules:        append([]config.Module(nil), modules...),
		domains:        make(map[string][]string, len(modules)),
		settings:       settings,
		defaultBackend: defaultBackend,
		poolSize:       DefaultPoolSize,
		pinned:         make(map[string]Backend),
		logger:         log.WithComponent("storage"),
		drivers: map[string]DriverFunc{
			types.BackendDisc:   newDiscDriver,
			types.BackendMemory: newMemoryDriver,
			types.BackendS3:     newS3Driver,
			types.BackendGCS:    newGCSDriver,
			types.BackendAzure:  newAzureDriver,
		},
	}
	for _, m := range modules {
		f.domains[m.Name] = append([]string(nil), m.Domains...)
	}
	for _, opt := range opts {
		opt(f)
	}

	// Evicted clients may still back live handles, so they are only closed
	// when the factory itself closes.
	f.pool = gcache.New(f.poolSize).
		LRU().
		EvictedFunc(func(key, value interface{}) {
			metrics.StorageBackendsPooled.Dec()
		}).
		Build()

	return f
}

// RegisterDriver adds or replaces the driver for a backend type
func (f *Factory) RegisterDriver(name string, fn DriverFunc) {
	f.driversMu.Lock()
	defer f.driversMu.Unlock()
	f.drivers[name] = fn
}

// Modules returns module names in enumeration order
func (f *Factory) Modules() []string {
	names := make([]string, 0, len(f.modules))
	for _, m := range f.modules {
		names = append(names, m.Name)
	}
	return names
}

// Domains returns the declared domains of a module
func (f *Factory) Domains(module string) ([]string, error) {
	domains, ok := f.domains[module]
	if !ok {
		return nil, configErr(module, "unknown module")
	}
	return append([]string(nil), domains...), nil
}

// GetStorage returns a handle on the tenant's currently configured backend
func (f *Factory) GetStorage(ctx context.Context, tenantID, module string) (Handle, error) {
	if _, ok := f.domains[module]; !ok {
		return nil, configErr(module, "unknown module")
	}

	desc := f.defaultBackend
	if f.settings != nil {
		settings, err := f.settings.GetStorageSettings(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if settings != nil {
			desc = settings.Backend
		}
	}

	return f.open(ctx, tenantID, module, desc)
}

// GetStorageFromConsumer returns a handle on an explicit backend. It never
// changes the tenant's configuration.
func (f *Factory) GetStorageFromConsumer(ctx context.Context, tenantID, module string, desc types.BackendDescriptor) (Handle, error) {
	if _, ok := f.domains[module]; !ok {
		return nil, configErr(module, "unknown module")
	}
	return f.open(ctx, tenantID, module, desc)
}

func (f *Factory) open(ctx context.Context, tenantID, module string, desc types.BackendDescriptor) (Handle, error) {
	backend, err := f.backend(ctx, desc)
	if err != nil {
		return nil, err
	}
	return NewHandle(tenantID, module, desc, backend)
}

// backend returns the pooled client for desc, constructing it on first use
func (f *Factory) backend(ctx context.Context, desc types.BackendDescriptor) (Backend, error) {
	key := desc.Fingerprint()

	f.poolMu.Lock()
	defer f.poolMu.Unlock()

	if b, ok := f.pinned[key]; ok {
		return b, nil
	}
	if v, err := f.pool.Get(key); err == nil {
		return v.(Backend), nil
	}

	f.driversMu.RLock()
	driver, ok := f.drivers[desc.Type]
	f.driversMu.RUnlock()
	if !ok {
		return nil, configErr("", "unknown backend type %q", desc.Type)
	}

	backend, err := driver(ctx, desc)
	if err != nil {
		if errors.Is(err, ErrConfiguration) || errors.Is(err, ErrBackendUnavailable) {
			return nil, err
		}
		return nil, unavailable(desc.Type, "connect", err)
	}

	if desc.Type == types.BackendMemory {
		f.pinned[key] = backend
	} else if err := f.pool.Set(key, backend); err != nil {
		backend.Close()
		return nil, unavailable(desc.Type, "pool", err)
	}
	f.created = append(f.created, backend)
	metrics.StorageBackendsPooled.Inc()

	f.logger.Debug().
		Str("backend", desc.Type).
		Msg("Opened storage backend")

	return backend, nil
}

// Close closes every backend client the factory opened, including clients
// already evicted from the pool.
func (f *Factory) Close() error {
	f.poolMu.Lock()
	defer f.poolMu.Unlock()

	var result *multierror.Error
	for _, b := range f.created {
		if err := b.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	f.created = nil
	f.pinned = make(map[string]Backend)
	f.pool.Purge()
	metrics.StorageBackendsPooled.Set(0)

	return result.ErrorOrNil()
}
