package scheduler

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/stash/pkg/config"
	"github.com/cuemby/stash/pkg/events"
	"github.com/cuemby/stash/pkg/migrate"
	"github.com/cuemby/stash/pkg/state"
	"github.com/cuemby/stash/pkg/storage"
	"github.com/cuemby/stash/pkg/tenant"
	"github.com/cuemby/stash/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var target = types.BackendDescriptor{Type: "gated"}

// gatedBackend blocks every write until the gate opens and tracks how many
// writes are in progress at once
type gatedBackend struct {
	storage.Backend
	gate    chan struct{}
	entered chan string
	active  atomic.Int32
	peak    atomic.Int32
}

func (g *gatedBackend) Put(ctx context.Context, key string, r io.Reader) error {
	n := g.active.Add(1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	g.entered <- key
	<-g.gate
	g.active.Add(-1)
	return g.Backend.Put(ctx, key, r)
}

type eventLog struct {
	mu     sync.Mutex
	events []*events.Event
}

func (l *eventLog) Publish(ev *events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) find(tenantID string, typ events.EventType) *events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.TenantID == tenantID && ev.Type == typ {
			return ev
		}
	}
	return nil
}

type testEnv struct {
	tenants *tenant.Manager
	factory *storage.Factory
	gated   *gatedBackend
	events  *eventLog
}

func newTestEnv(t *testing.T, tenantIDs ...string) *testEnv {
	t.Helper()

	store, err := state.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tenants := tenant.NewManager(store)
	src := types.BackendDescriptor{Type: types.BackendMemory, Options: map[string]string{"name": "src"}}
	factory := storage.NewFactory(config.DefaultModules(), tenants, src)
	t.Cleanup(func() { factory.Close() })

	gated := &gatedBackend{
		Backend: storage.NewMemoryBackend("gated", false),
		gate:    make(chan struct{}),
		entered: make(chan string, 16),
	}
	factory.RegisterDriver("gated", func(context.Context, types.BackendDescriptor) (storage.Backend, error) {
		return gated, nil
	})

	for _, id := range tenantIDs {
		require.NoError(t, store.CreateTenant(&types.Tenant{ID: id, OwnerID: "owner-" + id, Status: types.TenantStatusActive}))
		h, err := factory.GetStorage(context.Background(), id, "files")
		require.NoError(t, err)
		_, err = h.Save(context.Background(), "room", "a.txt", strings.NewReader("abcd"))
		require.NoError(t, err)
	}

	return &testEnv{tenants: tenants, factory: factory, gated: gated, events: &eventLog{}}
}

func (e *testEnv) scheduler(maxConcurrent int) *Scheduler {
	return NewScheduler(migrate.Deps{
		Storage:  e.factory,
		Tenants:  e.tenants,
		Notifier: e.events,
	}, maxConcurrent)
}

func (e *testEnv) waitEntered(t *testing.T) string {
	t.Helper()
	select {
	case key := <-e.gated.entered:
		return key
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a transfer to start")
		return ""
	}
}

func (e *testEnv) open() {
	close(e.gated.gate)
}

func TestScheduler_DuplicateStartIsAbsorbed(t *testing.T) {
	env := newTestEnv(t, "acme")
	s := env.scheduler(2)

	assert.True(t, s.Start("acme", target))
	env.waitEntered(t)

	first, ok := s.Progress("acme")
	require.True(t, ok)

	assert.False(t, s.Start("acme", target))
	assert.False(t, s.Start("acme", types.BackendDescriptor{Type: types.BackendMemory}))
	assert.Equal(t, 1, s.InFlight())

	second, ok := s.Progress("acme")
	require.True(t, ok)
	assert.Equal(t, first.JobID, second.JobID)

	env.open()
	s.Wait()

	started := 0
	env.events.mu.Lock()
	for _, ev := range env.events.events {
		if ev.Type == events.EventMigrationStarted {
			started++
		}
	}
	env.events.mu.Unlock()
	assert.Equal(t, 1, started)
}

func TestScheduler_ProgressBeforeAndAfter(t *testing.T) {
	env := newTestEnv(t, "acme")
	s := env.scheduler(2)

	_, ok := s.Progress("acme")
	assert.False(t, ok, "no job before start")

	env.open()
	require.True(t, s.Start("acme", target))
	s.Wait()

	_, ok = s.Progress("acme")
	assert.False(t, ok, "job evicted after completion")
	assert.Equal(t, 0, s.InFlight())
	assert.NotNil(t, env.events.find("acme", events.EventMigrationCompleted))

	settings, err := env.tenants.GetStorageSettings(context.Background(), "acme")
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, target, settings.Backend)

	// A finished tenant can migrate again
	assert.True(t, s.Start("acme", target))
	s.Wait()
}

func TestScheduler_PoolIsBounded(t *testing.T) {
	env := newTestEnv(t, "t1", "t2", "t3")
	s := env.scheduler(2)

	for _, id := range []string{"t1", "t2", "t3"} {
		require.True(t, s.Start(id, target))
	}

	// Two jobs reach the transfer; the third waits for a slot
	running := map[string]bool{}
	for i := 0; i < 2; i++ {
		running[strings.SplitN(env.waitEntered(t), "/", 2)[0]] = true
	}

	var waiting string
	for _, id := range []string{"t1", "t2", "t3"} {
		if !running[id] {
			waiting = id
		}
	}
	require.NotEmpty(t, waiting)

	select {
	case key := <-env.gated.entered:
		t.Fatalf("third job started while pool was full: %s", key)
	case <-time.After(100 * time.Millisecond):
	}

	p, ok := s.Progress(waiting)
	require.True(t, ok)
	assert.Equal(t, migrate.StatusQueued, p.Status)

	env.open()
	s.Wait()

	assert.Equal(t, int32(2), env.gated.peak.Load())
	for _, id := range []string{"t1", "t2", "t3"} {
		assert.NotNil(t, env.events.find(id, events.EventMigrationCompleted), id)
	}
}

func TestScheduler_FailedJobIsEvicted(t *testing.T) {
	env := newTestEnv(t)
	s := env.scheduler(1)

	require.True(t, s.Start("ghost", target))
	s.Wait()

	_, ok := s.Progress("ghost")
	assert.False(t, ok)

	ev := env.events.find("ghost", events.EventMigrationFailed)
	require.NotNil(t, ev)
	assert.Contains(t, ev.Message, "tenant not found")

	// The failure did not take the scheduler down
	assert.True(t, s.Start("ghost", target))
	s.Wait()
}

func TestScheduler_Stop(t *testing.T) {
	env := newTestEnv(t, "running", "queued")
	s := env.scheduler(1)

	require.True(t, s.Start("running", target))
	env.waitEntered(t)
	require.True(t, s.Start("queued", target))

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()

	// The queued job fails without ever running
	require.Eventually(t, func() bool {
		return env.events.find("queued", events.EventMigrationFailed) != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, env.events.find("queued", events.EventMigrationStarted))

	// The running transfer completes, then the job observes cancellation
	env.open()

	var err error
	select {
	case err = <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Contains(t, err.Error(), "tenant running")
	assert.Contains(t, err.Error(), "tenant queued")

	// The in-flight file still landed on the target
	info, ferr := env.gated.Backend.Stat(context.Background(), "running/files/room/a.txt")
	require.NoError(t, ferr)
	assert.Equal(t, int64(4), info.Size)

	tn, terr := env.tenants.GetTenant(context.Background(), "running")
	require.NoError(t, terr)
	assert.Equal(t, types.TenantStatusActive, tn.Status)

	assert.False(t, s.Start("running", target), "stopped scheduler admits nothing")
	assert.Equal(t, 0, s.InFlight())
}

func TestScheduler_StopIdle(t *testing.T) {
	env := newTestEnv(t)
	s := env.scheduler(0)
	assert.NoError(t, s.Stop())
	assert.False(t, s.Start("acme", target))
}
