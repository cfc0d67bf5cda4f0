// Package app wires every driver component from spec §5 together: config,
// logging, persistence, the isolate pool and script runner, the world
// object graph and heartbeat scheduler, the command dispatcher, the session
// binder, the daemon registry, and the lifecycle controller that sequences
// them all at boot and shutdown. Federation adapters are not constructed
// here.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mudforge/driver/internal/auth"
	"github.com/mudforge/driver/internal/binder"
	"github.com/mudforge/driver/internal/config"
	"github.com/mudforge/driver/internal/core/ecs"
	"github.com/mudforge/driver/internal/core/event"
	"github.com/mudforge/driver/internal/daemon"
	"github.com/mudforge/driver/internal/dispatch"
	"github.com/mudforge/driver/internal/errs"
	"github.com/mudforge/driver/internal/heartbeat"
	"github.com/mudforge/driver/internal/isolate"
	"github.com/mudforge/driver/internal/lifecycle"
	"github.com/mudforge/driver/internal/logging"
	"github.com/mudforge/driver/internal/script"
	"github.com/mudforge/driver/internal/session"
	"github.com/mudforge/driver/internal/store"
	"github.com/mudforge/driver/internal/worldobj"
)

// App is every long-lived component the driver core needs, after Boot has
// run.
type App struct {
	Config *config.Config
	Log    *zap.Logger

	Store      store.Store
	World      *ecs.World
	Bus        *event.Bus
	Graph      *worldobj.Graph
	Isolates   *isolate.Pool
	Scripts    *script.Runner
	Heartbeat  *heartbeat.Scheduler
	Dispatcher *dispatch.Dispatcher
	Binder     *binder.Binder
	Daemons    *daemon.Registry
	Tokens     *session.TokenSigner
	Sessions   *session.Manager
	Auth       *auth.Authenticator
	Lifecycle  *lifecycle.Controller

	Watermarks session.Watermarks
}

// New constructs every component but does not start goroutines or touch
// the network/disk; that happens in Boot.
func New(cfg *config.Config) (*App, error) {
	log, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	world := ecs.NewWorld()
	bus := event.NewBus()
	graph := worldobj.NewGraph(world)

	isolates, err := isolate.New(cfg.Isolate.PoolSize, cfg.Isolate.MemoryMB)
	if err != nil {
		return nil, fmt.Errorf("build isolate pool: %w", err)
	}
	scripts := script.NewRunner(isolates, cfg.Isolate.ScriptTimeout)

	hb := heartbeat.New(cfg.Network.TickPeriod, bus, log)
	hb.RegisterSystem(worldobj.NewCleanupSystem(world))
	dispatcher := dispatch.New(graph)
	bind := binder.New()
	tokens := session.NewTokenSigner(cfg.Session.Secret)
	sessions := session.NewManager(session.ManagerConfig{
		MaxActive:         cfg.Session.MaxActive,
		TokenTTL:          cfg.Session.TTL,
		HeartbeatInterval: cfg.Network.HeartbeatInterval,
		MaxMissedPongs:    int32(cfg.Network.MaxMissedPongs),
		Version:           cfg.Server.Version,
	}, tokens, log)

	a := &App{
		Config:     cfg,
		Log:        log,
		World:      world,
		Bus:        bus,
		Graph:      graph,
		Isolates:   isolates,
		Scripts:    scripts,
		Heartbeat:  hb,
		Dispatcher: dispatcher,
		Binder:     bind,
		Tokens:     tokens,
		Sessions:   sessions,
		Lifecycle:  lifecycle.New(log, cfg.Persistence.AutosaveInterval, cfg.Persistence.ShutdownDeadline),
		Watermarks: session.Watermarks{
			Soft:     cfg.Network.SoftWatermark,
			Hard:     cfg.Network.HardWatermark,
			Critical: cfg.Network.CriticalWatermark,
		},
	}
	return a, nil
}

// Boot brings up storage, restores world state, and sequences daemons, via
// the lifecycle controller's staged boot.
func (a *App) Boot(ctx context.Context) error {
	stages := []lifecycle.Stage{
		{Name: "persistence", Run: a.bootStore},
		{Name: "world-state", Run: a.bootWorld},
		{Name: "sessions", Run: a.bootSessions},
		{Name: "daemons", Run: a.bootDaemons},
		{Name: "heartbeat", Run: a.bootHeartbeat},
	}
	return a.Lifecycle.Boot(ctx, stages)
}

func (a *App) bootStore(ctx context.Context) error {
	var s store.Store
	var err error
	switch a.Config.Persistence.Adapter {
	case "remote":
		s, err = store.NewRemote(ctx, a.Config.Persistence.RemoteStoreURL)
	default:
		s, err = store.NewEmbedded(a.Config.Persistence.DataPath)
	}
	if err != nil {
		return err
	}
	a.Store = s
	a.Auth = auth.New(s)
	a.Daemons = daemon.New(s)
	a.Lifecycle.RegisterStopper(lifecycle.Stopper{
		Name: "persistence",
		Stop: func(ctx context.Context) error { return a.Store.Close() },
	})
	return nil
}

// bootWorld restores the world graph from its last snapshot, if any,
// so a crash or planned restart doesn't silently start from an empty
// world (spec §3 lifecycles, §4.L crash-safety).
func (a *App) bootWorld(ctx context.Context) error {
	payload, ok, err := a.Store.LoadWorld(ctx)
	if err != nil {
		return err
	}
	if !ok {
		a.Log.Info("no prior world snapshot found, starting with an empty world")
		return nil
	}
	var objects []worldobj.ObjectSnapshot
	if err := json.Unmarshal(payload, &objects); err != nil {
		return errs.New(errs.KindRuntime, "unmarshal world snapshot", err)
	}
	a.Graph.Restore(objects)
	a.Log.Info("restored world snapshot", zap.Int("object_count", len(objects)))
	return nil
}

// bootSessions starts the connection manager's missed-pong heartbeat
// sweep.
func (a *App) bootSessions(ctx context.Context) error {
	go a.Sessions.Run()
	a.Lifecycle.RegisterStopper(lifecycle.Stopper{
		Name: "sessions",
		Stop: func(ctx context.Context) error { a.Sessions.Stop(); return nil },
	})
	return nil
}

func (a *App) bootDaemons(ctx context.Context) error {
	if err := a.Daemons.Resolve(); err != nil {
		return err
	}
	return a.Daemons.InitAll(ctx)
}

func (a *App) bootHeartbeat(ctx context.Context) error {
	go a.Heartbeat.Run()
	a.Lifecycle.RegisterStopper(lifecycle.Stopper{
		Name: "heartbeat",
		Stop: func(ctx context.Context) error { a.Heartbeat.Stop(); return nil },
	})
	a.Lifecycle.StartAutosave(a.autosave)
	return nil
}

// autosave persists everything spec §4.L requires survive a crash: daemon
// state, the world object graph, and every bound player's record. It runs
// on the lifecycle controller's autosave ticker and again, once, as part
// of Shutdown.
func (a *App) autosave(ctx context.Context) error {
	if a.Daemons != nil {
		if err := a.Daemons.SnapshotAll(ctx); err != nil {
			return err
		}
	}
	if err := a.saveWorld(ctx); err != nil {
		return err
	}
	if a.Auth != nil {
		if err := a.Auth.SaveAll(ctx); err != nil {
			return err
		}
	}
	return nil
}

// saveWorld snapshots the world object graph by stable ObjectID and writes
// it through the persistence adapter (spec §4.L: temp+rename crash safety
// is the store's concern, not the caller's).
func (a *App) saveWorld(ctx context.Context) error {
	objects := a.Graph.Snapshot()
	payload, err := json.Marshal(objects)
	if err != nil {
		return errs.New(errs.KindRuntime, "marshal world snapshot", err)
	}
	return a.Store.SaveWorld(ctx, payload)
}

// Shutdown gives every subsystem a bounded deadline to stop, via the
// lifecycle controller.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Lifecycle.Shutdown(ctx)
}

// NewConnectionID mints an id for a freshly accepted connection, ahead of
// any session binding (spec §4.H).
func NewConnectionID() string { return session.NewID() }

// DefaultSessionTTL is the fallback used when issuing a reconnect token
// without an explicit override.
func (a *App) DefaultSessionTTL() time.Duration { return a.Config.Session.TTL }
