// Package core implements C1: the system core that owns every other
// component's lifecycle and gates the administrative surface behind a
// capability key minted once at Init.
package core

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/yaoapp/kun/log"

	"github.com/edgebus/devicecore/app"
	apptypes "github.com/edgebus/devicecore/app/types"
	"github.com/edgebus/devicecore/bus"
	bustypes "github.com/edgebus/devicecore/bus/types"
	"github.com/edgebus/devicecore/captable"
	"github.com/edgebus/devicecore/depgraph"
	"github.com/edgebus/devicecore/errs"
	"github.com/edgebus/devicecore/eventtype"
	"github.com/edgebus/devicecore/monitor"
	"github.com/edgebus/devicecore/quota"
	"github.com/edgebus/devicecore/registry"
	regtypes "github.com/edgebus/devicecore/registry/types"
	"github.com/edgebus/devicecore/subscription"
	"github.com/edgebus/devicecore/watchdog"
)

// Key is the opaque capability token minted by Init and required by
// every administrative call. It is compared by value equality; there
// is no way to derive one other than receiving it from Init's return.
type Key [4]byte

var zeroKey Key

// Options configures a Core at Init time. Zero values fall back to the
// package defaults documented in each owning component.
type Options struct {
	ServiceCapacity   int
	EventTypeCapacity int
	SubscriptionCap   int
	QueueSlots        int
	MaxEventDataSize  int
	AppCapacity       int
	WarnThreshold     time.Duration
	HandlerTimeout    time.Duration
	WatchdogInterval  time.Duration
	StorageDir        string
}

// Stats is the aggregate system snapshot returned by GetStats.
type Stats struct {
	Services    []regtypes.Info
	Apps        []apptypes.Info
	QueueDepths map[string]int
	Metrics     quota.Snapshot
}

// Core is the C1 system core, built by Init and torn down by Deinit.
type Core struct {
	mu sync.Mutex

	key              Key
	keyValid         bool
	started          bool
	watchdogInterval time.Duration
	storageDir       string

	registry *registry.Registry
	types    *eventtype.Registry
	subs     *subscription.Table
	quota    *quota.Manager
	monitor  *monitor.Monitor
	bus      *bus.Bus
	watchdog *watchdog.Watchdog
	depgraph *depgraph.Graph
	apps     *app.Manager
	captable captable.Table
}

// Init builds every subsystem of a new Core and mints a fresh capability
// key. Each call returns an independent Core with its own key; there is
// no process-wide instance, so a second Init call does not fail.
func Init(opts Options) (*Core, Key, error) {
	c := &Core{}
	key, err := c.initLocked(opts)
	if err != nil {
		return nil, zeroKey, err
	}
	return c, key, nil
}

func (c *Core) initLocked(opts Options) (Key, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keyValid {
		return zeroKey, errs.ErrAlreadyInitialized
	}

	key, err := mintKey()
	if err != nil {
		return zeroKey, err
	}

	c.quota = quota.NewManager()
	c.registry = registry.New(opts.ServiceCapacity, c.quota)
	c.types = eventtype.New(opts.EventTypeCapacity)
	c.subs = subscription.New(opts.SubscriptionCap)

	warn := opts.WarnThreshold
	if warn == 0 {
		warn = monitor.DefaultWarnThreshold
	}
	c.monitor = monitor.New(warn, opts.HandlerTimeout)
	c.monitor.OnTimeout(func(service regtypes.ServiceID, typ string, d time.Duration) {
		c.quota.RecordHandlerTimeout()
		log.Error("devicecore: handler timeout service=%d type=%s duration=%s", service, typ, d)
	})

	c.bus = bus.New(opts.QueueSlots, opts.MaxEventDataSize, c.types, c.subs, c.quota, c.monitor)
	c.depgraph = depgraph.New()
	c.watchdog = watchdog.New(c.registry, c.types, c.bus)
	c.watchdog.OnRestart(func(service regtypes.ServiceID) error {
		c.quota.RecordWatchdogTimeout()
		return c.registry.SetState(service, regtypes.StateRegistered)
	})

	table := c.buildCapTable()
	c.captable = table
	c.apps = app.New(opts.AppCapacity, c.registry, c.bus, c.depgraph, table)

	c.watchdogInterval = opts.WatchdogInterval
	c.storageDir = opts.StorageDir
	c.key = key
	c.keyValid = true
	return key, nil
}

func mintKey() (Key, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return zeroKey, err
	}
	return Key(buf), nil
}

func (c *Core) buildCapTable() captable.Table {
	return captable.NewBuilder().
		WithService(captable.ServiceAPI{
			Register:   c.registry.Register,
			Unregister: c.registry.Unregister,
			SetState:   c.registry.SetState,
			Heartbeat:  c.registry.Heartbeat,
		}).
		WithEvent(captable.EventAPI{
			RegisterType: c.types.RegisterType,
			Subscribe: func(service regtypes.ServiceID, typ eventtype.ID, handler bustypes.Handler, userData any) error {
				if err := c.bus.Subscribe(service, typ, handler, userData); err != nil {
					return err
				}
				c.apps.Lifecycle().Track(service, typ)
				return nil
			},
			Unsubscribe: func(service regtypes.ServiceID, typ eventtype.ID) {
				c.bus.Unsubscribe(service, typ)
				c.apps.Lifecycle().Untrack(service, typ)
			},
			Post: c.bus.Post,
		}).
		WithAlloc(captable.AllocAPI{
			Alloc:   func(_ regtypes.ServiceID, size int) ([]byte, error) { return make([]byte, size), nil },
			Free:    func(_ regtypes.ServiceID, _ []byte) {},
			Calloc:  func(_ regtypes.ServiceID, n, size int) ([]byte, error) { return make([]byte, n*size), nil },
			Realloc: func(_ regtypes.ServiceID, buf []byte, newSize int) ([]byte, error) {
				out := make([]byte, newSize)
				copy(out, buf)
				return out, nil
			},
		}).
		WithDiag(captable.DiagAPI{
			LogWrite: func(service regtypes.ServiceID, level string, msg string) {
				switch level {
				case "error":
					log.Error("devicecore: app[%d] %s", service, msg)
				case "warn":
					log.Warn("devicecore: app[%d] %s", service, msg)
				default:
					log.Info("devicecore: app[%d] %s", service, msg)
				}
			},
		}).
		WithTime(captable.TimeAPI{
			SleepMS: func(ms int) { time.Sleep(time.Duration(ms) * time.Millisecond) },
			Ticks:   func() int64 { return time.Now().UnixMilli() },
		}).
		Build()
}

// checkKey is the gate every administrative method runs through.
func (c *Core) checkKey(key Key) error {
	if key == zeroKey {
		return errs.ErrKeyRequired
	}
	if key != c.key {
		return errs.ErrInvalidKey
	}
	if !c.keyValid {
		return errs.ErrKeyInvalidated
	}
	return nil
}

// Start launches the dispatcher and watchdog goroutines.
func (c *Core) Start(key Key) error {
	c.mu.Lock()
	if err := c.checkKey(key); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.started {
		c.mu.Unlock()
		return errs.ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	c.bus.Start()
	if c.storageDir != "" {
		if err := c.apps.StartStorageWatch(c.storageDir); err != nil {
			log.Warn("devicecore: storage watch disabled: %v", err)
		}
	}
	return c.watchdog.Start(c.watchdogInterval)
}

// Stop drains the dispatcher and halts the watchdog, leaving every
// registry/subscription/quota state intact so Start can resume.
func (c *Core) Stop(key Key) error {
	c.mu.Lock()
	if err := c.checkKey(key); err != nil {
		c.mu.Unlock()
		return err
	}
	if !c.started {
		c.mu.Unlock()
		return errs.ErrNotStarted
	}
	c.started = false
	c.mu.Unlock()

	c.apps.StopStorageWatch()
	c.watchdog.Stop()
	c.bus.Stop()
	return nil
}

// Deinit tears the core down entirely. The capability key is
// invalidated: any call presenting it afterward gets ErrKeyInvalidated.
func (c *Core) Deinit(key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkKey(key); err != nil {
		return err
	}
	c.keyValid = false
	return nil
}

// GetStats returns an aggregate snapshot of every subsystem.
func (c *Core) GetStats(key Key) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkKey(key); err != nil {
		return Stats{}, err
	}
	return Stats{
		Services:    c.registry.ListAll(),
		Apps:        c.apps.List(),
		QueueDepths: c.bus.Depths(),
		Metrics:     c.quota.Snapshot(),
	}, nil
}

// Registry exposes the service registry for components (CLI, tests)
// that need read access without the capability key, mirroring spec.md's
// distinction between read diagnostics and mutating administration.
func (c *Core) Registry() *registry.Registry { return c.registry }

// Apps exposes the app manager for installation flows driven outside
// the capability-gated administrative surface (e.g. a boot-time seed
// of internal apps before Start is called).
func (c *Core) Apps() *app.Manager { return c.apps }

// Bus exposes the event bus for direct post/subscribe access by
// internal, statically linked services that don't go through the app
// manager.
func (c *Core) Bus() *bus.Bus { return c.bus }

// EventTypes exposes the event-type registry.
func (c *Core) EventTypes() *eventtype.Registry { return c.types }

// DependencyGraph exposes the dependency graph for services that
// declare init-order constraints outside the app manager.
func (c *Core) DependencyGraph() *depgraph.Graph { return c.depgraph }

// Watchdog exposes the watchdog for per-service policy configuration.
func (c *Core) Watchdog() *watchdog.Watchdog { return c.watchdog }
