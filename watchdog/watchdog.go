// Package watchdog implements C8: periodic heartbeat scanning, ERROR
// transitions for stalled services, and restart/escalation handling.
package watchdog

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/yaoapp/kun/log"

	bustypes "github.com/edgebus/devicecore/bus/types"
	"github.com/edgebus/devicecore/eventtype"
	regtypes "github.com/edgebus/devicecore/registry/types"
)

// DefaultScanInterval is how often the watchdog sweeps service heartbeats.
const DefaultScanInterval = 1 * time.Second

// DefaultTimeout is the per-service heartbeat staleness budget.
const DefaultTimeout = 5 * time.Second

// DefaultMaxRestartAttempts bounds how many times the watchdog will try
// to auto-restart a given service before giving up on it.
const DefaultMaxRestartAttempts = 3

// RestartFunc attempts to bring service back from ERROR to REGISTERED.
// It returns an error if the restart itself could not be carried out.
type RestartFunc func(service regtypes.ServiceID) error

// HeartbeatSource exposes what the watchdog needs to read from the
// registry without importing it back (avoids an import cycle: registry
// does not need to know about watchdog).
type HeartbeatSource interface {
	ListAll() []regtypes.Info
	ForceState(id regtypes.ServiceID, next regtypes.State) error
}

// Config is the per-service watchdog policy, spec.md §4.8.
type Config struct {
	Timeout            time.Duration
	AutoRestart        bool
	MaxRestartAttempts int
	IsCritical         bool
}

// Watchdog scans the registry on a cron schedule and reacts to services
// that stop heartbeating.
type Watchdog struct {
	mu       sync.Mutex
	reg      HeartbeatSource
	typesReg *eventtype.Registry
	bus      criticalPoster
	cron     *cron.Cron
	entryID  cron.EntryID

	configs  map[regtypes.ServiceID]Config
	restarts map[regtypes.ServiceID]int
	restart  RestartFunc

	timeoutTypeID eventtype.ID
	timeoutTypeOK bool
}

// criticalPoster is the narrow slice of Bus the watchdog needs to raise
// a CRITICAL escalation event; kept as an interface to avoid importing
// the bus package back into watchdog.
type criticalPoster interface {
	Post(sender regtypes.ServiceID, typ eventtype.ID, payload []byte, priority bustypes.Priority) error
}

// New builds a watchdog bound to reg for heartbeat reads/forced
// transitions, typesReg to resolve the escalation event type, and bus
// to post the synchronous CRITICAL escalation event.
func New(reg HeartbeatSource, typesReg *eventtype.Registry, bus criticalPoster) *Watchdog {
	w := &Watchdog{
		reg:      reg,
		typesReg: typesReg,
		bus:      bus,
		configs:  make(map[regtypes.ServiceID]Config),
		restarts: make(map[regtypes.ServiceID]int),
	}
	if typesReg != nil {
		id, err := typesReg.RegisterType("SERVICE_WATCHDOG_TIMEOUT")
		if err == nil {
			w.timeoutTypeID = id
			w.timeoutTypeOK = true
		}
	}
	return w
}

// OnRestart registers the restart hook invoked for services configured
// with AutoRestart.
func (w *Watchdog) OnRestart(fn RestartFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.restart = fn
}

// Configure sets or replaces the watchdog policy for service.
func (w *Watchdog) Configure(service regtypes.ServiceID, cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRestartAttempts <= 0 {
		cfg.MaxRestartAttempts = DefaultMaxRestartAttempts
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.configs[service] = cfg
}

// Release drops a service's watchdog configuration and restart counter.
func (w *Watchdog) Release(service regtypes.ServiceID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.configs, service)
	delete(w.restarts, service)
}

// Start launches the cron-scheduled scan at the given interval.
func (w *Watchdog) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return nil
	}
	w.cron = cron.New(cron.WithSeconds())
	spec := "@every " + interval.String()
	id, err := w.cron.AddFunc(spec, w.scan)
	if err != nil {
		w.cron = nil
		return err
	}
	w.entryID = id
	w.cron.Start()
	return nil
}

// Stop halts the scheduled scan. It blocks until the in-flight run, if
// any, completes.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c == nil {
		return
	}
	ctx := c.Stop()
	<-ctx.Done()
}

func (w *Watchdog) scan() {
	now := time.Now().UnixMilli()
	for _, info := range w.reg.ListAll() {
		if info.State != regtypes.StateRunning {
			continue
		}
		w.mu.Lock()
		cfg, ok := w.configs[info.ID]
		w.mu.Unlock()
		if !ok {
			continue
		}
		age := time.Duration(now-info.LastHeartbeat) * time.Millisecond
		if age <= cfg.Timeout {
			continue
		}
		w.handleTimeout(info.ID, cfg)
	}
}

func (w *Watchdog) handleTimeout(service regtypes.ServiceID, cfg Config) {
	log.Error("devicecore: watchdog timeout service=%d", service)
	if err := w.reg.ForceState(service, regtypes.StateError); err != nil {
		log.Error("devicecore: watchdog force-error failed service=%d err=%v", service, err)
	}

	if !cfg.AutoRestart {
		w.escalateIfCritical(service, cfg)
		return
	}

	w.mu.Lock()
	attempts := w.restarts[service]
	restart := w.restart
	w.mu.Unlock()

	if attempts >= cfg.MaxRestartAttempts {
		log.Error("devicecore: watchdog giving up on service=%d after %d attempts", service, attempts)
		w.escalateIfCritical(service, cfg)
		return
	}

	w.mu.Lock()
	w.restarts[service] = attempts + 1
	w.mu.Unlock()

	if restart == nil {
		w.escalateIfCritical(service, cfg)
		return
	}
	if err := restart(service); err != nil {
		log.Error("devicecore: watchdog restart failed service=%d err=%v", service, err)
		w.escalateIfCritical(service, cfg)
		return
	}
	if err := w.reg.ForceState(service, regtypes.StateRegistered); err != nil {
		log.Error("devicecore: watchdog post-restart transition failed service=%d err=%v", service, err)
	}
}

func (w *Watchdog) escalateIfCritical(service regtypes.ServiceID, cfg Config) {
	if !cfg.IsCritical || w.bus == nil || !w.timeoutTypeOK {
		return
	}
	payload := make([]byte, 2)
	payload[0] = byte(service)
	payload[1] = byte(service >> 8)
	if err := w.bus.Post(service, w.timeoutTypeID, payload, bustypes.Critical); err != nil {
		log.Error("devicecore: watchdog critical escalation post failed service=%d err=%v", service, err)
	}
}
