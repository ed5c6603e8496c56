// Package quota implements C6: per-service resource ceilings and the
// global metrics the core exposes through get_stats. The bookkeeping
// style (a single mutex guarding a map keyed by id, snapshot-then-release
// reads) mirrors the teacher's trace.managerState pattern.
package quota

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	regtypes "github.com/edgebus/devicecore/registry/types"
	"github.com/edgebus/devicecore/errs"
)

// DefaultLimits match the compile-time knobs in spec.md §6.
func DefaultLimits() regtypes.Limits {
	return regtypes.Limits{
		MaxEventsPerSec:  0, // 0 = unlimited
		MaxSubscriptions: 32,
		MaxEventDataSize: 512,
		MaxMemoryBytes:   0,
	}
}

type serviceQuota struct {
	limits regtypes.Limits
	usage  regtypes.Usage

	windowStart time.Time
	windowCount int
}

// Manager tracks quota usage per service and global dispatch metrics.
type Manager struct {
	mu       sync.Mutex
	services map[regtypes.ServiceID]*serviceQuota

	// Global metrics, also mirrored into Prometheus for scraping.
	totalProcessed   uint64
	queueDepth       map[string]int
	maxQueueDepth    map[string]int
	overflowDrops    map[string]uint64
	handlerTimeouts  uint64
	watchdogTimeouts uint64
	lowPriorityDrops uint64

	reg *prometheus.Registry

	eventsProcessed  prometheus.Counter
	queueDepthGauge  *prometheus.GaugeVec
	overflowCounter  *prometheus.CounterVec
	handlerTimeoutC  prometheus.Counter
	watchdogTimeoutC prometheus.Counter
}

// NewManager builds an empty quota/metrics manager with its own Prometheus
// registry so multiple cores in the same process (e.g. in tests) do not
// collide on global metric registration.
func NewManager() *Manager {
	reg := prometheus.NewRegistry()
	m := &Manager{
		services:      make(map[regtypes.ServiceID]*serviceQuota),
		queueDepth:    make(map[string]int),
		maxQueueDepth: make(map[string]int),
		overflowDrops: make(map[string]uint64),
		reg:           reg,
		eventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devicecore_events_processed_total",
			Help: "Total events dispatched since init.",
		}),
		queueDepthGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "devicecore_queue_depth",
			Help: "Current per-tier queue depth.",
		}, []string{"tier"}),
		overflowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicecore_queue_overflow_total",
			Help: "Dropped or rejected events per tier.",
		}, []string{"tier"}),
		handlerTimeoutC: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devicecore_handler_timeouts_total",
			Help: "Handler invocations that exceeded the timeout threshold.",
		}),
		watchdogTimeoutC: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devicecore_watchdog_timeouts_total",
			Help: "Watchdog-detected stale-heartbeat transitions to ERROR.",
		}),
	}
	reg.MustRegister(m.eventsProcessed, m.queueDepthGauge, m.overflowCounter, m.handlerTimeoutC, m.watchdogTimeoutC)
	return m
}

// Registry exposes the Prometheus registry for an embedding process to
// serve on its own /metrics endpoint; devicecore does not open a listener
// itself (no HTTP surface is part of this core, per spec.md's scope).
func (m *Manager) Registry() *prometheus.Registry { return m.reg }

// Register creates (or replaces) a service's quota slot with limits as
// given; a zero-valued field means that ceiling is not enforced.
func (m *Manager) Register(id regtypes.ServiceID, limits regtypes.Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[id] = &serviceQuota{limits: limits, windowStart: time.Now()}
}

// Release drops a service's quota slot, called by unregister per spec.md §3.
func (m *Manager) Release(id regtypes.ServiceID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services, id)
}

// CheckEvent enforces the rolling 1-second events/sec ceiling before a post.
// A breach is recorded as a violation and rejected; it never terminates the
// service.
func (m *Manager) CheckEvent(id regtypes.ServiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sq, ok := m.services[id]
	if !ok {
		return errs.ErrNotFound
	}
	if sq.limits.MaxEventsPerSec <= 0 {
		return nil
	}

	now := time.Now()
	if now.Sub(sq.windowStart) >= time.Second {
		sq.windowStart = now
		sq.windowCount = 0
	}
	if sq.windowCount >= sq.limits.MaxEventsPerSec {
		sq.usage.Violations++
		return errs.ErrEventsExceeded
	}
	sq.windowCount++
	sq.usage.EventsThisWindow = sq.windowCount
	return nil
}

// CheckDataSize enforces spec.md's DATA_TOO_LARGE / DATA_SIZE_EXCEEDED rules.
func (m *Manager) CheckDataSize(id regtypes.ServiceID, size int, globalMax int) error {
	if size > globalMax {
		return errs.ErrDataTooLarge
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sq, ok := m.services[id]
	if !ok {
		return errs.ErrNotFound
	}
	if sq.limits.MaxEventDataSize > 0 && size > sq.limits.MaxEventDataSize {
		sq.usage.Violations++
		return errs.ErrDataSizeExceeded
	}
	return nil
}

// CheckSubscription enforces the per-service subscription cap before
// allowing a new (service, event-type) entry.
func (m *Manager) CheckSubscription(id regtypes.ServiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sq, ok := m.services[id]
	if !ok {
		return errs.ErrNotFound
	}
	if sq.limits.MaxSubscriptions > 0 && sq.usage.Subscriptions >= sq.limits.MaxSubscriptions {
		sq.usage.Violations++
		return errs.ErrSubscriptionsExceeded
	}
	return nil
}

// AdjustSubscriptions bumps the live subscription count by delta (+1 on
// subscribe, -1 on unsubscribe/unregister).
func (m *Manager) AdjustSubscriptions(id regtypes.ServiceID, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sq, ok := m.services[id]; ok {
		sq.usage.Subscriptions += delta
		if sq.usage.Subscriptions < 0 {
			sq.usage.Subscriptions = 0
		}
	}
}

// Usage returns a snapshot of a service's live quota usage.
func (m *Manager) Usage(id regtypes.ServiceID) regtypes.Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sq, ok := m.services[id]; ok {
		return sq.usage
	}
	return regtypes.Usage{}
}

// Limits returns a service's configured limits.
func (m *Manager) Limits(id regtypes.ServiceID) regtypes.Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sq, ok := m.services[id]; ok {
		return sq.limits
	}
	return regtypes.Limits{}
}

// RecordProcessed increments the global processed-events counter.
func (m *Manager) RecordProcessed() {
	m.mu.Lock()
	m.totalProcessed++
	m.mu.Unlock()
	m.eventsProcessed.Inc()
}

// SetQueueDepth records the current depth of a named tier (HIGH/NORMAL/LOW)
// and tracks the historical maximum.
func (m *Manager) SetQueueDepth(tier string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepth[tier] = depth
	if depth > m.maxQueueDepth[tier] {
		m.maxQueueDepth[tier] = depth
	}
	m.queueDepthGauge.WithLabelValues(tier).Set(float64(depth))
}

// RecordOverflow increments the overflow/drop counter for a tier. For the
// LOW tier this is the "low_priority_drops" counter from spec.md §4.5.
func (m *Manager) RecordOverflow(tier string) {
	m.mu.Lock()
	m.overflowDrops[tier]++
	if tier == "LOW" {
		m.lowPriorityDrops++
	}
	m.mu.Unlock()
	m.overflowCounter.WithLabelValues(tier).Inc()
}

// RecordHandlerTimeout increments the global handler-timeout counter.
func (m *Manager) RecordHandlerTimeout() {
	m.mu.Lock()
	m.handlerTimeouts++
	m.mu.Unlock()
	m.handlerTimeoutC.Inc()
}

// RecordWatchdogTimeout increments the global watchdog-timeout counter.
func (m *Manager) RecordWatchdogTimeout() {
	m.mu.Lock()
	m.watchdogTimeouts++
	m.mu.Unlock()
	m.watchdogTimeoutC.Inc()
}

// Snapshot is a point-in-time read of the global counters, taken under the
// manager's own lock (get_stats additionally takes the system lock around
// this call, per spec.md §4.1).
type Snapshot struct {
	TotalProcessed   uint64
	QueueDepth       map[string]int
	MaxQueueDepth    map[string]int
	OverflowDrops    map[string]uint64
	LowPriorityDrops uint64
	HandlerTimeouts  uint64
	WatchdogTimeouts uint64
}

// Snapshot returns a deep copy of the global metrics.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		TotalProcessed:   m.totalProcessed,
		QueueDepth:       make(map[string]int, len(m.queueDepth)),
		MaxQueueDepth:    make(map[string]int, len(m.maxQueueDepth)),
		OverflowDrops:    make(map[string]uint64, len(m.overflowDrops)),
		LowPriorityDrops: m.lowPriorityDrops,
		HandlerTimeouts:  m.handlerTimeouts,
		WatchdogTimeouts: m.watchdogTimeouts,
	}
	for k, v := range m.queueDepth {
		s.QueueDepth[k] = v
	}
	for k, v := range m.maxQueueDepth {
		s.MaxQueueDepth[k] = v
	}
	for k, v := range m.overflowDrops {
		s.OverflowDrops[k] = v
	}
	return s
}
