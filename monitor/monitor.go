// Package monitor implements C7: wrapping each handler invocation with a
// monotonic timer, tracking running totals for the average, the maximum
// observed duration, and a timeout count with an optional callback.
package monitor

import (
	"sync"
	"time"

	"github.com/yaoapp/kun/log"

	bustypes "github.com/edgebus/devicecore/bus/types"
	regtypes "github.com/edgebus/devicecore/registry/types"
)

// DefaultWarnThreshold is the "handler warn threshold ms" knob (spec.md §6).
const DefaultWarnThreshold = 50 * time.Millisecond

// DefaultTimeoutThreshold is 0 (disabled) per spec.md §6.
const DefaultTimeoutThreshold = 0

type serviceStats struct {
	count        uint64
	totalNanos   int64
	maxNanos     int64
	timeoutCount uint64
}

// EscalateFunc is invoked when a handler invocation crosses the configured
// timeout threshold.
type EscalateFunc func(service regtypes.ServiceID, typ string, d time.Duration)

// Monitor wraps handler invocation with timing and threshold diagnostics.
type Monitor struct {
	mu               sync.Mutex
	stats            map[regtypes.ServiceID]*serviceStats
	warnThreshold    time.Duration
	timeoutThreshold time.Duration
	onTimeout        EscalateFunc
}

// New builds a Monitor with the given warn/timeout thresholds. A zero
// timeoutThreshold disables timeout accounting, matching spec.md's default.
func New(warnThreshold, timeoutThreshold time.Duration) *Monitor {
	return &Monitor{
		stats:            make(map[regtypes.ServiceID]*serviceStats),
		warnThreshold:    warnThreshold,
		timeoutThreshold: timeoutThreshold,
	}
}

// OnTimeout registers the callback invoked when a handler exceeds the
// timeout threshold. Core wires a callback here that counts the timeout
// in the global metrics and logs it; the watchdog is not notified.
func (m *Monitor) OnTimeout(fn EscalateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTimeout = fn
}

// Invoke runs handler(ev, userData), timing the call. Handlers are
// cooperative and are never pre-empted: a long handler is observed,
// counted and diagnosed, not aborted, per spec.md §4.7/§5.
func (m *Monitor) Invoke(service regtypes.ServiceID, typeName string, ev *bustypes.Event, handler bustypes.Handler, userData any) {
	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("devicecore: handler panic: service=%d type=%s err=%v", service, typeName, r)
			}
		}()
		handler(ev, userData)
	}()
	d := time.Since(start)

	m.mu.Lock()
	st, ok := m.stats[service]
	if !ok {
		st = &serviceStats{}
		m.stats[service] = st
	}
	st.count++
	st.totalNanos += int64(d)
	if int64(d) > st.maxNanos {
		st.maxNanos = int64(d)
	}
	timeoutThreshold := m.timeoutThreshold
	onTimeout := m.onTimeout
	var timedOut bool
	if timeoutThreshold > 0 && d > timeoutThreshold {
		st.timeoutCount++
		timedOut = true
	}
	warn := m.warnThreshold
	m.mu.Unlock()

	if warn > 0 && d > warn {
		log.Warn("devicecore: slow handler: service=%d type=%s duration=%s", service, typeName, d)
	}
	if timedOut && onTimeout != nil {
		onTimeout(service, typeName, d)
	}
}

// Stats is a read-only snapshot of a service's handler-invocation metrics.
type Stats struct {
	Count        uint64
	Average      time.Duration
	Max          time.Duration
	TimeoutCount uint64
}

// Stats returns a snapshot for one service.
func (m *Monitor) Stats(service regtypes.ServiceID) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[service]
	if !ok {
		return Stats{}
	}
	var avg time.Duration
	if st.count > 0 {
		avg = time.Duration(st.totalNanos / int64(st.count))
	}
	return Stats{
		Count:        st.count,
		Average:      avg,
		Max:          time.Duration(st.maxNanos),
		TimeoutCount: st.timeoutCount,
	}
}

// Release drops a service's tracked stats, called on unregister.
func (m *Monitor) Release(service regtypes.ServiceID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stats, service)
}
