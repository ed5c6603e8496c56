package app

import (
	"sync"

	"github.com/edgebus/devicecore/eventtype"
	regtypes "github.com/edgebus/devicecore/registry/types"
)

// DefaultMaxTrackedPerService bounds how many event-type subscriptions
// the lifecycle tracker remembers per service before Clear.
const DefaultMaxTrackedPerService = 64

// Lifecycle implements C12: it remembers, per service, which event
// types that service has subscribed to, so stopping or uninstalling an
// app can clean up every subscription it leaked without the app having
// to unsubscribe from each one itself.
type Lifecycle struct {
	mu       sync.Mutex
	capacity int
	tracked  map[regtypes.ServiceID][]eventtype.ID
}

// NewLifecycle builds a tracker bounding each service to capacity
// tracked subscriptions.
func NewLifecycle(capacity int) *Lifecycle {
	if capacity <= 0 {
		capacity = DefaultMaxTrackedPerService
	}
	return &Lifecycle{
		capacity: capacity,
		tracked:  make(map[regtypes.ServiceID][]eventtype.ID),
	}
}

// Track records that service subscribed to typ. Safe to call more than
// once for the same pair; it will not grow the tracked list unbounded
// for repeated re-subscribes.
func (l *Lifecycle) Track(service regtypes.ServiceID, typ eventtype.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.tracked[service] {
		if t == typ {
			return
		}
	}
	if len(l.tracked[service]) >= l.capacity {
		return
	}
	l.tracked[service] = append(l.tracked[service], typ)
}

// Untrack removes one (service, typ) pair, mirroring an explicit
// unsubscribe.
func (l *Lifecycle) Untrack(service regtypes.ServiceID, typ eventtype.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.tracked[service]
	for i, t := range list {
		if t == typ {
			l.tracked[service] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Subscriptions returns the event types currently tracked for service,
// the list the caller walks to unsubscribe everything on stop.
func (l *Lifecycle) Subscriptions(service regtypes.ServiceID) []eventtype.ID {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]eventtype.ID, len(l.tracked[service]))
	copy(out, l.tracked[service])
	return out
}

// Count returns how many subscriptions are tracked for service.
func (l *Lifecycle) Count(service regtypes.ServiceID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tracked[service])
}

// Clear drops every tracked subscription for service, called once its
// subscriptions have actually been torn down on the bus.
func (l *Lifecycle) Clear(service regtypes.ServiceID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tracked, service)
}
