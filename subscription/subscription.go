// Package subscription implements C4: the (service, event-type) -> handler
// table the bus dispatches against. Iteration order per event-type is
// insertion order so dispatch is deterministic, per spec.md §4.4.
package subscription

import (
	"sync"

	bustypes "github.com/edgebus/devicecore/bus/types"
	"github.com/edgebus/devicecore/errs"
	"github.com/edgebus/devicecore/eventtype"
	regtypes "github.com/edgebus/devicecore/registry/types"
)

// DefaultCapacity matches the "max subscribers" knob in spec.md §6.
const DefaultCapacity = 32

// Entry is one subscription: the handler plus its borrowed user-data.
type Entry struct {
	Service  regtypes.ServiceID
	Type     eventtype.ID
	Handler  bustypes.Handler
	UserData any
}

type key struct {
	service regtypes.ServiceID
	typ     eventtype.ID
}

// Table is the C4 subscription table.
type Table struct {
	mu       sync.RWMutex
	capacity int

	byKey     map[key]*Entry
	byType    map[eventtype.ID][]*Entry // insertion order per type
	byService map[regtypes.ServiceID][]eventtype.ID
}

// New builds a subscription table bounded at capacity.
func New(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{
		capacity:  capacity,
		byKey:     make(map[key]*Entry),
		byType:    make(map[eventtype.ID][]*Entry),
		byService: make(map[regtypes.ServiceID][]eventtype.ID),
	}
}

// Subscribe registers handler for (service, typ). A second subscribe for
// the same pair replaces the prior entry in place (last-writer-wins) so
// re-subscription on service re-init is always safe; it does not count
// twice against SUBSCRIPTION_FULL.
func (t *Table) Subscribe(service regtypes.ServiceID, typ eventtype.ID, handler bustypes.Handler, userData any) error {
	if handler == nil {
		return errs.ErrHandlerRequired
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{service, typ}
	if existing, ok := t.byKey[k]; ok {
		existing.Handler = handler
		existing.UserData = userData
		return nil
	}

	if len(t.byKey) >= t.capacity {
		return errs.ErrSubscriptionFull
	}

	entry := &Entry{Service: service, Type: typ, Handler: handler, UserData: userData}
	t.byKey[k] = entry
	t.byType[typ] = append(t.byType[typ], entry)
	t.byService[service] = append(t.byService[service], typ)
	return nil
}

// Unsubscribe removes a (service, typ) entry. It is idempotent: removing an
// absent pair is a no-op, per spec.md §4.4.
func (t *Table) Unsubscribe(service regtypes.ServiceID, typ eventtype.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unsubscribeLocked(service, typ)
}

func (t *Table) unsubscribeLocked(service regtypes.ServiceID, typ eventtype.ID) {
	k := key{service, typ}
	if _, ok := t.byKey[k]; !ok {
		return
	}
	delete(t.byKey, k)

	list := t.byType[typ]
	for i, e := range list {
		if e.Service == service {
			t.byType[typ] = append(list[:i], list[i+1:]...)
			break
		}
	}
	types := t.byService[service]
	for i, tt := range types {
		if tt == typ {
			t.byService[service] = append(types[:i], types[i+1:]...)
			break
		}
	}
}

// UnsubscribeAll removes every subscription belonging to service, used by
// C12 when an app stops or a service unregisters. Returns the count
// removed.
func (t *Table) UnsubscribeAll(service regtypes.ServiceID) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	types := append([]eventtype.ID(nil), t.byService[service]...)
	for _, typ := range types {
		t.unsubscribeLocked(service, typ)
	}
	return len(types)
}

// Subscribers returns a snapshot of the handlers subscribed to typ, in
// insertion order. The snapshot is taken under the table's own read lock,
// which is released before the dispatcher invokes any handler.
func (t *Table) Subscribers(typ eventtype.ID) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list := t.byType[typ]
	out := make([]Entry, len(list))
	for i, e := range list {
		out[i] = *e
	}
	return out
}

// Count returns the total number of live subscriptions.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byKey)
}

// CountForService returns how many subscriptions a given service holds.
func (t *Table) CountForService(service regtypes.ServiceID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byService[service])
}
