// Package registry implements C2: the name-keyed service registry. It owns
// the id/name maps, the lifecycle state machine and heartbeat timestamps.
// Locking follows spec.md §5: a single mutex guards every registry access;
// callers never hold it across a handler invocation.
package registry

import (
	"sync"
	"time"

	regtypes "github.com/edgebus/devicecore/registry/types"
	"github.com/edgebus/devicecore/errs"
	"github.com/edgebus/devicecore/quota"
)

// DefaultCapacity is the default maximum number of concurrently registered
// services (spec.md §6: "max services", default 16).
const DefaultCapacity = 16

type record struct {
	id            regtypes.ServiceID
	name          string
	state         regtypes.State
	context       any
	lastHeartbeat int64
	critical      bool
	restartCount  int
	logLevel      string
	seq           int // registration order, for ListAll
}

// Registry is the C2 service registry.
type Registry struct {
	mu       sync.Mutex
	capacity int
	quota    *quota.Manager

	byID   map[regtypes.ServiceID]*record
	byName map[string]regtypes.ServiceID
	order  []regtypes.ServiceID
	seq    int
}

// New builds a registry bounded at capacity, backed by the given quota
// manager (shared with the rest of the core so GetInfo can report live
// usage alongside lifecycle state).
func New(capacity int, qm *quota.Manager) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		quota:    qm,
		byID:     make(map[regtypes.ServiceID]*record),
		byName:   make(map[string]regtypes.ServiceID),
	}
}

// Register assigns the lowest free id to name, storing the caller-owned
// context pointer opaquely. The new service starts in UNREGISTERED; the
// caller transitions it to REGISTERED after finishing setup.
func (r *Registry) Register(name string, context any) (regtypes.ServiceID, error) {
	if name == "" || len(name) > regtypes.MaxNameLen {
		return regtypes.InvalidServiceID, errs.ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return regtypes.InvalidServiceID, errs.ErrAlreadyRegistered
	}
	if len(r.byID) >= r.capacity {
		return regtypes.InvalidServiceID, errs.ErrRegistryFull
	}

	id := r.lowestFreeID()
	r.seq++
	rec := &record{
		id:      id,
		name:    name,
		state:   regtypes.StateUnregistered,
		context: context,
		seq:     r.seq,
	}
	r.byID[id] = rec
	r.byName[name] = id
	r.order = append(r.order, id)

	if r.quota != nil {
		r.quota.Register(id, quota.DefaultLimits())
	}
	return id, nil
}

func (r *Registry) lowestFreeID() regtypes.ServiceID {
	var id regtypes.ServiceID
	for {
		if _, taken := r.byID[id]; !taken {
			return id
		}
		id++
	}
}

// Unregister transitions a service to UNREGISTERED and removes it from the
// registry. Callers (the core) must have already drained its subscriptions
// and quota slot through C12/C6 before calling this, per spec.md §3;
// Unregister itself also releases the quota slot defensively.
func (r *Registry) Unregister(id regtypes.ServiceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	delete(r.byID, id)
	delete(r.byName, rec.name)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.quota != nil {
		r.quota.Release(id)
	}
	return nil
}

// SetState validates and applies a state transition. Transitioning to
// RUNNING stamps a heartbeat; transitioning to ERROR increments the
// restart counter so the watchdog can reason about restart attempts.
func (r *Registry) SetState(id regtypes.ServiceID, next regtypes.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	if !rec.state.CanTransition(next) {
		return errs.ErrInvalidState
	}
	rec.state = next
	if next == regtypes.StateRunning {
		rec.lastHeartbeat = nowMS()
	}
	if next == regtypes.StateError {
		rec.restartCount++
	}
	return nil
}

// ForceState bypasses transition validation. Used only by the watchdog to
// move a service to ERROR on heartbeat expiry and, after its restart hook
// succeeds, to return a recovered service to REGISTERED, both of which are legitimate
// transitions spec.md's diagram already allows from RUNNING/PAUSED/ERROR.
func (r *Registry) ForceState(id regtypes.ServiceID, next regtypes.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	rec.state = next
	if next == regtypes.StateError {
		rec.restartCount++
	}
	return nil
}

// GetState returns a service's current lifecycle state.
func (r *Registry) GetState(id regtypes.ServiceID) (regtypes.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return regtypes.StateUnregistered, errs.ErrNotFound
	}
	return rec.state, nil
}

// Heartbeat stamps now_ms on a RUNNING service. Fails if the service is not
// RUNNING, matching spec.md §4.2.
func (r *Registry) Heartbeat(id regtypes.ServiceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	if rec.state != regtypes.StateRunning {
		return errs.ErrInvalidState
	}
	rec.lastHeartbeat = nowMS()
	return nil
}

// SetCritical marks a service critical for watchdog escalation purposes.
func (r *Registry) SetCritical(id regtypes.ServiceID, critical bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	rec.critical = critical
	return nil
}

// SetLimits updates a service's quota ceilings.
func (r *Registry) SetLimits(id regtypes.ServiceID, limits regtypes.Limits) error {
	r.mu.Lock()
	_, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return errs.ErrNotFound
	}
	if r.quota != nil {
		r.quota.Register(id, limits)
	}
	return nil
}

// GetInfo returns a read-only snapshot of a service record.
func (r *Registry) GetInfo(id regtypes.ServiceID) (regtypes.Info, error) {
	r.mu.Lock()
	rec, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return regtypes.Info{}, errs.ErrNotFound
	}
	info := regtypes.Info{
		ID:            rec.id,
		Name:          rec.name,
		State:         rec.state,
		Critical:      rec.critical,
		LogLevel:      rec.logLevel,
		RestartCount:  rec.restartCount,
		LastHeartbeat: rec.lastHeartbeat,
	}
	r.mu.Unlock()

	if r.quota != nil {
		info.Limits = r.quota.Limits(id)
		info.Usage = r.quota.Usage(id)
	}
	return info, nil
}

// Lookup resolves a name to its id.
func (r *Registry) Lookup(name string) (regtypes.ServiceID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	return id, ok
}

// Context returns the opaque context pointer a service registered with.
func (r *Registry) Context(id regtypes.ServiceID) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return rec.context, nil
}

// ListAll returns a snapshot of every registered service in registration
// order.
func (r *Registry) ListAll() []regtypes.Info {
	r.mu.Lock()
	out := make([]regtypes.Info, 0, len(r.order))
	for _, id := range r.order {
		rec := r.byID[id]
		out = append(out, regtypes.Info{
			ID:            rec.id,
			Name:          rec.name,
			State:         rec.state,
			Critical:      rec.critical,
			LogLevel:      rec.logLevel,
			RestartCount:  rec.restartCount,
			LastHeartbeat: rec.lastHeartbeat,
		})
	}
	r.mu.Unlock()

	if r.quota != nil {
		for i := range out {
			out[i].Limits = r.quota.Limits(out[i].ID)
			out[i].Usage = r.quota.Usage(out[i].ID)
		}
	}
	return out
}

// Count returns the number of currently registered services.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}
