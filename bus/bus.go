// Package bus implements C5: the priority-ordered bounded event bus.
// Three FIFO queues (HIGH, NORMAL, LOW) feed a single dispatcher goroutine;
// CRITICAL events bypass the queue and are delivered synchronously on the
// posting goroutine. Locking follows spec.md §5: the queue's own mutex and
// condition variable serialise producers and the dispatcher; handlers run
// with no lock held.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/yaoapp/kun/log"

	bustypes "github.com/edgebus/devicecore/bus/types"
	"github.com/edgebus/devicecore/errs"
	"github.com/edgebus/devicecore/eventtype"
	"github.com/edgebus/devicecore/monitor"
	"github.com/edgebus/devicecore/quota"
	regtypes "github.com/edgebus/devicecore/registry/types"
	"github.com/edgebus/devicecore/subscription"
)

// Defaults from spec.md §6.
const (
	DefaultQueueSlots  = 32
	DefaultMaxDataSize = 512
)

type queuedEvent struct {
	ev   bustypes.Event
	tier bustypes.Priority
}

type tierQueue struct {
	items []queuedEvent
	cap   int
}

func (q *tierQueue) push(ev queuedEvent) bool {
	if len(q.items) >= q.cap {
		return false
	}
	q.items = append(q.items, ev)
	return true
}

func (q *tierQueue) pop() (queuedEvent, bool) {
	if len(q.items) == 0 {
		return queuedEvent{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}

// Bus is the C5 event bus.
type Bus struct {
	mu   sync.Mutex
	cond *sync.Cond

	high, normal, low *tierQueue
	maxDataSize       int

	types *eventtype.Registry
	subs  *subscription.Table
	qm    *quota.Manager
	mon   *monitor.Monitor

	seq uint64

	running  bool
	draining bool
	done     chan struct{}
}

// New builds a bus with the given per-tier slot count and max payload
// size, wired to the event-type registry, subscription table, quota
// manager and handler monitor it dispatches through.
func New(queueSlots, maxDataSize int, types *eventtype.Registry, subs *subscription.Table, qm *quota.Manager, mon *monitor.Monitor) *Bus {
	if queueSlots <= 0 {
		queueSlots = DefaultQueueSlots
	}
	if maxDataSize <= 0 {
		maxDataSize = DefaultMaxDataSize
	}
	b := &Bus{
		high:        &tierQueue{cap: queueSlots},
		normal:      &tierQueue{cap: queueSlots},
		low:         &tierQueue{cap: queueSlots},
		maxDataSize: maxDataSize,
		types:       types,
		subs:        subs,
		qm:          qm,
		mon:         mon,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Start launches the dispatcher goroutine.
func (b *Bus) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.draining = false
	b.done = make(chan struct{})
	b.mu.Unlock()

	go b.run()
}

// Stop signals the dispatcher to drain pending queued events and joins it.
// The registries and queues are left intact so Start can resume later.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.draining = true
	b.cond.Broadcast()
	done := b.done
	b.mu.Unlock()

	<-done

	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for {
			if item, tier, ok := b.dequeueLocked(); ok {
				b.mu.Unlock()
				b.deliver(item, tier)
				b.mu.Lock()
				continue
			}
			if b.draining {
				b.mu.Unlock()
				return
			}
			b.cond.Wait()
		}
	}
}

// dequeueLocked must be called with b.mu held. Strict priority: HIGH drains
// before NORMAL before LOW; within a tier, FIFO.
func (b *Bus) dequeueLocked() (queuedEvent, bustypes.Priority, bool) {
	if item, ok := b.high.pop(); ok {
		b.recordDepth()
		return item, bustypes.High, true
	}
	if item, ok := b.normal.pop(); ok {
		b.recordDepth()
		return item, bustypes.Normal, true
	}
	if item, ok := b.low.pop(); ok {
		b.recordDepth()
		return item, bustypes.Low, true
	}
	return queuedEvent{}, 0, false
}

func (b *Bus) recordDepth() {
	if b.qm == nil {
		return
	}
	b.qm.SetQueueDepth("HIGH", len(b.high.items))
	b.qm.SetQueueDepth("NORMAL", len(b.normal.items))
	b.qm.SetQueueDepth("LOW", len(b.low.items))
}

func (b *Bus) deliver(item queuedEvent, _ bustypes.Priority) {
	b.dispatchTo(&item.ev)
}

// dispatchTo snapshots the subscriber list for ev.Type under the
// subscription table's own lock, then invokes each handler with no lock
// held, per spec.md §5.
func (b *Bus) dispatchTo(ev *bustypes.Event) {
	entries := b.subs.Subscribers(ev.Type)
	typeName, _ := b.types.GetTypeName(ev.Type)
	for _, e := range entries {
		b.mon.Invoke(e.Service, typeName, ev, e.Handler, e.UserData)
	}
	if b.qm != nil {
		b.qm.RecordProcessed()
	}
}

// Subscribe registers handler for (service, typ) on the subscription
// table, enforcing the per-service subscription quota.
func (b *Bus) Subscribe(service regtypes.ServiceID, typ eventtype.ID, handler bustypes.Handler, userData any) error {
	if !b.types.Has(typ) {
		return errs.ErrTypeNotFound
	}
	if b.qm != nil {
		if err := b.qm.CheckSubscription(service); err != nil {
			return err
		}
	}
	before := b.subs.CountForService(service)
	if err := b.subs.Subscribe(service, typ, handler, userData); err != nil {
		return err
	}
	if b.qm != nil && b.subs.CountForService(service) > before {
		b.qm.AdjustSubscriptions(service, 1)
	}
	return nil
}

// Unsubscribe removes a (service, typ) entry. Idempotent.
func (b *Bus) Unsubscribe(service regtypes.ServiceID, typ eventtype.ID) {
	before := b.subs.CountForService(service)
	b.subs.Unsubscribe(service, typ)
	after := b.subs.CountForService(service)
	if b.qm != nil && after < before {
		b.qm.AdjustSubscriptions(service, -1)
	}
}

// Post copies payload into a queue slot (or, for CRITICAL, dispatches it
// synchronously on the calling goroutine) per spec.md §4.5.
func (b *Bus) Post(sender regtypes.ServiceID, typ eventtype.ID, payload []byte, priority bustypes.Priority) error {
	if !b.types.Has(typ) {
		return errs.ErrTypeNotFound
	}
	if b.qm != nil {
		if err := b.qm.CheckDataSize(sender, len(payload), b.maxDataSize); err != nil {
			return err
		}
		if err := b.qm.CheckEvent(sender); err != nil {
			return err
		}
	} else if len(payload) > b.maxDataSize {
		return errs.ErrDataTooLarge
	}

	seq := atomic.AddUint64(&b.seq, 1)
	cp := make([]byte, len(payload))
	copy(cp, payload)

	ev := bustypes.Event{
		Type:      typ,
		Priority:  priority,
		Sender:    sender,
		Sequence:  seq,
		CreatedAt: time.Now().UnixMilli(),
		Payload:   cp,
	}

	if priority == bustypes.Critical {
		b.dispatchTo(&ev)
		return nil
	}

	b.mu.Lock()
	var q *tierQueue
	var tierName string
	switch priority {
	case bustypes.High:
		q, tierName = b.high, "HIGH"
	case bustypes.Normal:
		q, tierName = b.normal, "NORMAL"
	default:
		q, tierName = b.low, "LOW"
	}

	ok := q.push(queuedEvent{ev: ev, tier: priority})
	b.recordDepth()
	b.cond.Signal()
	b.mu.Unlock()

	if ok {
		return nil
	}

	if priority == bustypes.Low {
		if b.qm != nil {
			b.qm.RecordOverflow(tierName)
		}
		log.Warn("devicecore: low priority queue full, dropping event type=%d", typ)
		return nil
	}
	if b.qm != nil {
		b.qm.RecordOverflow(tierName)
	}
	return errs.ErrQueueFull
}

// PostAsync is semantically identical to the queued path of Post; it
// exists only as a name distinction per spec.md §4.5. Unlike Post, it
// never dispatches synchronously: a CRITICAL priority is queued as HIGH
// instead of bypassing the queue.
func (b *Bus) PostAsync(sender regtypes.ServiceID, typ eventtype.ID, payload []byte, priority bustypes.Priority) error {
	if priority == bustypes.Critical {
		priority = bustypes.High
	}
	return b.Post(sender, typ, payload, priority)
}

// Depths returns the current queue depth per tier, for diagnostics.
func (b *Bus) Depths() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]int{
		"HIGH":   len(b.high.items),
		"NORMAL": len(b.normal.items),
		"LOW":    len(b.low.items),
	}
}
