// Package captable implements C11: the stable, append-only capability
// table handed to dynamically loaded apps. Once built it is read-only —
// new categories are added by appending a new version, never mutating
// an existing one, so an app compiled against an older version keeps
// working unmodified.
package captable

import (
	bustypes "github.com/edgebus/devicecore/bus/types"
	"github.com/edgebus/devicecore/eventtype"
	regtypes "github.com/edgebus/devicecore/registry/types"
)

// Version is bumped only when a category is appended. Never reordered.
const Version uint32 = 1

// ServiceAPI is the service-management function category.
type ServiceAPI struct {
	Register   func(name string, context any) (regtypes.ServiceID, error)
	Unregister func(id regtypes.ServiceID) error
	SetState   func(id regtypes.ServiceID, state regtypes.State) error
	Heartbeat  func(id regtypes.ServiceID) error
}

// EventAPI is the event-bus function category.
type EventAPI struct {
	RegisterType func(name string) (eventtype.ID, error)
	Subscribe    func(service regtypes.ServiceID, typ eventtype.ID, handler bustypes.Handler, userData any) error
	Unsubscribe  func(service regtypes.ServiceID, typ eventtype.ID)
	Post         func(sender regtypes.ServiceID, typ eventtype.ID, payload []byte, priority bustypes.Priority) error
}

// AllocAPI is the allocation function category. Each function receives
// the calling service's id; the table core builds serves every
// allocation from the Go heap, with no per-service quota and no arena.
type AllocAPI struct {
	Alloc   func(service regtypes.ServiceID, size int) ([]byte, error)
	Free    func(service regtypes.ServiceID, buf []byte)
	Calloc  func(service regtypes.ServiceID, n, size int) ([]byte, error)
	Realloc func(service regtypes.ServiceID, buf []byte, newSize int) ([]byte, error)
}

// DiagAPI is the diagnostics function category.
type DiagAPI struct {
	LogWrite func(service regtypes.ServiceID, level string, msg string)
}

// TimeAPI is the time function category.
type TimeAPI struct {
	SleepMS func(ms int)
	Ticks   func() int64
}

// Table is the capability table handed to apps: a flat, versioned set
// of function-pointer categories. It is built once by core and never
// mutated afterward — callers receive it by value, not by pointer, so
// there is nothing to accidentally share-write.
type Table struct {
	Version uint32
	Service ServiceAPI
	Event   EventAPI
	Alloc   AllocAPI
	Diag    DiagAPI
	Time    TimeAPI
}

// Builder assembles a Table one category at a time. It exists so core
// can wire each category independently without a single giant
// constructor call.
type Builder struct {
	t Table
}

// NewBuilder starts a new capability table at the current Version.
func NewBuilder() *Builder {
	return &Builder{t: Table{Version: Version}}
}

// WithService sets the service-management category.
func (b *Builder) WithService(api ServiceAPI) *Builder {
	b.t.Service = api
	return b
}

// WithEvent sets the event-bus category.
func (b *Builder) WithEvent(api EventAPI) *Builder {
	b.t.Event = api
	return b
}

// WithAlloc sets the allocation category.
func (b *Builder) WithAlloc(api AllocAPI) *Builder {
	b.t.Alloc = api
	return b
}

// WithDiag sets the diagnostics category.
func (b *Builder) WithDiag(api DiagAPI) *Builder {
	b.t.Diag = api
	return b
}

// WithTime sets the time category.
func (b *Builder) WithTime(api TimeAPI) *Builder {
	b.t.Time = api
	return b
}

// Build returns the finished, immutable table.
func (b *Builder) Build() Table {
	return b.t
}
