// Package types holds the wire-level shapes of the event bus: priorities
// and the in-flight event envelope described in spec.md §3.
package types

import (
	"encoding/binary"

	"github.com/edgebus/devicecore/eventtype"
	regtypes "github.com/edgebus/devicecore/registry/types"
)

// Priority orders delivery. CRITICAL bypasses the queue entirely and is
// delivered synchronously on the posting thread.
type Priority uint8

const (
	Low Priority = iota
	Normal
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "LOW"
	case Normal:
		return "NORMAL"
	case High:
		return "HIGH"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Event is the read-only view handlers receive. Payload is a private copy
// made at Post time, not a view into the caller's buffer, so a handler may
// retain it past return without aliasing the sender's slice.
type Event struct {
	Type      eventtype.ID
	Priority  Priority
	Sender    regtypes.ServiceID
	Sequence  uint64
	CreatedAt int64 // Unix time in milliseconds, not time since boot
	Payload   []byte
}

// PayloadHeader is the optional 4-byte {version, total_size} convention
// from spec.md §3. ParseHeader decodes it and VersionMatches reports a
// mismatch; the bus itself never inspects the header, so a mismatch never
// aborts delivery and the caller decides whether to log it.
type PayloadHeader struct {
	Version   uint16
	TotalSize uint16
}

// ParseHeader reads the first 4 bytes of payload as a PayloadHeader. ok is
// false if the payload is shorter than 4 bytes.
func ParseHeader(payload []byte) (hdr PayloadHeader, ok bool) {
	if len(payload) < 4 {
		return PayloadHeader{}, false
	}
	hdr.Version = binary.LittleEndian.Uint16(payload[0:2])
	hdr.TotalSize = binary.LittleEndian.Uint16(payload[2:4])
	return hdr, true
}

// VersionMatches reports whether a parsed header's TotalSize agrees with
// the actual payload length, the check spec.md calls VERSION_MISMATCH.
func (h PayloadHeader) VersionMatches(payloadLen int) bool {
	return int(h.TotalSize) == payloadLen
}

// Handler processes one matching event. It has no return value: handlers
// are cooperative void callbacks and cannot fail upward (spec.md §7).
type Handler func(ev *Event, userData any)
