// Package types holds the app manifest and lifecycle shapes for C10/C12.
package types

import (
	"time"

	regtypes "github.com/edgebus/devicecore/registry/types"
)

// Source identifies where an app's binary came from.
type Source uint8

const (
	// SourceInternal apps are linked into the firmware image itself.
	SourceInternal Source = iota
	// SourceStorage apps are loaded from the on-device storage directory.
	SourceStorage
	// SourceRemote apps are fetched over the network at install time.
	SourceRemote
)

func (s Source) String() string {
	switch s {
	case SourceInternal:
		return "INTERNAL"
	case SourceStorage:
		return "STORAGE"
	case SourceRemote:
		return "REMOTE"
	default:
		return "UNKNOWN"
	}
}

// EntryFunc is invoked once when an app transitions to RUNNING.
type EntryFunc func(userData any) error

// ExitFunc is invoked once when an app transitions out of RUNNING for the
// last time (stop or uninstall).
type ExitFunc func(userData any)

// Manifest describes one installable app, validated with struct tags
// enforced at RegisterApp time.
type Manifest struct {
	Name     string    `validate:"required,max=31"`
	Version  string    `validate:"required"`
	Author   string    `validate:"max=63"`
	Entry    EntryFunc `validate:"required"`
	Exit     ExitFunc
	UserData any
	Source   Source

	// Location is the STORAGE path or REMOTE URL the binary is loaded
	// from. Unused for SourceInternal, where Name/Version/Entry already
	// fully describe the app.
	Location string
}

// BinaryHeader is the fixed on-disk `.apk` header for STORAGE/REMOTE apps,
// spec.md §6: magic 'APPK', then fixed-width name/version/author fields,
// then size/entry_offset/crc32 describing the payload that follows.
type BinaryHeader struct {
	Magic       [4]byte
	Name        string // NUL-padded name[32] on disk, trimmed on parse
	Version     string // NUL-padded version[16] on disk, trimmed on parse
	Author      string // NUL-padded author[32] on disk, trimmed on parse
	Size        uint32
	EntryOffset uint32
	CRC32       uint32
}

// Info is a read-only snapshot of an installed app.
type Info struct {
	ID        string
	Name      string
	Version   string
	Author    string
	Source    Source
	Service   regtypes.ServiceID
	State     regtypes.State
	InstallAt time.Time
}
