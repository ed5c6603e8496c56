package app

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	apptypes "github.com/edgebus/devicecore/app/types"
	"github.com/edgebus/devicecore/errs"
)

// apkMagic is the 4-byte preamble every STORAGE/REMOTE app binary must
// start with, per spec.md §6.
var apkMagic = [4]byte{'A', 'P', 'P', 'K'}

// Fixed field widths and offsets of the on-disk `.apk` header, per
// spec.md §6: `{magic, name[32], version[16], author[32], size,
// entry_offset, crc32}`.
const (
	nameFieldLen    = 32
	versionFieldLen = 16
	authorFieldLen  = 32

	offMagic       = 0
	offName        = offMagic + 4
	offVersion     = offName + nameFieldLen
	offAuthor      = offVersion + versionFieldLen
	offSize        = offAuthor + authorFieldLen
	offEntryOffset = offSize + 4
	offCRC32       = offEntryOffset + 4
	headerLen      = offCRC32 + 4
)

// ParseBinary reads a fixed-layout `.apk` header plus the payload that
// follows it, verifying the CRC32 checksum before returning either. A
// stdlib checksum is used here deliberately: crc32 is a closed, stable
// algorithm with no ecosystem library adding anything a byte-for-byte
// hash/crc32.ChecksumIEEE call doesn't already give.
func ParseBinary(data []byte) (apptypes.BinaryHeader, []byte, error) {
	if len(data) < headerLen {
		return apptypes.BinaryHeader{}, nil, errs.ErrAppInvalidManifest
	}

	var hdr apptypes.BinaryHeader
	copy(hdr.Magic[:], data[offMagic:offMagic+4])
	if hdr.Magic != apkMagic {
		return apptypes.BinaryHeader{}, nil, errs.ErrAppInvalidManifest
	}
	hdr.Name = trimPadded(data[offName : offName+nameFieldLen])
	hdr.Version = trimPadded(data[offVersion : offVersion+versionFieldLen])
	hdr.Author = trimPadded(data[offAuthor : offAuthor+authorFieldLen])
	hdr.Size = binary.LittleEndian.Uint32(data[offSize : offSize+4])
	hdr.EntryOffset = binary.LittleEndian.Uint32(data[offEntryOffset : offEntryOffset+4])
	hdr.CRC32 = binary.LittleEndian.Uint32(data[offCRC32 : offCRC32+4])

	if len(data) < headerLen+int(hdr.Size) {
		return apptypes.BinaryHeader{}, nil, errs.ErrAppInvalidManifest
	}
	payload := data[headerLen : headerLen+int(hdr.Size)]

	if crc32.ChecksumIEEE(payload) != hdr.CRC32 {
		return apptypes.BinaryHeader{}, nil, errs.ErrAppInvalidManifest
	}

	return hdr, payload, nil
}

// trimPadded strips the trailing NUL padding a fixed-width header field
// carries on disk.
func trimPadded(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

// EncodeBinary writes a fixed-layout `.apk` blob for name/version/author
// wrapping payload, computing size/crc32 automatically. Used by tests and
// any STORAGE/REMOTE producer building a binary for this device to consume.
func EncodeBinary(name, version, author string, entryOffset uint32, payload []byte) []byte {
	buf := make([]byte, headerLen+len(payload))
	copy(buf[offMagic:offMagic+4], apkMagic[:])
	copy(buf[offName:offName+nameFieldLen], name)
	copy(buf[offVersion:offVersion+versionFieldLen], version)
	copy(buf[offAuthor:offAuthor+authorFieldLen], author)
	binary.LittleEndian.PutUint32(buf[offSize:offSize+4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[offEntryOffset:offEntryOffset+4], entryOffset)
	binary.LittleEndian.PutUint32(buf[offCRC32:offCRC32+4], crc32.ChecksumIEEE(payload))
	copy(buf[headerLen:], payload)
	return buf
}
