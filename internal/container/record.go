// Package container implements the on-disk container format: an 8-byte
// header followed by a sequence of typed, length-prefixed, compressed
// records.
package container

import "fmt"

// Kind is a record's type tag.
type Kind uint8

const (
	// RawGap covers an absolute byte range of the device not claimed by
	// any partition (the partition table, inter-partition gaps, and the
	// tail of the device).
	RawGap Kind = 0
	// Specialized is a filesystem-aware (NTFS) "used blocks only" clone
	// stream, interpreted by the restore helper relative to the
	// partition device.
	Specialized Kind = 1
	// OpaquePart is a plain raw dump of a non-specialized partition
	// device, restored from offset zero.
	OpaquePart Kind = 2
)

func (k Kind) String() string {
	switch k {
	case RawGap:
		return "RAW_GAP"
	case Specialized:
		return "SPECIALIZED"
	case OpaquePart:
		return "OPAQUE_PART"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Valid reports whether k is a recognized kind tag (§4.5: kind_tag > 2 is
// invalid).
func (k Kind) Valid() bool { return k <= OpaquePart }

// headerSize is the fixed 17-byte on-disk record header: 1 byte kind_tag +
// 8 bytes payload_size + 8 bytes target_offset, all little-endian.
const headerSize = 1 + 8 + 8

// fileHeaderSize is the container's 8-byte creation-time header.
const fileHeaderSize = 8

// RecordHeader is the parsed form of one 17-byte on-disk record header.
type RecordHeader struct {
	Kind         Kind
	PayloadSize  uint64
	TargetOffset uint64
}
