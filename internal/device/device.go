// Package device models a block device and its partitions (D and P in the
// data model) and probes a live device's layout through external tools.
package device

// Device is a block device identified by a path, with a total byte size and
// a sector size. Sector size is used only to interpret partition-table
// units.
type Device struct {
	Path       string
	Size       uint64
	SectorSize uint64
}

// Partition belongs to one Device. start and end are inclusive byte offsets
// within the device; count is the byte count after rounding to sector
// granularity.
//
// Invariants: 0 <= Start <= End < Device.Size; partitions of the same
// device do not overlap; End - Start + 1 == Count.
type Partition struct {
	DevicePath string
	Start      uint64
	End        uint64
	Count      uint64

	// Boot, SizeStr and TypeStr are carried from the lister's text columns
	// for informational display only; no invariant depends on them.
	Boot    bool
	SizeStr string
	TypeStr string
}
