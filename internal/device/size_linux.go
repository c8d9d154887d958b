//go:build linux

package device

import (
	"os"

	"golang.org/x/sys/unix"
)

// blkGetSize64 and blkSsZGet mirror the Linux block-ioctl numbers
// (<linux/fs.h>, <linux/hdreg.h>) that golang.org/x/sys/unix does not
// itself export as named constants.
const (
	blkGetSize64 = 0x80081272
	blkSsZGet    = 0x1268
)

// QuerySize opens path and reads its total byte size and logical sector
// size via ioctl, falling back to the lister's declared unit size (passed
// as fallbackSector) when the ioctls are unavailable (e.g. the path is a
// regular file used in tests, not a block device).
func QuerySize(path string, fallbackSector uint64) (size, sector uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	fd := int(f.Fd())

	sector = fallbackSector
	if s, ioErr := unix.IoctlGetInt(fd, blkSsZGet); ioErr == nil && s > 0 {
		sector = uint64(s)
	}

	sz, ioErr := unixIoctlGetUint64(fd, blkGetSize64)
	if ioErr != nil {
		if fi, statErr := f.Stat(); statErr == nil && fi.Size() > 0 {
			return uint64(fi.Size()), sector, nil
		}
		return 0, sector, ioErr
	}

	return sz, sector, nil
}

func unixIoctlGetUint64(fd int, req uint) (uint64, error) {
	return unix.IoctlGetUint64(fd, req)
}
