//go:build !linux

package device

import "os"

// QuerySize falls back to a plain stat on platforms without Linux block
// ioctls; dbu's external helpers (fdisk, ntfsclone, the rescan hook) are
// Linux-only regardless, but keeping this build tag lets the package
// compile (and its tests run against regular files) elsewhere.
func QuerySize(path string, fallbackSector uint64) (size, sector uint64, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fallbackSector, err
	}
	return uint64(fi.Size()), fallbackSector, nil
}
