// Package bkupdir implements backup-directory discovery (§6): mounting
// each candidate partition at a temporary mountpoint, looking for the
// backup.drive marker file at its root, and releasing the mount whether or
// not it matched.
//
// spec.md §9 notes that the original implementation short-circuits this
// entirely with a hard-coded path, making the mount/unmount logic dead
// code; the open question is resolved here in favor of implementing the
// real mount-based ritual (see Config.FixedPath for the escape hatch that
// reproduces the original's shortcut explicitly, rather than leaving it as
// unreachable code).
package bkupdir

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/kmcguire3413/dbu/internal/device"
	"github.com/kmcguire3413/dbu/internal/toolrunner"
)

// markerFile is the file a candidate partition must contain at its root to
// be recognized as the backup store.
const markerFile = "backup.drive"

// Config configures discovery.
type Config struct {
	Runner *toolrunner.Runner
	Prober device.Prober

	// CandidateDevice is the device whose partitions are considered for
	// mounting (e.g. the machine's boot disk, distinct from the backup
	// target disk).
	CandidateDevice string

	// FixedPath, when non-empty, short-circuits discovery and returns this
	// path directly without touching mount/umount at all. This reproduces
	// the original implementation's hard-coded development shortcut
	// (get_valid_backup_path's early return), but gated behind an explicit
	// field instead of silently-dead code.
	FixedPath string
}

// Discoverer finds the directory holding this host's backup files by
// mounting each partition of CandidateDevice in turn.
type Discoverer struct {
	cfg Config
}

func New(cfg Config) *Discoverer {
	return &Discoverer{cfg: cfg}
}

// Discover returns the first mountpoint whose root contains backup.drive.
func (d *Discoverer) Discover(ctx context.Context) (string, error) {
	if d.cfg.FixedPath != "" {
		return d.cfg.FixedPath, nil
	}

	parts, err := d.cfg.Prober.ListPartitions(ctx, d.cfg.CandidateDevice)
	if err != nil {
		return "", xerrors.Errorf("bkupdir: listing partitions of %s: %w", d.cfg.CandidateDevice, err)
	}

	for _, part := range parts {
		mountpoint, err := os.MkdirTemp("", "dbu-bkupdir-")
		if err != nil {
			return "", xerrors.Errorf("bkupdir: creating mountpoint: %w", err)
		}

		found, mountErr := d.tryMount(ctx, part.DevicePath, mountpoint)

		// Always attempt to release the mount, whether or not it matched
		// (§6): a failed unmount is logged via the tool driver's stderr
		// forwarding but does not by itself fail discovery of an already
		// found marker.
		_, _ = d.cfg.Runner.RunCollecting(ctx, "umount", mountpoint)
		os.Remove(mountpoint)

		if mountErr != nil {
			continue
		}
		if found {
			return mountpoint, nil
		}
	}

	return "", xerrors.New("bkupdir: no partition of " + d.cfg.CandidateDevice + " carries " + markerFile)
}

func (d *Discoverer) tryMount(ctx context.Context, partDev, mountpoint string) (found bool, err error) {
	if _, err := d.cfg.Runner.RunCollecting(ctx, "mount", partDev, mountpoint); err != nil {
		return false, err
	}
	_, statErr := os.Stat(filepath.Join(mountpoint, markerFile))
	return statErr == nil, nil
}
