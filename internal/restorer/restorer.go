// Package restorer implements the restore sequencer (C7): a two-phase
// apply that writes raw regions first so the kernel sees a valid partition
// table, rescans, then hands specialized and opaque partitions to the
// filesystem-aware restore tool or a raw writer.
package restorer

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/xerrors"

	"github.com/kmcguire3413/dbu/internal/container"
	"github.com/kmcguire3413/dbu/internal/toolrunner"
)

// Rescanner triggers a kernel partition-table rescan and waits for the
// resulting partition device nodes to settle. The production
// implementation (see rescan_linux.go) prefers a uevent-based wait;
// degrading to a fixed sleep (FixedDelayRescanner) is an acceptable
// fallback (§4.7).
type Rescanner interface {
	Rescan(ctx context.Context, devPath string, partitionCount int) error
}

// Sequencer restores one backup onto a target device.
type Sequencer struct {
	Runner    *toolrunner.Runner
	Rescanner Rescanner

	// RestoreTool is the filesystem-aware restore tool's argv[0] (default
	// "ntfsclone").
	RestoreTool string
}

func (s *Sequencer) restoreTool() string {
	if s.RestoreTool != "" {
		return s.RestoreTool
	}
	return "ntfsclone"
}

// Restore applies every record in rd to devPath. Per §7 "validation before
// apply", the caller must have already fully parsed rd (container.Open
// returns an error on any malformed record) before calling Restore, so a
// malformed container is rejected before any bytes are written.
func (s *Sequencer) Restore(ctx context.Context, rd *container.Reader, devPath string) error {
	if err := s.applyRawGaps(rd, devPath); err != nil {
		return err
	}

	partitionCount := 0
	for _, rec := range rd.Records {
		if rec.Header.Kind != container.RawGap {
			partitionCount++
		}
	}

	if partitionCount > 0 {
		if s.Rescanner != nil {
			if err := s.Rescanner.Rescan(ctx, devPath, partitionCount); err != nil {
				return xerrors.Errorf("rescanning %s: %w", devPath, err)
			}
		}
		if err := s.applyPartitions(ctx, rd, devPath); err != nil {
			return err
		}
	}

	return nil
}

// applyRawGaps is phase 1: write every RAW_GAP record's decompressed
// payload to devPath at its target_offset. These records include the
// partition table and boot sector, so after this phase the kernel can see
// the partitions.
func (s *Sequencer) applyRawGaps(rd *container.Reader, devPath string) error {
	f, err := os.OpenFile(devPath, os.O_WRONLY, 0)
	if err != nil {
		return xerrors.Errorf("opening %s for phase 1 write: %w", devPath, err)
	}
	defer f.Close()

	for _, rec := range rd.Records {
		if rec.Header.Kind != container.RawGap {
			continue
		}

		if _, err := f.Seek(int64(rec.Header.TargetOffset), io.SeekStart); err != nil {
			return xerrors.Errorf("seeking to %d on %s: %w", rec.Header.TargetOffset, devPath, err)
		}

		src, err := rec.Open()
		if err != nil {
			return err
		}
		_, err = io.Copy(f, src)
		src.Close()
		if err != nil {
			return xerrors.Errorf("writing raw gap at %d: %w", rec.Header.TargetOffset, err)
		}
	}

	return nil
}

// applyPartitions is phase 3: walk records in file order, maintaining a
// 1-based partition index, dispatching each SPECIALIZED record to the
// filesystem-aware restore tool and each OPAQUE_PART record to a raw write
// from offset zero, both against devPath+index.
func (s *Sequencer) applyPartitions(ctx context.Context, rd *container.Reader, devPath string) error {
	n := 1
	for _, rec := range rd.Records {
		if rec.Header.Kind == container.RawGap {
			continue
		}

		partDev := fmt.Sprintf("%s%d", devPath, n)

		switch rec.Header.Kind {
		case container.Specialized:
			if err := s.restoreSpecialized(ctx, rec, partDev); err != nil {
				return err
			}
		case container.OpaquePart:
			if err := s.restoreOpaque(rec, partDev); err != nil {
				return err
			}
		}

		log.Printf("restorer: restored %v onto %s", rec.Header.Kind, partDev)
		n++
	}

	return nil
}

func (s *Sequencer) restoreSpecialized(ctx context.Context, rec container.Record, partDev string) error {
	src, err := rec.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	handle, err := s.Runner.SpawnStream(ctx, []string{s.restoreTool(), "-", "-r", "--overwrite", partDev}, src, nil)
	if err != nil {
		return err
	}
	if err := handle.Wait(); err != nil {
		return xerrors.Errorf("ntfsclone restore onto %s: %w", partDev, err)
	}
	return nil
}

func (s *Sequencer) restoreOpaque(rec container.Record, partDev string) error {
	src, err := rec.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	f, err := os.OpenFile(partDev, os.O_WRONLY, 0)
	if err != nil {
		return xerrors.Errorf("opening %s: %w", partDev, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, src); err != nil {
		return xerrors.Errorf("writing opaque partition to %s: %w", partDev, err)
	}
	return nil
}

// FixedDelayRescanner is the fallback Rescanner matching the original
// implementation's blind time.sleep(3) bracketing the rescan write: it
// writes "1" to the device's /sys/block/<dev>/device/rescan hook, sleeping
// Before and After the write to give device nodes time to settle.
type FixedDelayRescanner struct {
	Before, After time.Duration
}

func (r *FixedDelayRescanner) Rescan(ctx context.Context, devPath string, partitionCount int) error {
	name := baseName(devPath)
	if name == "" {
		return nil
	}

	before, after := r.Before, r.After
	if before == 0 {
		before = 3 * time.Second
	}
	if after == 0 {
		after = 3 * time.Second
	}

	time.Sleep(before)

	hookPath := "/sys/block/" + name + "/device/rescan"
	f, err := os.OpenFile(hookPath, os.O_WRONLY, 0)
	if err != nil {
		return xerrors.Errorf("opening %s: %w", hookPath, err)
	}
	_, err = f.WriteString("1")
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return xerrors.Errorf("writing to %s: %w", hookPath, err)
	}

	time.Sleep(after)
	return nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
