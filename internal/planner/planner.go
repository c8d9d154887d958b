// Package planner implements the backup planner (C6): it walks a device's
// address space and interleaves raw-gap and partition records into a
// container.
package planner

import (
	"context"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/xerrors"

	"github.com/kmcguire3413/dbu/internal/container"
	"github.com/kmcguire3413/dbu/internal/dbuerr"
	"github.com/kmcguire3413/dbu/internal/device"
	"github.com/kmcguire3413/dbu/internal/toolrunner"
)

// Planner drives a device.Prober and toolrunner.Runner to write a complete
// container for one block device.
type Planner struct {
	Prober device.Prober
	Runner *toolrunner.Runner

	// CloneTool is the filesystem-aware clone tool's argv[0] (default
	// "ntfsclone") used in save mode.
	CloneTool string

	// ProgressEvery controls how often RAW_GAP copies log a progress line;
	// zero disables progress logging. OPAQUE_PART and SPECIALIZED copies log
	// no progress. Purely informational, never part of the contract (§9).
	ProgressEvery time.Duration
}

func (p *Planner) cloneTool() string {
	if p.CloneTool != "" {
		return p.CloneTool
	}
	return "ntfsclone"
}

// PlanAndWrite writes a complete container for dev to containerPath,
// implementing the seven-step algorithm in §4.6: write the header, then
// repeatedly select the partition with the smallest non-negative
// start-cursor delta (ties broken by lowest start), emit a RAW_GAP for the
// intervening space and a SPECIALIZED or OPAQUE_PART record for the
// partition itself, and finally emit one trailing RAW_GAP if the last
// partition does not reach the end of the device.
func (p *Planner) PlanAndWrite(ctx context.Context, dev device.Device, containerPath string) error {
	wr, err := container.Create(containerPath)
	if err != nil {
		return err
	}
	defer wr.Close()

	if err := wr.WriteHeader(time.Now()); err != nil {
		return xerrors.Errorf("writing container header: %w", err)
	}

	parts, err := p.Prober.ListPartitions(ctx, dev.Path)
	if err != nil {
		var unreadable *dbuerr.PartitionTableUnreadable
		if !xerrors.As(err, &unreadable) {
			return err
		}
		log.Printf("planner: %v; treating %s as one opaque range", err, dev.Path)
		return p.emitOpaqueDevice(ctx, wr, dev)
	}

	remaining := make([]device.Partition, len(parts))
	copy(remaining, parts)

	cursor := uint64(0)
	for len(remaining) > 0 {
		idx := selectNearest(remaining, cursor)
		if idx < 0 {
			part := remaining[0]
			return xerrors.Errorf("planner: partition %s starts at %d before cursor %d (overlapping layout)", part.DevicePath, part.Start, cursor)
		}
		part := remaining[idx]

		if err := p.emitGap(ctx, wr, dev, cursor, part.Start); err != nil {
			return err
		}

		if err := p.emitPartition(ctx, wr, part); err != nil {
			return err
		}

		cursor = part.End + 1
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}

	if cursor < dev.Size {
		if err := p.emitGap(ctx, wr, dev, cursor, dev.Size); err != nil {
			return err
		}
	}

	return nil
}

// selectNearest returns the index of the partition with the smallest
// non-negative start-cursor delta, breaking ties by the lowest start (§4.6
// step 3). It handles unsorted and non-contiguous partition tables (§8
// scenario 4). It returns -1 when every partition starts before cursor.
func selectNearest(parts []device.Partition, cursor uint64) int {
	best := -1
	var bestDelta uint64

	for i, part := range parts {
		if part.Start < cursor {
			continue
		}
		delta := part.Start - cursor
		if best == -1 || delta < bestDelta || (delta == bestDelta && part.Start < parts[best].Start) {
			best = i
			bestDelta = delta
		}
	}

	return best
}

func (p *Planner) emitGap(ctx context.Context, wr *container.Writer, dev device.Device, start, end uint64) error {
	// Zero-length gaps still produce a valid zero-length record per §4.6
	// step 4; emission stays unconditional since the reader tolerates it.
	length := end - start

	f, err := os.Open(dev.Path)
	if err != nil {
		return xerrors.Errorf("opening %s for raw gap read: %w", dev.Path, err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(start), io.SeekStart); err != nil {
		return xerrors.Errorf("seeking to gap offset %d: %w", start, err)
	}

	src := &countingLimitReader{r: io.LimitReader(f, int64(length)), device: dev.Path, offset: start, want: length}
	if p.ProgressEvery > 0 && length > 0 {
		src.log = p.ProgressEvery
	}

	if _, err := wr.WriteRecord(container.RawGap, start, src); err != nil {
		return xerrors.Errorf("writing raw gap [%d,%d): %w", start, end, err)
	}
	if src.gotBytes < length {
		return &dbuerr.DeviceShort{Device: dev.Path, Offset: start, Wanted: length, GotBytes: src.gotBytes}
	}

	return nil
}

func (p *Planner) emitPartition(ctx context.Context, wr *container.Writer, part device.Partition) error {
	if p.Prober.IsSpecialized(ctx, part.DevicePath) {
		return p.emitSpecialized(ctx, wr, part)
	}
	return p.emitOpaque(ctx, wr, part)
}

func (p *Planner) emitSpecialized(ctx context.Context, wr *container.Writer, part device.Partition) error {
	pr, pw := io.Pipe()
	defer pr.Close()

	handle, err := p.Runner.SpawnStream(ctx, []string{p.cloneTool(), part.DevicePath, "-s", "-o", "-"}, nil, pw)
	if err != nil {
		pw.Close()
		return err
	}

	waitErrCh := make(chan error, 1)
	go func() {
		waitErrCh <- handle.Wait()
		pw.Close()
	}()

	if _, err := wr.WriteRecord(container.Specialized, 0, pr); err != nil {
		<-waitErrCh
		return xerrors.Errorf("writing specialized record for %s: %w", part.DevicePath, err)
	}

	if err := <-waitErrCh; err != nil {
		return xerrors.Errorf("ntfsclone save for %s: %w", part.DevicePath, err)
	}

	log.Printf("planner: wrote SPECIALIZED record for %s", part.DevicePath)
	return nil
}

func (p *Planner) emitOpaque(ctx context.Context, wr *container.Writer, part device.Partition) error {
	f, err := os.Open(part.DevicePath)
	if err != nil {
		return xerrors.Errorf("opening %s: %w", part.DevicePath, err)
	}
	defer f.Close()

	if _, err := wr.WriteRecord(container.OpaquePart, 0, f); err != nil {
		return xerrors.Errorf("writing opaque record for %s: %w", part.DevicePath, err)
	}

	log.Printf("planner: wrote OPAQUE_PART record for %s", part.DevicePath)
	return nil
}

func (p *Planner) emitOpaqueDevice(ctx context.Context, wr *container.Writer, dev device.Device) error {
	f, err := os.Open(dev.Path)
	if err != nil {
		return xerrors.Errorf("opening %s: %w", dev.Path, err)
	}
	defer f.Close()

	if _, err := wr.WriteRecord(container.OpaquePart, 0, f); err != nil {
		return xerrors.Errorf("writing degraded opaque record for %s: %w", dev.Path, err)
	}
	return nil
}

// countingLimitReader wraps an io.LimitReader to count bytes actually read
// (to detect an abrupt end of device, §7 DeviceShort) and, optionally, to
// log a correct bytes-copied percentage periodically. This replaces the
// original implementation's percentage formula, which spec.md §9 flags as
// mathematically wrong; this one is informational only, same as the
// original, but actually correct.
type countingLimitReader struct {
	r        io.Reader
	device   string
	offset   uint64
	want     uint64
	gotBytes uint64
	log      time.Duration
	lastLog  time.Time
}

func (c *countingLimitReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.gotBytes += uint64(n)
	if c.log > 0 && c.want > 0 {
		if now := time.Now(); c.lastLog.IsZero() || now.Sub(c.lastLog) >= c.log {
			c.lastLog = now
			log.Printf("planner: %s copy %.1f%% complete (%d/%d bytes)", c.device, 100*float64(c.gotBytes)/float64(c.want), c.gotBytes, c.want)
		}
	}
	return n, err
}
