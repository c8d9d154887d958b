package restorer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kmcguire3413/dbu/internal/container"
	"github.com/kmcguire3413/dbu/internal/toolrunner"
)

type countingRescanner struct {
	calls int
	count int
}

func (r *countingRescanner) Rescan(ctx context.Context, devPath string, partitionCount int) error {
	r.calls++
	r.count = partitionCount
	return nil
}

func TestRestoreRawGapsAndOpaquePartitions(t *testing.T) {
	dir := t.TempDir()

	// Build a container with a gap, an opaque partition, and a trailing gap.
	containerPath := filepath.Join(dir, "backup_MID_desc_1700000000")
	wr, err := container.Create(containerPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := wr.WriteHeader(time.Unix(1700000000, 0)); err != nil {
		t.Fatal(err)
	}

	gap1 := bytes.Repeat([]byte{0x11}, 1024)
	if _, err := wr.WriteRecord(container.RawGap, 0, bytes.NewReader(gap1)); err != nil {
		t.Fatal(err)
	}
	partData := bytes.Repeat([]byte{0x22}, 2048)
	if _, err := wr.WriteRecord(container.OpaquePart, 0, bytes.NewReader(partData)); err != nil {
		t.Fatal(err)
	}
	gap2 := bytes.Repeat([]byte{0x33}, 1024)
	if _, err := wr.WriteRecord(container.RawGap, 3072, bytes.NewReader(gap2)); err != nil {
		t.Fatal(err)
	}
	if err := wr.Close(); err != nil {
		t.Fatal(err)
	}

	rd, err := container.Open(containerPath)
	if err != nil {
		t.Fatal(err)
	}

	// Target device and its first partition device node, pre-sized.
	devPath := filepath.Join(dir, "disk.img")
	if err := os.WriteFile(devPath, make([]byte, 4096), 0o644); err != nil {
		t.Fatal(err)
	}
	part1Path := devPath + "1"
	if err := os.WriteFile(part1Path, make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}

	rescanner := &countingRescanner{}
	seq := &Sequencer{Runner: &toolrunner.Runner{}, Rescanner: rescanner}

	if err := seq.Restore(context.Background(), rd, devPath); err != nil {
		t.Fatal(err)
	}

	if rescanner.calls != 1 {
		t.Fatalf("rescanner called %d times, want 1", rescanner.calls)
	}
	if rescanner.count != 1 {
		t.Fatalf("rescanner saw partitionCount %d, want 1", rescanner.count)
	}

	gotDev, err := os.ReadFile(devPath)
	if err != nil {
		t.Fatal(err)
	}
	wantDev := append(append([]byte{}, gap1...), append(make([]byte, 2048), gap2...)...)
	if !bytes.Equal(gotDev, wantDev) {
		t.Errorf("device contents mismatch")
	}

	gotPart, err := os.ReadFile(part1Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotPart, partData) {
		t.Errorf("partition contents mismatch")
	}
}
