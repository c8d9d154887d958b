package planner

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/kmcguire3413/dbu/internal/container"
	"github.com/kmcguire3413/dbu/internal/device"
	"github.com/kmcguire3413/dbu/internal/toolrunner"
)

func TestSelectNearest(t *testing.T) {
	for _, tt := range []struct {
		name   string
		parts  []device.Partition
		cursor uint64
		want   int
	}{
		{
			name: "unsorted table picks lowest start",
			parts: []device.Partition{
				{DevicePath: "/dev/sda2", Start: 8192},
				{DevicePath: "/dev/sda1", Start: 1024},
			},
			cursor: 0,
			want:   1,
		},
		{
			name: "skips partitions before cursor",
			parts: []device.Partition{
				{DevicePath: "/dev/sda1", Start: 0},
				{DevicePath: "/dev/sda2", Start: 8192},
			},
			cursor: 5120,
			want:   1,
		},
		{
			name: "full tie at cursor keeps first listed",
			parts: []device.Partition{
				{DevicePath: "/dev/sda1", Start: 5120},
				{DevicePath: "/dev/sda2", Start: 5120},
			},
			cursor: 5120,
			want:   0,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got := selectNearest(tt.parts, tt.cursor)
			if got != tt.want {
				t.Errorf("selectNearest() = %d, want %d", got, tt.want)
			}
		})
	}
}

type fakeProber struct {
	parts       []device.Partition
	specialized map[string]bool
}

func (f *fakeProber) ListPartitions(ctx context.Context, dev string) ([]device.Partition, error) {
	return f.parts, nil
}

func (f *fakeProber) IsSpecialized(ctx context.Context, partDev string) bool {
	return f.specialized[partDev]
}

var _ device.Prober = (*fakeProber)(nil)

func TestPlanAndWriteNoPartitionsEmitsSingleRawGap(t *testing.T) {
	dir := t.TempDir()

	devPath := filepath.Join(dir, "disk.img")
	devBytes := bytes.Repeat([]byte{0xAB}, 4096)
	if err := os.WriteFile(devPath, devBytes, 0o644); err != nil {
		t.Fatal(err)
	}

	// A successful lister invocation that simply finds no partitions (an
	// unpartitioned device) must not be confused with an unreadable
	// partition table: it should fall straight through to one RAW_GAP
	// covering the whole device (§8 "device with no partitions").
	prober := &fakeProber{parts: []device.Partition{}, specialized: map[string]bool{}}

	p := &Planner{Prober: prober, Runner: &toolrunner.Runner{}}
	containerPath := filepath.Join(dir, "backup_MID_desc_1700000001")

	if err := p.PlanAndWrite(context.Background(), device.Device{Path: devPath, Size: 4096}, containerPath); err != nil {
		t.Fatal(err)
	}

	rd, err := container.Open(containerPath)
	if err != nil {
		t.Fatal(err)
	}

	if len(rd.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(rd.Records))
	}
	if rd.Records[0].Header.Kind != container.RawGap {
		t.Fatalf("record kind = %v, want RAW_GAP", rd.Records[0].Header.Kind)
	}
	if rd.Records[0].Header.TargetOffset != 0 {
		t.Fatalf("target_offset = %d, want 0", rd.Records[0].Header.TargetOffset)
	}

	r, err := rd.Records[0].Open()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, devBytes) {
		t.Errorf("payload mismatch: got %d bytes, want %d bytes", len(got), len(devBytes))
	}
}

func TestPlanAndWriteOpaquePartition(t *testing.T) {
	dir := t.TempDir()

	devPath := filepath.Join(dir, "disk.img")
	devBytes := bytes.Repeat([]byte{0xCC}, 4096)
	if err := os.WriteFile(devPath, devBytes, 0o644); err != nil {
		t.Fatal(err)
	}

	partPath := filepath.Join(dir, "disk.img1")
	partBytes := bytes.Repeat([]byte{0xDD}, 1024)
	if err := os.WriteFile(partPath, partBytes, 0o644); err != nil {
		t.Fatal(err)
	}

	prober := &fakeProber{
		parts: []device.Partition{
			{DevicePath: partPath, Start: 1024, End: 2047, Count: 1024},
		},
		specialized: map[string]bool{},
	}

	p := &Planner{Prober: prober, Runner: &toolrunner.Runner{}}
	containerPath := filepath.Join(dir, "backup_MID_desc_1700000000")

	if err := p.PlanAndWrite(context.Background(), device.Device{Path: devPath, Size: 4096}, containerPath); err != nil {
		t.Fatal(err)
	}

	rd, err := container.Open(containerPath)
	if err != nil {
		t.Fatal(err)
	}

	wantKinds := []container.Kind{container.RawGap, container.OpaquePart, container.RawGap}
	wantTargets := []uint64{0, 0, 2048}
	wantPayloads := [][]byte{devBytes[0:1024], partBytes, devBytes[2048:4096]}

	if len(rd.Records) != len(wantKinds) {
		t.Fatalf("got %d records, want %d", len(rd.Records), len(wantKinds))
	}

	for i, rec := range rd.Records {
		if rec.Header.Kind != wantKinds[i] {
			t.Errorf("record %d: kind = %v, want %v", i, rec.Header.Kind, wantKinds[i])
		}
		if rec.Header.Kind == container.RawGap && rec.Header.TargetOffset != wantTargets[i] {
			t.Errorf("record %d: target_offset = %d, want %d", i, rec.Header.TargetOffset, wantTargets[i])
		}
		r, err := rec.Open()
		if err != nil {
			t.Fatalf("record %d: Open: %v", i, err)
		}
		got, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Fatalf("record %d: ReadAll: %v", i, err)
		}
		if !bytes.Equal(got, wantPayloads[i]) {
			t.Errorf("record %d: payload mismatch: got %d bytes, want %d bytes", i, len(got), len(wantPayloads[i]))
		}
	}
}
