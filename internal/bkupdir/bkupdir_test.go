package bkupdir

import (
	"context"
	"testing"

	"github.com/kmcguire3413/dbu/internal/device"
)

func TestDiscoverFixedPathShortCircuits(t *testing.T) {
	d := New(Config{FixedPath: "/mnt/backups"})
	got, err := d.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "/mnt/backups" {
		t.Errorf("got %q, want /mnt/backups", got)
	}
}

type erroringProber struct{}

func (erroringProber) ListPartitions(ctx context.Context, dev string) ([]device.Partition, error) {
	return nil, errListPartitions
}
func (erroringProber) IsSpecialized(ctx context.Context, partDev string) bool { return false }

var errListPartitions = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }

func TestDiscoverPropagatesListPartitionsError(t *testing.T) {
	d := New(Config{Prober: erroringProber{}, CandidateDevice: "/dev/sda"})
	if _, err := d.Discover(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
