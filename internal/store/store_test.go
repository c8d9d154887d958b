package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kmcguire3413/dbu/internal/container"
)

func TestValidDescription(t *testing.T) {
	for _, tt := range []struct {
		desc string
		want bool
	}{
		{"My/Backup", false},
		{"Daily - 2024", true},
		{"", false},
		{"this-description-is-definitely-too-long-for-the-grammar", false},
		{"plain", true},
		{"with-hyphen", true},
	} {
		if got := ValidDescription(tt.desc); got != tt.want {
			t.Errorf("ValidDescription(%q) = %v, want %v", tt.desc, got, tt.want)
		}
	}
}

func TestParseFilename(t *testing.T) {
	machineID, desc, epoch, ok := parseFilename("backup_DMI1234_Daily Backup_1700000000")
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if machineID != "DMI1234" || desc != "Daily Backup" || epoch != 1700000000 {
		t.Errorf("got (%q, %q, %d)", machineID, desc, epoch)
	}

	if _, _, _, ok := parseFilename("not-a-backup-file"); ok {
		t.Error("expected parse to fail for unrelated filename")
	}
}

func writeMinimalContainer(t *testing.T, path string) {
	t.Helper()
	wr, err := container.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := wr.WriteHeader(time.Unix(1700000000, 0)); err != nil {
		t.Fatal(err)
	}
	if err := wr.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMachineBackupsFiltersByMachineAndValidity(t *testing.T) {
	dir := t.TempDir()

	writeMinimalContainer(t, filepath.Join(dir, "backup_LOCAL_daily_1700000000"))
	writeMinimalContainer(t, filepath.Join(dir, "backup_OTHER_daily_1700000100"))
	if err := os.WriteFile(filepath.Join(dir, "backup_LOCAL_broken_1700000200"), []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "not-a-backup"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := &Store{Dir: dir}
	backups, err := s.MachineBackups("LOCAL")
	if err != nil {
		t.Fatal(err)
	}

	if len(backups) != 1 {
		t.Fatalf("got %d backups, want 1", len(backups))
	}
	if backups[0].MachineID != "LOCAL" || backups[0].Description != "daily" {
		t.Errorf("unexpected backup: %+v", backups[0])
	}
	if !backups[0].LocalMachine {
		t.Error("expected LocalMachine = true")
	}
}
