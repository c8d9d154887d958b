package oplog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPrintfWritesLeveledLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dbu.log")
	lg := &Logger{Path: path}
	defer lg.Close()

	lg.Normalf("starting backup of %s", "/dev/sda")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "[NORMAL]") || !strings.Contains(string(b), "starting backup of /dev/sda") {
		t.Errorf("unexpected log contents: %s", b)
	}
}

func TestRotateArchivesAndTruncates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dbu.log")
	lg := &Logger{Path: path, RotateThreshold: 64}
	defer lg.Close()

	for i := 0; i < 20; i++ {
		lg.Debugf("padding line number %d to exceed the rotate threshold", i)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() >= 64 {
		t.Errorf("expected log to have rotated below threshold, got size %d", info.Size())
	}

	if _, err := os.Stat(path + ".1.gz"); err != nil {
		t.Errorf("expected rotated archive to exist: %v", err)
	}
}
