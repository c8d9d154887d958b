package device

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestParseFdiskOutput(t *testing.T) {
	const out = `Disk /dev/sda: 1 GiB, 1073741824 bytes, 2097152 sectors
Units = sectors of 1 * 512 = 512 bytes

Device     Boot   Start     End Sectors  Size Id Type
/dev/sda1  *         2048  206847  204800  100M  7 HPFS/NTFS/exFAT
/dev/sda2           206848 2097151 1890304  922M 83 Linux
`

	got := parseFdiskOutput(out)
	want := []Partition{
		{
			DevicePath: "/dev/sda1",
			Start:      2048 * 512,
			End:        206847*512 + 511,
			Count:      204800 * 512,
			Boot:       true,
			SizeStr:    "100M",
			TypeStr:    "7 HPFS/NTFS/exFAT",
		},
		{
			DevicePath: "/dev/sda2",
			Start:      206848 * 512,
			End:        2097151*512 + 511,
			Count:      1890304 * 512,
			Boot:       false,
			SizeStr:    "922M",
			TypeStr:    "83 Linux",
		},
	}

	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("parseFdiskOutput mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFdiskOutputMissingUnits(t *testing.T) {
	const out = `Disk /dev/sda: 1 GiB
/dev/sda1  1  2047  2047  1023K 83 Linux
`
	got := parseFdiskOutput(out)
	if len(got) != 1 {
		t.Fatalf("expected 1 partition, got %d", len(got))
	}
	if got[0].Start != 512 {
		t.Fatalf("expected default 512-byte unit, got start=%d", got[0].Start)
	}
}

func TestParseUnitsLine(t *testing.T) {
	for _, tt := range []struct {
		line string
		want uint64
		ok   bool
	}{
		{"Units = sectors of 1 * 512 = 512 bytes", 512, true},
		{"Units = cylinders of 16065 * 512 = 8225280 bytes", 8225280, true},
		{"Units", 0, false},
	} {
		got, ok := parseUnitsLine(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseUnitsLine(%q) = (%d, %v), want (%d, %v)", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}
