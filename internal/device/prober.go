package device

import (
	"context"
	"strconv"
	"strings"

	"github.com/kmcguire3413/dbu/internal/dbuerr"
	"github.com/kmcguire3413/dbu/internal/toolrunner"
)

// Prober queries a device's partition table and identifies specialized
// (NTFS) partitions. It is an interface so planner tests can substitute a
// fake without shelling out.
type Prober interface {
	ListPartitions(ctx context.Context, dev string) ([]Partition, error)
	IsSpecialized(ctx context.Context, partDev string) bool
}

// ToolProber is the production Prober, driving the partition-table lister
// and filesystem identifier through a toolrunner.Runner.
type ToolProber struct {
	Runner *toolrunner.Runner

	// Lister is the argv[0] for the partition-table lister, e.g. "fdisk".
	// Defaults to "fdisk" when empty.
	Lister string

	// FSIdentifier is the argv[0] for the filesystem identifier, e.g.
	// "ntfsinfo". Defaults to "ntfsinfo" when empty.
	FSIdentifier string
}

func (p *ToolProber) lister() string {
	if p.Lister != "" {
		return p.Lister
	}
	return "fdisk"
}

func (p *ToolProber) fsIdentifier() string {
	if p.FSIdentifier != "" {
		return p.FSIdentifier
	}
	return "ntfsinfo"
}

// ListPartitions asks the partition-table lister for dev and parses its
// textual output per the grammar in §6: a "Units" line declaring the unit
// size (default 512 when absent), and one line per partition beginning with
// the device path, an optional "*" boot flag, then whitespace-separated
// start_sector end_sector sector_count size_str type_str.
//
// On lister invocation failure this returns (nil, *dbuerr.PartitionTableUnreadable);
// the planner is responsible for degrading to a single OPAQUE range. A
// successful invocation that simply lists no partitions (an unpartitioned
// device) is not an error: it returns ([]Partition{}, nil), letting the
// planner's loop fall through to a single whole-device RAW_GAP (§8 "device
// with no partitions").
func (p *ToolProber) ListPartitions(ctx context.Context, dev string) ([]Partition, error) {
	out, err := p.Runner.RunCollecting(ctx, p.lister(), "-l", dev)
	if err != nil {
		return nil, &dbuerr.PartitionTableUnreadable{Device: dev, Err: err}
	}

	return parseFdiskOutput(string(out)), nil
}

func parseFdiskOutput(text string) []Partition {
	unit := uint64(512)
	var parts []Partition

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "Units") {
			if u, ok := parseUnitsLine(line); ok {
				unit = u
			}
			continue
		}

		if line[0] != '/' {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}

		pdev := fields[0]
		i := 1
		boot := false
		if fields[1] == "*" {
			boot = true
			i = 2
		}
		if len(fields) < i+4 {
			continue
		}

		startSector, err1 := strconv.ParseUint(fields[i], 10, 64)
		endSector, err2 := strconv.ParseUint(fields[i+1], 10, 64)
		countSectors, err3 := strconv.ParseUint(fields[i+2], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}

		sizeStr := ""
		if len(fields) > i+3 {
			sizeStr = fields[i+3]
		}
		typeStr := ""
		if len(fields) > i+4 {
			typeStr = strings.Join(fields[i+4:], " ")
		}

		parts = append(parts, Partition{
			DevicePath: pdev,
			Start:      startSector * unit,
			End:        endSector*unit + unit - 1,
			Count:      countSectors * 512,
			Boot:       boot,
			SizeStr:    sizeStr,
			TypeStr:    typeStr,
		})
	}

	return parts
}

// parseUnitsLine extracts the unit size in bytes (the number after the last
// "=") from a line like:
//
//	Units = sectors of 1 * 512 = 512 bytes
func parseUnitsLine(line string) (uint64, bool) {
	eq := strings.LastIndex(line, "=")
	if eq < 0 {
		return 0, false
	}
	fields := strings.Fields(line[eq+1:])
	if len(fields) == 0 {
		return 0, false
	}
	u, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return u, true
}

// IsSpecialized asks the filesystem identifier whether partDev is NTFS. A
// partition is specialized iff the identifier's stdout contains the
// substring "Free Clusters". Any failure or ambiguity is treated as
// non-specialized.
func (p *ToolProber) IsSpecialized(ctx context.Context, partDev string) bool {
	out, err := p.Runner.RunCollecting(ctx, p.fsIdentifier(), "-m", partDev)
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "Free Clusters")
}
