// Package hostid derives a stable per-host string used to tag backups so a
// host only restores its own (§6 Machine-identity derivation).
package hostid

import (
	"context"
	"net"
	"os"
	"strings"

	"github.com/google/renameio"

	"github.com/kmcguire3413/dbu/internal/toolrunner"
)

// Local returns the local machine's identity string: primarily the system
// UUID reported by the firmware inventory tool (dmidecode), prefixed "DMI";
// falling back to a MAC-derived node identifier prefixed "PY" when
// dmidecode is unavailable or its output is unrecognized. This is a direct
// port of original_source/dbu.py's get_uid_for_system, using net.Interfaces
// instead of shelling out for the fallback.
func Local(ctx context.Context, runner *toolrunner.Runner) string {
	if uuid, ok := dmiSystemUUID(ctx, runner); ok {
		return "DMI" + uuid
	}
	return "PY" + macFallback()
}

// CachedLocal behaves like Local, but reads cachePath first and only probes
// dmidecode/net.Interfaces on a miss, atomically writing the result back
// with renameio so a concurrent reader never observes a partial file.
// dmidecode invocations require root on most systems, so caching the result
// once per host avoids repeating that cost (and the occasional permission
// prompt) on every run.
func CachedLocal(ctx context.Context, runner *toolrunner.Runner, cachePath string) string {
	if b, err := os.ReadFile(cachePath); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id
		}
	}

	id := Local(ctx, runner)

	if f, err := renameio.TempFile("", cachePath); err == nil {
		if _, err := f.Write([]byte(id)); err == nil {
			f.CloseAtomicallyReplace()
		}
	}

	return id
}

func dmiSystemUUID(ctx context.Context, runner *toolrunner.Runner) (string, bool) {
	out, err := runner.RunCollecting(ctx, "dmidecode", "-s", "system-uuid")
	if err != nil {
		return "", false
	}

	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, true
	}
	return "", false
}

func macFallback() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "unknown"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return strings.ReplaceAll(iface.HardwareAddr.String(), ":", "")
	}
	return "unknown"
}
