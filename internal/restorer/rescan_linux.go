//go:build linux

package restorer

import (
	"context"
	"os"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/s-urbaniak/uevent"
)

// UeventRescanner rescans the target device and waits for the kernel to
// announce the expected number of partition devices via a netlink uevent
// subscription, rather than blindly sleeping around the rescan write like
// the original implementation. This is a strictly more precise substitute
// for the settling delay described in §4.7/§9: it only proceeds to phase 3
// once every "add" event naming devPath's partitions has actually been
// observed, or a Timeout elapses.
type UeventRescanner struct {
	Timeout time.Duration
}

func (r *UeventRescanner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 15 * time.Second
}

func (r *UeventRescanner) Rescan(ctx context.Context, devPath string, partitionCount int) error {
	name := baseName(devPath)
	if name == "" || partitionCount == 0 {
		return nil
	}

	monitor, err := uevent.NewMonitor()
	if err != nil {
		// No CAP_NET_ADMIN, not running on Linux with netlink uevents
		// available, or similar: fall back to the fixed-delay behavior
		// rather than failing the restore outright.
		return (&FixedDelayRescanner{}).Rescan(ctx, devPath, partitionCount)
	}
	defer monitor.Close()

	events := make(chan uevent.Uevent, 64)
	errs := make(chan error, 1)
	go func() {
		errs <- monitor.Monitor(events)
	}()

	hookPath := "/sys/block/" + name + "/device/rescan"
	f, err := os.OpenFile(hookPath, os.O_WRONLY, 0)
	if err != nil {
		return xerrors.Errorf("opening %s: %w", hookPath, err)
	}
	_, writeErr := f.WriteString("1")
	closeErr := f.Close()
	if writeErr != nil {
		return xerrors.Errorf("writing to %s: %w", hookPath, writeErr)
	}
	if closeErr != nil {
		return xerrors.Errorf("closing %s: %w", hookPath, closeErr)
	}

	seen := make(map[string]bool, partitionCount)
	deadline := time.After(r.timeout())
	for len(seen) < partitionCount {
		select {
		case ev := <-events:
			devName, ok := ev.Env["DEVNAME"]
			if !ok || ev.Action != "add" {
				continue
			}
			if strings.HasPrefix(devName, name) && devName != name {
				seen[devName] = true
			}
		case err := <-errs:
			if err != nil {
				return xerrors.Errorf("uevent monitor for %s: %w", devPath, err)
			}
		case <-deadline:
			return nil // best effort: proceed even if not every node was observed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
