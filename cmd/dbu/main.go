// Command dbu is a whole-disk backup/restore tool: it copies a block
// device's raw regions and partitions (NTFS partitions as used blocks only)
// into a compressed container file, and can later replay one back onto a
// device.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/kmcguire3413/dbu/internal/bkupdir"
	"github.com/kmcguire3413/dbu/internal/dbuerr"
	"github.com/kmcguire3413/dbu/internal/device"
	"github.com/kmcguire3413/dbu/internal/hostid"
	"github.com/kmcguire3413/dbu/internal/oplog"
	"github.com/kmcguire3413/dbu/internal/planner"
	"github.com/kmcguire3413/dbu/internal/procctl"
	"github.com/kmcguire3413/dbu/internal/restorer"
	"github.com/kmcguire3413/dbu/internal/store"
	"github.com/kmcguire3413/dbu/internal/toolrunner"
	"github.com/kmcguire3413/dbu/internal/ui"
)

func main() {
	var (
		devicePath    = flag.String("device", "/dev/sda", "target block device to back up or restore")
		fixedBkupDir  = flag.String("fixed-backup-dir", "", "skip mount-based backup directory discovery and use this path instead (development only)")
		discoverOn    = flag.String("discover-device", "/dev/sdb", "device whose partitions are probed for the backup.drive marker")
		logPath       = flag.String("log", "/var/log/dbu.log", "operator log path")
		hostidCache   = flag.String("hostid-cache", "/var/lib/dbu/hostid", "path to the cached machine identity")
		progressEvery = flag.Duration("progress-interval", 5*time.Second, "how often to log copy progress (0 disables)")
	)
	flag.Parse()

	lg := &oplog.Logger{Path: *logPath}
	defer lg.Close()

	ctx, cancel := procctl.InterruptibleContext(lg)
	defer cancel()

	runner := &toolrunner.Runner{}
	prober := &device.ToolProber{Runner: runner}

	machineID := hostid.CachedLocal(ctx, runner, *hostidCache)
	lg.Normalf("machine identity: %s", machineID)

	discoverer := bkupdir.New(bkupdir.Config{
		Runner:          runner,
		Prober:          prober,
		CandidateDevice: *discoverOn,
		FixedPath:       *fixedBkupDir,
	})

	st, err := store.Discover(ctx, discoverer)
	if err != nil {
		lg.Alertf("backup directory discovery failed: %v", err)
		fmt.Fprintln(os.Stderr, "error: could not locate the backup drive:", err)
		os.Exit(1)
	}
	lg.Normalf("using backup directory %s", st.Dir)

	menu := &ui.Menu{In: os.Stdin, Out: os.Stdout}
	menu.InFd = os.Stdin.Fd()

	procctl.RegisterAtExit(procctl.PhaseLog, func() error {
		return lg.Close()
	})

	for {
		switch menu.MainMenu() {
		case ui.ActionBackup:
			runBackup(ctx, menu, lg, runner, prober, st, machineID, *devicePath, *progressEvery)
		case ui.ActionRestore:
			runRestore(ctx, menu, lg, runner, st, machineID, *devicePath)
		default:
			if err := procctl.RunAtExit(); err != nil {
				log.Printf("cleanup error: %v", err)
			}
			return
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func runBackup(ctx context.Context, menu *ui.Menu, lg *oplog.Logger, runner *toolrunner.Runner, prober device.Prober, st *store.Store, machineID, devicePath string, progressEvery time.Duration) {
	desc, ok := menu.PromptDescription()
	if !ok {
		return
	}

	dev, err := probeDevice(devicePath)
	if err != nil {
		handleIoError(lg, err)
		return
	}

	epoch := time.Now().Unix()
	name := store.FormatFilename(machineID, desc, epoch)
	containerPath := filepath.Join(st.Dir, name)

	pl := &planner.Planner{Prober: prober, Runner: runner, ProgressEvery: progressEvery}

	lg.Normalf("backup of %s starting -> %s", devicePath, containerPath)
	if err := pl.PlanAndWrite(ctx, dev, containerPath); err != nil {
		lg.Alertf("backup of %s failed: %v", devicePath, err)
		handleIoError(lg, err)
		return
	}
	lg.Normalf("backup of %s complete -> %s", devicePath, containerPath)
}

func runRestore(ctx context.Context, menu *ui.Menu, lg *oplog.Logger, runner *toolrunner.Runner, st *store.Store, machineID, devicePath string) {
	backups, err := st.MachineBackups(machineID)
	if err != nil {
		lg.Alertf("listing backups failed: %v", err)
		return
	}

	chosen, ok := menu.ChooseBackup(backups)
	if !ok {
		return
	}

	seq := &restorer.Sequencer{Runner: runner, Rescanner: restorer.NewDefaultRescanner()}

	lg.Normalf("restore of %s starting -> %s", chosen.Path, devicePath)
	if err := seq.Restore(ctx, chosen.Reader, devicePath); err != nil {
		lg.Alertf("restore of %s failed: %v", chosen.Path, err)
		handleIoError(lg, err)
		return
	}
	lg.Normalf("restore of %s complete -> %s", chosen.Path, devicePath)
}

// probeDevice opens devicePath just long enough to read its total size and
// sector size (§3 Device), falling back to a 512-byte sector size when the
// ioctls used on Linux aren't available.
func probeDevice(path string) (device.Device, error) {
	size, sector, err := device.QuerySize(path, 512)
	if err != nil {
		return device.Device{}, &dbuerr.IoError{Op: "probing " + path, Err: err}
	}
	return device.Device{Path: path, Size: size, SectorSize: sector}, nil
}

// handleIoError implements §7's top-level dispatch: an IoError prompts the
// operator to check free space or disk health and is otherwise non-fatal to
// the running process (the caller's menu loop continues); every other error
// kind is just logged.
func handleIoError(lg *oplog.Logger, err error) {
	var ioErr *dbuerr.IoError
	if errors.As(err, &ioErr) {
		fmt.Fprintln(os.Stderr, "I/O error:", ioErr, "- check free space and disk health, then try again")
		return
	}
	fmt.Fprintln(os.Stderr, "error:", err)
}
