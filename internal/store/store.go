// Package store implements the backup store interface (C8): enumerating
// and naming backup files, and filtering them by machine identity.
package store

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/mmap"
	"golang.org/x/xerrors"

	"github.com/kmcguire3413/dbu/internal/container"
)

// descPattern is the filename grammar's description charset (§6):
// [A-Za-z0-9 \-]{1,24}.
var descPattern = regexp.MustCompile(`^[A-Za-z0-9 \-]{1,24}$`)

// ValidDescription reports whether desc is a legal backup description.
func ValidDescription(desc string) bool {
	return descPattern.MatchString(desc)
}

// FormatFilename builds the backup_<machine_id>_<description>_<epoch>
// filename for a new backup.
func FormatFilename(machineID, desc string, epochSeconds int64) string {
	return "backup_" + machineID + "_" + desc + "_" + strconv.FormatInt(epochSeconds, 10)
}

// Backup is a Container plus metadata parsed from its filename and header
// time (§3). A Backup is Valid iff the filename parses, the 8-byte header
// is present, and every record header fully parses with a recognized kind
// — i.e. iff container.Open succeeded.
type Backup struct {
	Path         string
	MachineID    string
	Description  string
	EpochSeconds int64
	CreatedAt    time.Time
	Reader       *container.Reader

	// LocalMachine is true when MachineID matches the local machine's
	// identity. Carried through even though MachineBackups already filters
	// on it, so a future "-all-machines" debug view could reuse Backup
	// without re-deriving identity (§11).
	LocalMachine bool
}

// DateString renders the backup's creation time the way the original
// implementation's strftime('%m-%d-%Y-%H:%M') does.
func (b Backup) DateString() string {
	return b.CreatedAt.Format("01-02-2006-15:04")
}

// parseFilename parses "backup_<machine_id>_<description>_<epoch>". The
// machine id and description themselves may not contain underscores (the
// description charset excludes '_'), so splitting on '_' unambiguously
// recovers all four fields from a well-formed name.
func parseFilename(name string) (machineID, desc string, epoch int64, ok bool) {
	parts := strings.Split(name, "_")
	if len(parts) != 4 || parts[0] != "backup" {
		return "", "", 0, false
	}
	e, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return "", "", 0, false
	}
	return parts[1], parts[2], e, true
}

// Open parses path's filename and container contents into a Backup. It
// returns an error if the filename doesn't match the grammar or the
// container fails to parse (§3 Backup.valid).
func Open(path string) (*Backup, error) {
	machineID, desc, epoch, ok := parseFilename(filepath.Base(path))
	if !ok {
		return nil, xerrors.Errorf("store: %s does not match backup_<machine_id>_<description>_<epoch> grammar", path)
	}

	if err := probeReadable(path); err != nil {
		return nil, xerrors.Errorf("store: %w", err)
	}

	rd, err := container.Open(path)
	if err != nil {
		return nil, err
	}

	return &Backup{
		Path:         path,
		MachineID:    machineID,
		Description:  desc,
		EpochSeconds: epoch,
		CreatedAt:    rd.CreatedAt,
		Reader:       rd,
	}, nil
}

// Store identifies a directory containing backup files.
type Store struct {
	Dir string
}

// Discoverer locates the directory a Store should enumerate (§6
// backup-directory discovery). See internal/bkupdir for the production
// implementation.
type Discoverer interface {
	Discover(ctx context.Context) (string, error)
}

// Discover locates the backup directory via d and returns a Store rooted
// there.
func Discover(ctx context.Context, d Discoverer) (*Store, error) {
	dir, err := d.Discover(ctx)
	if err != nil {
		return nil, err
	}
	return &Store{Dir: dir}, nil
}

// MachineBackups enumerates filenames matching the backup grammar in s.Dir,
// opens each via container.Open, and returns those that are valid and
// belong to localMachineID, newest first.
func (s *Store) MachineBackups(localMachineID string) ([]Backup, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, xerrors.Errorf("reading backup directory %s: %w", s.Dir, err)
	}

	var backups []Backup
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "backup_") {
			continue
		}

		b, err := Open(filepath.Join(s.Dir, e.Name()))
		if err != nil {
			continue // not valid; skip per §4.8
		}
		if b.MachineID != localMachineID {
			continue
		}
		b.LocalMachine = true
		backups = append(backups, *b)
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].EpochSeconds > backups[j].EpochSeconds })
	return backups, nil
}

// probeReadable does a cheap mmap-backed existence/size check before a full
// container.Open, matching the teacher's own split use of mmap.Open for
// cheap probing vs. plain file I/O for the streaming path
// (internal/install/install.go).
func probeReadable(path string) error {
	ra, err := mmap.Open(path)
	if err != nil {
		return err
	}
	defer ra.Close()
	if ra.Len() < 8 {
		return xerrors.Errorf("%s: shorter than the 8-byte container header", path)
	}
	return nil
}
