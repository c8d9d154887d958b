// Package oplog is the operator log sink (§11): a leveled print shim over
// log.Printf, matching original_source/dbu.py's p_debug/p_normal/p_warning/
// p_alert/p_utility functions, plus size-triggered rotation to a
// gzip-compressed file.
package oplog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/klauspost/pgzip"
	"golang.org/x/xerrors"
)

// Level mirrors the original's five print levels.
type Level int

const (
	Debug Level = iota
	Normal
	Warning
	Alert
	Utility
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Normal:
		return "NORMAL"
	case Warning:
		return "WARNING"
	case Alert:
		return "ALERT"
	case Utility:
		return "UTILITY"
	default:
		return "UNKNOWN"
	}
}

// DefaultRotateThreshold is the plain-text log size at which Logger rotates
// the current file into a gzip-compressed archive.
const DefaultRotateThreshold = 4 * 1024 * 1024

// Logger writes leveled lines to a plain-text file, rotating it to a
// gzip-compressed sibling once it grows past RotateThreshold.
type Logger struct {
	// Path is the active plain-text log file. Required.
	Path string

	// RotateThreshold overrides DefaultRotateThreshold when non-zero.
	RotateThreshold int64

	mu  sync.Mutex
	f   *os.File
	std *log.Logger
}

func (lg *Logger) threshold() int64 {
	if lg.RotateThreshold > 0 {
		return lg.RotateThreshold
	}
	return DefaultRotateThreshold
}

func (lg *Logger) open() error {
	if lg.f != nil {
		return nil
	}
	f, err := os.OpenFile(lg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Errorf("oplog: opening %s: %w", lg.Path, err)
	}
	lg.f = f
	lg.std = log.New(f, "", log.LstdFlags)
	return nil
}

// Printf logs a leveled line and rotates if the file has grown past
// threshold.
func (lg *Logger) Printf(level Level, format string, args ...any) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	if err := lg.open(); err != nil {
		// Nowhere better to put this: fall back to stderr so the operator
		// still sees the message even if the log file can't be written.
		log.Printf("oplog: %v; message follows\n"+format, append([]any{err}, args...)...)
		return
	}

	lg.std.Printf("["+level.String()+"] "+format, args...)

	if info, err := lg.f.Stat(); err == nil && info.Size() > lg.threshold() {
		if err := lg.rotate(); err != nil {
			log.Printf("oplog: rotation of %s failed: %v", lg.Path, err)
		}
	}
}

func (lg *Logger) Debugf(format string, args ...any)   { lg.Printf(Debug, format, args...) }
func (lg *Logger) Normalf(format string, args ...any)   { lg.Printf(Normal, format, args...) }
func (lg *Logger) Warningf(format string, args ...any)  { lg.Printf(Warning, format, args...) }
func (lg *Logger) Alertf(format string, args ...any)    { lg.Printf(Alert, format, args...) }
func (lg *Logger) Utilityf(format string, args ...any)  { lg.Printf(Utility, format, args...) }

// rotate closes the active file, gzip-compresses it to Path+".N.gz" (N is
// the lowest unused index), and truncates Path back to empty so future
// writes start fresh. Caller must hold lg.mu.
func (lg *Logger) rotate() error {
	if err := lg.f.Close(); err != nil {
		return err
	}
	lg.f = nil
	lg.std = nil

	src, err := os.Open(lg.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	archivePath := lg.nextArchivePath()
	dst, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer dst.Close()

	zw := pgzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	return os.Truncate(lg.Path, 0)
}

func (lg *Logger) nextArchivePath() string {
	for n := 1; ; n++ {
		p := fmt.Sprintf("%s.%d.gz", lg.Path, n)
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}
	}
}

// Close releases the underlying file handle.
func (lg *Logger) Close() error {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	if lg.f == nil {
		return nil
	}
	err := lg.f.Close()
	lg.f = nil
	lg.std = nil
	return err
}
