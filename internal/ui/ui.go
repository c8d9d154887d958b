// Package ui is the interactive text menu (§6): backup/restore/exit
// prompts, paged restore-list browsing, and description validation,
// modeled on original_source/dbu.py's plain input()-driven menu loop.
package ui

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/kmcguire3413/dbu/internal/store"
)

const pageSize = 10

// Menu drives the top-level interactive loop.
type Menu struct {
	In  io.Reader
	Out io.Writer

	// InFd, when the terminal identity of In matters (paging prompts are
	// skipped for non-interactive input), should be the Fd() of a *os.File
	// backing In. Left zero for a plain pipe/buffer in tests.
	InFd uintptr

	scanner *bufio.Scanner
}

func (m *Menu) reader() *bufio.Scanner {
	if m.scanner == nil {
		m.scanner = bufio.NewScanner(m.In)
	}
	return m.scanner
}

func (m *Menu) interactive() bool {
	return isatty.IsTerminal(m.InFd) || isatty.IsCygwinTerminal(m.InFd)
}

func (m *Menu) printf(format string, args ...any) {
	fmt.Fprintf(m.Out, format, args...)
}

func (m *Menu) readLine() (string, bool) {
	s := m.reader()
	if !s.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.Text()), true
}

// Action is the top-level command chosen from the main menu.
type Action int

const (
	ActionExit Action = iota
	ActionBackup
	ActionRestore
)

// MainMenu prints the backup/restore/exit prompt and reads one choice.
func (m *Menu) MainMenu() Action {
	m.printf("dbu - (b)ackup, (r)estore, (e)xit: ")
	line, ok := m.readLine()
	if !ok {
		return ActionExit
	}
	switch strings.ToLower(line) {
	case "b", "backup":
		return ActionBackup
	case "r", "restore":
		return ActionRestore
	default:
		return ActionExit
	}
}

// PromptDescription reads a backup description, reprompting on a grammar
// violation until one validates or the input stream ends.
func (m *Menu) PromptDescription() (string, bool) {
	for {
		m.printf("description (letters, digits, spaces, hyphens, max 24 chars): ")
		line, ok := m.readLine()
		if !ok {
			return "", false
		}
		if store.ValidDescription(line) {
			return line, true
		}
		m.printf("invalid description %q\n", line)
	}
}

// ChooseBackup pages through backups (pageSize at a time, wrapping around)
// and returns the one the operator selects, or false if they bail out.
// The paging prompt is not printed on non-interactive input; input lines
// are handled the same way either way (blank pages, "exit" aborts, a
// number selects).
func (m *Menu) ChooseBackup(backups []store.Backup) (store.Backup, bool) {
	if len(backups) == 0 {
		m.printf("no backups found for this machine\n")
		return store.Backup{}, false
	}

	page := 0
	pages := (len(backups) + pageSize - 1) / pageSize

	for {
		start := page * pageSize
		end := start + pageSize
		if end > len(backups) {
			end = len(backups)
		}

		for i := start; i < end; i++ {
			b := backups[i]
			m.printf("%2d) %-24s %s ago  %s\n", i+1, b.Description,
				humanize.Time(time.Unix(b.EpochSeconds, 0)), b.DateString())
		}

		if m.interactive() {
			m.printf("enter to page, a number to select, or \"exit\" to abort: ")
		}

		line, ok := m.readLine()
		if !ok {
			return store.Backup{}, false
		}

		switch strings.ToLower(line) {
		case "":
			// A bare Enter pages, matching the documented grammar (§6): the
			// operator is browsing, not yet selecting.
			page = (page + 1) % pages
			continue
		case "exit":
			return store.Backup{}, false
		case "n", "next":
			page = (page + 1) % pages
			continue
		case "p", "prev":
			page = (page - 1 + pages) % pages
			continue
		}

		n, err := strconv.Atoi(line)
		if err != nil || n < 1 || n > len(backups) {
			m.printf("invalid selection %q\n", line)
			continue
		}
		return backups[n-1], true
	}
}

// FormatSize renders a byte count in human-readable form (humanize.Bytes).
// The restore list itself prints no byte counts.
func FormatSize(n uint64) string {
	return humanize.Bytes(n)
}
