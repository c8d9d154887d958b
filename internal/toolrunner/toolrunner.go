// Package toolrunner is the only place in dbu that launches subprocesses.
// Every other package consumes its two operations: RunCollecting for short
// text output and SpawnStream for long-running byte-streaming helpers.
package toolrunner

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"os/exec"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/kmcguire3413/dbu/internal/dbuerr"
)

// Runner drives external helper processes.
type Runner struct {
	// Stderr receives every helper's standard error as-is; lines are not
	// prefixed with the program name. Defaults to os.Stderr when nil.
	Stderr io.Writer
}

func (r *Runner) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return os.Stderr
}

// RunCollecting runs argv to completion and returns its stdout. stderr is
// forwarded to r.Stderr and also attached to the returned error on failure.
func (r *Runner) RunCollecting(ctx context.Context, argv ...string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, xerrors.New("toolrunner: empty argv")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.MultiWriter(&stderr, r.stderr())

	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			err = xerrors.Errorf("%s: %w", msg, err)
		}
		return stdout.Bytes(), toolFailed(argv, cmd, err)
	}
	return stdout.Bytes(), nil
}

// Handle is a running helper whose stdin/stdout are piped to byte streams
// supplied by the caller.
type Handle struct {
	cmd *exec.Cmd
	eg  *errgroup.Group
}

// SpawnStream starts argv with its stdin fed from src (if non-nil) and its
// stdout copied into dst (if non-nil). Each pipe direction is pumped by its
// own goroutine so that a full stdout pipe can never deadlock against a full
// stdin pipe (§5): the writer goroutine closes the child's stdin once src
// reaches EOF, which lets the child drain and exit.
func (r *Runner) SpawnStream(ctx context.Context, argv []string, src io.Reader, dst io.Writer) (*Handle, error) {
	if len(argv) == 0 {
		return nil, xerrors.New("toolrunner: empty argv")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = r.stderr()

	var eg errgroup.Group

	if src != nil {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, xerrors.Errorf("stdin pipe for %v: %w", argv, err)
		}
		eg.Go(func() error {
			_, err := io.Copy(stdin, src)
			if closeErr := stdin.Close(); err == nil {
				err = closeErr
			}
			return err
		})
	}

	if dst != nil {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, xerrors.Errorf("stdout pipe for %v: %w", argv, err)
		}
		eg.Go(func() error {
			_, err := io.Copy(dst, stdout)
			return err
		})
	}

	if err := cmd.Start(); err != nil {
		return nil, toolFailed(argv, cmd, err)
	}

	return &Handle{cmd: cmd, eg: &eg}, nil
}

// Wait joins both pump goroutines and reaps the child, surfacing a non-zero
// exit as dbuerr.ToolFailed and a pump failure as a wrapped I/O error.
func (h *Handle) Wait() error {
	pumpErr := h.eg.Wait()
	waitErr := h.cmd.Wait()
	if waitErr != nil {
		return toolFailed(h.cmd.Args, h.cmd, waitErr)
	}
	if pumpErr != nil {
		return xerrors.Errorf("pumping %v: %w", h.cmd.Args, pumpErr)
	}
	return nil
}

func toolFailed(argv []string, cmd *exec.Cmd, err error) error {
	ec := -1
	if cmd.ProcessState != nil {
		ec = cmd.ProcessState.ExitCode()
	}
	return &dbuerr.ToolFailed{Argv: argv, ExitCode: ec, Err: err}
}

// Logf is a small convenience matching the teacher's own log.Printf-only
// diagnostics (no structured logging framework); kept here so callers don't
// each need their own "what argv did we run" line.
func Logf(argv []string, format string, args ...any) {
	log.Printf("%v: "+format, append([]any{argv}, args...)...)
}
