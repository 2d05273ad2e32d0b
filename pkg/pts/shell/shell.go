// Package shell runs the external tools nvmepts depends on (fio, nvme,
// lshw, lspci), optionally through sudo, and captures their output.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jamesainslie/nvmepts/pkg/pts/logging"
	"golang.org/x/sys/unix"
)

// ErrCommandFailed is wrapped by every *CommandError.
var ErrCommandFailed = errors.New("command failed")

// killGrace is how long a cancelled tool gets between SIGTERM and SIGKILL.
// sudo relays SIGTERM to its child, so fio gets to close its output file.
const killGrace = 10 * time.Second

// Command describes one tool invocation.
type Command struct {
	// Name is the program path or name.
	Name string

	// Args are passed verbatim; no shell is involved.
	Args []string

	// Sudo runs the program through the executor's privilege wrapper.
	Sudo bool

	// Timeout bounds the invocation. Zero means only ctx applies.
	Timeout time.Duration

	// Dir is the working directory. Empty inherits ours.
	Dir string
}

// Result captures what a tool produced.
type Result struct {
	Argv     []string
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// CommandError reports a tool that could not be started or exited non-zero.
type CommandError struct {
	Argv     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %s", strings.Join(e.Argv, " "), ErrCommandFailed)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + firstLine(s)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap lets errors.Is match both ErrCommandFailed and the cause.
func (e *CommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCommandFailed}
	}
	return []error{ErrCommandFailed, e.Err}
}

// Executor runs commands. The returned Result is non-nil whenever the
// process started, including when it failed.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Local runs commands on this host.
type Local struct {
	// SudoPath is prepended (with -n) to commands that request it.
	// Empty runs them unwrapped.
	SudoPath string
}

var _ Executor = (*Local)(nil)

// NewLocal returns an executor that wraps privileged commands in sudoPath.
func NewLocal(sudoPath string) *Local {
	return &Local{SudoPath: sudoPath}
}

// Argv returns the full argument vector Run would execute.
func (l *Local) Argv(c Command) []string {
	argv := make([]string, 0, len(c.Args)+3)
	if c.Sudo && l.SudoPath != "" {
		argv = append(argv, l.SudoPath, "-n")
	}
	argv = append(argv, c.Name)
	return append(argv, c.Args...)
}

// Run executes c and waits for it. Cancelling ctx sends SIGTERM, then
// SIGKILL after a grace period.
func (l *Local) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	argv := l.Argv(c)
	log := logging.Get("shell")
	log.Debug("exec", "argv", strings.Join(argv, " "))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(unix.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	res := &Result{
		Argv:     argv,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		log.Debug("exec failed", "argv", argv[0], "exit", res.ExitCode, "err", err)
		cerr := &CommandError{Argv: argv, ExitCode: res.ExitCode, Stderr: stderr.String(), Err: err}
		if cmd.ProcessState == nil {
			return nil, cerr
		}
		return res, cerr
	}

	log.Debug("exec done", "argv", argv[0], "duration", res.Duration)
	return res, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
