// Package execx is the narrow command-execution capability behind every
// external tool airflowctl drives: the venv python, pip, pyenv and the
// airflow binary itself. Command strings are assembled by callers and run
// here through a single shell, so tests can substitute a recording Runner
// and assert the exact scripts without executing anything.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Options controls how a script is executed.
type Options struct {
	Dir         string   // working directory; empty means inherit
	Env         []string // full environment; nil means inherit
	Interactive bool     // inherit the caller's stdio (foreground runs)
}

// Runner executes shell scripts. Run blocks until the script exits; Output
// additionally captures stdout. StartDetached launches the script in a new
// session and does not wait: the child survives this process.
type Runner interface {
	Run(ctx context.Context, script string, opts Options) error
	Output(ctx context.Context, script string, opts Options) (string, error)
	StartDetached(script string, opts Options) error
}

// Shell runs scripts through /bin/sh -c.
type Shell struct{}

var _ Runner = Shell{}

func (Shell) Run(ctx context.Context, script string, opts Options) error {
	cmd := shellCommand(ctx, script)
	applyOptions(cmd, opts)
	configureAttached(cmd)
	if opts.Interactive {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %q: %w", summarize(script), err)
	}
	return nil
}

func (Shell) Output(ctx context.Context, script string, opts Options) (string, error) {
	cmd := shellCommand(ctx, script)
	applyOptions(cmd, opts)
	configureAttached(cmd)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("command %q: %w", summarize(script), err)
	}
	return out.String(), nil
}

func (Shell) StartDetached(script string, opts Options) error {
	cmd := shellCommand(context.Background(), script)
	applyOptions(cmd, opts)
	configureDetached(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("command %q: %w", summarize(script), err)
	}
	// The shell wrapper is intentionally abandoned; the PID that matters is
	// persisted by the script itself.
	return cmd.Process.Release()
}

func applyOptions(cmd *exec.Cmd, opts Options) {
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
}

// ExitCode extracts the process exit code from a Run error, or -1 when the
// error does not carry one.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1
	}
	return exitErr.ExitCode()
}

func summarize(script string) string {
	s := strings.Join(strings.Fields(script), " ")
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
