//go:build !windows

package execx

import (
	"context"
	"os/exec"
	"syscall"
)

func shellCommand(ctx context.Context, script string) *exec.Cmd {
	// #nosec G204
	return exec.CommandContext(ctx, "/bin/sh", "-c", script)
}

// configureAttached places the child in its own process group so an
// interrupt delivered to a foreground run is handled by group semantics.
func configureAttached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// configureDetached starts the child in a new session (setsid) so it is
// detached from the controlling terminal and survives parent exit.
func configureDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
