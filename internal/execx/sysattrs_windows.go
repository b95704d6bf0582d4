//go:build windows

package execx

import (
	"context"
	"os/exec"
)

func shellCommand(ctx context.Context, script string) *exec.Cmd {
	// #nosec G204
	return exec.CommandContext(ctx, "cmd", "/C", script)
}

func configureAttached(cmd *exec.Cmd) {}

func configureDetached(cmd *exec.Cmd) {}
