// Package seed invokes the one-shot configuration seeding collaborators:
// embedded Python scripts that upsert connection and variable records into
// the managed application's storage, given an activated runtime and the
// resolved settings document path.
package seed

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kaxil/airflowctl/internal/execx"
	"github.com/kaxil/airflowctl/internal/project"
)

//go:embed scripts
var scripts embed.FS

// Seeder runs the seeding collaborators inside the activated runtime.
type Seeder struct {
	Runner execx.Runner
	// Env is the full environment for the scripts (the managed
	// application reads its home directory from it).
	Env []string
}

// AddConnections upserts the connections declared in the settings document.
// No-op when none are declared.
func (s *Seeder) AddConnections(ctx context.Context, settings *project.Settings, settingsPath, activateCmd string) error {
	if len(settings.Connections) == 0 {
		return nil
	}
	slog.Info("adding connections", "count", len(settings.Connections))
	return s.runScript(ctx, "scripts/add_connections.py", settingsPath, activateCmd)
}

// AddVariables upserts the variables declared in the settings document.
// No-op when none are declared.
func (s *Seeder) AddVariables(ctx context.Context, settings *project.Settings, settingsPath, activateCmd string) error {
	if len(settings.Variables) == 0 {
		return nil
	}
	slog.Info("adding variables", "count", len(settings.Variables))
	return s.runScript(ctx, "scripts/add_variables.py", settingsPath, activateCmd)
}

// runScript materializes an embedded script into a temp file and runs it
// with the settings document path as its sole argument. Non-zero exit is
// fatal: a failed per-record upsert count means unseeded configuration.
func (s *Seeder) runScript(ctx context.Context, name, settingsPath, activateCmd string) error {
	content, err := scripts.ReadFile(name)
	if err != nil {
		return err
	}
	tmpDir, err := os.MkdirTemp("", "airflowctl-seed-")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	scriptPath := filepath.Join(tmpDir, filepath.Base(name))
	if err := os.WriteFile(scriptPath, content, 0o600); err != nil {
		return err
	}

	script := fmt.Sprintf("%s && python %s %s", activateCmd, scriptPath, settingsPath)
	if err := s.Runner.Run(ctx, script, execx.Options{Env: s.Env, Interactive: true}); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(name), err)
	}
	return nil
}
