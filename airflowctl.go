// Package airflowctl exposes the project lifecycle engine for embedding:
// provisioning a project runtime, installing Airflow into it and
// supervising the resulting processes, without going through the CLI.
package airflowctl

import (
	"context"

	"github.com/kaxil/airflowctl/internal/execx"
	"github.com/kaxil/airflowctl/internal/installer"
	"github.com/kaxil/airflowctl/internal/project"
	"github.com/kaxil/airflowctl/internal/supervisor"
	"github.com/kaxil/airflowctl/internal/venv"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Settings = project.Settings

type InstallSpec = installer.Spec

type Supervisor = supervisor.Supervisor

// ErrNoBackgroundProcesses is returned by Stop when nothing is tracked.
var ErrNoBackgroundProcesses = supervisor.ErrNoBackgroundProcesses

// NewSupervisor returns the process supervisor for a project directory.
func NewSupervisor(projectPath string) *Supervisor { return supervisor.New(projectPath) }

// Provision creates or validates the project runtime at venvPath.
func Provision(ctx context.Context, venvPath, pythonVersion string, recreate bool) (string, error) {
	p := &venv.Provisioner{Runner: execx.Shell{}}
	return p.Provision(ctx, venvPath, pythonVersion, recreate)
}

// Install installs Airflow into a provisioned runtime.
func Install(ctx context.Context, spec InstallSpec) error {
	i := &installer.Installer{Runner: execx.Shell{}}
	return i.Install(ctx, spec)
}

// LoadSettings reads and normalizes a project settings document.
func LoadSettings(projectPath string) (*Settings, error) {
	path, err := project.ResolveSettingsFile(projectPath, "")
	if err != nil {
		return nil, err
	}
	return project.LoadSettings(path, "", "")
}
