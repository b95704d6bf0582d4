// Package venv provisions the per-project isolated Python runtime and
// derives the activation command used by every managed subprocess.
package venv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/kaxil/airflowctl/internal/execx"
)

// DefaultDirName is the venv directory created inside a project when no
// explicit path is configured.
const DefaultDirName = ".venv"

// ErrUnsupportedOS is returned on hosts without POSIX venv activation.
var ErrUnsupportedOS = errors.New("unsupported operating system")

// ErrPyenvMissing is returned when a non-host interpreter version is
// requested but pyenv is not on PATH.
var ErrPyenvMissing = errors.New("install pyenv to use a specific Python version")

// Provisioner creates and validates isolated runtimes. All external tool
// invocations go through Runner.
type Provisioner struct {
	Runner execx.Runner
	// HostVersion is the interpreter version running on the host, in
	// major.minor.patch form. Resolved lazily when empty.
	HostVersion string
}

// IsValid reports whether venvPath holds a usable runtime: the interpreter
// executable must exist at its standard relative location.
func IsValid(venvPath string) bool {
	_, err := os.Stat(PythonPath(venvPath))
	return err == nil
}

// PythonPath returns the interpreter executable inside a runtime.
func PythonPath(venvPath string) string {
	return filepath.Join(venvPath, "bin", "python")
}

// AirflowPath returns the managed application binary inside a runtime.
func AirflowPath(venvPath string) string {
	return filepath.Join(venvPath, "bin", "airflow")
}

// Provision creates (or validates) the runtime at venvPath for the given
// interpreter version and returns the absolute runtime path.
//
// recreate destroys an existing directory first, irreversibly. An existing
// directory without the interpreter executable is a corrupt runtime and a
// fatal error: a half-formed environment cannot be trusted to reflect any
// of its declared dependency versions, so it is never silently repaired.
// Provisioning an already-valid runtime with recreate=false is a no-op.
func (p *Provisioner) Provision(ctx context.Context, venvPath, pythonVersion string, recreate bool) (string, error) {
	abs, err := filepath.Abs(venvPath)
	if err != nil {
		return "", err
	}

	if recreate {
		if _, err := os.Stat(abs); err == nil {
			slog.Info("recreating virtual environment", "path", abs)
			if err := os.RemoveAll(abs); err != nil {
				return "", fmt.Errorf("remove %s: %w", abs, err)
			}
		}
	}

	if _, err := os.Stat(abs); err == nil {
		if !IsValid(abs) {
			return "", fmt.Errorf("virtual environment at %s exists but is not valid", abs)
		}
		return abs, nil
	}

	host, err := p.hostVersion(ctx)
	if err != nil {
		return "", err
	}
	if pythonVersion != "" && pythonVersion != host {
		slog.Info("requested Python version differs from host version",
			"requested", pythonVersion, "host", host)
		if err := p.provisionWithPyenv(ctx, abs, pythonVersion); err != nil {
			return "", err
		}
		return abs, nil
	}

	if err := p.Runner.Run(ctx, fmt.Sprintf("python3 -m venv %s", abs), execx.Options{}); err != nil {
		return "", fmt.Errorf("create virtual environment: %w", err)
	}
	slog.Info("virtual environment created", "path", abs)
	return abs, nil
}

// provisionWithPyenv materializes an interpreter of the exact requested
// version through pyenv, builds the venv from that binary and upgrades pip
// inside it. pyenv must be present on PATH; absence is fatal, not degraded.
func (p *Provisioner) provisionWithPyenv(ctx context.Context, venvPath, pythonVersion string) error {
	if _, err := exec.LookPath("pyenv"); err != nil {
		return ErrPyenvMissing
	}
	slog.Info("pyenv found, using it to install the requested Python version", "version", pythonVersion)
	if err := p.Runner.Run(ctx, fmt.Sprintf("pyenv install %s --skip-existing", pythonVersion), execx.Options{}); err != nil {
		return fmt.Errorf("pyenv install %s: %w", pythonVersion, err)
	}
	out, err := p.Runner.Output(ctx, fmt.Sprintf("pyenv prefix %s", pythonVersion), execx.Options{})
	if err != nil {
		return fmt.Errorf("pyenv prefix %s: %w", pythonVersion, err)
	}
	prefix := strings.TrimSpace(out)
	pyenvPython := filepath.Join(prefix, "bin", "python")

	if err := p.Runner.Run(ctx, fmt.Sprintf("%s -m venv %s --clear", pyenvPython, venvPath), execx.Options{}); err != nil {
		return fmt.Errorf("create virtual environment from %s: %w", pyenvPython, err)
	}
	if err := p.Runner.Run(ctx, fmt.Sprintf("%s -m pip install --upgrade pip", PythonPath(venvPath)), execx.Options{}); err != nil {
		return fmt.Errorf("upgrade pip: %w", err)
	}
	slog.Info("virtual environment created", "path", venvPath, "python", pythonVersion)
	return nil
}

func (p *Provisioner) hostVersion(ctx context.Context) (string, error) {
	if p.HostVersion != "" {
		return p.HostVersion, nil
	}
	v, err := HostPythonVersion(ctx, p.Runner)
	if err != nil {
		return "", err
	}
	p.HostVersion = v
	return v, nil
}

// HostPythonVersion asks the host interpreter for its own version.
func HostPythonVersion(ctx context.Context, r execx.Runner) (string, error) {
	out, err := r.Output(ctx,
		`python3 -c 'import sys; print("%d.%d.%d" % sys.version_info[:3])'`, execx.Options{})
	if err != nil {
		return "", fmt.Errorf("detect host python version: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// ActivateCommand computes the shell fragment that activates a runtime.
func ActivateCommand(venvPath string) (string, error) {
	abs, err := filepath.Abs(venvPath)
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "windows" {
		return "", ErrUnsupportedOS
	}
	return fmt.Sprintf(". %s", filepath.Join(abs, "bin", "activate")), nil
}
