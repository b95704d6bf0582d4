// Package installer performs the idempotent, constraint-pinned install of
// Apache Airflow into a provisioned runtime.
package installer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kaxil/airflowctl/internal/execx"
	"github.com/kaxil/airflowctl/internal/venv"
)

// Environment-level overrides for the install pipeline.
const (
	// EnvConstraints overrides the generated constraints URL.
	EnvConstraints = "AIRFLOWCTL_CONSTRAINTS"
	// EnvNoConstraints suppresses constraints entirely when non-empty.
	EnvNoConstraints = "AIRFLOWCTL_NO_CONSTRAINTS"
	// EnvPipFlags appends extra flags to the pip install invocation.
	EnvPipFlags = "AIRFLOWCTL_PIP_FLAGS"
)

const constraintsURLTemplate = "https://raw.githubusercontent.com/apache/airflow/constraints-%s/constraints-%s.txt"

// Installer drives the pip install pipeline through an injected Runner so
// command assembly stays testable without executing anything.
type Installer struct {
	Runner execx.Runner
}

// Spec is one install request.
type Spec struct {
	VenvPath string
	// AirflowVersion is a published version, or a local source directory
	// path (detected by existence on disk).
	AirflowVersion string
	PythonVersion  string
	ProjectPath    string
	Extras         string // e.g. "[celery]" appended to the pinned requirement
	// UseRequirements layers the project requirements.txt into the install.
	UseRequirements bool
}

// ConstraintsURL returns the deterministic constraints location for an
// Airflow version and interpreter version (major.minor truncation).
func ConstraintsURL(airflowVersion, pythonVersion string) string {
	return fmt.Sprintf(constraintsURLTemplate, airflowVersion, majorMinor(pythonVersion))
}

func majorMinor(version string) string {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return version
	}
	return parts[0] + "." + parts[1]
}

// Install idempotently installs the requested Airflow version into the
// runtime. An exact version match skips the pipeline; a mismatch deletes the
// project's airflow.db first, because storage schema compatibility cannot be
// assumed across versions. Any pipeline failure is fatal to the invocation.
func (i *Installer) Install(ctx context.Context, spec Spec) error {
	if i.isInstalled(ctx, spec) {
		slog.Info("Apache Airflow already installed, skipping installation",
			"version", spec.AirflowVersion)
		return nil
	}

	if !venv.IsValid(spec.VenvPath) {
		return fmt.Errorf("virtual environment at %s does not exist or is not valid", spec.VenvPath)
	}

	script, workDir := i.pipeline(spec)
	slog.Debug("running install pipeline", "command", script)
	if err := i.Runner.Run(ctx, script, execx.Options{Dir: workDir}); err != nil {
		return fmt.Errorf("error occurred during installation: %w", err)
	}
	slog.Info("Apache Airflow installed successfully",
		"version", spec.AirflowVersion, "venv", spec.VenvPath)
	return nil
}

// isInstalled probes the runtime's airflow binary for an exact version
// match. On mismatch the embedded database file is removed to prevent
// conflicts with DB migrations of the new version.
func (i *Installer) isInstalled(ctx context.Context, spec Spec) bool {
	bin := venv.AirflowPath(spec.VenvPath)
	if _, err := os.Stat(bin); err != nil {
		return false
	}
	out, err := i.Runner.Output(ctx, fmt.Sprintf("%s version", bin), execx.Options{})
	if err != nil {
		return false
	}
	installed := strings.TrimSpace(out)
	if installed == spec.AirflowVersion {
		return true
	}
	slog.Warn("installed Airflow version differs from requested version",
		"installed", installed, "requested", spec.AirflowVersion)
	dbPath := filepath.Join(spec.ProjectPath, "airflow.db")
	if _, err := os.Stat(dbPath); err == nil {
		slog.Info("removing stale Airflow database", "path", dbPath)
		_ = os.Remove(dbPath)
	}
	return false
}

// pipeline assembles the single shell pipeline: upgrade the package
// manager, then install the application with optional requirements file,
// extra pip flags and constraints. Returns the script and the working
// directory ("" when irrelevant).
func (i *Installer) pipeline(spec Spec) (string, string) {
	python := venv.PythonPath(spec.VenvPath)

	var b strings.Builder
	fmt.Fprintf(&b, "%s -m pip install --upgrade pip setuptools wheel", python)
	fmt.Fprintf(&b, " && %s -m pip install", python)

	if spec.UseRequirements {
		fmt.Fprintf(&b, " -r %s", filepath.Join(spec.ProjectPath, "requirements.txt"))
	}
	if flags := os.Getenv(EnvPipFlags); flags != "" {
		fmt.Fprintf(&b, " %s", flags)
	}

	constraints := os.Getenv(EnvConstraints)
	workDir := ""
	if localPath, ok := isLocalPath(spec.AirflowVersion); ok {
		// The dependency set comes from the local source tree itself.
		b.WriteString(" .")
		constraints = ""
		workDir = localPath
	} else {
		fmt.Fprintf(&b, " 'apache-airflow==%s%s'", spec.AirflowVersion, spec.Extras)
		if constraints == "" {
			constraints = ConstraintsURL(spec.AirflowVersion, spec.PythonVersion)
		}
	}

	if os.Getenv(EnvNoConstraints) != "" {
		constraints = ""
	}
	if constraints != "" {
		fmt.Fprintf(&b, " --constraint %s", constraints)
	}
	return b.String(), workDir
}

func isLocalPath(version string) (string, bool) {
	if _, err := os.Stat(version); err != nil {
		return "", false
	}
	abs, err := filepath.Abs(version)
	if err != nil {
		return "", false
	}
	return abs, true
}
