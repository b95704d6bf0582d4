// Package supervisor manages the Airflow process lifecycle for one project:
// foreground and detached starts, stop of the tracked process tree and the
// plumbing (env, activation, migration, seeding) around them.
//
// Lifecycle state crosses CLI invocations only through project files: the
// persisted config, the PID record and the log pointer. Concurrent starts
// against one project are not serialized; that is an accepted limitation.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"

	"github.com/kaxil/airflowctl/internal/envfile"
	"github.com/kaxil/airflowctl/internal/execx"
	"github.com/kaxil/airflowctl/internal/project"
	"github.com/kaxil/airflowctl/internal/pypi"
	"github.com/kaxil/airflowctl/internal/seed"
	"github.com/kaxil/airflowctl/internal/venv"
)

// DefaultStartupDelay is how long a background start waits for the detached
// shell to populate the PID record before reading it back.
const DefaultStartupDelay = 5 * time.Second

// ErrNoBackgroundProcesses is reported when stop (or logs) finds nothing
// tracked. A normal outcome for the user, not a crash.
var ErrNoBackgroundProcesses = errors.New("no background processes found")

// ErrNoBackgroundLogs is reported when no log pointer exists.
var ErrNoBackgroundLogs = errors.New("no background logs found")

// Supervisor drives the managed Airflow processes of a single project.
type Supervisor struct {
	ProjectPath string
	Runner      execx.Runner
	// StartupDelay overrides DefaultStartupDelay (tests shorten it).
	StartupDelay time.Duration
	// Out receives user-facing progress messages.
	Out io.Writer
	// SettingsFile optionally overrides settings document resolution.
	SettingsFile string
}

// New returns a Supervisor for the project using the real shell runner.
func New(projectPath string) *Supervisor {
	return &Supervisor{
		ProjectPath:  projectPath,
		Runner:       execx.Shell{},
		StartupDelay: DefaultStartupDelay,
		Out:          os.Stdout,
	}
}

// VenvPath resolves the project runtime path: the persisted config value
// when a build recorded one, the conventional .venv directory otherwise.
func (s *Supervisor) VenvPath() string {
	cfg, err := project.LoadConfig(s.ProjectPath)
	if err == nil && cfg.VenvPath != "" {
		return cfg.VenvPath
	}
	return filepath.Join(s.ProjectPath, venv.DefaultDirName)
}

// HasBuilt reports whether the project runtime exists.
func (s *Supervisor) HasBuilt() bool {
	_, err := os.Stat(s.VenvPath())
	return err == nil
}

// PIDFile locates the background process ID record.
func (s *Supervisor) PIDFile() string {
	return filepath.Join(s.ProjectPath, project.ConfigDirName, PIDFileName)
}

// LogPointerFile locates the pointer to the live capture file.
func (s *Supervisor) LogPointerFile() string {
	return filepath.Join(s.ProjectPath, LogPointerFileName)
}

func (s *Supervisor) envFile() string {
	return filepath.Join(s.ProjectPath, ".env")
}

// environment loads the project .env file over the OS environment, pins
// AIRFLOW_HOME to the project path and applies the LocalExecutor settings
// for Airflow >= 2.6. It also returns the activation command and loaded
// settings, since every caller needs all three.
func (s *Supervisor) environment(ctx context.Context) ([]string, string, *project.Settings, string, error) {
	if _, err := os.Stat(s.envFile()); err != nil {
		return nil, "", nil, "", errors.New(".env file not found")
	}
	vars, err := envfile.Load(s.envFile())
	if err != nil {
		return nil, "", nil, "", fmt.Errorf("error loading .env file: %w", err)
	}

	settingsPath, err := project.ResolveSettingsFile(s.ProjectPath, s.SettingsFile)
	if err != nil {
		return nil, "", nil, "", err
	}
	settings, err := project.LoadSettings(settingsPath, pypi.DefaultVersion, s.hostPython(ctx))
	if err != nil {
		return nil, "", nil, "", err
	}

	venvPath := s.VenvPath()
	overrides := envfile.Var{"AIRFLOW_HOME": s.ProjectPath}
	for k, v := range s.localExecutorEnv(ctx, venvPath, settings) {
		overrides[k] = v
	}
	env := envfile.Merge(os.Environ(), vars, overrides)

	activate, err := venv.ActivateCommand(venvPath)
	if err != nil {
		return nil, "", nil, "", err
	}
	return env, activate, settings, settingsPath, nil
}

// localExecutorEnv gates the LocalExecutor settings on the effective
// Airflow version. A version that designates a local source tree is
// resolved by asking the installed binary.
func (s *Supervisor) localExecutorEnv(ctx context.Context, venvPath string, settings *project.Settings) envfile.Var {
	ver := settings.AirflowVersion
	if _, err := os.Stat(ver); err == nil {
		out, err := s.Runner.Output(ctx,
			fmt.Sprintf("%s version 2>/dev/null", venv.AirflowPath(venvPath)), execx.Options{})
		if err != nil {
			return nil
		}
		ver = strings.TrimSpace(out)
	}
	parsed, err := goversion.NewVersion(ver)
	if err != nil {
		return nil
	}
	if parsed.LessThan(goversion.Must(goversion.NewVersion("2.6.0"))) {
		return nil
	}
	return envfile.Var{
		"AIRFLOW__CORE__EXECUTOR":                              "LocalExecutor",
		"_AIRFLOW__SKIP_DATABASE_EXECUTOR_COMPATIBILITY_CHECK": "1",
	}
}

func (s *Supervisor) hostPython(ctx context.Context) string {
	v, err := venv.HostPythonVersion(ctx, s.Runner)
	if err != nil {
		return ""
	}
	return v
}

// Start launches Airflow. It first runs the storage migration and a version
// print as an installation sanity check, then seeds connections and
// variables. Foreground runs block attached to the terminal; background
// runs are detached with output captured to a log file and the grandchild
// PID persisted by the shell itself.
func (s *Supervisor) Start(ctx context.Context, background bool) error {
	env, activate, settings, settingsPath, err := s.environment(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(s.Out, "Verifying Airflow installation...")
	migrate := fmt.Sprintf("%s && airflow db upgrade && airflow version", activate)
	if err := s.Runner.Run(ctx, migrate, execx.Options{Env: env, Interactive: true}); err != nil {
		return fmt.Errorf("error starting Airflow: %w", err)
	}

	seeder := &seed.Seeder{Runner: s.Runner, Env: env}
	if err := seeder.AddConnections(ctx, settings, settingsPath, activate); err != nil {
		return fmt.Errorf("error starting Airflow: %w", err)
	}
	if err := seeder.AddVariables(ctx, settings, settingsPath, activate); err != nil {
		return fmt.Errorf("error starting Airflow: %w", err)
	}

	if !background {
		run := fmt.Sprintf("%s && airflow standalone", activate)
		if err := s.Runner.Run(ctx, run, execx.Options{Env: env, Interactive: true}); err != nil {
			return fmt.Errorf("error starting Airflow: %w", err)
		}
		return nil
	}
	return s.startBackground(env, activate)
}

func (s *Supervisor) startBackground(env []string, activate string) error {
	pidFile := s.PIDFile()
	if err := EnsurePIDFile(pidFile); err != nil {
		return err
	}

	captureDir := filepath.Join(s.ProjectPath, project.ConfigDirName, "logs")
	if err := os.MkdirAll(captureDir, 0o750); err != nil {
		return err
	}
	capture := filepath.Join(captureDir, fmt.Sprintf("airflow-%d.log", time.Now().Unix()))
	if err := os.WriteFile(capture, nil, 0o640); err != nil {
		return err
	}
	if err := WriteLogPointer(s.LogPointerFile(), capture); err != nil {
		return err
	}

	// The shell persists its background job's PID ($!): the long-lived
	// airflow process is one level below the wrapper, so the handle of the
	// wrapper itself must never be trusted for later control.
	script := fmt.Sprintf("%s && airflow standalone > %s 2>&1 & echo $! > %s",
		activate, capture, pidFile)
	if err := s.Runner.StartDetached(script, execx.Options{Env: env}); err != nil {
		return fmt.Errorf("error starting Airflow: %w", err)
	}

	delay := s.StartupDelay
	if delay <= 0 {
		delay = DefaultStartupDelay
	}
	time.Sleep(delay)

	pids, err := ReadPIDs(pidFile)
	if err != nil {
		return err
	}
	if len(pids) == 0 {
		return errors.New("background process did not record a PID; check the captured logs")
	}
	slog.Debug("background airflow started", "pid", pids[len(pids)-1], "capture", capture)
	fmt.Fprintf(s.Out, "Airflow is starting in the background (PID: %d).\n", pids[len(pids)-1])
	fmt.Fprintln(s.Out, "Logs are being captured. You can use 'airflowctl logs' to view the logs.")
	return nil
}

// Stop terminates every tracked background process tree, descendants first.
// Already-exited PIDs are skipped silently. The PID record is left in place;
// only a later background start rewrites it.
func (s *Supervisor) Stop(_ context.Context) error {
	pids, err := ReadPIDs(s.PIDFile())
	if err != nil {
		return err
	}
	if len(pids) == 0 {
		return ErrNoBackgroundProcesses
	}
	for _, pid := range pids {
		if err := TerminateTree(pid, 10*time.Second); err != nil {
			return fmt.Errorf("error stopping background processes: %w", err)
		}
	}
	fmt.Fprintf(s.Out,
		"All background processes (%v) and their entire process trees have been stopped.\n", pids)
	return nil
}

// RunCommand forwards an arbitrary subcommand to the airflow binary inside
// the activated runtime, attached to the terminal.
func (s *Supervisor) RunCommand(ctx context.Context, args []string) error {
	env, activate, _, _, err := s.environment(ctx)
	if err != nil {
		return err
	}
	script := fmt.Sprintf("%s && airflow %s", activate, strings.Join(args, " "))
	if err := s.Runner.Run(ctx, script, execx.Options{Env: env, Interactive: true}); err != nil {
		return fmt.Errorf("error running Airflow command: %w", err)
	}
	return nil
}

// CaptureFile resolves the live capture file through the pointer file. A
// missing pointer is ErrNoBackgroundLogs; a pointer to a deleted capture
// file is a hard failure.
func (s *Supervisor) CaptureFile() (string, error) {
	capture, err := ReadLogPointer(s.LogPointerFile())
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoBackgroundLogs
		}
		return "", err
	}
	if _, err := os.Stat(capture); err != nil {
		return "", fmt.Errorf("captured log file %s is gone: %w", capture, err)
	}
	return capture, nil
}
