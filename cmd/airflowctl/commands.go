package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/kaxil/airflowctl/internal/execx"
	"github.com/kaxil/airflowctl/internal/history"
	"github.com/kaxil/airflowctl/internal/installer"
	"github.com/kaxil/airflowctl/internal/logstream"
	"github.com/kaxil/airflowctl/internal/project"
	"github.com/kaxil/airflowctl/internal/pypi"
	"github.com/kaxil/airflowctl/internal/supervisor"
	"github.com/kaxil/airflowctl/internal/venv"
)

// command binds the subcommand handlers to their shared collaborators.
type command struct {
	runner execx.Runner
	out    io.Writer
	in     io.Reader
	pypi   *pypi.Client

	// test seams
	startupDelay time.Duration
	trackingFile string
}

func (c *command) supervisor(projectPath string) *supervisor.Supervisor {
	sup := supervisor.New(projectPath)
	sup.Runner = c.runner
	sup.Out = c.out
	if c.startupDelay > 0 {
		sup.StartupDelay = c.startupDelay
	}
	return sup
}

func (c *command) tracking() (string, error) {
	if c.trackingFile != "" {
		return c.trackingFile, nil
	}
	return project.TrackingFile()
}

// Init scaffolds a new project and registers it in the global tracking file.
func (c *command) Init(ctx context.Context, f InitFlags, path string) error {
	airflowVersion := f.AirflowVersion
	if airflowVersion == "" {
		airflowVersion = c.pypi.Latest(ctx)
	}
	pythonVersion := f.PythonVersion
	if pythonVersion == "" {
		v, err := venv.HostPythonVersion(ctx, c.runner)
		if err != nil {
			return err
		}
		pythonVersion = v
	}

	// A local source path bypasses release validation.
	if _, err := os.Stat(airflowVersion); err != nil {
		releases, err := c.pypi.Releases(ctx)
		if err == nil && !contains(releases, airflowVersion) {
			return fmt.Errorf("Apache Airflow version %q not found. Please select a valid released version", airflowVersion)
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if nonEmptyDir(abs) {
		if !confirm(c.in, c.out, fmt.Sprintf("Directory %s is not empty. Continue?", abs)) {
			return errors.New("aborted")
		}
	}

	if err := project.Scaffold(abs, project.ScaffoldOptions{
		ProjectName:    f.ProjectName,
		AirflowVersion: airflowVersion,
		PythonVersion:  pythonVersion,
		VenvPath:       f.VenvPath,
	}); err != nil {
		return err
	}

	tf, err := c.tracking()
	if err != nil {
		slog.Warn("could not resolve the tracking file; project will not appear in 'airflowctl list'",
			"error", err)
	} else if err := project.AddToTracking(tf, abs); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Airflow project initialized in %s\n", abs)

	if f.BuildStart {
		if err := c.Build(ctx, BuildFlags{}, abs); err != nil {
			return err
		}
		return c.Start(ctx, StartFlags{Background: f.Background}, abs)
	}
	return nil
}

// Build provisions the runtime, installs Airflow into it and persists the
// resolved runtime path.
func (c *command) Build(ctx context.Context, f BuildFlags, path string) error {
	if err := project.Check(path); err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	settingsPath, err := project.ResolveSettingsFile(abs, f.SettingsFile)
	if err != nil {
		return err
	}
	hostPython, err := venv.HostPythonVersion(ctx, c.runner)
	if err != nil {
		return err
	}
	defaultAirflow := pypi.DefaultVersion
	if project.IsAstroProject(abs) {
		defaultAirflow = c.pypi.Latest(ctx)
	}
	settings, err := project.LoadSettings(settingsPath, defaultAirflow, hostPython)
	if err != nil {
		return err
	}

	venvPath := settings.VenvPath
	if venvPath == "" {
		venvPath = filepath.Join(abs, venv.DefaultDirName)
	}

	prov := &venv.Provisioner{Runner: c.runner, HostVersion: hostPython}
	resolved, err := prov.Provision(ctx, venvPath, settings.PythonVersion, f.RecreateVenv)
	if err != nil {
		return err
	}

	inst := &installer.Installer{Runner: c.runner}
	if err := inst.Install(ctx, installer.Spec{
		VenvPath:        resolved,
		AirflowVersion:  settings.AirflowVersion,
		PythonVersion:   settings.PythonVersion,
		ProjectPath:     abs,
		UseRequirements: hasRequirements(abs),
	}); err != nil {
		return err
	}

	if err := project.SaveVenvPath(abs, resolved); err != nil {
		return err
	}
	history.RecordEvent(ctx, abs, history.EventBuild, settings.AirflowVersion)
	fmt.Fprintln(c.out, "Airflow project built successfully.")
	return nil
}

// Start launches Airflow, building the project first (after confirmation)
// when it has never been built.
func (c *command) Start(ctx context.Context, f StartFlags, path string) error {
	if err := project.Check(path); err != nil {
		return err
	}
	sup := c.supervisor(path)
	if !sup.HasBuilt() {
		fmt.Fprintln(c.out, "Project has not been built yet.")
		if !confirm(c.in, c.out, "Do you want to build the project now?") {
			return errors.New("aborted")
		}
		fmt.Fprintln(c.out, "Building project...")
		if err := c.Build(ctx, BuildFlags{}, path); err != nil {
			return err
		}
	}
	if err := sup.Start(ctx, f.Background); err != nil {
		return err
	}
	mode := "foreground"
	if f.Background {
		mode = "background"
	}
	history.RecordEvent(ctx, path, history.EventStart, mode)
	return nil
}

// Stop terminates the tracked background process trees.
func (c *command) Stop(ctx context.Context, path string) error {
	if err := project.Check(path); err != nil {
		return err
	}
	if err := c.supervisor(path).Stop(ctx); err != nil {
		return err
	}
	history.RecordEvent(ctx, path, history.EventStop, "")
	return nil
}

// Logs follows the captured background logs until interrupted.
func (c *command) Logs(ctx context.Context, f LogsFlags, path string) error {
	if err := project.Check(path); err != nil {
		return err
	}
	capture, err := c.supervisor(path).CaptureFile()
	if err != nil {
		return err
	}

	var filters []string
	if f.Webserver {
		filters = append(filters, logstream.Webserver)
	}
	if f.Scheduler {
		filters = append(filters, logstream.Scheduler)
	}
	if f.Triggerer {
		filters = append(filters, logstream.Triggerer)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Fprintln(c.out, "Displaying live background logs... (Press Ctrl+C to stop)")
	streamer := &logstream.Streamer{Filters: filters, Color: isatty.IsTerminal(os.Stdout.Fd())}
	if err := streamer.Stream(ctx, c.out, capture); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "\nLogs display stopped.")
	return nil
}

// List prints the globally tracked projects.
func (c *command) List() error {
	tf, err := c.tracking()
	if err != nil {
		return err
	}
	projects, err := project.TrackedProjects(tf)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Fprintln(c.out, "No tracked Airflow projects found.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT NAME\tPROJECT PATH\tPYTHON VERSION\tAIRFLOW VERSION")
	for _, dir := range projects {
		cfg, err := project.LoadConfig(dir)
		if err != nil || cfg.ProjectName == "" {
			continue
		}
		settingsPath, err := project.ResolveSettingsFile(dir, "")
		if err != nil {
			continue
		}
		settings, err := project.LoadSettings(settingsPath, pypi.DefaultVersion, "")
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", cfg.ProjectName, dir, settings.PythonVersion, settings.AirflowVersion)
	}
	return w.Flush()
}

// Info prints project details and recent lifecycle history.
func (c *command) Info(ctx context.Context, path string) error {
	if err := project.Check(path); err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	cfg, err := project.LoadConfig(abs)
	if err != nil {
		return err
	}
	sup := c.supervisor(abs)
	venvPath := sup.VenvPath()

	airflowVersion := ""
	fmt.Fprintln(c.out, "Airflow Project Information")
	fmt.Fprintf(c.out, "Project Name: %s\n", valueOr(cfg.ProjectName, "N/A"))
	fmt.Fprintf(c.out, "Project Path: %s\n", abs)

	if settingsPath, err := project.ResolveSettingsFile(abs, ""); err == nil {
		if settings, err := project.LoadSettings(settingsPath, pypi.DefaultVersion, ""); err == nil {
			fmt.Fprintf(c.out, "Python Version: %s\n", valueOr(settings.PythonVersion, "N/A"))
			fmt.Fprintf(c.out, "Airflow Version: %s\n", valueOr(settings.AirflowVersion, "N/A"))
			airflowVersion = settings.AirflowVersion
		}
	}
	fmt.Fprintf(c.out, "Environment file: %s\n", filepath.Join(abs, ".env"))
	fmt.Fprintf(c.out, "Virtual environment path: %s\n", venvPath)
	fmt.Fprintf(c.out, "Background process IDs file: %s\n", sup.PIDFile())
	fmt.Fprintf(c.out, "Background logs info file: %s\n", sup.LogPointerFile())
	fmt.Fprintf(c.out, "Airflow binary: %s\n", venv.AirflowPath(venvPath))
	fmt.Fprintf(c.out, "Python: %s\n", venv.PythonPath(venvPath))

	c.printHistory(ctx, abs)
	c.printNextSteps(abs, venvPath, airflowVersion)
	return nil
}

// printNextSteps tells the user how to work with the project from a plain
// shell, outside this CLI.
func (c *command) printNextSteps(projectPath, venvPath, airflowVersion string) {
	fmt.Fprintln(c.out, "\nNext Steps:")
	if !fileExists(venvPath) {
		fmt.Fprintln(c.out, "  # Build the project to create the virtual environment:")
		fmt.Fprintln(c.out, "    $ airflowctl build")
		return
	}

	if activate, err := venv.ActivateCommand(venvPath); err == nil && os.Getenv("VIRTUAL_ENV") != venvPath {
		fmt.Fprintln(c.out, "  # Activate the virtual environment:")
		fmt.Fprintf(c.out, "    $ %s\n", activate)
	}
	envFile := filepath.Join(projectPath, ".env")
	if os.Getenv("AIRFLOW_HOME") != projectPath && !envFileSets(envFile, "AIRFLOW_HOME") {
		fmt.Fprintln(c.out, "  # Set AIRFLOW_HOME to the project path:")
		fmt.Fprintf(c.out, "    $ export AIRFLOW_HOME=%s\n", projectPath)
	}
	fmt.Fprintln(c.out, "  # Source the environment variables:")
	fmt.Fprintln(c.out, "    $ source .env")
	fmt.Fprintln(c.out, "  # You can now run any \"airflow\" command in your terminal. For example:")
	fmt.Fprintln(c.out, "    $ airflow version")
	fmt.Fprintln(c.out, "  # Run Apache Airflow in standalone mode:")
	fmt.Fprintln(c.out, "    $ airflow standalone")
	fmt.Fprintln(c.out, "  # Access the Airflow UI in your web browser at: http://localhost:8080")
	if airflowVersion != "" {
		fmt.Fprintln(c.out, "  # For more information and guidance, refer to the Apache Airflow documentation:")
		fmt.Fprintf(c.out, "  # https://airflow.apache.org/docs/apache-airflow/%s/\n", airflowVersion)
	}
}

func (c *command) printHistory(ctx context.Context, projectPath string) {
	store, err := history.Open(filepath.Join(projectPath, project.ConfigDirName, history.FileName))
	if err != nil {
		return
	}
	defer func() { _ = store.Close() }()
	if err := store.EnsureSchema(ctx); err != nil {
		return
	}
	events, err := store.Recent(ctx, 5)
	if err != nil || len(events) == 0 {
		return
	}
	fmt.Fprintln(c.out, "\nRecent activity:")
	for _, e := range events {
		detail := ""
		if e.Detail != "" {
			detail = " (" + e.Detail + ")"
		}
		fmt.Fprintf(c.out, "  %s  %s%s\n", e.At.Local().Format(time.DateTime), e.Kind, detail)
	}
}

// Airflow forwards a trailing argument list to the airflow binary,
// propagating its exit status.
func (c *command) Airflow(ctx context.Context, args []string) error {
	path, rest := splitProjectPath(args)
	if err := project.Check(path); err != nil {
		return err
	}
	err := c.supervisor(path).RunCommand(ctx, rest)
	if err != nil {
		if code := execx.ExitCode(err); code > 0 {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(code)
		}
		return err
	}
	return nil
}

// splitProjectPath peels an optional --project-path flag off the forwarded
// argument list; everything else belongs to airflow.
func splitProjectPath(args []string) (string, []string) {
	path := ""
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--project-path" && i+1 < len(args):
			path = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--project-path="):
			path = strings.TrimPrefix(args[i], "--project-path=")
		default:
			rest = append(rest, args[i])
		}
	}
	if path == "" {
		path = projectPathArg(nil)
	}
	return path, rest
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// envFileSets reports whether the .env file assigns the given variable.
func envFileSets(envFile, name string) bool {
	b, err := os.ReadFile(envFile) // #nosec G304
	if err != nil {
		return false
	}
	return strings.Contains(string(b), name+"=")
}

func hasRequirements(projectPath string) bool {
	info, err := os.Stat(filepath.Join(projectPath, "requirements.txt"))
	return err == nil && info.Size() > 0
}

func nonEmptyDir(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
