package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kaxil/airflowctl/internal/execx"
	"github.com/kaxil/airflowctl/internal/logger"
	"github.com/kaxil/airflowctl/internal/pypi"
)

func main() {
	closer, err := logger.Setup(logger.Config{Level: slog.LevelInfo, File: diagnosticLogFile()})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	root := buildRoot()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func diagnosticLogFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".airflowctl", "airflowctl.log")
}

// buildRoot wires the full command tree around one shared command receiver.
func buildRoot() *cobra.Command {
	c := &command{
		runner: execx.Shell{},
		out:    os.Stdout,
		in:     os.Stdin,
		pypi:   pypi.NewClient(),
	}

	initFlags := &InitFlags{}
	buildFlags := &BuildFlags{}
	startFlags := &StartFlags{}
	logsFlags := &LogsFlags{}

	root := createRootCommand()
	root.AddCommand(
		createInitCommand(c, initFlags),
		createBuildCommand(c, buildFlags),
		createStartCommand(c, startFlags),
		createStopCommand(c),
		createLogsCommand(c, logsFlags),
		createListCommand(c),
		createInfoCommand(c),
		createAirflowCommand(c),
	)
	return root
}

func createRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "airflowctl",
		Short: "Streamline getting started with Apache Airflow and managing multiple Airflow projects",
		Long: `airflowctl scaffolds Airflow projects, manages a per-project virtual
environment with a pinned Airflow version, and supervises the Airflow
process lifecycle.

Examples:
  airflowctl init my_project --airflow-version 2.8.1
  airflowctl build my_project
  airflowctl start my_project --background
  airflowctl logs my_project -s
  airflowctl stop my_project`,
		SilenceUsage: true,
	}
}

func createInitCommand(c *command, f *InitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init PATH",
		Short: "Initialize a new Airflow project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Init(cmd.Context(), *f, args[0])
		},
	}
	cmd.Flags().StringVar(&f.ProjectName, "project-name", "", "name of the Airflow project to be initialized")
	cmd.Flags().StringVar(&f.AirflowVersion, "airflow-version", "", "version of Apache Airflow to use (defaults to latest)")
	cmd.Flags().StringVar(&f.PythonVersion, "python-version", "", "version of Python to use (defaults to the host version)")
	cmd.Flags().BoolVar(&f.BuildStart, "build-start", false, "build the project and start Airflow after initialization")
	cmd.Flags().BoolVar(&f.Background, "background", false, "run Airflow in the background (with --build-start)")
	cmd.Flags().StringVar(&f.VenvPath, "venv-path", "", "path to the venv directory (defaults to PROJECT_DIR/.venv)")
	return cmd
}

func createBuildCommand(c *command, f *BuildFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [PATH]",
		Short: "Build an Airflow project: create the virtual environment and install Airflow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Build(cmd.Context(), *f, projectPathArg(args))
		},
	}
	cmd.Flags().StringVar(&f.SettingsFile, "settings-file", "", "path to the settings file (defaults to PROJECT_DIR/settings.yaml)")
	cmd.Flags().BoolVar(&f.RecreateVenv, "recreate-venv", false, "recreate the virtual environment if it already exists")
	return cmd
}

func createStartCommand(c *command, f *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start [PATH]",
		Short: "Start Airflow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context(), *f, projectPathArg(args))
		},
	}
	cmd.Flags().BoolVar(&f.Background, "background", false, "run Airflow in the background")
	return cmd
}

func createStopCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [PATH]",
		Short: "Stop a running background Airflow process and its entire process tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), projectPathArg(args))
		},
	}
}

func createLogsCommand(c *command, f *LogsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [PATH]",
		Short: "Continuously display live logs of the background Airflow processes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Logs(cmd.Context(), *f, projectPathArg(args))
		},
	}
	cmd.Flags().BoolVarP(&f.Webserver, "webserver", "w", false, "filter logs for the Webserver")
	cmd.Flags().BoolVarP(&f.Scheduler, "scheduler", "s", false, "filter logs for the Scheduler")
	cmd.Flags().BoolVarP(&f.Triggerer, "triggerer", "t", false, "filter logs for the Triggerer")
	return cmd
}

func createListCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all Airflow projects created using this CLI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.List()
		},
	}
}

func createInfoCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "info [PATH]",
		Short: "Display information about the current Airflow project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Info(cmd.Context(), projectPathArg(args))
		},
	}
}

func createAirflowCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "airflow [ARGS...]",
		Short: "Forward commands to the Airflow CLI inside the project virtual environment",
		// The trailing argument list belongs to airflow, not to us.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Airflow(cmd.Context(), args)
		},
	}
	return cmd
}

// projectPathArg resolves the optional positional project path, defaulting
// to the current working directory.
func projectPathArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
