// Package project owns the on-disk shape of an airflowctl project: the
// scaffolded skeleton, the settings document, the persisted project config
// under .airflowctl/ and the global tracking file. Everything other packages
// know about a project's files goes through the accessors here.
package project

import (
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed templates
var templates embed.FS

const (
	// ConfigDirName is the hidden per-project state directory.
	ConfigDirName = ".airflowctl"
	// ConfigFileName is the persisted project config inside ConfigDirName.
	ConfigFileName = "config.yaml"
)

// ErrNotAProject marks a directory without a .airflowctl marker.
var ErrNotAProject = fmt.Errorf("not an airflowctl project. Run 'airflowctl init' to initialize the project")

// Config is the persisted project config (.airflowctl/config.yaml). VenvPath
// is written only by a successful build and read before every lifecycle
// operation that does not receive an explicit override.
type Config struct {
	ProjectName string `yaml:"project_name" mapstructure:"project_name"`
	VenvPath    string `yaml:"venv_path,omitempty" mapstructure:"venv_path"`
}

// Check verifies path is an airflowctl project.
func Check(path string) error {
	if _, err := os.Stat(filepath.Join(path, ConfigDirName)); err != nil {
		return ErrNotAProject
	}
	return nil
}

// ConfigPath returns the persisted config file path for a project.
func ConfigPath(projectPath string) string {
	return filepath.Join(projectPath, ConfigDirName, ConfigFileName)
}

// LoadConfig reads the persisted project config. A missing file yields a
// zero Config and no error: init always creates it, but lifecycle commands
// must re-derive defaults when it is gone.
func LoadConfig(projectPath string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(ConfigPath(projectPath)) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", ConfigPath(projectPath), err)
	}
	return cfg, nil
}

// SaveConfig writes the persisted project config atomically enough for a
// single-writer CLI: write temp, rename.
func SaveConfig(projectPath string, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	dir := filepath.Join(projectPath, ConfigDirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp := filepath.Join(dir, ConfigFileName+".tmp")
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, ConfigPath(projectPath))
}

// SaveVenvPath records the resolved runtime path after a successful build.
func SaveVenvPath(projectPath, venvPath string) error {
	cfg, err := LoadConfig(projectPath)
	if err != nil {
		return err
	}
	cfg.VenvPath = venvPath
	return SaveConfig(projectPath, cfg)
}

// ScaffoldOptions configures project creation.
type ScaffoldOptions struct {
	ProjectName    string
	AirflowVersion string
	PythonVersion  string
	// VenvPath overrides the default PROJECT_DIR/.venv runtime location;
	// recorded in the settings document when set.
	VenvPath string
}

// Scaffold creates the project skeleton in projectPath: the .airflowctl
// config dir, dags/ with an example DAG, plugins/, requirements.txt,
// .gitignore, the settings document and the .env file. Existing files are
// never overwritten; the caller handles the non-empty-directory
// confirmation before calling.
func Scaffold(projectPath string, opts ScaffoldOptions) error {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return err
	}

	name := opts.ProjectName
	if name == "" {
		name = abs
	}
	if err := SaveConfig(abs, Config{ProjectName: name}); err != nil {
		return err
	}

	dagsDir := filepath.Join(abs, "dags")
	if _, err := os.Stat(dagsDir); os.IsNotExist(err) {
		if err := os.MkdirAll(dagsDir, 0o750); err != nil {
			return err
		}
		dag, err := templates.ReadFile("templates/example_dag.py")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dagsDir, "example_dag_basic.py"), dag, 0o640); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Join(abs, "plugins"), 0o750); err != nil {
		return err
	}
	if err := touch(filepath.Join(abs, "requirements.txt")); err != nil {
		return err
	}

	gitignore, err := templates.ReadFile("templates/gitignore")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(abs, ".gitignore"), gitignore, 0o640); err != nil {
		return err
	}

	settingsFile := filepath.Join(abs, SettingsFilename)
	if IsAstroProject(abs) {
		settingsFile = filepath.Join(abs, AstroSettingsFilename)
	}
	if _, err := os.Stat(settingsFile); os.IsNotExist(err) {
		content := fmt.Sprintf(settingsTemplate, opts.AirflowVersion, opts.PythonVersion)
		if opts.VenvPath != "" {
			content += fmt.Sprintf("\n# Venv directory for the project\nvenv_path: %q\n", opts.VenvPath)
		}
		if err := os.WriteFile(settingsFile, []byte(content), 0o640); err != nil {
			return err
		}
	}

	envFile := filepath.Join(abs, ".env")
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		content := fmt.Sprintf(envTemplate, abs)
		if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
			return err
		}
	}
	return nil
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o640) // #nosec G304
	if err != nil {
		return err
	}
	return f.Close()
}

// TrackingFile is the global registry of projects created by this CLI.
func TrackingFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDirName, "tracked_projects.yaml"), nil
}

type trackingDoc struct {
	Projects []string `yaml:"projects"`
}

// AddToTracking registers an absolute project path in the tracking file,
// append-if-absent.
func AddToTracking(trackingFile, projectPath string) error {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return err
	}
	var doc trackingDoc
	if b, err := os.ReadFile(trackingFile); err == nil { // #nosec G304
		_ = yaml.Unmarshal(b, &doc)
	}
	for _, p := range doc.Projects {
		if p == abs {
			return nil
		}
	}
	doc.Projects = append(doc.Projects, abs)
	if err := os.MkdirAll(filepath.Dir(trackingFile), 0o750); err != nil {
		return err
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(trackingFile, b, 0o600); err != nil {
		return err
	}
	slog.Info("project added to tracking", "project", abs)
	return nil
}

// TrackedProjects lists registered project paths. A missing tracking file is
// an empty list.
func TrackedProjects(trackingFile string) ([]string, error) {
	b, err := os.ReadFile(trackingFile) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var doc trackingDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc.Projects, nil
}

const settingsTemplate = `# Airflow version to be installed
airflow_version: "%s"

# Python version for the project
python_version: "%s"

# Airflow connections
connections:
    # Example connection
    # - conn_id: example
    #   conn_type: http
    #   host: http://example.com
    #   port: 80
    #   login: user
    #   password: pass
    #   schema: http
    #   extra:
    #      example_extra_field: example-value

# Airflow variables
variables:
    # Example variable
    # - key: example
    #   value: example-value
    #   description: example-description
`

const envTemplate = `AIRFLOW_HOME=%s
AIRFLOW__CORE__LOAD_EXAMPLES=False
AIRFLOW__CORE__FERNET_KEY=d6Vefz3G9U_ynXB3cr7y_Ak35tAHkEGAVxuz_B-jzWw=
AIRFLOW__WEBSERVER__WORKERS=2
AIRFLOW__WEBSERVER__SECRET_KEY=secret
AIRFLOW__WEBSERVER__EXPOSE_CONFIG=True
`
