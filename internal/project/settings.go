package project

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// SettingsFilename is the standard settings document.
	SettingsFilename = "settings.yaml"
	// AstroSettingsFilename is the Astro project convention.
	AstroSettingsFilename = "airflow_settings.yaml"
)

// Settings is the normalized view of a settings document. The two on-disk
// variants (standard and Astro) are folded into this one shape; nothing
// outside this file branches on the variant.
type Settings struct {
	AirflowVersion string
	PythonVersion  string
	VenvPath       string
	Connections    []map[string]any
	Variables      []map[string]any
}

// IsAstroProject reports whether the project follows the Astro convention,
// probed by the .astro marker directory or the Astro settings filename.
func IsAstroProject(projectPath string) bool {
	if _, err := os.Stat(filepath.Join(projectPath, ".astro")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(projectPath, AstroSettingsFilename)); err == nil {
		return true
	}
	return false
}

// ResolveSettingsFile returns the settings document path for a project:
// the explicit override if given, the Astro file for Astro projects,
// settings.yaml otherwise. A missing file is a precondition failure.
func ResolveSettingsFile(projectPath, override string) (string, error) {
	path := override
	if path == "" {
		name := SettingsFilename
		if IsAstroProject(projectPath) {
			name = AstroSettingsFilename
			slog.Info("detected Astro project", "settings", filepath.Join(projectPath, name))
		}
		path = filepath.Join(projectPath, name)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("settings file %q not found", abs)
	}
	return abs, nil
}

// LoadSettings parses a settings document into the normalized Settings.
// Astro documents nest connections/variables under a top-level "airflow"
// key and use conn_*-prefixed connection fields; both are normalized here.
// Missing version keys in an Astro document are backfilled with the given
// defaults and written back so later invocations see a complete document.
func LoadSettings(path string, defaultAirflowVersion, defaultPythonVersion string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}

	s := &Settings{
		AirflowVersion: v.GetString("airflow_version"),
		PythonVersion:  v.GetString("python_version"),
		VenvPath:       v.GetString("venv_path"),
	}

	connKey, varKey := "connections", "variables"
	astro := v.IsSet("airflow")
	if astro {
		connKey, varKey = "airflow.connections", "airflow.variables"
	}
	if conns, ok := v.Get(connKey).([]any); ok {
		for _, raw := range conns {
			if m, ok := raw.(map[string]any); ok {
				s.Connections = append(s.Connections, normalizeConnection(m))
			}
		}
	}
	if vars, ok := v.Get(varKey).([]any); ok {
		for _, raw := range vars {
			if m, ok := raw.(map[string]any); ok {
				s.Variables = append(s.Variables, normalizeVariable(m))
			}
		}
	}

	if s.AirflowVersion == "" || s.PythonVersion == "" {
		if !astro && !strings.HasSuffix(path, AstroSettingsFilename) {
			return nil, fmt.Errorf("settings %s: airflow_version and python_version are required", path)
		}
		if s.AirflowVersion == "" {
			s.AirflowVersion = defaultAirflowVersion
		}
		if s.PythonVersion == "" {
			slog.Info("python version not found in Astro settings file, using the installed version",
				"version", defaultPythonVersion)
			s.PythonVersion = defaultPythonVersion
		}
		if err := backfillVersions(path, s.AirflowVersion, s.PythonVersion); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// astroConnKeys maps Astro conn_* field names to Airflow connection fields.
var astroConnKeys = map[string]string{
	"conn_port":     "port",
	"conn_login":    "login",
	"conn_password": "password",
	"conn_schema":   "schema",
	"conn_extra":    "extra",
	"conn_host":     "host",
}

func normalizeConnection(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if mapped, ok := astroConnKeys[k]; ok {
			k = mapped
		}
		out[k] = v
	}
	return out
}

func normalizeVariable(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch k {
		case "variable_name":
			k = "key"
		case "variable_value":
			k = "value"
		}
		out[k] = v
	}
	return out
}

func backfillVersions(path, airflowVersion, pythonVersion string) error {
	b, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if _, ok := doc["airflow_version"]; !ok {
		doc["airflow_version"] = airflowVersion
	}
	if _, ok := doc["python_version"]; !ok {
		doc["python_version"] = pythonVersion
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o640)
}
