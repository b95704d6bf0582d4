package airflowctl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kaxil/airflowctl/internal/project"
)

func TestLoadSettingsThroughFacade(t *testing.T) {
	dir := t.TempDir()
	doc := "airflow_version: \"2.7.0\"\npython_version: \"3.11.4\"\n"
	if err := os.WriteFile(filepath.Join(dir, project.SettingsFilename), []byte(doc), 0o640); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSettings(dir)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.AirflowVersion != "2.7.0" || s.PythonVersion != "3.11.4" {
		t.Fatalf("settings = %+v", s)
	}
}

func TestLoadSettingsMissingDocument(t *testing.T) {
	if _, err := LoadSettings(t.TempDir()); err == nil {
		t.Fatal("expected error when no settings document exists")
	}
}

func TestSupervisorStopWithNothingTracked(t *testing.T) {
	sup := NewSupervisor(t.TempDir())
	if err := sup.Stop(context.Background()); !errors.Is(err, ErrNoBackgroundProcesses) {
		t.Fatalf("err = %v, want ErrNoBackgroundProcesses", err)
	}
}
