//go:build !windows

package installer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kaxil/airflowctl/internal/execx"
	"github.com/kaxil/airflowctl/internal/venv"
)

type call struct {
	script string
	dir    string
}

type fakeRunner struct {
	calls   []call
	outputs map[string]string
	failOn  string
}

func (f *fakeRunner) Run(_ context.Context, script string, opts execx.Options) error {
	f.calls = append(f.calls, call{script: script, dir: opts.Dir})
	if f.failOn != "" && strings.Contains(script, f.failOn) {
		return errors.New("forced failure")
	}
	return nil
}

func (f *fakeRunner) Output(_ context.Context, script string, opts execx.Options) (string, error) {
	f.calls = append(f.calls, call{script: script, dir: opts.Dir})
	for sub, out := range f.outputs {
		if strings.Contains(script, sub) {
			return out, nil
		}
	}
	return "", errors.New("no output configured")
}

func (f *fakeRunner) StartDetached(script string, opts execx.Options) error {
	f.calls = append(f.calls, call{script: script, dir: opts.Dir})
	return nil
}

func makeVenv(t *testing.T, withAirflow bool) string {
	t.Helper()
	vp := filepath.Join(t.TempDir(), ".venv")
	if err := os.MkdirAll(filepath.Join(vp, "bin"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(venv.PythonPath(vp), []byte("#!/bin/sh\n"), 0o750); err != nil {
		t.Fatal(err)
	}
	if withAirflow {
		if err := os.WriteFile(venv.AirflowPath(vp), []byte("#!/bin/sh\n"), 0o750); err != nil {
			t.Fatal(err)
		}
	}
	return vp
}

func TestConstraintsURLDeterminism(t *testing.T) {
	got := ConstraintsURL("2.8.1", "3.10.4")
	if !strings.Contains(got, "constraints-2.8.1") {
		t.Fatalf("missing airflow version pin: %q", got)
	}
	if !strings.HasSuffix(got, "constraints-3.10.txt") {
		t.Fatalf("python version not truncated to major.minor: %q", got)
	}
}

func TestInstallSkipsWhenVersionMatches(t *testing.T) {
	vp := makeVenv(t, true)
	r := &fakeRunner{outputs: map[string]string{"version": "2.6.3\n"}}
	inst := &Installer{Runner: r}

	err := inst.Install(context.Background(), Spec{
		VenvPath:       vp,
		AirflowVersion: "2.6.3",
		PythonVersion:  "3.11.4",
		ProjectPath:    t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	// Only the version probe, no pipeline.
	if len(r.calls) != 1 || !strings.Contains(r.calls[0].script, "version") {
		t.Fatalf("calls = %+v", r.calls)
	}
}

func TestInstallMismatchResetsStorageAndReinstalls(t *testing.T) {
	vp := makeVenv(t, true)
	projectPath := t.TempDir()
	dbPath := filepath.Join(projectPath, "airflow.db")
	if err := os.WriteFile(dbPath, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}

	r := &fakeRunner{outputs: map[string]string{"version": "2.5.0\n"}}
	inst := &Installer{Runner: r}
	err := inst.Install(context.Background(), Spec{
		VenvPath:       vp,
		AirflowVersion: "2.6.3",
		PythonVersion:  "3.11.4",
		ProjectPath:    projectPath,
	})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Fatal("stale airflow.db was not deleted")
	}
	last := r.calls[len(r.calls)-1].script
	if !strings.Contains(last, "pip install --upgrade pip setuptools wheel") {
		t.Fatalf("pipeline missing package manager upgrade: %q", last)
	}
	if !strings.Contains(last, "'apache-airflow==2.6.3'") {
		t.Fatalf("pipeline missing pinned install: %q", last)
	}
	if !strings.Contains(last, "--constraint "+ConstraintsURL("2.6.3", "3.11.4")) {
		t.Fatalf("pipeline missing constraints: %q", last)
	}
}

func TestInstallPipelineFailureIsFatal(t *testing.T) {
	vp := makeVenv(t, false)
	r := &fakeRunner{failOn: "pip install"}
	inst := &Installer{Runner: r}
	err := inst.Install(context.Background(), Spec{
		VenvPath:       vp,
		AirflowVersion: "2.6.3",
		PythonVersion:  "3.11.4",
		ProjectPath:    t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected pipeline failure to propagate")
	}
}

func TestInstallLocalPathSkipsConstraints(t *testing.T) {
	vp := makeVenv(t, false)
	src := t.TempDir() // version designates a local source tree
	r := &fakeRunner{}
	inst := &Installer{Runner: r}
	err := inst.Install(context.Background(), Spec{
		VenvPath:       vp,
		AirflowVersion: src,
		PythonVersion:  "3.11.4",
		ProjectPath:    t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	last := r.calls[len(r.calls)-1]
	if !strings.Contains(last.script, " .") || strings.Contains(last.script, "--constraint") {
		t.Fatalf("local install misassembled: %q", last.script)
	}
	if last.dir != src {
		t.Fatalf("workdir = %q, want %q", last.dir, src)
	}
}

func TestInstallExtrasAndRequirements(t *testing.T) {
	vp := makeVenv(t, false)
	projectPath := t.TempDir()
	r := &fakeRunner{}
	inst := &Installer{Runner: r}
	err := inst.Install(context.Background(), Spec{
		VenvPath:        vp,
		AirflowVersion:  "2.8.1",
		PythonVersion:   "3.10.4",
		ProjectPath:     projectPath,
		Extras:          "[celery]",
		UseRequirements: true,
	})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	last := r.calls[len(r.calls)-1].script
	if !strings.Contains(last, "'apache-airflow==2.8.1[celery]'") {
		t.Fatalf("extras not applied: %q", last)
	}
	if !strings.Contains(last, "-r "+filepath.Join(projectPath, "requirements.txt")) {
		t.Fatalf("requirements file not layered: %q", last)
	}
}

func TestInstallEnvOverrides(t *testing.T) {
	vp := makeVenv(t, false)
	t.Setenv(EnvConstraints, "https://example.com/c.txt")
	t.Setenv(EnvPipFlags, "--no-cache-dir")

	r := &fakeRunner{}
	inst := &Installer{Runner: r}
	if err := inst.Install(context.Background(), Spec{
		VenvPath:       vp,
		AirflowVersion: "2.6.3",
		PythonVersion:  "3.11.4",
		ProjectPath:    t.TempDir(),
	}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	last := r.calls[len(r.calls)-1].script
	if !strings.Contains(last, "--constraint https://example.com/c.txt") {
		t.Fatalf("constraints override ignored: %q", last)
	}
	if !strings.Contains(last, "--no-cache-dir") {
		t.Fatalf("pip flags ignored: %q", last)
	}

	t.Setenv(EnvNoConstraints, "1")
	r.calls = nil
	if err := inst.Install(context.Background(), Spec{
		VenvPath:       vp,
		AirflowVersion: "2.6.3",
		PythonVersion:  "3.11.4",
		ProjectPath:    t.TempDir(),
	}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	last = r.calls[len(r.calls)-1].script
	if strings.Contains(last, "--constraint") {
		t.Fatalf("constraints not suppressed: %q", last)
	}
}

func TestMajorMinor(t *testing.T) {
	cases := map[string]string{
		"3.10.4": "3.10",
		"3.11":   "3.11",
		"3":      "3",
	}
	for in, want := range cases {
		if got := majorMinor(in); got != want {
			t.Fatalf("majorMinor(%q) = %q, want %q", in, got, want)
		}
	}
}
