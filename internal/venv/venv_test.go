//go:build !windows

package venv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kaxil/airflowctl/internal/execx"
)

type fakeRunner struct {
	scripts []string
	outputs map[string]string // substring -> stdout
	failOn  string
}

func (f *fakeRunner) Run(_ context.Context, script string, _ execx.Options) error {
	f.scripts = append(f.scripts, script)
	if f.failOn != "" && strings.Contains(script, f.failOn) {
		return errors.New("forced failure")
	}
	return nil
}

func (f *fakeRunner) Output(_ context.Context, script string, _ execx.Options) (string, error) {
	f.scripts = append(f.scripts, script)
	if f.failOn != "" && strings.Contains(script, f.failOn) {
		return "", errors.New("forced failure")
	}
	for sub, out := range f.outputs {
		if strings.Contains(script, sub) {
			return out, nil
		}
	}
	return "", nil
}

func (f *fakeRunner) StartDetached(script string, _ execx.Options) error {
	f.scripts = append(f.scripts, script)
	return nil
}

func makeValidVenv(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(path, "bin"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(PythonPath(path), []byte("#!/bin/sh\n"), 0o750); err != nil {
		t.Fatal(err)
	}
}

func TestProvisionIdempotentOnValidRuntime(t *testing.T) {
	vp := filepath.Join(t.TempDir(), ".venv")
	makeValidVenv(t, vp)

	r := &fakeRunner{}
	p := &Provisioner{Runner: r, HostVersion: "3.11.4"}
	got, err := p.Provision(context.Background(), vp, "3.11.4", false)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if got != vp {
		t.Fatalf("path = %q, want %q", got, vp)
	}
	if len(r.scripts) != 0 {
		t.Fatalf("expected no commands on valid runtime, ran %v", r.scripts)
	}
	// Second call is equally a no-op.
	if _, err := p.Provision(context.Background(), vp, "3.11.4", false); err != nil {
		t.Fatalf("second Provision: %v", err)
	}
	if len(r.scripts) != 0 {
		t.Fatalf("second call ran commands: %v", r.scripts)
	}
}

func TestProvisionCorruptRuntimeIsFatal(t *testing.T) {
	vp := filepath.Join(t.TempDir(), ".venv")
	if err := os.MkdirAll(vp, 0o750); err != nil {
		t.Fatal(err)
	}
	p := &Provisioner{Runner: &fakeRunner{}, HostVersion: "3.11.4"}
	if _, err := p.Provision(context.Background(), vp, "3.11.4", false); err == nil {
		t.Fatal("expected error for directory without interpreter")
	}
	// Not repaired: still no interpreter.
	if IsValid(vp) {
		t.Fatal("corrupt runtime must not be repaired")
	}
}

func TestProvisionRecreateDestroysFirst(t *testing.T) {
	vp := filepath.Join(t.TempDir(), ".venv")
	makeValidVenv(t, vp)
	sentinel := filepath.Join(vp, "sentinel")
	if err := os.WriteFile(sentinel, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	r := &fakeRunner{}
	p := &Provisioner{Runner: r, HostVersion: "3.11.4"}
	if _, err := p.Provision(context.Background(), vp, "3.11.4", true); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if _, err := os.Stat(sentinel); !os.IsNotExist(err) {
		t.Fatal("existing runtime was not destroyed")
	}
	if len(r.scripts) != 1 || !strings.Contains(r.scripts[0], "python3 -m venv") {
		t.Fatalf("expected host venv creation, ran %v", r.scripts)
	}
}

func TestProvisionHostInterpreter(t *testing.T) {
	vp := filepath.Join(t.TempDir(), ".venv")
	r := &fakeRunner{}
	p := &Provisioner{Runner: r, HostVersion: "3.11.4"}
	if _, err := p.Provision(context.Background(), vp, "3.11.4", false); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if len(r.scripts) != 1 || !strings.Contains(r.scripts[0], "python3 -m venv "+vp) {
		t.Fatalf("unexpected scripts %v", r.scripts)
	}
}

func TestProvisionPyenvMissingIsFatal(t *testing.T) {
	t.Setenv("PATH", t.TempDir()) // no pyenv here
	vp := filepath.Join(t.TempDir(), ".venv")
	p := &Provisioner{Runner: &fakeRunner{}, HostVersion: "3.11.4"}
	_, err := p.Provision(context.Background(), vp, "3.10.2", false)
	if !errors.Is(err, ErrPyenvMissing) {
		t.Fatalf("err = %v, want ErrPyenvMissing", err)
	}
}

func TestProvisionDelegatesToPyenv(t *testing.T) {
	binDir := t.TempDir()
	pyenv := filepath.Join(binDir, "pyenv")
	if err := os.WriteFile(pyenv, []byte("#!/bin/sh\n"), 0o750); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", binDir)

	vp := filepath.Join(t.TempDir(), ".venv")
	r := &fakeRunner{outputs: map[string]string{"pyenv prefix": "/opt/pyenv/versions/3.10.2\n"}}
	p := &Provisioner{Runner: r, HostVersion: "3.11.4"}
	got, err := p.Provision(context.Background(), vp, "3.10.2", false)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if got != vp {
		t.Fatalf("path = %q", got)
	}

	want := []string{
		"pyenv install 3.10.2 --skip-existing",
		"pyenv prefix 3.10.2",
		"/opt/pyenv/versions/3.10.2/bin/python -m venv " + vp + " --clear",
		PythonPath(vp) + " -m pip install --upgrade pip",
	}
	if len(r.scripts) != len(want) {
		t.Fatalf("scripts = %v", r.scripts)
	}
	for i, w := range want {
		if r.scripts[i] != w {
			t.Fatalf("script[%d] = %q, want %q", i, r.scripts[i], w)
		}
	}
}

func TestActivateCommand(t *testing.T) {
	cmd, err := ActivateCommand("/proj/.venv")
	if err != nil {
		t.Fatalf("ActivateCommand: %v", err)
	}
	if cmd != ". /proj/.venv/bin/activate" {
		t.Fatalf("cmd = %q", cmd)
	}
}
