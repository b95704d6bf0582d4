package envfile

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func writeEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	return path
}

func TestLoadBasic(t *testing.T) {
	path := writeEnv(t, "AIRFLOW_HOME=/tmp/proj\n# comment\n\nAIRFLOW__CORE__LOAD_EXAMPLES=False\n")
	vars, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if vars["AIRFLOW_HOME"] != "/tmp/proj" {
		t.Fatalf("AIRFLOW_HOME = %q", vars["AIRFLOW_HOME"])
	}
	if vars["AIRFLOW__CORE__LOAD_EXAMPLES"] != "False" {
		t.Fatalf("unexpected value: %q", vars["AIRFLOW__CORE__LOAD_EXAMPLES"])
	}
	if len(vars) != 2 {
		t.Fatalf("expected 2 vars, got %d", len(vars))
	}
}

func TestLoadQuotedAndExport(t *testing.T) {
	path := writeEnv(t, "export KEY1='single quoted'\nKEY2=\"double quoted\"\n")
	vars, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if vars["KEY1"] != "single quoted" || vars["KEY2"] != "double quoted" {
		t.Fatalf("quotes not stripped: %+v", vars)
	}
}

func TestLoadMalformedIsFatal(t *testing.T) {
	path := writeEnv(t, "GOOD=1\nthis is not an assignment\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed line")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestMergePrecedenceAndExpansion(t *testing.T) {
	base := []string{"HOME=/home/u", "PATH=/usr/bin"}
	vars := Var{"AIRFLOW_HOME": "${HOME}/airflow", "PATH": "/override"}
	overrides := Var{"AIRFLOW_HOME": "/forced"}

	got := Merge(base, vars, overrides)
	m := map[string]string{}
	for _, kv := range got {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	if m["AIRFLOW_HOME"] != "/forced" {
		t.Fatalf("override lost: %q", m["AIRFLOW_HOME"])
	}
	if m["PATH"] != "/override" {
		t.Fatalf("env file should win over base: %q", m["PATH"])
	}
	if m["HOME"] != "/home/u" {
		t.Fatalf("base entry lost: %q", m["HOME"])
	}
}

func TestMergeExpandsVars(t *testing.T) {
	got := Merge([]string{"ROOT=/data"}, Var{"LOGS": "${ROOT}/logs"}, nil)
	sort.Strings(got)
	found := false
	for _, kv := range got {
		if kv == "LOGS=/data/logs" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expansion failed: %v", got)
	}
}
