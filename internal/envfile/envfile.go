// Package envfile loads a project's .env file (KEY=VALUE lines) and merges
// it over the OS environment for the managed airflow processes.
package envfile

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Var holds K->V pairs loaded from a .env file.
type Var map[string]string

// Load parses a .env file. Blank lines and #-comments are skipped. A line
// without '=' or with an empty key is malformed and fatal: a partially
// applied environment is worse than none.
func Load(path string) (Var, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	vars := make(Var)
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%s:%d: malformed entry %q", path, lineNo, sc.Text())
		}
		vars[k] = unquote(strings.TrimSpace(v))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return vars, nil
}

// Merge composes the final environment: base (usually os.Environ()), then
// the .env vars, then explicit overrides, later entries winning. ${VAR}
// references are expanded against the composed map (simple expansion, no
// recursion).
func Merge(base []string, vars Var, overrides Var) []string {
	m := make(Var)
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	for k, v := range vars {
		if k != "" {
			m[k] = v
		}
	}
	for k, v := range overrides {
		if k != "" {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	return out
}

func expand(s string, m Var) string {
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}

func unquote(v string) string {
	if n := len(v); n >= 2 {
		if (v[0] == '\'' && v[n-1] == '\'') || (v[0] == '"' && v[n-1] == '"') {
			return v[1 : n-1]
		}
	}
	return v
}
