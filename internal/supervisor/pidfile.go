package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Cross-invocation state files. These are the only shared memory between
// separate runs of the CLI: a newline-separated PID record and a single-path
// pointer to the live log capture file.
const (
	// PIDFileName lives inside the project config dir.
	PIDFileName = ".background_process_ids"
	// LogPointerFileName lives at the project root.
	LogPointerFileName = "background_logs_info.txt"
)

// ReadPIDs reads every PID recorded in the PID file, one per line. A missing
// file or an empty file yields an empty slice: both mean nothing is tracked.
// The entries are not validated for liveness; stale PIDs are tolerated at
// stop time instead.
func ReadPIDs(path string) ([]int, error) {
	b, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var pids []int
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("invalid pid in %s: %q", path, line)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// EnsurePIDFile creates the PID file (and its parent) when absent, so the
// detached shell can write into it.
func EnsurePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304
	if err != nil {
		return err
	}
	return f.Close()
}

// WriteLogPointer records the capture file location so a later invocation
// (a different process) can find it.
func WriteLogPointer(path, capturePath string) error {
	return os.WriteFile(path, []byte(capturePath), 0o600)
}

// ReadLogPointer returns the capture file path recorded by a background
// start. A missing pointer file means no background logs exist.
func ReadLogPointer(path string) (string, error) {
	b, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
