// Package logstream follows the background run's capture file and applies
// component-based line filtering and coloring.
package logstream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"
)

// Component tags recognized in captured Airflow output.
const (
	Webserver = "webserver"
	Scheduler = "scheduler"
	Triggerer = "triggerer"
)

// ANSI colors per component, applied when recoloring filtered lines.
var componentColors = map[string]string{
	Webserver: "\033[1;36m", // bold cyan
	Scheduler: "\033[1;35m", // bold magenta
	Triggerer: "\033[1;33m", // bold yellow
}

const colorReset = "\033[0m"

var ansiEscape = regexp.MustCompile(`\x1B\[[0-9;]*[mK]`)

// StripANSI removes ANSI color escape sequences from a line. Matching and
// re-emission both operate on the stripped text.
func StripANSI(line string) string {
	return ansiEscape.ReplaceAllString(line, "")
}

// Streamer follows a capture file.
type Streamer struct {
	// Filters holds active component tags. Empty means emit everything.
	Filters []string
	// Color re-colors filtered lines; disable when not writing to a TTY.
	Color bool
	// PollInterval is how long the follow loop sleeps at end-of-file.
	PollInterval time.Duration
}

// Stream follows capturePath from its current end and emits new lines to w
// until ctx is cancelled (the only way the loop ends: there is no natural
// end-of-stream while the background process lives). History already in the
// file is not replayed. A cancelled context is a clean exit, not an error.
func (s *Streamer) Stream(ctx context.Context, w io.Writer, capturePath string) error {
	f, err := os.Open(capturePath) // #nosec G304
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	interval := s.PollInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}

	r := bufio.NewReader(f)
	var partial strings.Builder
	for {
		chunk, err := r.ReadString('\n')
		if err == nil {
			partial.WriteString(chunk)
			s.emit(w, strings.TrimSuffix(partial.String(), "\n"))
			partial.Reset()
			continue
		}
		if err != io.EOF {
			return err
		}
		// Hold incomplete tails until the writer finishes the line.
		partial.WriteString(chunk)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func (s *Streamer) emit(w io.Writer, line string) {
	line = StripANSI(line)
	if len(s.Filters) == 0 {
		fmt.Fprintln(w, line)
		return
	}
	lower := strings.ToLower(line)
	for _, tag := range s.Filters {
		if strings.Contains(lower, strings.ToLower(tag)) {
			if color, ok := componentColors[strings.ToLower(tag)]; ok && s.Color {
				fmt.Fprintln(w, color+line+colorReset)
			} else {
				fmt.Fprintln(w, line)
			}
			return
		}
	}
}

// FilterLine applies the streamer's filter/color rules to one line and
// reports whether it would be emitted. Exposed for tests and one-shot use.
func (s *Streamer) FilterLine(line string) (string, bool) {
	var buf strings.Builder
	s.emit(&buf, line)
	out := strings.TrimSuffix(buf.String(), "\n")
	return out, buf.Len() > 0
}
