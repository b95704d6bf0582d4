package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for the diagnostic log file.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where airflowctl writes its own diagnostic output.
// Console output goes to stderr; File (optional) is a rotating log file
// following lumberjack semantics.
type Config struct {
	Level      slog.Level
	File       string // optional rotating log file path
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup installs the default slog logger: a colored text handler on stderr
// (colors only when stderr is a terminal), optionally teed into a rotating
// file. Returns a closer for the file writer; callers may ignore it for
// process-lifetime logging.
func Setup(cfg Config) (io.Closer, error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	color := isatty.IsTerminal(os.Stderr.Fd())
	console := NewColorTextHandler(os.Stderr, opts, color)

	var closer io.Closer
	handler := slog.Handler(console)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
			return nil, err
		}
		fileW := &lj.Logger{
			Filename:   cfg.File,
			MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(cfg.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(cfg.MaxAgeDays, DefaultMaxAgeDays),
		}
		closer = fileW
		handler = teeHandler{console, slog.NewTextHandler(fileW, opts)}
	}

	slog.SetDefault(slog.New(handler))
	return closer, nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
