// Package debug holds the process-wide structured logger.
//
// Setting PSEUDOWS_DEBUG to a true value lowers the level to debug at
// startup. Configure replaces the handler, optionally teeing records into a
// rotating log file.
package debug

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"
)

const EnvDebug = "PSEUDOWS_DEBUG"

var (
	level = new(slog.LevelVar)

	mu     sync.RWMutex
	logger *slog.Logger
	file   io.WriteCloser
)

func init() {
	level.Set(slog.LevelInfo)
	if v, ok := os.LookupEnv(EnvDebug); ok {
		if on, err := strconv.ParseBool(v); err == nil && on {
			level.Set(slog.LevelDebug)
		}
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Config selects the output of the global logger.
type Config struct {
	// Level is one of debug, info, warn, error. Empty keeps the current level.
	Level string
	JSON  bool
	// File, when set, receives a copy of every record and is rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Configure installs a new global logger. It is safe to call more than once;
// a previously opened log file is closed.
func Configure(cfg Config) error {
	if cfg.Level != "" {
		l, err := ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		level.Set(l)
	}

	var w io.Writer = os.Stderr
	var f io.WriteCloser
	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := cfg.MaxBackups
		if maxBackups < 0 {
			maxBackups = 3
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		}
		f = lj
		w = io.MultiWriter(os.Stderr, lj)
	}

	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		_ = file.Close()
	}
	file = f
	logger = slog.New(newHandler(w, cfg.JSON))
	return nil
}

// SetOutput points the global logger at w. Tests use it to capture records.
func SetOutput(w io.Writer, json bool) {
	mu.Lock()
	defer mu.Unlock()
	logger = slog.New(newHandler(w, json))
}

func newHandler(w io.Writer, json bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Close releases the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, errors.Errorf("unknown log level %q", s)
}

// Get returns the global logger.
func Get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Logger returns the global logger tagged with a component name.
func Logger(component string) *slog.Logger {
	return Get().With("component", component)
}

// Printf logs a formatted message at debug level.
func Printf(format string, v ...interface{}) {
	Get().Debug(fmt.Sprintf(format, v...))
}

func Enable() {
	level.Set(slog.LevelDebug)
}

func Disable() {
	level.Set(slog.LevelInfo)
}

// Enabled reports whether debug records are emitted.
func Enabled() bool {
	return level.Level() <= slog.LevelDebug
}
