// Package logging provides the process-wide logger for chatreply.
// Dot-import it to call L_info, L_error, etc. directly.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// TraceLevel sits below charmbracelet's debug level.
const TraceLevel = log.DebugLevel - 4

var (
	mu     sync.Mutex
	logger atomic.Pointer[log.Logger]

	shuttingDown atomic.Bool
)

// Config holds logging configuration
type Config struct {
	Level      string `json:"level" toml:"level" yaml:"level"`
	Format     string `json:"format" toml:"format" yaml:"format"` // text or json
	TimeFormat string `json:"timeFormat" toml:"timeFormat" yaml:"timeFormat"`
	ShowCaller bool   `json:"showCaller" toml:"showCaller" yaml:"showCaller"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "text",
		TimeFormat: "15:04:05",
		ShowCaller: true,
	}
}

// ParseLevel maps a level name to a charmbracelet level. Unknown names map to info.
func ParseLevel(name string) log.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return TraceLevel
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// Init (re)configures the global logger writing to stderr.
func Init(cfg *Config) {
	InitWithWriter(cfg, os.Stderr)
}

// InitWithWriter configures the global logger with an explicit destination.
func InitWithWriter(cfg *Config, w io.Writer) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	opts := log.Options{
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		ReportCaller:    cfg.ShowCaller,
		CallerOffset:    2, // logMsg -> L_* -> caller
		Level:           ParseLevel(cfg.Level),
	}
	if opts.TimeFormat == "" {
		opts.TimeFormat = time.TimeOnly
	}
	if strings.EqualFold(cfg.Format, "json") {
		opts.Formatter = log.JSONFormatter
	}

	mu.Lock()
	defer mu.Unlock()
	logger.Store(log.NewWithOptions(w, opts))
}

func current() *log.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	Init(nil)
	return logger.Load()
}

// SetLevel changes the level at runtime, e.g. after a config reload.
func SetLevel(name string) {
	current().SetLevel(ParseLevel(name))
}

// hasFmtVerb reports whether s looks like a printf format string
func hasFmtVerb(s string) bool {
	for i := 0; i < len(s)-1; i++ {
		if s[i] != '%' {
			continue
		}
		if next := s[i+1]; next != '%' && strings.ContainsRune("vsdtfgeopqxXbcUT+#", rune(next)) {
			return true
		}
	}
	return false
}

// logMsg accepts three call shapes:
//
//	L_info("started")
//	L_info("listening on %s", addr)
//	L_info("request done", "trace", id, "status", 200)
func logMsg(level log.Level, msg string, args ...any) {
	l := current()
	switch {
	case len(args) == 0:
		l.Log(level, msg)
	case hasFmtVerb(msg):
		l.Log(level, fmt.Sprintf(msg, args...))
	default:
		l.Log(level, msg, args...)
	}
	if level == log.FatalLevel {
		os.Exit(1)
	}
}

// L_trace logs at trace level
func L_trace(msg string, args ...any) { logMsg(TraceLevel, msg, args...) }

// L_debug logs at debug level
func L_debug(msg string, args ...any) { logMsg(log.DebugLevel, msg, args...) }

// L_info logs at info level
func L_info(msg string, args ...any) { logMsg(log.InfoLevel, msg, args...) }

// L_warn logs at warn level
func L_warn(msg string, args ...any) { logMsg(log.WarnLevel, msg, args...) }

// L_error logs at error level
func L_error(msg string, args ...any) { logMsg(log.ErrorLevel, msg, args...) }

// L_fatal logs and exits the process
func L_fatal(msg string, args ...any) { logMsg(log.FatalLevel, msg, args...) }

// L_elapsed logs at info level with the time since start appended
func L_elapsed(start time.Time, msg string, args ...any) {
	args = append(args, "elapsed", time.Since(start).Round(time.Millisecond).String())
	logMsg(log.InfoLevel, msg, args...)
}

// SetShuttingDown marks the process as shutting down
func SetShuttingDown() {
	shuttingDown.Store(true)
	L_info("shutting down")
}

// IsShuttingDown reports whether SetShuttingDown was called
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
