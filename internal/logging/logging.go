// Package logging builds the process-wide slog logger and lets its level,
// format and file output change while the process runs.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Output formats. FormatAuto picks text on a terminal and JSON otherwise.
const (
	FormatAuto = "auto"
	FormatJSON = "json"
	FormatText = "text"
)

// Config describes the desired logging configuration.
type Config struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format"`
	File   FileConfig `yaml:"file"`
}

// FileConfig enables a rotating log file next to the console output.
type FileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DefaultConfig returns the logging defaults.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: FormatAuto,
		File: FileConfig{
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
}

// String returns a human-readable summary of the config.
func (c Config) String() string {
	s := fmt.Sprintf("level=%s format=%s", c.Level, c.Format)
	if c.File.Path != "" {
		s += fmt.Sprintf(" file=%s max_size=%dMB max_backups=%d max_age=%dd",
			c.File.Path, c.File.MaxSizeMB, c.File.MaxBackups, c.File.MaxAgeDays)
	}
	return s
}

// SwappableHandler is a slog.Handler whose delegate can be replaced at
// runtime. Loggers derived with With keep following the swaps of their
// parent only for level changes; format changes apply to new loggers.
type SwappableHandler struct {
	inner atomic.Pointer[slog.Handler]
}

// NewSwappableHandler creates a SwappableHandler wrapping h.
func NewSwappableHandler(h slog.Handler) *SwappableHandler {
	s := &SwappableHandler{}
	s.inner.Store(&h)
	return s
}

// Swap replaces the inner handler.
func (s *SwappableHandler) Swap(h slog.Handler) {
	s.inner.Store(&h)
}

func (s *SwappableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*s.inner.Load()).Enabled(ctx, level)
}

func (s *SwappableHandler) Handle(ctx context.Context, r slog.Record) error {
	return (*s.inner.Load()).Handle(ctx, r)
}

func (s *SwappableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewSwappableHandler((*s.inner.Load()).WithAttrs(attrs))
}

func (s *SwappableHandler) WithGroup(name string) slog.Handler {
	return NewSwappableHandler((*s.inner.Load()).WithGroup(name))
}

// Manager owns the root handler and its file writer.
type Manager struct {
	mu       sync.Mutex
	levelVar *slog.LevelVar
	handler  *SwappableHandler
	console  io.Writer
	config   Config
	file     io.Closer
}

// NewManager creates a Manager writing to stdout and returns it along with
// the root logger.
func NewManager(cfg Config) (*Manager, *slog.Logger) {
	return NewManagerWithOutput(cfg, os.Stdout)
}

// NewManagerWithOutput creates a Manager writing console output to w.
func NewManagerWithOutput(cfg Config, w io.Writer) (*Manager, *slog.Logger) {
	m := &Manager{
		levelVar: &slog.LevelVar{},
		console:  w,
		config:   cfg,
	}
	m.levelVar.Set(ParseLevel(cfg.Level))

	out, file := m.buildWriter(cfg.File)
	m.file = file
	m.handler = NewSwappableHandler(buildHandler(out, m.levelVar, resolveFormat(cfg.Format, w)))
	return m, slog.New(m.handler)
}

// Reconfigure applies cfg. A level change is immediate; a format or file
// change rebuilds the handler.
func (m *Manager) Reconfigure(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.levelVar.Set(ParseLevel(cfg.Level))

	if cfg.Format != m.config.Format || cfg.File != m.config.File {
		if m.file != nil {
			m.file.Close() //nolint:errcheck
			m.file = nil
		}
		out, file := m.buildWriter(cfg.File)
		m.file = file
		m.handler.Swap(buildHandler(out, m.levelVar, resolveFormat(cfg.Format, m.console)))
	}

	m.config = cfg
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close closes the log file, if any. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}

func (m *Manager) buildWriter(fc FileConfig) (io.Writer, io.Closer) {
	if fc.Path == "" {
		return m.console, nil
	}
	lj := &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    positiveOr(fc.MaxSizeMB, 100),
		MaxBackups: positiveOr(fc.MaxBackups, 3),
		MaxAge:     positiveOr(fc.MaxAgeDays, 30),
		Compress:   fc.Compress,
	}
	return io.MultiWriter(m.console, lj), lj
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// resolveFormat turns FormatAuto into a concrete format for w.
func resolveFormat(format string, w io.Writer) string {
	switch format {
	case FormatText, FormatJSON:
		return format
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // fd fits in int
		return FormatText
	}
	return FormatJSON
}

func buildHandler(w io.Writer, leveler slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: leveler}
	if format == FormatText {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// ParseLevel converts a level name to slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether s is a recognized level name.
func ValidLevel(s string) bool {
	switch s {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// ValidFormat reports whether s is a recognized format.
func ValidFormat(s string) bool {
	switch s {
	case FormatAuto, FormatJSON, FormatText:
		return true
	}
	return false
}
