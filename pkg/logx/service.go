package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Config selects the level and the sinks of a Service.
type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

// FileConfig is the append-only run log (runner.log under the state dir by default).
type FileConfig struct {
	Enabled bool
	Path    string
	Format  string // "json" or "text"
}

const (
	consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"
	textTimeFormat    = "2006-01-02 15:04:05"
)

// Service owns the sinks. Apply rebuilds them; loggers handed out earlier
// pick up the new sinks on their next event.
type Service struct {
	mu   sync.Mutex
	file *os.File

	active atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the service together with its root logger.
func New(cfg Config) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat

	s := &Service{}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.active.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply switches level and sinks. If the log file cannot be opened the error
// goes to stderr and the remaining sinks stay active.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleSink(os.Stdout))
	}

	old := s.file
	s.file = nil
	if cfg.File.Enabled {
		if f, err := openAppend(cfg.File.Path); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			sinks = append(sinks, fileSink(f, cfg.File.Format))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleSink(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.active.Store(&zl)

	// The new sinks are live, so nothing can still be writing to the old file.
	if old != nil {
		_ = old.Close()
	}
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func openAppend(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "runner.log"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log dir for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func consoleSink(w io.Writer) io.Writer {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	cw.FormatCaller = func(i any) string {
		s, _ := i.(string)
		return s
	}
	return cw
}

// fileSink writes JSON lines, or uncolored console lines for format "text".
func fileSink(f *os.File, format string) io.Writer {
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		return zerolog.SyncWriter(zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: textTimeFormat})
	}
	return zerolog.SyncWriter(f)
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return def
}
