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
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level string
	// Console writes human-readable lines to stdout.
	Console bool
	// JSON writes JSON lines to stdout instead. Ignored when Console is set.
	JSON bool
	File FileConfig
}

// FileConfig is a size-rotated JSON log file. Zero limits use the defaults
// below.
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

const (
	defaultLogPath    = "./jobsched.log"
	defaultMaxSizeMB  = 50
	defaultMaxBackups = 3

	timeFormat = "2006-01-02T15:04:05.000Z07:00"
)

// Service owns the log sinks and swaps them when the config changes.
type Service struct {
	mu   sync.Mutex
	file *lumberjack.Logger
	root atomic.Pointer[zerolog.Logger]
}

// New builds the sinks for cfg and returns the service with its root logger.
// A file sink that cannot be prepared is reported and left out; the other
// sinks still work.
func New(cfg Config) (*Service, Logger, error) {
	setGlobals()
	s := &Service{}
	fallback := zerolog.New(consoleWriter(Stdout())).With().Timestamp().Logger()
	s.root.Store(&fallback)
	err := s.Apply(cfg)
	return s, Logger{src: s}, err
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{src: s} }

// Apply replaces the sinks and level. Loggers already handed out follow the change.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sinks   []io.Writer
		fileErr error
		next    *lumberjack.Logger
	)
	switch {
	case cfg.Console:
		sinks = append(sinks, consoleWriter(Stdout()))
	case cfg.JSON:
		sinks = append(sinks, Stdout())
	}
	if cfg.File.Enabled {
		next, fileErr = openRotating(cfg.File)
		if fileErr == nil {
			sinks = append(sinks, next)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(Stdout()))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	if s.file != nil && s.file != next {
		_ = s.file.Close()
	}
	s.file = next
	return fileErr
}

// Close releases the log file. Later lines still go to the console sinks.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func openRotating(fc FileConfig) (*lumberjack.Logger, error) {
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = defaultLogPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log file %q: %w", path, err)
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    fc.MaxSizeMB,
		MaxBackups: fc.MaxBackups,
		MaxAge:     fc.MaxAgeDays,
		Compress:   fc.Compress,
	}
	if lj.MaxSize <= 0 {
		lj.MaxSize = defaultMaxSizeMB
	}
	if lj.MaxBackups <= 0 {
		lj.MaxBackups = defaultMaxBackups
	}
	return lj, nil
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}

var globalsOnce sync.Once

func setGlobals() {
	globalsOnce.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = timeFormat
	})
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

// ValidLevel reports whether s is empty or a level name parseLevel accepts.
func ValidLevel(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || parseLevel(s, zerolog.NoLevel) != zerolog.NoLevel
}

// Stdout and Stderr are the process streams used by the console sinks.
func Stdout() io.Writer { return os.Stdout }
func Stderr() io.Writer { return os.Stderr }
