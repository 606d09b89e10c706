package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// LogLevel defines the logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string level to LogLevel.
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo // Default to Info
	}
}

// sink is one destination with its own threshold.
type sink struct {
	logger *log.Logger
	level  LogLevel
}

// StdLogger implements the ports.Logger interface using the standard log package.
// It fans out to a log file and to the terminal, each with its own level.
type StdLogger struct {
	sinks  []sink
	closer io.Closer
	mu     sync.Mutex
}

// Config holds logger settings.
type Config struct {
	Level     LogLevel  // threshold for the log file
	FilePath  string    // empty disables the file sink
	Terminal  io.Writer // defaults to os.Stderr
	TermLevel LogLevel  // threshold for the terminal
}

// New creates a logger from cfg. The terminal only receives TermLevel and above
// so it does not fight the chart for the screen. Without a file the terminal is
// the only sink and uses the stricter of Level and TermLevel.
func New(cfg Config) (*StdLogger, error) {
	term := cfg.Terminal
	if term == nil {
		term = os.Stderr
	}
	flags := log.LstdFlags | log.Lmicroseconds // Include microseconds for frame timing

	if cfg.FilePath == "" {
		level := cfg.Level
		if cfg.TermLevel > level {
			level = cfg.TermLevel
		}
		return &StdLogger{sinks: []sink{{logger: log.New(term, "", flags), level: level}}}, nil
	}

	if dir := filepath.Dir(cfg.FilePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory '%s': %w", dir, err)
		}
	}
	f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file '%s': %w", cfg.FilePath, err)
	}
	return &StdLogger{
		sinks: []sink{
			{logger: log.New(f, "", flags), level: cfg.Level},
			{logger: log.New(term, "", flags), level: cfg.TermLevel},
		},
		closer: f,
	}, nil
}

// NewStdLogger creates a terminal-only logger writing to os.Stderr.
func NewStdLogger(level LogLevel) *StdLogger {
	l, _ := New(Config{Level: level})
	return l
}

// Close releases the log file, if any.
func (l *StdLogger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *StdLogger) log(ctx context.Context, level LogLevel, msg string, err error, fields ...map[string]interface{}) {
	var line string
	for _, s := range l.sinks {
		if level < s.level {
			continue
		}
		if line == "" {
			line = format(level, msg, err, fields...)
		}
		l.mu.Lock()
		s.logger.Println(line)
		l.mu.Unlock()
	}
}

// format renders "[LEVEL] msg | error: e | k=v ...". Keys are sorted so
// lines are stable across runs.
func format(level LogLevel, msg string, err error, fields ...map[string]interface{}) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", level.String(), msg))

	if err != nil {
		sb.WriteString(fmt.Sprintf(" | error: %v", err))
	}

	if len(fields) > 0 && len(fields[0]) > 0 {
		keys := make([]string, 0, len(fields[0]))
		for k := range fields[0] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" |")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf(" %s=%v", k, fields[0][k]))
		}
	}
	return sb.String()
}

// Debug logs a message at Debug level.
func (l *StdLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelDebug, msg, nil, fields...)
}

// Info logs a message at Info level.
func (l *StdLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelInfo, msg, nil, fields...)
}

// Warn logs a message at Warning level.
func (l *StdLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelWarn, msg, nil, fields...)
}

// Error logs an error message at Error level.
func (l *StdLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelError, msg, err, fields...)
}
