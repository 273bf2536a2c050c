// Package logging provides the leveled logger used throughout the
// datapath and transport packages.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

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

// Config holds logging configuration. Format selects "text" (default) or
// "json" output; Sync forces every call to flush its own Write rather
// than rely on the underlying io.Writer's own buffering — the stdlib
// *log.Logger already does this, so Sync only documents the guarantee
// callers depend on rather than changing behavior.
type Config struct {
	Level   LogLevel
	Format  string
	Output  io.Writer
	Sync    bool
	NoColor bool
}

// DefaultConfig returns a sensible default configuration: info level,
// text format, to stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// shared is the mutex-guarded sink a family of Logger values (a base
// logger plus any loggers derived from it via With*) all write through.
type shared struct {
	mu     sync.Mutex
	logger *log.Logger
	format string
}

// Logger is a leveled logger that can accumulate structured context via
// WithConn/WithTask/WithError, in the manner of a connection or request
// sub-logger. The zero value is not usable; construct with NewLogger.
type Logger struct {
	shared *shared
	level  LogLevel
	fields []field
}

type field struct {
	key string
	val any
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// NewLogger creates a new logger from config; a nil config uses
// DefaultConfig.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = "text"
	}
	return &Logger{
		shared: &shared{
			logger: log.New(output, "", log.LstdFlags),
			format: format,
		},
		level: config.Level,
	}
}

// Default returns the default logger, creating one on first use.
func Default() *Logger {
	defaultMu.RLock()
	if defaultLogger != nil {
		defer defaultMu.RUnlock()
		return defaultLogger
	}
	defaultMu.RUnlock()

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault replaces the default logger.
func SetDefault(logger *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// WithConn returns a child logger that tags every message with a
// connection identifier (see xiotcp's xid-minted connection ids).
func (l *Logger) WithConn(id string) *Logger {
	return l.with(field{"conn_id", id})
}

// WithTask returns a child logger tagging every message with a task's
// local id and the transport opcode it's performing.
func (l *Logger) WithTask(tid uint16, op string) *Logger {
	return l.with(field{"tid", tid}, field{"op", op})
}

// WithError returns a child logger tagging every message with err.
func (l *Logger) WithError(err error) *Logger {
	return l.with(field{"err", err})
}

func (l *Logger) with(extra ...field) *Logger {
	fields := make([]field, 0, len(l.fields)+len(extra))
	fields = append(fields, l.fields...)
	fields = append(fields, extra...)
	return &Logger{shared: l.shared, level: l.level, fields: fields}
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	if level < l.level {
		return
	}
	s := l.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == "json" {
		s.logger.Print(l.formatJSON(level, msg, args))
		return
	}
	s.logger.Printf("[%s] %s%s", level, msg, l.formatFields(args))
}

func (l *Logger) formatFields(args []any) string {
	if len(l.fields) == 0 && len(args) == 0 {
		return ""
	}
	var out string
	for _, f := range l.fields {
		out += fmt.Sprintf(" %s=%v", f.key, f.val)
	}
	for i := 0; i+1 < len(args); i += 2 {
		out += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	return out
}

func (l *Logger) formatJSON(level LogLevel, msg string, args []any) string {
	m := map[string]any{"level": level.String(), "msg": msg}
	for _, f := range l.fields {
		m[f.key] = f.val
	}
	for i := 0; i+1 < len(args); i += 2 {
		m[fmt.Sprintf("%v", args[i])] = args[i+1]
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf(`{"level":"%s","msg":%q}`, level, msg)
	}
	return string(b)
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, fmt.Sprintf(format, args...)) }

// Printf satisfies interfaces.Logger for callers that only hold a
// printf-shaped logging sink.
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// Global convenience functions operating on Default().
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
