// Structured logging for the multi-motor group driver
//
// Provides levelled, per-component loggers with structured fields on top of
// zerolog:
// - Log levels (DEBUG, INFO, WARN, ERROR)
// - Structured fields (key-value pairs)
// - Human-readable console output or JSON lines
// - Log file rotation (see rotation.go)
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// DEBUG level for detailed debugging information
	DEBUG LogLevel = iota

	// INFO level for general informational messages
	INFO

	// WARN level for warning messages
	WARN

	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel parses a string into a LogLevel
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// OutputFormat specifies the output format for log messages
type OutputFormat int

const (
	// FormatText outputs human-readable text format
	FormatText OutputFormat = iota
	// FormatJSON outputs one JSON object per line
	FormatJSON
)

// ParseFormat parses "text" or "json"; anything else is text.
func ParseFormat(s string) OutputFormat {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// Fields is a map of structured logging fields
type Fields map[string]interface{}

const (
	componentField = "component"
	timeFormat     = "2006-01-02 15:04:05.000"
)

// Logger is a per-component logger. Settings may change at any time; the
// zerolog logger is rebuilt on each change.
type Logger struct {
	mu       sync.Mutex
	prefix   string
	writer   io.Writer
	level    LogLevel
	format   OutputFormat
	colorize bool
	caller   bool
	zl       zerolog.Logger
}

// Entry carries fields for a single log call
type Entry struct {
	logger *Logger
	fields Fields
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// New creates a new logger with the given prefix
func New(prefix string) *Logger {
	l := &Logger{
		prefix:   prefix,
		writer:   os.Stderr,
		level:    INFO,
		format:   FormatText,
		colorize: os.Getenv("NO_COLOR") == "",
	}
	l.rebuild()
	return l
}

// rebuild recreates the zerolog logger from the current settings.
// Callers hold l.mu, except New.
func (l *Logger) rebuild() {
	out := l.writer
	if l.format == FormatText {
		out = zerolog.ConsoleWriter{
			Out:           l.writer,
			NoColor:       !l.colorize,
			TimeFormat:    timeFormat,
			PartsOrder:    []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, componentField, zerolog.MessageFieldName},
			FieldsExclude: []string{componentField},
			FormatLevel: func(i interface{}) string {
				return fmt.Sprintf("[%-5s]", strings.ToUpper(fmt.Sprint(i)))
			},
		}
	}
	ctx := zerolog.New(out).Level(l.level.zerolog()).With().Timestamp()
	if l.prefix != "" {
		ctx = ctx.Str(componentField, l.prefix)
	}
	l.zl = ctx.Logger()
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.rebuild()
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetWriter sets the output writer (e.g., for testing)
func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
	l.rebuild()
}

// SetColorize enables or disables colorized output
func (l *Logger) SetColorize(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.colorize = enable
	l.rebuild()
}

// SetFormat sets the output format (FormatText or FormatJSON)
func (l *Logger) SetFormat(format OutputFormat) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = format
	l.rebuild()
}

// SetCaller enables or disables caller info in log output
func (l *Logger) SetCaller(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.caller = enable
}

// Prefix returns the component name
func (l *Logger) Prefix() string {
	return l.prefix
}

// WithPrefix returns a copy of the logger with a different component name
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := &Logger{
		prefix:   prefix,
		writer:   l.writer,
		level:    l.level,
		format:   l.format,
		colorize: l.colorize,
		caller:   l.caller,
	}
	c.rebuild()
	return c
}

// WithField returns an Entry with the given field
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

// WithFields returns an Entry with the given fields
func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{logger: l, fields: fields}
}

// WithError returns an Entry with the error field set
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", err.Error())
}

func (l *Logger) emit(level LogLevel, msg string, fields Fields) {
	l.mu.Lock()
	zl := l.zl
	caller := l.caller
	l.mu.Unlock()

	ev := zl.WithLevel(level.zerolog())
	if ev == nil {
		return
	}
	if len(fields) > 0 {
		ev = ev.Fields(map[string]interface{}(fields))
	}
	if caller {
		ev = ev.Caller(3)
	}
	ev.Msg(msg)
}

func (l *Logger) logf(level LogLevel, msg string, args []interface{}) {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.emit(level, msg, nil)
}

// Debug logs a debug message; args are applied printf-style
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.logf(DEBUG, msg, args)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	l.logf(INFO, msg, args)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.logf(WARN, msg, args)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	l.logf(ERROR, msg, args)
}

// WithField adds a field to the entry
func (e *Entry) WithField(key string, value interface{}) *Entry {
	fields := make(Fields, len(e.fields)+1)
	for k, v := range e.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Entry{logger: e.logger, fields: fields}
}

// WithError adds the error field to the entry
func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", err.Error())
}

func (e *Entry) Debug(msg string) { e.logger.emit(DEBUG, msg, e.fields) }
func (e *Entry) Info(msg string)  { e.logger.emit(INFO, msg, e.fields) }
func (e *Entry) Warn(msg string)  { e.logger.emit(WARN, msg, e.fields) }
func (e *Entry) Error(msg string) { e.logger.emit(ERROR, msg, e.fields) }

func (e *Entry) Infof(format string, args ...interface{}) {
	e.logger.emit(INFO, fmt.Sprintf(format, args...), e.fields)
}

func (e *Entry) Warnf(format string, args ...interface{}) {
	e.logger.emit(WARN, fmt.Sprintf(format, args...), e.fields)
}

func (e *Entry) Errorf(format string, args ...interface{}) {
	e.logger.emit(ERROR, fmt.Sprintf(format, args...), e.fields)
}

// SetDefaultLogger replaces the logger that GetLogger derives from
func SetDefaultLogger(logger *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// Default returns the process-wide logger
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// GetLogger returns a logger for a component, sharing the default logger's
// writer, level and format
func GetLogger(prefix string) *Logger {
	return Default().WithPrefix(prefix)
}

func Debug(msg string, args ...interface{}) { Default().logf(DEBUG, msg, args) }
func Info(msg string, args ...interface{})  { Default().logf(INFO, msg, args) }
func Warn(msg string, args ...interface{})  { Default().logf(WARN, msg, args) }
func Error(msg string, args ...interface{}) { Default().logf(ERROR, msg, args) }

func init() {
	zerolog.TimeFieldFormat = timeFormat
	l := New("multidriver")
	ConfigureFromEnv(l)
	defaultLogger = l
}

// ConfigureFromEnv applies environment-based configuration to the logger.
// Environment variables:
//   - MULTIDRIVER_LOG_LEVEL: DEBUG, INFO, WARN, ERROR
//   - MULTIDRIVER_LOG_FORMAT: text, json
//   - MULTIDRIVER_LOG_CALLER: any non-empty value enables caller info
//   - NO_COLOR: any non-empty value disables colors
func ConfigureFromEnv(l *Logger) {
	if v := os.Getenv("MULTIDRIVER_LOG_LEVEL"); v != "" {
		l.SetLevel(ParseLevel(v))
	}
	if v := os.Getenv("MULTIDRIVER_LOG_FORMAT"); v != "" {
		l.SetFormat(ParseFormat(v))
	}
	if os.Getenv("MULTIDRIVER_LOG_CALLER") != "" {
		l.SetCaller(true)
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}
