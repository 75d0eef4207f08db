// Package logs provides the logging facility for opikb.
// Records are echoed to the console with level colors and, once a log file
// is attached, appended to that file as plain text.
package logs

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"golang.org/x/term"
)

// successStyle renders completed steps as a green SUCC level. Success
// records are info records written through a twin logger that carries
// this style, so they obey the info threshold.
var successStyle = lipgloss.NewStyle().
	SetString("SUCC").
	Bold(true).
	MaxWidth(4).
	Foreground(lipgloss.Color("42"))

// Config holds the configuration for the logger
type Config struct {
	// Console receives colored records (defaults to stdout)
	Console io.Writer
	// Level sets the minimum log level (debug, info, warn, error)
	Level string
	// Prefix sets a prefix for all log messages
	Prefix string
}

// fileSink is the append-only log file shared by a logger and everything
// derived from it with With.
type fileSink struct {
	mu      sync.Mutex
	file    *os.File
	logger  *log.Logger
	success *log.Logger
}

// Write appends raw bytes (command output) to the log file, if attached.
func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return len(p), nil
	}
	return s.file.Write(p)
}

// Logger writes leveled records to the console and the attached log file.
type Logger struct {
	console *log.Logger
	success *log.Logger
	sink    *fileSink
	fields  []interface{}
	stdout  io.Writer
}

// parseLevel converts a string level to log.Level
func parseLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func newCharm(w io.Writer, level log.Level, prefix string) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Prefix:          prefix,
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
	})
}

// successTwin returns a copy of l whose info records read SUCC
func successTwin(l *log.Logger) *log.Logger {
	st := log.DefaultStyles()
	st.Levels[log.InfoLevel] = successStyle
	twin := l.With()
	twin.SetStyles(st)
	return twin
}

// New creates a new Logger with the given configuration
func New(cfg Config) *Logger {
	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}
	level := parseLevel(cfg.Level)

	c := newCharm(console, level, cfg.Prefix)
	return &Logger{
		console: c,
		success: successTwin(c),
		sink:    &fileSink{},
		stdout:  console,
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return New(Config{Console: io.Discard, Level: "error"})
}

// AttachFile opens path in append mode and mirrors every subsequent record
// into it. Records written before the call stay console-only.
func (l *Logger) AttachFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file != nil {
		l.sink.file.Close()
	}
	l.sink.file = f
	// the charm logger writes through the sink so raw command output and
	// records interleave under one lock
	l.sink.logger = newCharm(lockedFile{f}, log.DebugLevel, "")
	l.sink.success = successTwin(l.sink.logger)
	return nil
}

// lockedFile writes straight to the file. The sink mutex is already held
// by the caller of emit.
type lockedFile struct{ f *os.File }

func (w lockedFile) Write(p []byte) (int, error) { return w.f.Write(p) }

// Close releases the log file. Safe to call more than once.
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return nil
	}
	err := l.sink.file.Close()
	l.sink.file = nil
	l.sink.logger = nil
	l.sink.success = nil
	return err
}

// HasFile reports whether a log file is attached.
func (l *Logger) HasFile() bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.file != nil
}

// With returns a logger that adds the given key/value pairs to every record.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	fields := make([]interface{}, 0, len(l.fields)+len(keyvals))
	fields = append(fields, l.fields...)
	fields = append(fields, keyvals...)
	return &Logger{
		console: l.console.With(keyvals...),
		success: l.success.With(keyvals...),
		sink:    l.sink,
		fields:  fields,
		stdout:  l.stdout,
	}
}

// SetLevel changes the console threshold. The file always records debug.
func (l *Logger) SetLevel(level string) {
	l.console.SetLevel(parseLevel(level))
	l.success.SetLevel(parseLevel(level))
}

// logAt dispatches to the charm method for level. Anything that is not
// debug, warn or error goes out as info.
func logAt(l *log.Logger, level log.Level, msg interface{}, keyvals ...interface{}) {
	switch level {
	case log.DebugLevel:
		l.Debug(msg, keyvals...)
	case log.WarnLevel:
		l.Warn(msg, keyvals...)
	case log.ErrorLevel:
		l.Error(msg, keyvals...)
	default:
		l.Info(msg, keyvals...)
	}
}

func (l *Logger) emit(level log.Level, success bool, msg interface{}, keyvals ...interface{}) {
	console := l.console
	if success {
		console = l.success
	}
	logAt(console, level, msg, keyvals...)

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	file := l.sink.logger
	if success {
		file = l.sink.success
	}
	if file == nil {
		return
	}
	kv := make([]interface{}, 0, len(l.fields)+len(keyvals))
	kv = append(kv, l.fields...)
	kv = append(kv, keyvals...)
	logAt(file, level, msg, kv...)
}

// Debug logs a debug record
func (l *Logger) Debug(msg interface{}, keyvals ...interface{}) {
	l.emit(log.DebugLevel, false, msg, keyvals...)
}

// Info logs an info record
func (l *Logger) Info(msg interface{}, keyvals ...interface{}) {
	l.emit(log.InfoLevel, false, msg, keyvals...)
}

// Success logs a completed step
func (l *Logger) Success(msg interface{}, keyvals ...interface{}) {
	l.emit(log.InfoLevel, true, msg, keyvals...)
}

// Warn logs a warning record
func (l *Logger) Warn(msg interface{}, keyvals ...interface{}) {
	l.emit(log.WarnLevel, false, msg, keyvals...)
}

// Error logs an error record
func (l *Logger) Error(msg interface{}, keyvals ...interface{}) {
	l.emit(log.ErrorLevel, false, msg, keyvals...)
}

// OutputWriter returns the destination for external command output: always
// the log file, plus the console when echo is set.
func (l *Logger) OutputWriter(echo bool) io.Writer {
	if echo {
		return io.MultiWriter(l.sink, l.stdout)
	}
	return l.sink
}

// IsTerminal reports whether stdout is an interactive terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// TerminalWidth returns the stdout terminal width, or fallback when stdout
// is not a terminal.
func TerminalWidth(fallback int) int {
	if !IsTerminal() {
		return fallback
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}
