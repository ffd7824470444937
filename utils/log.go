package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a flag/config string to a level, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TRACE
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "critical":
		return CRITICAL
	default:
		return INFO
	}
}

// logSink is shared by a logger and every child created with Named.
type logSink struct {
	mu       sync.Mutex
	minLevel LogLevel
	file     *os.File
	writers  []io.Writer
}

// Logger is a leveled printf-style logger. A nil *Logger discards everything.
type Logger struct {
	sink   *logSink
	prefix string
}

// NewFileLogger appends to filePath and optionally mirrors to stdout.
func NewFileLogger(filePath string, minLevel LogLevel, alsoStdout bool) (*Logger, error) {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	sink := &logSink{minLevel: minLevel, file: f, writers: []io.Writer{f}}
	if alsoStdout {
		sink.writers = append(sink.writers, os.Stdout)
	}
	return &Logger{sink: sink}, nil
}

// NewLogger writes to w.
func NewLogger(w io.Writer, minLevel LogLevel) *Logger {
	return &Logger{sink: &logSink{minLevel: minLevel, writers: []io.Writer{w}}}
}

// Named returns a logger that tags every line with [name] and shares l's
// output and level.
func (l *Logger) Named(name string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{sink: l.sink, prefix: l.prefix + "[" + name + "] "}
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file != nil {
		err := l.sink.file.Close()
		l.sink.file = nil
		l.sink.writers = nil
		return err
	}
	return nil
}

func (l *Logger) SetMinLevel(level LogLevel) {
	if l == nil {
		return
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.minLevel = level
}

// Enabled reports whether a message at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	if l == nil {
		return false
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return level >= l.sink.minLevel
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	if l == nil {
		return
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if level < l.sink.minLevel {
		return
	}

	ts := time.Now().Format(time.RFC3339Nano)
	line := fmt.Sprintf("%s [%s] %s%s\n", ts, level.String(), l.prefix, fmt.Sprintf(msg, args...))

	for _, w := range l.sink.writers {
		_, _ = io.WriteString(w, line)
	}
	if l.sink.file != nil {
		_ = l.sink.file.Sync()
	}
}

func (l *Logger) Trace(msg string, args ...any)    { l.log(TRACE, msg, args...) }
func (l *Logger) Debug(msg string, args ...any)    { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...any)     { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)     { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...any)    { l.log(ERROR, msg, args...) }
func (l *Logger) Critical(msg string, args ...any) { l.log(CRITICAL, msg, args...) }
