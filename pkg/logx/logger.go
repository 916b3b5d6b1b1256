// Package logx is the repo-wide leveled, structured logger. It writes
// human-readable lines to the console by default and JSON when
// LOG_FORMAT=json, which is what the log shipper expects in deployed
// environments.
package logx

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Fields carries structured key/value pairs attached to a log line.
type Fields map[string]interface{}

// Format selects the output encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Logger is a leveled logger safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	level    Level
	format   Format
	writer   io.Writer
	exitFunc func(int)
}

// NewLogger creates a logger with the given level and format.
func NewLogger(level Level, format Format) *Logger {
	return &Logger{
		level:    level,
		format:   format,
		writer:   os.Stdout,
		exitFunc: os.Exit,
	}
}

// NewLoggerFromEnv builds a logger from LOG_LEVEL and LOG_FORMAT.
func NewLoggerFromEnv() *Logger {
	format := FormatConsole
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		format = FormatJSON
	}
	return NewLogger(ParseLevel(os.Getenv("LOG_LEVEL")), format)
}

// SetLevel sets the minimum emitted level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
}

func (l *Logger) log(level Level, msg string, fields Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.level.Enabled(level) {
		return
	}

	now := time.Now()
	var line []byte
	if l.format == FormatJSON {
		payload := map[string]interface{}{
			"ts":    now.Format(time.RFC3339Nano),
			"level": level.String(),
			"msg":   msg,
		}
		for k, v := range fields {
			payload[k] = v
		}
		line, _ = json.Marshal(payload)
		line = append(line, '\n')
	} else {
		var b strings.Builder
		fmt.Fprintf(&b, "%s [%s] %s", now.Format("2006-01-02 15:04:05"), level, msg)
		if len(fields) > 0 {
			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, " %s=%v", k, fields[k])
			}
		}
		b.WriteByte('\n')
		line = []byte(b.String())
	}

	if _, err := l.writer.Write(line); err != nil {
		fmt.Fprintf(os.Stderr, "logx: write failed: %v\n", err)
	}
}

// WithField starts an entry with a single field.
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return newEntry(l).WithField(key, value)
}

// WithFields starts an entry with multiple fields.
func (l *Logger) WithFields(fields Fields) *Entry {
	return newEntry(l).WithFields(fields)
}

// WithError starts an entry with an error field.
func (l *Logger) WithError(err error) *Entry {
	return newEntry(l).WithError(err)
}

// Entry accumulates fields before emitting a line.
type Entry struct {
	logger *Logger
	fields Fields
}

func newEntry(logger *Logger) *Entry {
	return &Entry{logger: logger, fields: make(Fields)}
}

// WithField adds a field (chainable).
func (e *Entry) WithField(key string, value interface{}) *Entry {
	e.fields[key] = value
	return e
}

// WithFields adds multiple fields (chainable).
func (e *Entry) WithFields(fields Fields) *Entry {
	for k, v := range fields {
		e.fields[k] = v
	}
	return e
}

// WithError adds an error field (chainable).
func (e *Entry) WithError(err error) *Entry {
	if err != nil {
		e.fields["error"] = err.Error()
	}
	return e
}

func (e *Entry) Debug(msg string) { e.logger.log(LevelDebug, msg, e.fields) }
func (e *Entry) Info(msg string)  { e.logger.log(LevelInfo, msg, e.fields) }
func (e *Entry) Warn(msg string)  { e.logger.log(LevelWarn, msg, e.fields) }
func (e *Entry) Error(msg string) { e.logger.log(LevelError, msg, e.fields) }

func (e *Entry) Debugf(format string, args ...interface{}) {
	e.logger.log(LevelDebug, fmt.Sprintf(format, args...), e.fields)
}

func (e *Entry) Infof(format string, args ...interface{}) {
	e.logger.log(LevelInfo, fmt.Sprintf(format, args...), e.fields)
}

func (e *Entry) Warnf(format string, args ...interface{}) {
	e.logger.log(LevelWarn, fmt.Sprintf(format, args...), e.fields)
}

func (e *Entry) Errorf(format string, args ...interface{}) {
	e.logger.log(LevelError, fmt.Sprintf(format, args...), e.fields)
}
