// Package logger provides structured JSON logging and metrics tracking for
// the SEIA monitor.
//
// Log entries are one JSON object per line with a timestamp, level,
// message and optional structured fields, so run output stays grep- and
// jq-friendly when the monitor runs under cron. Metrics track counters and
// timings (scrape durations, per-strategy fetch counts) with aggregation
// on snapshot.
//
// Example:
//
//	logger.Info("run finished", logger.Fields{
//	    "outcome":  "success",
//	    "new":      3,
//	    "relevant": 1,
//	})
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Logger provides structured logging
type Logger struct {
	mu       sync.Mutex
	minLevel Level
	output   io.Writer
}

// Fields represents structured log fields
type Fields map[string]interface{}

// Entry is a single serialized log record
type Entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Fields    Fields `json:"fields,omitempty"`
	Error     string `json:"error,omitempty"`
}

var defaultLogger = New(LevelInfo, os.Stderr)

// New creates a logger that discards messages below the minimum level.
func New(level Level, output io.Writer) *Logger {
	return &Logger{minLevel: level, output: output}
}

// SetDefault replaces the package-level logger used by the convenience
// functions, centralizing configuration in the CLI entry point.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// ParseLevel maps a configuration string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return Level(s)
	}
	return LevelInfo
}

func (l *Logger) log(level Level, message string, fields Fields, err error) {
	if levelRank[level] < levelRank[l.minLevel] {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     string(level),
		Message:   message,
		Fields:    fields,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	data, marshalErr := json.Marshal(entry)

	l.mu.Lock()
	defer l.mu.Unlock()
	if marshalErr != nil {
		// Fall back to plain text rather than losing the message
		fmt.Fprintf(l.output, "[%s] %s: %s (marshal error: %v)\n",
			entry.Timestamp, entry.Level, entry.Message, marshalErr)
		return
	}
	fmt.Fprintln(l.output, string(data))
}

// Debug logs detailed diagnostic information.
func (l *Logger) Debug(message string, fields Fields) { l.log(LevelDebug, message, fields, nil) }

// Info logs general operational information.
func (l *Logger) Info(message string, fields Fields) { l.log(LevelInfo, message, fields, nil) }

// Warn logs a potential issue that does not prevent the run.
func (l *Logger) Warn(message string, fields Fields) { l.log(LevelWarn, message, fields, nil) }

// Error logs a failure with its error object.
func (l *Logger) Error(message string, fields Fields, err error) {
	l.log(LevelError, message, fields, err)
}

// Package-level convenience functions using the default logger

// Debug logs a debug message with the default logger
func Debug(message string, fields Fields) { defaultLogger.Debug(message, fields) }

// Info logs an info message with the default logger
func Info(message string, fields Fields) { defaultLogger.Info(message, fields) }

// Warn logs a warning with the default logger
func Warn(message string, fields Fields) { defaultLogger.Warn(message, fields) }

// Error logs an error with the default logger
func Error(message string, fields Fields, err error) { defaultLogger.Error(message, fields, err) }
