// Package logging provides structured, key-value logging for the engine.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Logger writes structured log lines to a single writer.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	taskID    string
}

// New creates a logger writing to stderr at INFO level.
func New() *Logger {
	return &Logger{output: os.Stderr, minLevel: LevelInfo}
}

// WithComponent returns a copy scoped to the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{output: l.output, minLevel: l.minLevel, component: component, taskID: l.taskID}
}

// WithTask returns a copy that stamps every line with the task ID.
func (l *Logger) WithTask(taskID string) *Logger {
	return &Logger{output: l.output, minLevel: l.minLevel, component: l.component, taskID: taskID}
}

// SetLevel sets the minimum level emitted.
func (l *Logger) SetLevel(level Level) { l.minLevel = level }

// SetOutput redirects output (default: stderr).
func (l *Logger) SetOutput(w io.Writer) { l.output = w }

// Debug logs at DEBUG level.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs at INFO level.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs at WARN level.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs at ERROR level.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339))
	b.WriteString(" ")
	b.WriteString(string(level))
	if l.component != "" {
		b.WriteString(" [")
		b.WriteString(l.component)
		b.WriteString("]")
	}
	if l.taskID != "" {
		b.WriteString(" task=")
		b.WriteString(l.taskID)
	}
	b.WriteString(" ")
	b.WriteString(msg)

	// Deterministic field order keeps lines grep-able.
	for _, m := range fields {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fmt.Sprintf(" %s=%v", k, m[k]))
		}
	}
	b.WriteString("\n")

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.output, b.String())
}
