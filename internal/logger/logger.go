// Package logger provides the console logger used by the CLI commands and
// the batch progress tracker used by the exam runner. MCP serving writes to
// stderr only, since stdout carries the protocol stream.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level filters console output.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// Logger is a leveled console logger.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	level Level
}

// New creates a logger writing to out.
func New(out io.Writer, level Level) *Logger {
	return &Logger{out: out, level: level}
}

// NewStderr creates a logger suitable for use next to an MCP stdio stream.
func NewStderr(level Level) *Logger {
	return New(os.Stderr, level)
}

// Section prints a banner for a new phase of work.
func (l *Logger) Section(title string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level > LevelInfo {
		return
	}
	bar := strings.Repeat("━", 52)
	fmt.Fprintf(l.out, "\n%s\n📍 %s\n%s\n\n", bar, title, bar)
}

// Debugf prints a debug line.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.printf(LevelDebug, "🔍 "+format, args...)
}

// Infof prints an info line.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.printf(LevelInfo, "ℹ️  "+format, args...)
}

// Warnf prints a warning line.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.printf(LevelWarn, "⚠️  "+format, args...)
}

// Errorf prints an error line.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.printf(LevelError, "❌ "+format, args...)
}

// Stage reports the completion of one pipeline stage for a request.
func (l *Logger) Stage(queryID, stage string, d time.Duration) {
	l.printf(LevelDebug, "⏱️  [%s] %s (%s)", shortID(queryID), stage, FormatDuration(d))
}

func (l *Logger) printf(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	fmt.Fprintf(l.out, format+"\n", args...)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FormatDuration renders a duration the way the progress output expects.
func FormatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return "N/A"
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
