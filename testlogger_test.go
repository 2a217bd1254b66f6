package warc

import (
	"log/slog"
	"sync"
)

// LogEntry is one message captured by TestLogger.
type LogEntry struct {
	Level   slog.Level
	Message string
	Args    []any
}

// TestLogger is a LogBackend that records every message for assertions.
type TestLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

func (l *TestLogger) add(level slog.Level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Message: msg, Args: append([]any(nil), args...)})
}

func (l *TestLogger) Debug(msg string, args ...any) { l.add(slog.LevelDebug, msg, args) }
func (l *TestLogger) Info(msg string, args ...any)  { l.add(slog.LevelInfo, msg, args) }
func (l *TestLogger) Warn(msg string, args ...any)  { l.add(slog.LevelWarn, msg, args) }
func (l *TestLogger) Error(msg string, args ...any) { l.add(slog.LevelError, msg, args) }

// Count returns the number of captured entries.
func (l *TestLogger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a copy of the captured entries.
func (l *TestLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// FindByMessage returns the entries with the given message.
func (l *TestLogger) FindByMessage(msg string) []LogEntry {
	var out []LogEntry
	for _, e := range l.Entries() {
		if e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}

// HasLevel reports whether any entry was logged at level.
func (l *TestLogger) HasLevel(level slog.Level) bool {
	for _, e := range l.Entries() {
		if e.Level == level {
			return true
		}
	}
	return false
}
