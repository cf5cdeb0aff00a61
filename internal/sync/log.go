package sync

import (
	"fmt"
	"sync"
	"time"
)

// LogEntry records the outcome of one pull or push pass.
type LogEntry struct {
	At        time.Time
	OK        bool
	Rows      int
	Conflicts int
	Err       string
}

// String renders a human-readable one-line summary for status display.
func (e LogEntry) String() string {
	if e.At.IsZero() {
		return "never"
	}
	ts := e.At.Format("15:04:05")
	if !e.OK {
		return fmt.Sprintf("%s failed: %s", ts, e.Err)
	}
	if e.Conflicts > 0 {
		return fmt.Sprintf("%s ok (%d rows, %d conflicts)", ts, e.Rows, e.Conflicts)
	}
	return fmt.Sprintf("%s ok (%d rows)", ts, e.Rows)
}

// Log holds the last pull and push outcomes. Two singleton slots overwritten
// on every cycle; observational only, never persisted.
type Log struct {
	mu       sync.RWMutex
	lastPull LogEntry
	lastPush LogEntry
}

// RecordPull overwrites the last-pull slot.
func (l *Log) RecordPull(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastPull = e
}

// RecordPush overwrites the last-push slot.
func (l *Log) RecordPush(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastPush = e
}

// LastPull returns the last pull outcome.
func (l *Log) LastPull() LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastPull
}

// LastPush returns the last push outcome.
func (l *Log) LastPush() LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastPush
}

// Status returns the two user-visible status lines (pull, push).
func (l *Log) Status() (string, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return "pull: " + l.lastPull.String(), "push: " + l.lastPush.String()
}
