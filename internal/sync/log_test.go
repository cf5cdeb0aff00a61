package sync

import (
	"strings"
	"testing"
	"time"
)

func TestLogEntry_String(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 15, 0, time.UTC)

	tests := []struct {
		name  string
		entry LogEntry
		want  string
	}{
		{"zero", LogEntry{}, "never"},
		{"ok", LogEntry{At: at, OK: true, Rows: 3}, "09:30:15 ok (3 rows)"},
		{"ok with conflicts", LogEntry{At: at, OK: true, Rows: 3, Conflicts: 1}, "09:30:15 ok (3 rows, 1 conflicts)"},
		{"failed", LogEntry{At: at, OK: false, Err: "connection refused"}, "09:30:15 failed: connection refused"},
	}

	for _, tt := range tests {
		if got := tt.entry.String(); got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.name, tt.want, got)
		}
	}
}

func TestLog_Status(t *testing.T) {
	l := &Log{}

	pull, push := l.Status()
	if pull != "pull: never" || push != "push: never" {
		t.Errorf("expected never/never, got %q / %q", pull, push)
	}

	l.RecordPull(LogEntry{At: time.Now(), OK: true, Rows: 2})
	l.RecordPush(LogEntry{At: time.Now(), OK: false, Err: "boom"})

	pull, push = l.Status()
	if !strings.Contains(pull, "ok (2 rows)") {
		t.Errorf("unexpected pull status %q", pull)
	}
	if !strings.Contains(push, "failed: boom") {
		t.Errorf("unexpected push status %q", push)
	}
}
