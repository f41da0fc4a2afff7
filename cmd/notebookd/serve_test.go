package main

import (
	"log/slog"
	"testing"
)

func TestSqliteLockDir(t *testing.T) {
	tests := []struct {
		conn string
		want string
	}{
		{"notebook.db", "."},
		{"file:notebook.db", "."},
		{"/var/lib/notebook/notebook.db", "/var/lib/notebook"},
		{"file:/var/lib/notebook/notebook.db?cache=shared", "/var/lib/notebook"},
		{":memory:", ""},
		{"file::memory:", ""},
		{"file:memdb?mode=memory&cache=shared", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sqliteLockDir(tt.conn); got != tt.want {
			t.Errorf("sqliteLockDir(%q) = %q, want %q", tt.conn, got, tt.want)
		}
	}
}

func TestBuildLogger(t *testing.T) {
	log, err := buildLogger("debug", false)
	if err != nil {
		t.Fatalf("buildLogger: %v", err)
	}
	if !log.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("debug logger should enable debug records")
	}

	log, err = buildLogger("warn", true)
	if err != nil {
		t.Fatalf("buildLogger json: %v", err)
	}
	if log.Enabled(t.Context(), slog.LevelInfo) {
		t.Error("warn logger should not enable info records")
	}

	if _, err := buildLogger("loud", false); err == nil {
		t.Error("expected error for unknown level")
	}
}
