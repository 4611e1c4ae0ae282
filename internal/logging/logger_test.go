package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/lancerdesk/chatlink/internal/logring"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupStdout(t *testing.T) {
	if lj := Setup("info", "json", "", 0, 0, 0, false, nil); lj != nil {
		t.Error("stdout logging should not create a lumberjack logger")
	}
}

func TestSetupFileAndRing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatlink.log")
	ring := logring.NewRingBuffer(10)

	lj := Setup("debug", "text", path, 10, 1, 1, false, ring)
	if lj == nil {
		t.Fatal("file logging should return the lumberjack logger")
	}
	defer lj.Close()

	slog.Info("session connected", "connection_id", "abc")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file is empty")
	}

	entries := ring.Snapshot()
	if len(entries) != 1 || entries[0].Message != "session connected" {
		t.Errorf("ring entries = %+v", entries)
	}
}
