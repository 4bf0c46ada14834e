package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	return string(data)
}

func TestInit_WritesLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aiqa.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Close()
	SetLevel(LevelDebug)

	Debug("debug %d", 1)
	Info("info %s", "two")
	Warn("warn")
	Error("error")

	out := readLog(t, path)
	for _, want := range []string{"[DEBUG] debug 1", "[INFO] info two", "[WARN] warn", "[ERROR] error"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestSetLevel_Filters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aiqa.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Close()
	SetLevel(LevelWarn)
	defer SetLevel(LevelDebug)

	Info("hidden")
	Warn("shown")

	out := readLog(t, path)
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered:\n%s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn message missing:\n%s", out)
	}
}

func TestUninitialized_Discards(t *testing.T) {
	Close()
	Info("nobody hears this")
	if w := GetWriter(); w == nil {
		t.Error("GetWriter() = nil, want io.Discard")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug": LevelDebug,
		"INFO":  LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
		"":      LevelDebug,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
