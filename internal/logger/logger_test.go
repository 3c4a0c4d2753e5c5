package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWriter_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf)

	l.Info("captured %s", "01ABC")
	l.Warning("skipped %d frames", 3)
	l.Error("sweep failed")

	out := buf.String()
	for _, want := range []string{"INFO    ", "captured 01ABC", "WARNING ", "skipped 3 frames", "ERROR   ", "sweep failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "logger_test.go") {
		t.Errorf("expected caller file in output, got:\n%s", out)
	}
}

func TestNew_WritesLevelFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	l, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Error("disk almost full")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "error.log"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "disk almost full") {
		t.Errorf("error.log = %q", data)
	}
	for _, name := range []string{"info.log", "warning.log"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
	if l.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", l.Dir(), dir)
	}
}

func TestSprintf_NoArgsKeepsPercent(t *testing.T) {
	if got := sprintf("100% done"); got != "100% done" {
		t.Errorf("sprintf() = %q", got)
	}
}
