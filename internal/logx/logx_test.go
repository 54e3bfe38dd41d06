package logx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewTextFormatWritesCategoryLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bus.log")

	l := New("info", "text", path)
	l.For(CategoryOutgoing, "conn-1").Info("connecting", "addr", "127.0.0.1:30005")
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "O conn-1: connecting addr=127.0.0.1:30005") {
		t.Errorf("expected a category/id-prefixed line, got: %s", content)
	}
}

func TestCallSiteIDOverridesBoundID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bus.log")

	l := New("info", "text", path)
	// For binds a placeholder id; a call-site "id" attribute should win.
	l.For(CategoryReceive, "-").Info("decoded packet", "id", "real-source-id")
	l.Close()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "R real-source-id: decoded packet") {
		t.Errorf("expected the call-site id to override the bound placeholder, got: %s", data)
	}
}

func TestJSONFormatProducesValidLogger(t *testing.T) {
	l := New("debug", "json", "")
	defer l.Close()
	l.For(CategorySystem, "-").Info("starting")
}

func TestRotateWritesSwitchMarkersAndContinuesLogging(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bus.log")

	l := New("info", "text", path)
	l.Rotate()
	l.For(CategorySystem, "-").Info("after rotate")
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "switching to new log") {
		t.Errorf("expected a switch marker, got: %s", content)
	}
	if !strings.Contains(content, "log start after switch") {
		t.Errorf("expected a post-switch start marker, got: %s", content)
	}
	if !strings.Contains(content, "after rotate") {
		t.Errorf("expected logging to continue after rotate, got: %s", content)
	}
}

func TestNewWithInvalidFilePathFallsBackToStderrOnly(t *testing.T) {
	l := New("info", "text", "/nonexistent/dir/bus.log")
	defer l.Close()
	// Should not panic and should still be usable.
	l.For(CategorySystem, "-").Info("still works")
}
