package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	if err != nil || level != LevelWarn {
		t.Fatalf("unexpected parse result: %v %v", level, err)
	}
	if level, err := ParseLevel(""); err != nil || level != LevelInfo {
		t.Fatalf("expected empty level to default to info, got %v %v", level, err)
	}
	if _, err := ParseLevel("unknown"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestLoggerWritesToOutputs(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "smartstr.log")
	var console bytes.Buffer

	logger, err := New(Options{Level: LevelInfo, Console: &console, FilePath: logPath})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer logger.Close()

	logger.Infof("interned %d bodies", 3)
	logger.Debugf("debug message should be filtered")
	writer := logger.Writer(LevelError)
	writer.Write([]byte("first error\nsecond error\n"))

	if !strings.Contains(console.String(), "interned 3 bodies") {
		t.Fatalf("console output missing log entry: %s", console.String())
	}
	if strings.Contains(console.String(), "debug message") {
		t.Fatalf("debug entry should have been filtered: %s", console.String())
	}

	if err := logger.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	contents := string(data)
	if !strings.Contains(contents, "interned 3 bodies") || !strings.Contains(contents, "second error") {
		t.Fatalf("log file missing entries: %s", contents)
	}
}

func TestLoggerWithComponent(t *testing.T) {
	var console bytes.Buffer
	logger, err := New(Options{Level: LevelDebug, Console: &console})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child := logger.With("manager").With("shard")
	child.Debugf("probe collision")
	if !strings.Contains(console.String(), "[DEBUG] manager.shard: probe collision") {
		t.Fatalf("expected component prefix, got %s", console.String())
	}

	logger.SetLevel(LevelError)
	if child.Enabled(LevelWarn) {
		t.Fatalf("child should share the parent level")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Infof("dropped")
	logger.With("x").Errorf("dropped")
	if logger.Enabled(LevelError) {
		t.Fatalf("nil logger must not report enabled levels")
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
}
