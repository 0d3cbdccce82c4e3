package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFactory_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marksync.log")

	f := New(Config{File: path, Quiet: true})
	f.Logger("daemon").Println("Starting daemon")
	f.Logger("sync").Printf("WARNING: %s", "push failed")
	if err := f.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("log file has %d lines: %q", len(lines), data)
	}
	if !strings.HasPrefix(lines[0], "[daemon] ") || !strings.HasSuffix(lines[0], "Starting daemon") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "[sync] ") || !strings.HasSuffix(lines[1], "WARNING: push failed") {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestFactory_Quiet(t *testing.T) {
	f := New(Config{Quiet: true})
	if f.Writer() != io.Discard {
		t.Error("quiet factory without a file should discard")
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
