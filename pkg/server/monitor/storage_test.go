package monitor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStorageMonitor_GetLimit(t *testing.T) {
	sm := NewStorageMonitor(t.TempDir(), 1<<30)
	if got := sm.GetLimit(); got != 1<<30 {
		t.Errorf("GetLimit() = %d, want %d", got, 1<<30)
	}
}

func TestStorageMonitor_GetUsage(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(tmpDir, "000001.vlog"), []byte("test data"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(tmpDir, "sub"), 0o755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "sub", "MANIFEST"), []byte("12345"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	sm := NewStorageMonitor(tmpDir, 1<<30)
	usage, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if usage != 14 {
		t.Errorf("GetUsage() = %d, want 14", usage)
	}
}

func TestStorageMonitor_Caching(t *testing.T) {
	tmpDir := t.TempDir()
	sm := NewStorageMonitor(tmpDir, 1<<30)

	usage1, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(tmpDir, "late"), []byte("grown"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	usage2, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if usage1 != usage2 {
		t.Errorf("Cached values differ: %d != %d", usage1, usage2)
	}
}

func TestStorageMonitor_InvalidDir(t *testing.T) {
	sm := NewStorageMonitor("/nonexistent/path/12345", 1<<30)
	if _, err := sm.GetUsage(); err == nil {
		t.Error("GetUsage() should return error for nonexistent directory")
	}
}
