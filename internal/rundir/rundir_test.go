package rundir

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAllocate(t *testing.T) {
	tempDir := t.TempDir()

	path, err := Allocate(tempDir, "floability_run")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if !filepath.IsAbs(path) {
		t.Errorf("Allocate returned relative path %q", path)
	}
	if !strings.HasPrefix(filepath.Base(path), "floability_run_") {
		t.Errorf("path %q does not carry the prefix", path)
	}

	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("allocated directory missing: %v", err)
	}
	if !stat.IsDir() {
		t.Errorf("allocated path is not a directory")
	}
}

func TestAllocateDistinct(t *testing.T) {
	tempDir := t.TempDir()

	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		path, err := Allocate(tempDir, "run")
		if err != nil {
			t.Fatalf("Allocate #%d failed: %v", i, err)
		}
		if seen[path] {
			t.Fatalf("Allocate returned duplicate path %q", path)
		}
		seen[path] = true

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("path %q was not created: %v", path, err)
		}
	}
}

func TestAllocateMissingBase(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	if _, err := Allocate(missing, "run"); err == nil {
		t.Error("Allocate should fail when base directory does not exist")
	}
}

func TestAllocateBaseIsFile(t *testing.T) {
	tempDir := t.TempDir()
	file := filepath.Join(tempDir, "file")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := Allocate(file, "run"); err == nil {
		t.Error("Allocate should fail when base is a regular file")
	}
}
