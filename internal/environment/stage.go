// Package environment stages a conda-pack runtime archive for use from
// a run directory: extract, inject the manager name into the activation
// scripts, and fix up the embedded absolute paths.
package environment

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"floability/internal/archive"
)

var (
	// ErrActivationWrite marks a failure to write the manager name into
	// the environment's activation script.
	ErrActivationWrite = errors.New("write activation script")

	// ErrUnpackFixup marks a conda-unpack failure. The wrapped message
	// carries the tool's diagnostic output.
	ErrUnpackFixup = errors.New("conda-unpack failed")
)

// activationScript is where conda sources per-environment variables
// from, relative to the environment prefix.
const activationScript = "etc/conda/activate.d/env_vars.sh"

// Stager stages environment archives. UnpackCommand is replaceable for
// tests; the default runs conda-unpack inside the staged prefix.
type Stager struct {
	Logger *log.Logger

	// UnpackCommand builds the path-fixup command for a staged prefix.
	UnpackCommand func(envDir string) *exec.Cmd
}

// NewStager returns a stager wired to the real conda-unpack step.
func NewStager(logger *log.Logger) *Stager {
	if logger == nil {
		logger = log.New(os.Stdout, "[environment] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &Stager{
		Logger: logger,
		UnpackCommand: func(envDir string) *exec.Cmd {
			return exec.Command("conda", "run", "--prefix", envDir, "--no-capture-output", "conda-unpack")
		},
	}
}

// Stage extracts archivePath into destDir, appends
// VINE_MANAGER_NAME=<managerName> to the activation script, and runs
// the unpack fixup. Each step fails with its own error kind; any
// failure leaves destDir to the caller's cleanup registration, which
// must have happened before this call.
func (s *Stager) Stage(archivePath, destDir, managerName string) error {
	s.Logger.Printf("extracting %s into %s", archivePath, destDir)
	if err := archive.Extract(archivePath, destDir); err != nil {
		return fmt.Errorf("stage environment: %w", err)
	}
	s.Logger.Printf("extraction complete")

	if err := writeManagerName(destDir, managerName); err != nil {
		return fmt.Errorf("stage environment: %w", err)
	}
	s.Logger.Printf("set VINE_MANAGER_NAME=%s in %s", managerName, activationScript)

	cmd := s.UnpackCommand(destDir)
	out, err := cmd.CombinedOutput()
	if err != nil {
		diag := strings.TrimSpace(string(out))
		if diag == "" {
			diag = err.Error()
		}
		return fmt.Errorf("stage environment: %w: %s", ErrUnpackFixup, diag)
	}
	s.Logger.Printf("conda-unpack complete for %s", destDir)

	return nil
}

// writeManagerName appends the manager name export to the activation
// script, creating it (and its parents) if the pack did not ship one.
// Prior script content is preserved.
func writeManagerName(envDir, managerName string) error {
	path := filepath.Join(envDir, activationScript)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrActivationWrite, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrActivationWrite, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "\nexport VINE_MANAGER_NAME=%s\n", managerName); err != nil {
		return fmt.Errorf("%w: %v", ErrActivationWrite, err)
	}
	return nil
}
