// Package provision launches the resource provisioner for a session:
// vine_factory for batch systems, or worker containers directly for
// the docker batch type.
package provision

import (
	"fmt"
	"log"
	"path/filepath"
	"strconv"

	"floability/internal/process"
)

// BatchTypes are the supported vine_factory batch systems, plus the
// container-backed "docker" type handled by StartDockerWorkers.
var BatchTypes = []string{"local", "condor", "uge", "slurm", "docker"}

// ValidBatchType reports whether t is a supported batch type.
func ValidBatchType(t string) bool {
	for _, b := range BatchTypes {
		if b == t {
			return true
		}
	}
	return false
}

// FactoryOptions configures a vine_factory launch.
type FactoryOptions struct {
	BatchType      string
	ManagerName    string
	MinWorkers     int
	MaxWorkers     int
	CoresPerWorker int
	PonchoEnv      string // environment tarball handed to workers; empty for none
	RunDir         string // scratch space and log destination
	Logger         *log.Logger
}

// StartFactory spawns vine_factory configured to provision workers that
// rendezvous on the session's manager name. The factory's output goes
// to log files under the run directory.
func StartFactory(opts FactoryOptions) (process.Handle, error) {
	if opts.ManagerName == "" {
		return nil, fmt.Errorf("start vine_factory: manager name is required")
	}
	if !ValidBatchType(opts.BatchType) {
		return nil, fmt.Errorf("start vine_factory: unknown batch type %q", opts.BatchType)
	}

	args := []string{
		"-T", opts.BatchType,
		"-M", opts.ManagerName,
		"--min-workers", strconv.Itoa(opts.MinWorkers),
		"--max-workers", strconv.Itoa(opts.MaxWorkers),
		"--cores", strconv.Itoa(opts.CoresPerWorker),
		"--scratch-dir", opts.RunDir,
	}
	if opts.PonchoEnv != "" {
		args = append(args, "--poncho-env", opts.PonchoEnv)
	}

	return process.Spawn("vine_factory", "vine_factory", args, process.SpawnOptions{
		Dir:    opts.RunDir,
		Stdout: filepath.Join(opts.RunDir, "vine_factory.out.log"),
		Stderr: filepath.Join(opts.RunDir, "vine_factory.err.log"),
		Logger: opts.Logger,
	})
}
