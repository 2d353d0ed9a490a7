// Package jupyter launches the interactive JupyterLab session.
package jupyter

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"floability/internal/process"
)

// Options configures the JupyterLab launch.
type Options struct {
	NotebookPath string // optional; lab opens empty without one
	Port         int
	RunDir       string
	EnvDir       string // staged environment prefix; empty to use the host's jupyter
	ManagerName  string
	Logger       *log.Logger
}

// Start spawns JupyterLab listening on the configured port. When an
// environment has been staged its own jupyter binary is preferred, so
// the notebook runs against the packed runtime rather than whatever
// the host happens to have. Output goes to log files under the run
// directory.
func Start(opts Options) (process.Handle, error) {
	command := "jupyter"
	env := []string{}

	if opts.EnvDir != "" {
		staged := filepath.Join(opts.EnvDir, "bin", "jupyter")
		if _, err := os.Stat(staged); err == nil {
			command = staged
			env = append(env,
				"PATH="+filepath.Join(opts.EnvDir, "bin")+":"+os.Getenv("PATH"),
				"CONDA_PREFIX="+opts.EnvDir,
			)
		}
	}
	if opts.ManagerName != "" {
		env = append(env, "VINE_MANAGER_NAME="+opts.ManagerName)
	}

	args := []string{"lab", "--no-browser", "--ip=0.0.0.0", "--port", strconv.Itoa(opts.Port)}
	if opts.NotebookPath != "" {
		abs, err := filepath.Abs(opts.NotebookPath)
		if err != nil {
			return nil, fmt.Errorf("start jupyter: resolve notebook path: %w", err)
		}
		args = append(args, abs)
	}

	return process.Spawn("jupyter", command, args, process.SpawnOptions{
		Dir:    opts.RunDir,
		Env:    env,
		Stdout: filepath.Join(opts.RunDir, "jupyter.out.log"),
		Stderr: filepath.Join(opts.RunDir, "jupyter.err.log"),
		Logger: opts.Logger,
	})
}
