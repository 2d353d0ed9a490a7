// Package session orchestrates one floability run: allocate the run
// directory, fetch declared data, stage the runtime environment, start
// the provisioner and JupyterLab, supervise them, and guarantee
// exactly-once teardown of everything that was registered.
package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/client"
	"github.com/google/uuid"

	"floability/internal/cleanup"
	"floability/internal/data"
	"floability/internal/environment"
	"floability/internal/jupyter"
	"floability/internal/process"
	"floability/internal/provision"
	"floability/internal/rundir"
	"floability/internal/supervise"
)

// envDirName is the staged environment's subdirectory of the run dir.
const envDirName = "current_conda_env"

// Options configures a run. The launcher fields default to the real
// implementations and exist as seams for tests.
type Options struct {
	Environment    string // environment.yml or a packed archive; empty skips staging
	Notebook       string
	BatchType      string
	Workers        int
	CoresPerWorker int
	ManagerName    string // generated when empty
	JupyterPort    int
	BaseDir        string
	DataSpec       string
	BackpackRoot   string
	WorkerImage    string // docker batch type only

	PollInterval time.Duration
	Logger       *log.Logger

	Stager           *environment.Stager
	Materializer     func(envYml, runDir string) (string, error)
	StartProvisioner func(ctx context.Context, opts Options, runDir, ponchoEnv string) (process.Handle, error)
	StartJupyter     func(opts jupyter.Options) (process.Handle, error)
}

// Run executes a session to completion. Every resource it creates is
// registered with reg as soon as it exists, so an abort at any point
// (error return, or a signal handled elsewhere against the same
// registry) tears down exactly what was built. On the normal exit path
// Run triggers the registry's single cleanup pass itself.
func Run(ctx context.Context, opts Options, reg *cleanup.Registry) error {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[floability] ", log.LstdFlags|log.Lmsgprefix)
	}
	if opts.Stager == nil {
		opts.Stager = environment.NewStager(logger)
	}
	if opts.Materializer == nil {
		opts.Materializer = materializePonchoEnv
	}
	if opts.StartProvisioner == nil {
		opts.StartProvisioner = startProvisioner
	}
	if opts.StartJupyter == nil {
		opts.StartJupyter = jupyter.Start
	}

	runDir, err := rundir.Allocate(opts.BaseDir, "floability_run")
	if err != nil {
		return fmt.Errorf("allocate run directory: %w", err)
	}
	logger.Printf("run directory: %s (all logs are stored here)", runDir)

	if opts.DataSpec != "" {
		logger.Printf("fetching data from %s", opts.DataSpec)
		if err := data.EnsureFetched(opts.DataSpec, opts.BackpackRoot, logger); err != nil {
			reg.Cleanup()
			return fmt.Errorf("fetch data: %w", err)
		}
	}

	if opts.ManagerName == "" {
		opts.ManagerName = "floability-" + uuid.New().String()
	}
	managerName := opts.ManagerName
	logger.Printf("manager name: %s", managerName)

	var ponchoEnv, envDir string
	if opts.Environment != "" {
		ponchoEnv, err = resolveArchive(opts, runDir, logger)
		if err != nil {
			reg.Cleanup()
			return err
		}

		envDir = filepath.Join(runDir, envDirName)
		if err := os.MkdirAll(envDir, 0755); err != nil {
			reg.Cleanup()
			return fmt.Errorf("create environment directory: %w", err)
		}

		// Registered before extraction starts: a failed or interrupted
		// staging must not leak a half-written environment tree.
		reg.RegisterDirectory(envDir)

		if err := opts.Stager.Stage(ponchoEnv, envDir, managerName); err != nil {
			reg.Cleanup()
			return err
		}
	} else {
		logger.Printf("no environment file provided, skipping staging")
	}

	logger.Printf("starting provisioner (batch type %s)", opts.BatchType)
	factory, err := opts.StartProvisioner(ctx, opts, runDir, ponchoEnv)
	if err != nil {
		reg.Cleanup()
		return fmt.Errorf("start provisioner: %w", err)
	}
	reg.RegisterProcess(factory)

	logger.Printf("starting JupyterLab on port %d", opts.JupyterPort)
	lab, err := opts.StartJupyter(jupyter.Options{
		NotebookPath: opts.Notebook,
		Port:         opts.JupyterPort,
		RunDir:       runDir,
		EnvDir:       envDir,
		ManagerName:  managerName,
		Logger:       logger,
	})
	if err != nil {
		reg.Cleanup()
		return fmt.Errorf("start jupyter: %w", err)
	}
	reg.RegisterProcess(lab)

	loop := &supervise.Loop{
		Provisioner:  factory,
		Session:      lab,
		PollInterval: opts.PollInterval,
		Logger:       logger,
	}
	outcome := loop.Run(ctx)
	logger.Printf("session over: %s", outcome)

	reg.Cleanup()
	return nil
}

// resolveArchive returns a packed environment archive for the run:
// either the user-supplied one, or a fresh pack materialized from the
// declarative environment.yml.
func resolveArchive(opts Options, runDir string, logger *log.Logger) (string, error) {
	if isArchivePath(opts.Environment) {
		abs, err := filepath.Abs(opts.Environment)
		if err != nil {
			return "", fmt.Errorf("resolve environment archive: %w", err)
		}
		logger.Printf("using packed environment %s", abs)
		return abs, nil
	}

	logger.Printf("materializing environment from %s", opts.Environment)
	archivePath, err := opts.Materializer(opts.Environment, runDir)
	if err != nil {
		return "", fmt.Errorf("materialize environment: %w", err)
	}
	return archivePath, nil
}

func isArchivePath(path string) bool {
	for _, ext := range []string{".tar", ".gz", ".tgz", ".bz2", ".xz", ".zst"} {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// materializePonchoEnv builds a conda-pack tarball from an
// environment.yml via poncho_package_create.
func materializePonchoEnv(envYml, runDir string) (string, error) {
	out := filepath.Join(runDir, "environment.tar.gz")
	cmd := exec.Command("poncho_package_create", envYml, out)
	if combined, err := cmd.CombinedOutput(); err != nil {
		diag := strings.TrimSpace(string(combined))
		if diag == "" {
			diag = err.Error()
		}
		return "", fmt.Errorf("poncho_package_create: %s", diag)
	}
	return out, nil
}

// startProvisioner picks the provisioning strategy for the batch type:
// vine_factory for batch systems, a container pool for docker.
func startProvisioner(ctx context.Context, opts Options, runDir, ponchoEnv string) (process.Handle, error) {
	managerName := opts.ManagerName
	if opts.BatchType == "docker" {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("docker client: %w", err)
		}
		workers, err := provision.StartDockerWorkers(ctx, cli, provision.DockerOptions{
			ManagerName:    managerName,
			Workers:        opts.Workers,
			CoresPerWorker: opts.CoresPerWorker,
			Image:          opts.WorkerImage,
			Logger:         opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		return process.NewGroup("docker workers", workers), nil
	}

	return provision.StartFactory(provision.FactoryOptions{
		BatchType:      opts.BatchType,
		ManagerName:    managerName,
		MinWorkers:     1,
		MaxWorkers:     opts.Workers,
		CoresPerWorker: opts.CoresPerWorker,
		PonchoEnv:      ponchoEnv,
		RunDir:         runDir,
		Logger:         opts.Logger,
	})
}
