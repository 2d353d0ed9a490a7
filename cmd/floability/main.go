// Command floability runs distributed Jupyter-based workflows: it
// stages a packed runtime environment, provisions TaskVine workers,
// serves JupyterLab, and tears everything down when the session ends.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"floability/internal/cleanup"
	"floability/internal/data"
	"floability/internal/process"
	"floability/internal/provision"
	"floability/internal/session"
)

const version = "1.0.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "floability v%s - distributed Jupyter workflows with TaskVine\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: floability <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run      Run a notebook or floability backpack\n")
		fmt.Fprintf(os.Stderr, "  fetch    Fetch data from a data.yml spec\n")
		fmt.Fprintf(os.Stderr, "  pack     Package a notebook into a backpack\n")
		fmt.Fprintf(os.Stderr, "  verify   Verify a backpack\n")
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	logger := log.New(os.Stdout, "[floability] ", log.LstdFlags|log.Lmsgprefix)

	switch flag.Arg(0) {
	case "run":
		runCommand(flag.Args()[1:], logger)
	case "fetch":
		fetchCommand(flag.Args()[1:], logger)
	case "pack":
		logger.Printf("'pack' command not yet implemented")
	case "verify":
		logger.Printf("'verify' command not yet implemented")
	default:
		fatal("unknown command: %s", flag.Arg(0))
	}
}

func runCommand(args []string, logger *log.Logger) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	environment := fs.String("environment", "", "Path to environment.yml or a packed environment archive")
	notebook := fs.String("notebook", "", "Path to a .ipynb file")
	batchType := fs.String("batch-type", "local",
		fmt.Sprintf("Batch system for worker provisioning (%s)", strings.Join(provision.BatchTypes, ", ")))
	workers := fs.Int("workers", 5, "Maximum number of workers")
	coresPerWorker := fs.Int("cores-per-worker", 1, "Cores requested per worker")
	managerName := fs.String("manager-name", "", "TaskVine manager name (generated when empty)")
	jupyterPort := fs.Int("jupyter-port", 8888, "Port on which JupyterLab will listen")
	baseDir := fs.String("base-dir", "/tmp", "Base directory for run directories")
	dataSpec := fs.String("data-spec", "", "Path to a data.yml spec of data to fetch")
	backpackRoot := fs.String("backpack-root", ".", "Root of the backpack")
	workerImage := fs.String("worker-image", provision.DefaultWorkerImage,
		"Worker container image (docker batch type only)")
	fs.Parse(args)

	if !provision.ValidBatchType(*batchType) {
		fatal("unknown batch type %q (supported: %s)", *batchType, strings.Join(provision.BatchTypes, ", "))
	}

	// Signal handlers are installed against the registry before any
	// resource exists, so an early Ctrl-C still cleans up whatever was
	// registered by then.
	reg := cleanup.NewRegistry(process.DefaultGracePeriod, logger)
	cleanup.InstallSignalHandlers(reg, logger)

	err := session.Run(context.Background(), session.Options{
		Environment:    *environment,
		Notebook:       *notebook,
		BatchType:      *batchType,
		Workers:        *workers,
		CoresPerWorker: *coresPerWorker,
		ManagerName:    *managerName,
		JupyterPort:    *jupyterPort,
		BaseDir:        *baseDir,
		DataSpec:       *dataSpec,
		BackpackRoot:   *backpackRoot,
		WorkerImage:    *workerImage,
		PollInterval:   5 * time.Second,
		Logger:         logger,
	}, reg)
	if err != nil {
		// The session already ran its cleanup pass; just report.
		fatal("run: %v", err)
	}
}

func fetchCommand(args []string, logger *log.Logger) {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	dataSpec := fs.String("data-spec", "", "Path to a data.yml spec of data to fetch (required)")
	backpackRoot := fs.String("backpack-root", ".", "Root of the backpack")
	fs.Parse(args)

	if *dataSpec == "" {
		fatal("fetch requires --data-spec path/to/data.yml")
	}
	if err := data.EnsureFetched(*dataSpec, *backpackRoot, logger); err != nil {
		fatal("fetch: %v", err)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "floability: "+format+"\n", args...)
	os.Exit(1)
}
