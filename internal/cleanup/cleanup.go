// Package cleanup tracks the teardown obligations of a session: child
// processes to terminate and directories to remove. The registry runs
// its obligations exactly once, whether reached from the normal exit
// path or from a signal handler, and never lets a failed obligation
// stop the rest.
package cleanup

import (
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"floability/internal/process"
)

// Registry is an append-only ledger of cleanup obligations with a
// one-shot execution guard. A zero grace period falls back to
// process.DefaultGracePeriod.
type Registry struct {
	mu    sync.Mutex
	procs []process.Handle
	dirs  []string

	done  atomic.Bool
	grace time.Duration

	logger *log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(grace time.Duration, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(os.Stdout, "[cleanup] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &Registry{grace: grace, logger: logger}
}

// RegisterProcess adds a child process to the teardown ledger.
// Safe to call at any point before cleanup fires; registrations after
// cleanup has run are ignored (the session is already ending).
func (r *Registry) RegisterProcess(h process.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs = append(r.procs, h)
}

// RegisterDirectory adds a directory tree to the teardown ledger.
func (r *Registry) RegisterDirectory(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs = append(r.dirs, path)
}

// Cleanup executes every obligation exactly once. The first caller
// wins; every later call, including one racing in from a signal
// handler while the first is still running, returns immediately.
//
// Processes are terminated first, in registration order, each with a
// bounded grace period; directories are removed only after all
// processes are down, because a child may still hold files open in a
// registered directory. Failures are logged and collected, never
// propagated: once cleanup begins the session is ending and there is
// nobody left to handle an error.
func (r *Registry) Cleanup() {
	if !r.done.CompareAndSwap(false, true) {
		return
	}

	r.mu.Lock()
	procs := make([]process.Handle, len(r.procs))
	copy(procs, r.procs)
	dirs := make([]string, len(r.dirs))
	copy(dirs, r.dirs)
	r.mu.Unlock()

	r.logger.Printf("cleaning up: %d process(es), %d directory(ies)", len(procs), len(dirs))

	var errs *multierror.Error
	for _, h := range procs {
		if err := h.Terminate(r.grace); err != nil {
			errs = multierror.Append(errs, err)
			r.logger.Printf("terminate %s: %v", h.Label(), err)
		}
	}

	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			errs = multierror.Append(errs, err)
			r.logger.Printf("remove %s: %v", dir, err)
		} else {
			r.logger.Printf("removed %s", dir)
		}
	}

	if errs.ErrorOrNil() != nil {
		r.logger.Printf("cleanup finished with errors: %v", errs)
	} else {
		r.logger.Printf("cleanup complete")
	}
}

// Done reports whether cleanup has already run (or is running).
func (r *Registry) Done() bool {
	return r.done.Load()
}
