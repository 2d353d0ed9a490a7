// Package process wraps the external child processes of a session
// behind a uniform handle: a label, a non-blocking liveness check, and
// an idempotent graceful-then-forced terminate.
package process

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long Terminate waits after the graceful
// signal before escalating to a forced kill.
const DefaultGracePeriod = 10 * time.Second

// Handle represents one supervised external process.
type Handle interface {
	// Label identifies the process in logs ("vine_factory", "jupyter", ...).
	Label() string

	// Alive reports whether the process is still running. Never blocks.
	Alive() bool

	// Terminate requests a graceful stop and, if the process has not
	// exited within grace, forces it. Calling Terminate on an exited or
	// already-terminated process is a no-op.
	Terminate(grace time.Duration) error
}

// SpawnOptions configures a child process launch.
type SpawnOptions struct {
	Dir    string   // working directory; empty means inherit
	Env    []string // extra KEY=VALUE entries appended to the parent environment
	Stdout string   // log file path for stdout; empty discards
	Stderr string   // log file path for stderr; empty discards
	Logger *log.Logger
}

// proc is an exec.Cmd-backed Handle. A reaper goroutine waits on the
// child and closes exited, so Alive is a non-blocking channel check.
type proc struct {
	label  string
	cmd    *exec.Cmd
	logger *log.Logger

	exited chan struct{}
	once   sync.Once // guards the kill escalation
}

// Spawn starts command asynchronously and returns a handle for it.
// A start failure (missing executable, unreadable working directory)
// is reported synchronously; no handle is returned for it.
func Spawn(label, command string, args []string, opts SpawnOptions) (Handle, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[process] ", log.LstdFlags|log.Lmsgprefix)
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	var logFiles []*os.File
	openLog := func(path string) (*os.File, error) {
		if path == "" {
			return nil, nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		logFiles = append(logFiles, f)
		return f, nil
	}

	stdout, err := openLog(opts.Stdout)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: open stdout log: %w", label, err)
	}
	stderr, err := openLog(opts.Stderr)
	if err != nil {
		closeAll(logFiles)
		return nil, fmt.Errorf("spawn %s: open stderr log: %w", label, err)
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}

	if err := cmd.Start(); err != nil {
		closeAll(logFiles)
		return nil, fmt.Errorf("spawn %s: %w", label, err)
	}

	p := &proc{
		label:  label,
		cmd:    cmd,
		logger: logger,
		exited: make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		closeAll(logFiles)
		if err != nil {
			logger.Printf("%s exited: %v", label, err)
		} else {
			logger.Printf("%s exited cleanly", label)
		}
		close(p.exited)
	}()

	logger.Printf("started %s (pid %d)", label, cmd.Process.Pid)
	return p, nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

func (p *proc) Label() string { return p.label }

func (p *proc) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

func (p *proc) Terminate(grace time.Duration) error {
	if !p.Alive() {
		return nil
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	var termErr error
	p.once.Do(func() {
		p.logger.Printf("terminating %s (pid %d)", p.label, p.cmd.Process.Pid)

		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			// Likely already gone between the Alive check and here.
			return
		}

		select {
		case <-p.exited:
			return
		case <-time.After(grace):
		}

		p.logger.Printf("%s did not exit within %s, killing", p.label, grace)
		if err := p.cmd.Process.Kill(); err != nil {
			termErr = fmt.Errorf("kill %s: %w", p.label, err)
			return
		}
		<-p.exited
	})
	return termErr
}
