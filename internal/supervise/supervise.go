// Package supervise watches the session's two child processes and
// decides when the session is over.
package supervise

import (
	"context"
	"log"
	"os"
	"time"

	"floability/internal/process"
)

// DefaultPollInterval is how often the loop checks child liveness.
// Exit is observed by polling rather than a wait-on-exit primitive so
// the loop works the same for OS processes and containers.
const DefaultPollInterval = 5 * time.Second

// Outcome explains why the supervision loop ended.
type Outcome int

const (
	// ProvisionerExited: the resource provisioner is gone and the
	// session cannot usefully continue.
	ProvisionerExited Outcome = iota
	// Interrupted: the context was canceled from outside.
	Interrupted
)

func (o Outcome) String() string {
	switch o {
	case ProvisionerExited:
		return "provisioner exited"
	case Interrupted:
		return "interrupted"
	}
	return "unknown"
}

// Loop polls a provisioner handle and a session handle on a fixed
// interval. The provisioner going away ends the loop. The interactive
// session going away does not: the provisioner may still serve
// standalone workers, so its exit is only logged. That asymmetry is
// deliberate.
type Loop struct {
	Provisioner  process.Handle
	Session      process.Handle
	PollInterval time.Duration
	Logger       *log.Logger
}

// Run blocks until a termination condition and reports which one.
// The caller owns cleanup; Run itself tears nothing down.
func (l *Loop) Run(ctx context.Context) Outcome {
	interval := l.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := l.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[supervise] ", log.LstdFlags|log.Lmsgprefix)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sessionExitLogged := false
	for {
		select {
		case <-ctx.Done():
			return Interrupted
		case <-ticker.C:
		}

		if !l.Provisioner.Alive() {
			logger.Printf("%s ended", l.Provisioner.Label())
			return ProvisionerExited
		}

		if l.Session != nil && !l.Session.Alive() && !sessionExitLogged {
			// Keep running: workers can still be driven without the
			// interactive session.
			logger.Printf("%s ended; provisioner still running", l.Session.Label())
			sessionExitLogged = true
		}
	}
}
