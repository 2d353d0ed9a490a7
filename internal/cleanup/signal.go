package cleanup

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var installOnce sync.Once

// InstallSignalHandlers arranges for SIGINT and SIGTERM to run the
// registry's single cleanup pass and then end the process with the
// conventional 128+signal exit status. Install before anything is
// registered, so a signal arriving mid-staging still tears down
// whatever exists by then. Only the first call in a process installs
// anything; later calls are no-ops.
func InstallSignalHandlers(reg *Registry, logger *log.Logger) {
	installOnce.Do(func() {
		if logger == nil {
			logger = log.New(os.Stdout, "[cleanup] ", log.LstdFlags|log.Lmsgprefix)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			sig := <-sigCh
			logger.Printf("received %v, cleaning up...", sig)
			reg.Cleanup()

			code := 1
			if s, ok := sig.(syscall.Signal); ok {
				code = 128 + int(s)
			}
			os.Exit(code)
		}()
	})
}
