// Package rundir allocates the per-session run directory.
// Every artifact of a session (staged environment, child process logs)
// lives under a single unique directory created here.
package rundir

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// maxAttempts bounds the collision retry loop. With an 8-byte random
// suffix a collision essentially never happens; the bound exists so a
// broken base directory cannot spin forever.
const maxAttempts = 10000

// Allocate creates a fresh directory under baseDir named
// "<prefix>_<random-hex>" and returns its absolute path.
// The create is exclusive: two concurrent callers can never be handed
// the same path. Fails if baseDir does not exist or is not writable.
func Allocate(baseDir, prefix string) (string, error) {
	stat, err := os.Stat(baseDir)
	if err != nil {
		return "", fmt.Errorf("allocate run directory: base %s: %w", baseDir, err)
	}
	if !stat.IsDir() {
		return "", fmt.Errorf("allocate run directory: base %s is not a directory", baseDir)
	}

	for i := 0; i < maxAttempts; i++ {
		suffix, err := randomSuffix()
		if err != nil {
			return "", fmt.Errorf("allocate run directory: %w", err)
		}

		path := filepath.Join(baseDir, prefix+"_"+suffix)
		err = os.Mkdir(path, 0755)
		if err == nil {
			abs, absErr := filepath.Abs(path)
			if absErr != nil {
				return path, nil
			}
			return abs, nil
		}
		if os.IsExist(err) {
			continue
		}
		return "", fmt.Errorf("allocate run directory: %w", err)
	}

	return "", fmt.Errorf("allocate run directory: too many collisions under %s", baseDir)
}

func randomSuffix() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate suffix: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
