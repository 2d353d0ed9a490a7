package process

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestSpawnAndWait(t *testing.T) {
	h, err := Spawn("true", "true", nil, SpawnOptions{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for h.Alive() {
		if time.Now().After(deadline) {
			t.Fatal("process did not exit")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSpawnMissingExecutable(t *testing.T) {
	_, err := Spawn("missing", "/no/such/executable-xyz", nil, SpawnOptions{Logger: quietLogger()})
	if err == nil {
		t.Fatal("Spawn should fail synchronously for a missing executable")
	}
}

func TestSpawnWritesLogs(t *testing.T) {
	tempDir := t.TempDir()
	stdout := filepath.Join(tempDir, "logs", "echo.out.log")

	h, err := Spawn("echo", "sh", []string{"-c", "echo hello-from-child"}, SpawnOptions{
		Stdout: stdout,
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for h.Alive() {
		if time.Now().After(deadline) {
			t.Fatal("process did not exit")
		}
		time.Sleep(10 * time.Millisecond)
	}

	body, err := os.ReadFile(stdout)
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	if !strings.Contains(string(body), "hello-from-child") {
		t.Errorf("log content = %q", body)
	}
}

func TestTerminateGraceful(t *testing.T) {
	h, err := Spawn("sleeper", "sleep", []string{"60"}, SpawnOptions{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	if !h.Alive() {
		t.Fatal("process should be alive right after spawn")
	}

	start := time.Now()
	if err := h.Terminate(5 * time.Second); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("graceful terminate took %s, should not have needed the kill escalation", elapsed)
	}

	deadline := time.Now().Add(5 * time.Second)
	for h.Alive() {
		if time.Now().After(deadline) {
			t.Fatal("process still alive after Terminate")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTerminateForced(t *testing.T) {
	// Child ignores SIGTERM, so Terminate must escalate to SIGKILL.
	h, err := Spawn("stubborn", "sh", []string{"-c", "trap '' TERM; sleep 60"}, SpawnOptions{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	// Give the shell a moment to install the trap.
	time.Sleep(200 * time.Millisecond)

	if err := h.Terminate(500 * time.Millisecond); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if h.Alive() {
		t.Error("process still alive after forced terminate")
	}
}

func TestTerminateIdempotent(t *testing.T) {
	h, err := Spawn("true", "true", nil, SpawnOptions{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for h.Alive() {
		if time.Now().After(deadline) {
			t.Fatal("process did not exit")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Terminating an exited process must be a silent no-op, repeatedly.
	for i := 0; i < 3; i++ {
		if err := h.Terminate(time.Second); err != nil {
			t.Errorf("Terminate #%d on exited process: %v", i, err)
		}
	}
}
