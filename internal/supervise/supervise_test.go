package supervise

import (
	"context"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"
)

type fakeHandle struct {
	label string
	alive atomic.Bool
}

func newFakeHandle(label string) *fakeHandle {
	h := &fakeHandle{label: label}
	h.alive.Store(true)
	return h
}

func (h *fakeHandle) Label() string                      { return h.label }
func (h *fakeHandle) Alive() bool                        { return h.alive.Load() }
func (h *fakeHandle) Terminate(grace time.Duration) error { h.alive.Store(false); return nil }

func quietLoop(provisioner, session *fakeHandle) *Loop {
	l := &Loop{
		Provisioner:  provisioner,
		PollInterval: 10 * time.Millisecond,
		Logger:       log.New(io.Discard, "", 0),
	}
	if session != nil {
		l.Session = session
	}
	return l
}

func TestRunDetectsProvisionerExit(t *testing.T) {
	factory := newFakeHandle("vine_factory")
	jupyter := newFakeHandle("jupyter")
	loop := quietLoop(factory, jupyter)

	go func() {
		time.Sleep(25 * time.Millisecond)
		factory.alive.Store(false)
	}()

	done := make(chan Outcome, 1)
	go func() { done <- loop.Run(context.Background()) }()

	select {
	case outcome := <-done:
		if outcome != ProvisionerExited {
			t.Errorf("outcome = %v, want ProvisionerExited", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not detect provisioner exit")
	}
}

func TestRunContinuesAfterSessionExit(t *testing.T) {
	factory := newFakeHandle("vine_factory")
	jupyter := newFakeHandle("jupyter")
	jupyter.alive.Store(false)
	loop := quietLoop(factory, jupyter)

	done := make(chan Outcome, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { done <- loop.Run(ctx) }()

	// With the session dead but the provisioner alive, the loop must
	// keep running across several polling intervals.
	select {
	case outcome := <-done:
		t.Fatalf("loop ended with %v; session exit alone must not stop it", outcome)
	case <-time.After(100 * time.Millisecond):
	}

	// It still reacts to the provisioner going away afterwards.
	factory.alive.Store(false)
	select {
	case outcome := <-done:
		if outcome != ProvisionerExited {
			t.Errorf("outcome = %v, want ProvisionerExited", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not end after provisioner exit")
	}
}

func TestRunInterrupted(t *testing.T) {
	factory := newFakeHandle("vine_factory")
	loop := quietLoop(factory, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() { done <- loop.Run(ctx) }()

	cancel()

	select {
	case outcome := <-done:
		if outcome != Interrupted {
			t.Errorf("outcome = %v, want Interrupted", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not end after cancellation")
	}
}
