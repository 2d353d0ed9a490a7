package process

import (
	"time"

	"github.com/hashicorp/go-multierror"
)

// Group aggregates several handles into one. The docker batch backend
// provisions N worker containers; supervision treats them as a single
// provisioner that is alive while any member still runs.
type Group struct {
	label   string
	members []Handle
}

// NewGroup wraps members under one label.
func NewGroup(label string, members []Handle) *Group {
	return &Group{label: label, members: members}
}

func (g *Group) Label() string { return g.label }

// Alive reports whether any member is still running.
func (g *Group) Alive() bool {
	for _, h := range g.members {
		if h.Alive() {
			return true
		}
	}
	return false
}

// Terminate terminates every member, continuing past failures.
func (g *Group) Terminate(grace time.Duration) error {
	var errs *multierror.Error
	for _, h := range g.members {
		if err := h.Terminate(grace); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
