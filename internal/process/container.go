package process

import (
	"context"
	"log"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Container is a Handle backed by a Docker container rather than a
// direct child process. Used by the docker batch backend, where workers
// run as containers instead of vine_factory-managed batch jobs.
type Container struct {
	label  string
	id     string
	client *client.Client
	logger *log.Logger
}

// NewContainer wraps an already-started container in a Handle.
func NewContainer(label, containerID string, dockerClient *client.Client, logger *log.Logger) *Container {
	if logger == nil {
		logger = log.New(log.Writer(), "[process] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &Container{
		label:  label,
		id:     containerID,
		client: dockerClient,
		logger: logger,
	}
}

// ID returns the Docker container ID.
func (c *Container) ID() string { return c.id }

func (c *Container) Label() string { return c.label }

// Alive reports whether the container is still running. An inspect
// failure (daemon gone, container removed) counts as not alive.
func (c *Container) Alive() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := c.client.ContainerInspect(ctx, c.id)
	if err != nil {
		return false
	}
	return info.State != nil && info.State.Running
}

// Terminate stops the container, waiting up to grace for a clean stop
// before Docker escalates to SIGKILL, then removes it. Calling it on a
// container that is already gone is a no-op.
func (c *Container) Terminate(grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	ctx, cancel := context.WithTimeout(context.Background(), grace+30*time.Second)
	defer cancel()

	if !c.Alive() {
		// Still try to remove leftovers; ignore failures.
		_ = c.client.ContainerRemove(ctx, c.id, container.RemoveOptions{Force: true})
		return nil
	}

	c.logger.Printf("stopping container %s (%s)", c.label, shortID(c.id))

	timeout := int(grace.Seconds())
	if err := c.client.ContainerStop(ctx, c.id, container.StopOptions{Timeout: &timeout}); err != nil {
		c.logger.Printf("stop %s failed, removing by force: %v", c.label, err)
	}
	return c.client.ContainerRemove(ctx, c.id, container.RemoveOptions{Force: true})
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
