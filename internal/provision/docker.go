package provision

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"floability/internal/process"
)

// DefaultWorkerImage ships cctools, including vine_worker.
const DefaultWorkerImage = "cctools/cctools:latest"

// DockerOptions configures a container-backed worker pool.
type DockerOptions struct {
	ManagerName    string
	Workers        int
	CoresPerWorker int
	Image          string // defaults to DefaultWorkerImage
	Logger         *log.Logger
}

// StartDockerWorkers provisions the worker pool as Docker containers
// instead of batch jobs: one vine_worker container per requested
// worker, each returned as a handle so the cleanup registry can tear
// it down like any other child. Containers started before a failure
// are stopped and removed before the error is returned.
func StartDockerWorkers(ctx context.Context, cli *client.Client, opts DockerOptions) ([]process.Handle, error) {
	if opts.ManagerName == "" {
		return nil, fmt.Errorf("start docker workers: manager name is required")
	}
	img := opts.Image
	if img == "" {
		img = DefaultWorkerImage
	}
	logger := opts.Logger

	pull, err := cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return nil, fmt.Errorf("pull worker image %s: %w", img, err)
	}
	// The pull completes when the progress stream is drained.
	io.Copy(io.Discard, pull)
	pull.Close()

	cmd := []string{
		"vine_worker",
		"-M", opts.ManagerName,
		"--cores", strconv.Itoa(opts.CoresPerWorker),
	}

	handles := make([]process.Handle, 0, opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		name := fmt.Sprintf("%s-worker-%d", opts.ManagerName, i)

		created, err := cli.ContainerCreate(ctx, &container.Config{
			Image: img,
			Cmd:   cmd,
		}, &container.HostConfig{
			NetworkMode: "host",
		}, nil, nil, name)
		if err != nil {
			stopAll(handles)
			return nil, fmt.Errorf("create worker container %s: %w", name, err)
		}

		if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
			cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
			stopAll(handles)
			return nil, fmt.Errorf("start worker container %s: %w", name, err)
		}

		handles = append(handles, process.NewContainer(name, created.ID, cli, logger))
	}
	return handles, nil
}

func stopAll(handles []process.Handle) {
	for _, h := range handles {
		_ = h.Terminate(0)
	}
}
