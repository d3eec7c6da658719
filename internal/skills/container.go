package skills

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ContainerRunner is the alternate running representation for skills
// whose manifest sets isolation = "container": the skill directory is
// bind-mounted
// read-only into the container, a per-skill data directory is
// writable, and the container itself provides the syscall boundary in
// place of sandboxproc's rlimits/seccomp.
type ContainerRunner struct {
	cli *client.Client

	mu         sync.Mutex
	containers map[string]string // skill name -> container id
}

// NewContainerRunner opens a Docker client from the ambient environment.
// A nil client is tolerated; operations report errDockerUnavailable
// rather than panicking, so agents without Docker installed can still
// run process-isolated skills.
func NewContainerRunner() *ContainerRunner {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		cli = nil
	}
	return &ContainerRunner{cli: cli, containers: make(map[string]string)}
}

var errDockerUnavailable = fmt.Errorf("skills: docker client unavailable")

// Start creates and starts a container running name's entry point,
// mounting dir read-only and a per-skill data directory read-write.
func (r *ContainerRunner) Start(ctx context.Context, name, dir string, manifest Manifest, image string) error {
	if r.cli == nil {
		return errDockerUnavailable
	}

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("skills: create skill data dir: %w", err)
	}

	containerName := fmt.Sprintf("agenthost-skill-%s", name)
	cfg := &container.Config{
		Image:      image,
		Cmd:        []string{manifest.EntryPoint},
		WorkingDir: "/skill",
		Env:        envMapToList(manifest.Env),
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: dir, Target: "/skill", ReadOnly: true},
			{Type: mount.TypeBind, Source: dataDir, Target: "/skill/data"},
		},
	}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName)
	if err != nil {
		return fmt.Errorf("skills: create container for %s: %w", name, err)
	}
	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("skills: start container for %s: %w", name, err)
	}

	r.mu.Lock()
	r.containers[name] = resp.ID
	r.mu.Unlock()
	return nil
}

// Stop removes name's container, forcing termination. Stopping a skill
// with no tracked container is a no-op.
func (r *ContainerRunner) Stop(ctx context.Context, name string) error {
	r.mu.Lock()
	id, ok := r.containers[name]
	if ok {
		delete(r.containers, name)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if r.cli == nil {
		return errDockerUnavailable
	}

	return r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
}

// IsRunning reports whether name's container is currently running.
func (r *ContainerRunner) IsRunning(ctx context.Context, name string) bool {
	if r.cli == nil {
		return false
	}
	r.mu.Lock()
	id, ok := r.containers[name]
	r.mu.Unlock()
	if !ok {
		return false
	}

	inspectCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	inspect, err := r.cli.ContainerInspect(inspectCtx, id)
	if err != nil {
		return false
	}
	return inspect.State.Running
}

// CaptureLogs returns the combined stdout/stderr of name's container.
func (r *ContainerRunner) CaptureLogs(ctx context.Context, name string) (string, error) {
	if r.cli == nil {
		return "", errDockerUnavailable
	}
	r.mu.Lock()
	id, ok := r.containers[name]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("skills: no container tracked for %s", name)
	}

	logs, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Errorf("skills: fetch logs for %s: %w", name, err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", fmt.Errorf("skills: demux logs for %s: %w", name, err)
	}
	return stdout.String() + stderr.String(), nil
}

func envMapToList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
