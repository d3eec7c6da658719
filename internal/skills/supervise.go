package skills

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/antigravity-dev/agenthost/internal/sandboxproc"
)

// State is a running skill's lifecycle state.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

// runningSkill tracks one supervised skill, whether backed by an OS
// process or an embedded-script goroutine.
type runningSkill struct {
	name     string
	manifest Manifest
	dir      string

	cmd         *exec.Cmd // nil for embedded and container skills
	isContainer bool
	cancel      context.CancelFunc
	state       State
	exitCode    int
	startedAt   time.Time
	completedAt time.Time
}

// Embedder runs a skill's embedded-script entry point on a dedicated
// goroutine, cancellable via ctx. Scripts that aren't native
// subprocesses (e.g. an interpreted DSL) implement this to run inside
// the host process instead of a child process.
type Embedder interface {
	RunEmbedded(ctx context.Context, dir string, manifest Manifest) error
}

// Supervisor spawns, waits on, and restarts skill processes, tracking
// them in a running table guarded by a single mutex.
type Supervisor struct {
	mu      sync.Mutex
	running map[string]*runningSkill
	stopped map[string]bool // manually-stopped set

	limits         sandboxproc.Limits
	seccompAllowed bool
	logDir         string
	embedder       Embedder
	container      *ContainerRunner
}

// NewSupervisor builds a Supervisor applying limits to every spawned
// subprocess skill, with per-skill logs under logDir.
func NewSupervisor(limits sandboxproc.Limits, seccompAllowed bool, logDir string, embedder Embedder) *Supervisor {
	return &Supervisor{
		running:        make(map[string]*runningSkill),
		stopped:        make(map[string]bool),
		limits:         limits,
		seccompAllowed: seccompAllowed,
		logDir:         logDir,
		embedder:       embedder,
	}
}

// SetContainerRunner wires an alternate Runner backend for skills whose
// manifest sets isolation = "container"; without one, Start refuses
// container-isolated skills instead of silently running them as a bare
// subprocess.
func (s *Supervisor) SetContainerRunner(r *ContainerRunner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.container = r
}

// SpawnEnv is the environment a subprocess skill is launched with.
type SpawnEnv struct {
	MessagingCredentials map[string]string
	DecryptedCredentials map[string]string
	PublicTunnelURL      string

	// WrapperDir holds the rm/rmdir trash wrapper scripts, prepended to
	// the child's PATH so shelled-out deletes land in trash.
	WrapperDir string
}

// IsEmbedded reports whether entryPoint names an embedded script by
// its designated extension.
func IsEmbedded(entryPoint string) bool {
	return strings.HasSuffix(entryPoint, ".askill")
}

// Start launches name if it is not already running, choosing the
// subprocess or embedded representation by the manifest entry point.
func (s *Supervisor) Start(ctx context.Context, name, dir string, manifest Manifest, env SpawnEnv) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, already := s.running[name]; already {
		return nil
	}
	delete(s.stopped, name)

	switch {
	case manifest.Isolation == IsolationContainer:
		return s.startContainerLocked(ctx, name, dir, manifest)
	case IsEmbedded(manifest.EntryPoint):
		return s.startEmbeddedLocked(ctx, name, dir, manifest)
	default:
		return s.startProcessLocked(ctx, name, dir, manifest, env)
	}
}

func (s *Supervisor) startContainerLocked(ctx context.Context, name, dir string, manifest Manifest) error {
	if s.container == nil {
		return fmt.Errorf("skills: no container runner configured for container-isolated skill %s", name)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	if err := s.container.Start(ctx, name, dir, manifest, manifest.Image); err != nil {
		cancel()
		return fmt.Errorf("skills: start container skill %s: %w", name, err)
	}

	rs := &runningSkill{
		name: name, manifest: manifest, dir: dir, isContainer: true,
		cancel: cancel, state: StateRunning, startedAt: time.Now(),
	}
	s.running[name] = rs
	go s.waitForContainer(name, pollCtx)
	return nil
}

// waitForContainer polls the container runner's IsRunning at a fixed
// interval until it reports the container has exited or the poll
// context is cancelled by Stop, mirroring waitForProcess's reap shape
// for the container-isolated Runner backend.
func (s *Supervisor) waitForContainer(name string, ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.container.IsRunning(context.Background(), name) {
				continue
			}
			s.mu.Lock()
			if current, ok := s.running[name]; ok && current.isContainer {
				current.completedAt = time.Now()
				current.state = StateCompleted
			}
			s.mu.Unlock()
			return
		}
	}
}

func (s *Supervisor) startProcessLocked(ctx context.Context, name, dir string, manifest Manifest, env SpawnEnv) error {
	interpreter, args, err := resolveEntryPoint(dir, manifest)
	if err != nil {
		return err
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := sandboxproc.Command(procCtx, s.limits, s.seccompAllowed, interpreter, args...)
	cmd.Dir = dir
	cmd.Env = buildSpawnEnv(name, dir, manifest, env)

	logFile, err := openAppendLog(filepath.Join(dir, "skill.log"))
	if err != nil {
		cancel()
		return err
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		cancel()
		return fmt.Errorf("skills: start %s: %w", name, err)
	}
	_ = logFile.Close()

	rs := &runningSkill{
		name: name, manifest: manifest, dir: dir,
		cmd: cmd, cancel: cancel, state: StateRunning, startedAt: time.Now(),
	}
	s.running[name] = rs
	go s.waitForProcess(name)
	return nil
}

func (s *Supervisor) startEmbeddedLocked(ctx context.Context, name, dir string, manifest Manifest) error {
	if s.embedder == nil {
		return fmt.Errorf("skills: no embedder configured for embedded skill %s", name)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	rs := &runningSkill{
		name: name, manifest: manifest, dir: dir,
		cancel: cancel, state: StateRunning, startedAt: time.Now(),
	}
	s.running[name] = rs

	go func() {
		err := s.embedder.RunEmbedded(taskCtx, dir, manifest)
		s.mu.Lock()
		defer s.mu.Unlock()
		current, ok := s.running[name]
		if !ok || current != rs {
			return
		}
		current.completedAt = time.Now()
		if err != nil {
			current.state = StateFailed
		} else {
			current.state = StateCompleted
		}
	}()
	return nil
}

func resolveEntryPoint(dir string, manifest Manifest) (string, []string, error) {
	entry := filepath.Join(dir, manifest.EntryPoint)
	switch {
	case strings.HasSuffix(manifest.EntryPoint, ".py"):
		interp := "python3"
		if fileExists(VenvPython(dir)) {
			interp = VenvPython(dir)
		}
		return interp, []string{entry}, nil
	case strings.HasSuffix(manifest.EntryPoint, ".js") || strings.HasSuffix(manifest.EntryPoint, ".mjs"):
		return "node", []string{entry}, nil
	default:
		return entry, nil, nil
	}
}

func buildSpawnEnv(name, dir string, manifest Manifest, env SpawnEnv) []string {
	vars := append([]string{}, os.Environ()...)
	vars = append(vars,
		"SKILL_NAME="+name,
		"SKILL_DIR="+dir,
		"SKILL_DATA_DIR="+filepath.Join(dir, "data"),
		"PYTHONUNBUFFERED=1",
	)
	var pathPrefixes []string
	if fileExists(VenvDir(dir)) {
		vars = append(vars, "VIRTUAL_ENV="+VenvDir(dir))
		pathPrefixes = append(pathPrefixes, filepath.Join(VenvDir(dir), "bin"))
	}
	if env.WrapperDir != "" {
		pathPrefixes = append(pathPrefixes, env.WrapperDir)
	}
	if len(pathPrefixes) > 0 {
		vars = append(vars, "PATH="+strings.Join(pathPrefixes, ":")+":"+os.Getenv("PATH"))
	}
	if env.PublicTunnelURL != "" {
		vars = append(vars, "AGENTHOST_TUNNEL_URL="+env.PublicTunnelURL)
	}
	for k, v := range manifest.Env {
		vars = append(vars, k+"="+v)
	}
	for k, v := range env.MessagingCredentials {
		vars = append(vars, k+"="+v)
	}
	for k, v := range env.DecryptedCredentials {
		vars = append(vars, k+"="+v)
	}
	return vars
}

func (s *Supervisor) waitForProcess(name string) {
	s.mu.Lock()
	rs, ok := s.running[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	cmd := rs.cmd
	s.mu.Unlock()

	err := cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.running[name]
	if !ok || current != rs {
		return
	}
	current.completedAt = time.Now()
	if err == nil {
		current.state = StateCompleted
		current.exitCode = 0
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		current.state = StateFailed
		current.exitCode = exitErr.ExitCode()
	} else {
		current.state = StateFailed
		current.exitCode = -1
	}
}

// IsRunning reports whether name has a live entry in the running table.
func (s *Supervisor) IsRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.running[name]
	return ok && rs.state == StateRunning
}

// IsManuallyStopped reports whether name is in the manually-stopped
// set, suppressing auto-restart during reconcile.
func (s *Supervisor) IsManuallyStopped(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped[name]
}

// StopManual stops name and adds it to the manually-stopped set.
func (s *Supervisor) StopManual(ctx context.Context, name string, gracePeriod time.Duration) error {
	s.mu.Lock()
	s.stopped[name] = true
	s.mu.Unlock()
	return s.Stop(ctx, name, gracePeriod)
}

// Restart clears the manually-stopped flag so the caller may Start
// name again.
func (s *Supervisor) Restart(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stopped, name)
}

// Stop signals the process group with SIGTERM, waits gracePeriod, then
// SIGKILLs if still alive. For embedded scripts it cancels the task
// context.
func (s *Supervisor) Stop(ctx context.Context, name string, gracePeriod time.Duration) error {
	s.mu.Lock()
	rs, ok := s.running[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	rs.cancel()

	if rs.isContainer {
		err := s.container.Stop(ctx, name)
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
		return err
	}

	if rs.cmd == nil {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
		return nil
	}

	pid := rs.cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	// waitForProcess owns cmd.Wait; watch the running table for it to
	// record the exit rather than calling Wait a second time.
	if !s.awaitExit(name, rs, gracePeriod) {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		s.awaitExit(name, rs, gracePeriod)
	}

	s.mu.Lock()
	delete(s.running, name)
	s.mu.Unlock()
	return nil
}

// awaitExit polls the running table until rs leaves StateRunning or the
// deadline passes, reporting whether the process exited in time.
func (s *Supervisor) awaitExit(name string, rs *runningSkill, deadline time.Duration) bool {
	timeout := time.After(deadline)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-timeout:
			return false
		case <-ticker.C:
			s.mu.Lock()
			current, ok := s.running[name]
			exited := !ok || current != rs || current.state != StateRunning
			s.mu.Unlock()
			if exited {
				return true
			}
		}
	}
}

// ReapFinished removes every running entry that is no longer in
// StateRunning and returns their names. A finished oneshot is also marked
// stopped so reconcile does not restart it; a finished daemon is not.
func (s *Supervisor) ReapFinished() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finished []string
	for name, rs := range s.running {
		if rs.state == StateRunning {
			continue
		}
		finished = append(finished, name)
		if rs.manifest.RunMode == RunModeDaemon {
			delete(s.running, name)
		} else {
			// oneshot: leave stopped, suppress auto-restart.
			s.stopped[name] = true
			delete(s.running, name)
		}
	}
	return finished
}

// RunningNames returns every currently-running skill name.
func (s *Supervisor) RunningNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.running))
	for name := range s.running {
		names = append(names, name)
	}
	return names
}
