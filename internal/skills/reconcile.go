package skills

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// bootstrapTimeout bounds the venv/npm dependency install invoked
// before a process skill's first run, so a hung package index cannot
// stall reconciliation forever.
const bootstrapTimeout = 5 * time.Minute

// ReconcileResult summarizes one reconcile pass for logging/tests.
type ReconcileResult struct {
	Reaped  []string
	Started []string
	Stopped []string
}

// Reconcile runs one desired-state pass: reap finished children, scan the
// skills directory starting/stopping skills to match their manifest's
// enabled flag and the manually-stopped set, and stop any running
// skill whose directory has vanished. env is applied to every process
// skill started this pass.
func (m *Manager) Reconcile(ctx context.Context, env SpawnEnv) (ReconcileResult, error) {
	var result ReconcileResult
	result.Reaped = m.supervisor.ReapFinished()

	names, err := m.cas.ListLinks()
	if err != nil {
		return result, err
	}

	validDirs := make(map[string]string, len(names))
	for _, name := range names {
		dir, resolveErr := m.cas.Resolve(name)
		if resolveErr != nil {
			continue
		}
		if _, statErr := os.Stat(dir); statErr != nil {
			continue
		}
		validDirs[name] = dir
	}

	runningCount := len(m.supervisor.RunningNames())

	for name, dir := range validDirs {
		manifest, manifestErr := LoadManifest(dir)
		if manifestErr != nil {
			m.log.Warn("skill reconcile: invalid manifest", "skill", name, "error", manifestErr)
			continue
		}

		running := m.supervisor.IsRunning(name)
		switch {
		case manifest.Enabled && !running && !m.supervisor.IsManuallyStopped(name):
			if m.maxConcurrent > 0 && runningCount >= m.maxConcurrent {
				m.log.Warn("skill reconcile: deferring start, concurrent skill limit reached", "skill", name, "limit", m.maxConcurrent)
				continue
			}
			if _, verifyErr := m.Verify(dir); verifyErr != nil {
				m.log.Warn("skill reconcile: refusing to start unverified skill", "skill", name, "error", verifyErr)
				continue
			}
			if manifest.Isolation == IsolationProcess && !IsEmbedded(manifest.EntryPoint) && needsBootstrap(dir, manifest) {
				bootstrapCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
				err := Bootstrap(bootstrapCtx, dir, manifest.VenvPolicy, filepath.Join(dir, "skill.log"))
				cancel()
				if err != nil {
					m.log.Warn("skill reconcile: bootstrap failed", "skill", name, "error", err)
					continue
				}
			}
			if err := m.supervisor.Start(ctx, name, dir, manifest, env); err != nil {
				m.log.Warn("skill reconcile: start failed", "skill", name, "error", err)
				continue
			}
			runningCount++
			result.Started = append(result.Started, name)

		case !manifest.Enabled && running:
			if err := m.supervisor.Stop(ctx, name, m.graceful); err != nil {
				m.log.Warn("skill reconcile: stop failed", "skill", name, "error", err)
				continue
			}
			result.Stopped = append(result.Stopped, name)
		}
	}

	for _, name := range m.supervisor.RunningNames() {
		if _, stillValid := validDirs[name]; stillValid {
			continue
		}
		if err := m.supervisor.Stop(ctx, name, m.graceful); err == nil {
			result.Stopped = append(result.Stopped, name)
		}
	}

	return result, nil
}
