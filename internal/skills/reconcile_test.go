package skills

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agenthost/internal/sandboxproc"
)

func newTestManager(t *testing.T) (*Manager, *CAS) {
	t.Helper()
	root := t.TempDir()
	cas, err := NewCAS(filepath.Join(root, "skills"), filepath.Join(root, "skills", ".cas"))
	require.NoError(t, err)

	enc := testEncryptor(t)
	key, err := LoadOrCreateSigningKey(filepath.Join(root, "signing.key"), enc)
	require.NoError(t, err)

	embedder := &fakeEmbedder{block: make(chan struct{})}
	sup := NewSupervisor(sandboxproc.DefaultLimits, false, root, embedder)

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	mgr := NewManager(cas, key, sup, nil, 100*time.Millisecond, log)
	return mgr, cas
}

func importEmbeddedSkill(t *testing.T, mgr *Manager, cas *CAS, name string, enabled bool) {
	t.Helper()
	staged := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staged, ManifestFileName), []byte(
		"name = \""+name+"\"\nentry_point = \"main.askill\"\nenabled = "+boolStr(enabled)+"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(staged, "main.askill"), []byte("noop"), 0644))

	sig, err := mgr.key.Sign(staged)
	require.NoError(t, err)
	require.NoError(t, cas.Store(staged, sig.Hash, name))
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func TestReconcileStartsEnabledSkill(t *testing.T) {
	mgr, cas := newTestManager(t)
	importEmbeddedSkill(t, mgr, cas, "greeter", true)

	result, err := mgr.Reconcile(context.Background(), SpawnEnv{})
	require.NoError(t, err)
	require.Contains(t, result.Started, "greeter")
	require.True(t, mgr.supervisor.IsRunning("greeter"))
}

func TestReconcileDoesNotStartDisabledSkill(t *testing.T) {
	mgr, cas := newTestManager(t)
	importEmbeddedSkill(t, mgr, cas, "greeter", false)

	result, err := mgr.Reconcile(context.Background(), SpawnEnv{})
	require.NoError(t, err)
	require.Empty(t, result.Started)
	require.False(t, mgr.supervisor.IsRunning("greeter"))
}

func TestReconcileStopsSkillAfterDisabling(t *testing.T) {
	mgr, cas := newTestManager(t)
	importEmbeddedSkill(t, mgr, cas, "greeter", true)

	_, err := mgr.Reconcile(context.Background(), SpawnEnv{})
	require.NoError(t, err)
	require.True(t, mgr.supervisor.IsRunning("greeter"))

	dir, err := cas.Resolve("greeter")
	require.NoError(t, err)
	manifest, err := LoadManifest(dir)
	require.NoError(t, err)
	manifest.Enabled = false
	require.NoError(t, WriteManifest(dir, manifest))

	result, err := mgr.Reconcile(context.Background(), SpawnEnv{})
	require.NoError(t, err)
	require.Contains(t, result.Stopped, "greeter")
	require.False(t, mgr.supervisor.IsRunning("greeter"))
}

func TestReconcileDefersStartsPastConcurrencyLimit(t *testing.T) {
	mgr, cas := newTestManager(t)
	mgr.SetMaxConcurrentSkills(1)
	importEmbeddedSkill(t, mgr, cas, "greeter", true)
	importEmbeddedSkill(t, mgr, cas, "second", true)

	result, err := mgr.Reconcile(context.Background(), SpawnEnv{})
	require.NoError(t, err)
	require.Len(t, result.Started, 1)
}

func TestReconcileRefusesUnsignedSkill(t *testing.T) {
	mgr, cas := newTestManager(t)

	staged := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staged, ManifestFileName), []byte(
		"name = \"rogue\"\nentry_point = \"main.askill\"\nenabled = true\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(staged, "main.askill"), []byte("noop"), 0644))
	require.NoError(t, cas.Store(staged, "unsigned-hash", "rogue"))

	result, err := mgr.Reconcile(context.Background(), SpawnEnv{})
	require.NoError(t, err)
	require.Empty(t, result.Started)
	require.False(t, mgr.supervisor.IsRunning("rogue"))
}
