package skills

import (
	"context"
	"crypto/ed25519"
	"log/slog"
	"time"
)

// Manager composes the CAS, signing key, and supervisor into the
// full skill lifecycle, driven once per tick by
// Reconcile.
type Manager struct {
	cas         *CAS
	key         *SigningKey
	supervisor  *Supervisor
	credentials *CredentialStore
	log         *slog.Logger

	graceful      time.Duration
	maxConcurrent int // 0 means unlimited
}

// NewManager wires cas, key, and supervisor together.
func NewManager(cas *CAS, key *SigningKey, supervisor *Supervisor, credentials *CredentialStore, graceful time.Duration, log *slog.Logger) *Manager {
	return &Manager{cas: cas, key: key, supervisor: supervisor, credentials: credentials, graceful: graceful, log: log}
}

// SetMaxConcurrentSkills bounds how many skills Reconcile will start
// at once; additional enabled-but-stopped skills are left pending
// until a running skill exits and frees a slot. n <= 0 means no limit.
func (m *Manager) SetMaxConcurrentSkills(n int) {
	m.maxConcurrent = n
}

// StopManual stops a skill and marks it manually-stopped so reconcile
// won't restart it.
func (m *Manager) StopManual(ctx context.Context, name string) error {
	return m.supervisor.StopManual(ctx, name, m.graceful)
}

// StartManual clears the manually-stopped flag; the next reconcile
// (or an immediate call to start) brings the skill back up.
func (m *Manager) StartManual(ctx context.Context, name string, dir string, manifest Manifest, env SpawnEnv) error {
	m.supervisor.Restart(name)
	return m.supervisor.Start(ctx, name, dir, manifest, env)
}

// RestartManual stops then starts name, clearing manually-stopped.
func (m *Manager) RestartManual(ctx context.Context, name, dir string, manifest Manifest, env SpawnEnv) error {
	if err := m.supervisor.Stop(ctx, name, m.graceful); err != nil {
		return err
	}
	m.supervisor.Restart(name)
	return m.supervisor.Start(ctx, name, dir, manifest, env)
}

// Verify checks dir's signature against the manager's own public key.
func (m *Manager) Verify(dir string) (Signature, error) {
	return Verify(dir, m.key.Public)
}

// TrustedPublicKey exposes the agent's public signing key, e.g. for
// external tooling that needs to verify skill signatures out-of-process.
func (m *Manager) TrustedPublicKey() ed25519.PublicKey {
	return m.key.Public
}

// GetCredentials delegates to the credential store's caller-gated
// lookup.
func (m *Manager) GetCredentials(skillName, caller string) (map[string]string, error) {
	return m.credentials.GetCredentials(skillName, caller)
}
