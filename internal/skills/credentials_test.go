package skills

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agenthost/internal/store"
)

func newTestCredentialStore(t *testing.T) *CredentialStore {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	enc := testEncryptor(t)
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return NewCredentialStore(st, enc, log)
}

func TestCredentialSetThenGetRoundTrips(t *testing.T) {
	creds := newTestCredentialStore(t)
	require.NoError(t, creds.Set("greeter", "API_TOKEN", "sekret"))

	got, err := creds.GetCredentials("greeter", "greeter")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"API_TOKEN": "sekret"}, got)
}

func TestCredentialSetOverwritesExistingKey(t *testing.T) {
	creds := newTestCredentialStore(t)
	require.NoError(t, creds.Set("greeter", "API_TOKEN", "first"))
	require.NoError(t, creds.Set("greeter", "API_TOKEN", "second"))

	got, err := creds.GetCredentials("greeter", "greeter")
	require.NoError(t, err)
	require.Equal(t, "second", got["API_TOKEN"])
}

func TestCredentialGetRejectsMismatchedCaller(t *testing.T) {
	creds := newTestCredentialStore(t)
	require.NoError(t, creds.Set("greeter", "API_TOKEN", "sekret"))

	got, err := creds.GetCredentials("greeter", "impostor")
	require.NoError(t, err)
	require.Empty(t, got, "mismatched caller must not see the owning skill's credentials")
}

func TestCredentialGetAllowsEmptyCallerAsAdminBypass(t *testing.T) {
	creds := newTestCredentialStore(t)
	require.NoError(t, creds.Set("greeter", "API_TOKEN", "sekret"))

	got, err := creds.GetCredentials("greeter", "")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"API_TOKEN": "sekret"}, got)
}

func TestCredentialGetUnknownSkillReturnsEmpty(t *testing.T) {
	creds := newTestCredentialStore(t)

	got, err := creds.GetCredentials("nobody", "nobody")
	require.NoError(t, err)
	require.Empty(t, got)
}
