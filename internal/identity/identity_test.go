package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agenthost/internal/cryptutil"
	"github.com/antigravity-dev/agenthost/internal/store"
)

func newTestStore(t *testing.T) (*Store, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	key := []byte("01234567890123456789012345678901")
	enc, err := cryptutil.NewEncryptor(key)
	require.NoError(t, err)
	blinder := cryptutil.NewBlinder(key)

	return New(st, enc, blinder), st
}

func TestBlindIndexLookup(t *testing.T) {
	idStore, raw := newTestStore(t)

	_, err := idStore.CreateUser(User{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)

	var email, emailBlind string
	require.NoError(t, raw.DB().QueryRow(`SELECT email, email_blind FROM users WHERE username = 'alice'`).Scan(&email, &emailBlind))
	require.True(t, cryptutil.IsEncrypted(email))

	blinder := cryptutil.NewBlinder([]byte("01234567890123456789012345678901"))
	require.Equal(t, blinder.Blind("alice@example.com"), emailBlind)

	found, err := idStore.GetByEmail("alice@example.com")
	require.NoError(t, err)
	require.Equal(t, "alice", found.Username)

	_, err = idStore.GetByEmail("bob@example.com")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestAuthenticateSuccessAndFailure(t *testing.T) {
	idStore, _ := newTestStore(t)

	_, err := idStore.CreateUser(User{Username: "carol", Email: "carol@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	u, err := idStore.Authenticate("carol", "correct-horse")
	require.NoError(t, err)
	require.NotNil(t, u.LastSeenAt)

	_, err = idStore.Authenticate("carol", "wrong-password")
	require.ErrorIs(t, err, ErrAuthFailed)

	_, err = idStore.Authenticate("nobody", "whatever")
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestMigrateLegacyRowsIsIdempotent(t *testing.T) {
	idStore, raw := newTestStore(t)

	_, err := raw.DB().Exec(
		`INSERT INTO users (id, username, display_name, email, password) VALUES ('legacy-1', 'dave', 'Dave', 'dave@example.com', 'plaintext-pw')`,
	)
	require.NoError(t, err)

	migrated, err := idStore.MigrateLegacyRows()
	require.NoError(t, err)
	require.Equal(t, 1, migrated)

	found, err := idStore.GetByEmail("dave@example.com")
	require.NoError(t, err)
	require.Equal(t, "dave", found.Username)
	require.Equal(t, "plaintext-pw", found.Password)

	migratedAgain, err := idStore.MigrateLegacyRows()
	require.NoError(t, err)
	require.Equal(t, 0, migratedAgain)
}

func TestPasskeyLookupByCredentialID(t *testing.T) {
	idStore, _ := newTestStore(t)

	userID, err := idStore.CreateUser(User{Username: "erin"})
	require.NoError(t, err)

	_, err = idStore.CreatePasskey(Passkey{UserID: userID, CredentialID: "cred-abc", PublicKey: "pub-key"})
	require.NoError(t, err)

	found, err := idStore.GetPasskeyByCredentialID("cred-abc")
	require.NoError(t, err)
	require.Equal(t, userID, found.UserID)

	_, err = idStore.GetPasskeyByCredentialID("cred-unknown")
	require.ErrorIs(t, err, ErrPasskeyNotFound)
}

func TestOAuthTokenUpsertAndGet(t *testing.T) {
	idStore, _ := newTestStore(t)

	require.NoError(t, idStore.UpsertOAuthToken(OAuthToken{
		Provider: "github", Account: "octocat", AccessToken: "tok-1", RefreshToken: "ref-1",
	}))
	tok, err := idStore.GetOAuthToken("github", "octocat")
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok.AccessToken)

	require.NoError(t, idStore.UpsertOAuthToken(OAuthToken{
		Provider: "github", Account: "octocat", AccessToken: "tok-2", RefreshToken: "ref-2",
	}))
	tok2, err := idStore.GetOAuthToken("github", "octocat")
	require.NoError(t, err)
	require.Equal(t, "tok-2", tok2.AccessToken)
}
