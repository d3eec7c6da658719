package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agenthost/internal/cryptutil"
	"github.com/antigravity-dev/agenthost/internal/identity"
	"github.com/antigravity-dev/agenthost/internal/store"
)

func newTestIdentity(t *testing.T) *identity.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	enc, err := cryptutil.NewEncryptor(make([]byte, 32))
	require.NoError(t, err)
	blinder := cryptutil.NewBlinder(make([]byte, 32))
	return identity.New(st, enc, blinder)
}

func TestIdentityLookupByUsername(t *testing.T) {
	idStore := newTestIdentity(t)
	_, err := idStore.CreateUser(identity.User{Username: "ada", DisplayName: "Ada Lovelace", Email: "ada@example.com"})
	require.NoError(t, err)

	tool := &IdentityLookupTool{Identity: idStore}
	params, _ := json.Marshal(map[string]string{"username": "ada"})
	out, err := tool.Execute(context.Background(), params, Context{})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Contains(t, out.Output, "Ada Lovelace")
	require.NotContains(t, out.Output, "password")
}

func TestIdentityLookupUnknownUserReportsNotFound(t *testing.T) {
	idStore := newTestIdentity(t)
	tool := &IdentityLookupTool{Identity: idStore}

	params, _ := json.Marshal(map[string]string{"username": "nobody"})
	out, err := tool.Execute(context.Background(), params, Context{})
	require.NoError(t, err)
	require.False(t, out.Success)
}

func TestIdentityLookupRequiresAKey(t *testing.T) {
	idStore := newTestIdentity(t)
	tool := &IdentityLookupTool{Identity: idStore}

	out, err := tool.Execute(context.Background(), json.RawMessage(`{}`), Context{})
	require.NoError(t, err)
	require.False(t, out.Success)
}
