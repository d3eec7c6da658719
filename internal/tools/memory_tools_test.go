package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agenthost/internal/memory"
	"github.com/antigravity-dev/agenthost/internal/store"
	"github.com/antigravity-dev/agenthost/internal/vectorstore"
)

func newTestMemory(t *testing.T) *memory.Memory {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return memory.New(st)
}

func newTestVectors(t *testing.T) *vectorstore.Store {
	t.Helper()
	vs, err := vectorstore.Open(filepath.Join(t.TempDir(), "vectors.db"), vectorstore.NewHashEmbedder(32))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })
	return vs
}

func TestCoreMemoryWriteThenReadRoundTrips(t *testing.T) {
	m := newTestMemory(t)
	writeTool := &CoreMemoryWriteTool{Memory: m}
	readTool := &CoreMemoryReadTool{Memory: m}

	params, _ := json.Marshal(map[string]string{"content": "remember the user prefers terse replies"})
	out, err := writeTool.Execute(context.Background(), params, Context{})
	require.NoError(t, err)
	require.True(t, out.Success)

	out, err = readTool.Execute(context.Background(), json.RawMessage(`{}`), Context{})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, "remember the user prefers terse replies", out.Output)
}

func TestMemoryRememberThenSearchFindsIt(t *testing.T) {
	vs := newTestVectors(t)
	rememberTool := &MemoryRememberTool{Vectors: vs}
	searchTool := &MemorySearchTool{Vectors: vs}

	params, _ := json.Marshal(map[string]string{"content": "the deploy window is Tuesdays", "category": "ops"})
	out, err := rememberTool.Execute(context.Background(), params, Context{Caller: "skill-x"})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.NotEmpty(t, out.Output)

	searchParams, _ := json.Marshal(map[string]any{"query": "the deploy window is Tuesdays", "limit": 5})
	out, err = searchTool.Execute(context.Background(), searchParams, Context{})
	require.NoError(t, err)
	require.True(t, out.Success)

	var results []vectorstore.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out.Output), &results))
	require.NotEmpty(t, results)
	require.Equal(t, "the deploy window is Tuesdays", results[0].Content)
}

func TestMemorySearchRejectsInvalidParams(t *testing.T) {
	vs := newTestVectors(t)
	searchTool := &MemorySearchTool{Vectors: vs}

	out, err := searchTool.Execute(context.Background(), json.RawMessage(`not json`), Context{})
	require.NoError(t, err)
	require.False(t, out.Success)
}
