package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agenthost/internal/sandboxfs"
)

type stubTool struct {
	name string
}

func (s *stubTool) Name() string                     { return s.name }
func (s *stubTool) Description() string              { return "stub" }
func (s *stubTool) ParameterSchema() json.RawMessage { return json.RawMessage(`{}`) }
func (s *stubTool) Execute(context.Context, json.RawMessage, Context) (ToolOutput, error) {
	return ToolOutput{Success: true, Output: "ok"}, nil
}

func TestRegistryRegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "echo"}))

	out, err := r.Execute(context.Background(), "echo", json.RawMessage(`{}`), Context{})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, "ok", out.Output)
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "echo"}))
	err := r.Register(&stubTool{name: "echo"})
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestRegistryExecuteNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "missing", json.RawMessage(`{}`), Context{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "bravo"}))
	require.NoError(t, r.Register(&stubTool{name: "alpha"}))

	listing := r.List()
	require.Len(t, listing, 2)
	require.Equal(t, "alpha", listing[0].Name)
	require.Equal(t, "bravo", listing[1].Name)
}

func TestRunToolCallDecodesEnvelopeAndExecutes(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "echo"}))

	err := r.RunToolCall(context.Background(), json.RawMessage(`{"tool":"echo","params":{}}`))
	require.NoError(t, err)
}

func TestRunToolCallSurfacesFailure(t *testing.T) {
	r := NewRegistry()
	err := r.RunToolCall(context.Background(), json.RawMessage(`{"tool":"missing","params":{}}`))
	require.Error(t, err)
}

func newSandboxedRoot(t *testing.T) *sandboxfs.Root {
	t.Helper()
	root, err := sandboxfs.NewRoot(t.TempDir())
	require.NoError(t, err)
	return root
}

func TestFSWriteThenFSReadRoundTrip(t *testing.T) {
	root := newSandboxedRoot(t)
	writeTool := &FSWriteTool{Root: root}
	readTool := &FSReadTool{Root: root}

	params, _ := json.Marshal(map[string]string{"path": "note.txt", "content": "hello"})
	out, err := writeTool.Execute(context.Background(), params, Context{})
	require.NoError(t, err)
	require.True(t, out.Success)

	readParams, _ := json.Marshal(map[string]string{"path": "note.txt"})
	out, err = readTool.Execute(context.Background(), readParams, Context{})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, "hello", out.Output)
}

func TestFSReadRejectsSandboxEscape(t *testing.T) {
	root := newSandboxedRoot(t)
	readTool := &FSReadTool{Root: root}

	params, _ := json.Marshal(map[string]string{"path": "../../etc/passwd"})
	out, err := readTool.Execute(context.Background(), params, Context{})
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Contains(t, out.Output, "escapes sandbox root")
}

func TestFSDeleteMovesFileToTrash(t *testing.T) {
	root := newSandboxedRoot(t)
	trash, err := sandboxfs.NewTrash(t.TempDir())
	require.NoError(t, err)

	target := filepath.Join(root.Path(), "doomed.txt")
	require.NoError(t, os.WriteFile(target, []byte("bye"), 0644))

	deleteTool := &FSDeleteTool{Root: root, Trash: trash}
	params, _ := json.Marshal(map[string]string{"path": "doomed.txt"})
	out, err := deleteTool.Execute(context.Background(), params, Context{})
	require.NoError(t, err)
	require.True(t, out.Success)

	_, statErr := os.Stat(target)
	require.True(t, os.IsNotExist(statErr))

	entries, err := trash.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFSDeleteRejectsSandboxEscape(t *testing.T) {
	root := newSandboxedRoot(t)
	trash, err := sandboxfs.NewTrash(t.TempDir())
	require.NoError(t, err)

	deleteTool := &FSDeleteTool{Root: root, Trash: trash}
	params, _ := json.Marshal(map[string]string{"path": "/etc/passwd"})
	out, err := deleteTool.Execute(context.Background(), params, Context{})
	require.NoError(t, err)
	require.False(t, out.Success)
}
