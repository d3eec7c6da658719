package skills

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agenthost/internal/tools"
)

type countingTool struct {
	calls int
	fail  bool
}

func (t *countingTool) Name() string                     { return "noop" }
func (t *countingTool) Description() string              { return "test tool" }
func (t *countingTool) ParameterSchema() json.RawMessage { return json.RawMessage(`{}`) }
func (t *countingTool) Execute(_ context.Context, _ json.RawMessage, _ tools.Context) (tools.ToolOutput, error) {
	t.calls++
	if t.fail {
		return tools.ToolOutput{Success: false, Output: "boom"}, nil
	}
	return tools.ToolOutput{Success: true, Output: "ok"}, nil
}

func TestToolScriptEmbedderRunsEachLine(t *testing.T) {
	dir := t.TempDir()
	script := "# comment\n\n{\"tool\":\"noop\",\"params\":{}}\n{\"tool\":\"noop\",\"params\":{}}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.askill"), []byte(script), 0644))

	registry := tools.NewRegistry()
	tool := &countingTool{}
	require.NoError(t, registry.Register(tool))

	embedder := &ToolScriptEmbedder{Registry: registry}
	err := embedder.RunEmbedded(context.Background(), dir, Manifest{Name: "greeter", EntryPoint: "main.askill"})
	require.NoError(t, err)
	require.Equal(t, 2, tool.calls)
}

func TestToolScriptEmbedderStopsAtFirstFailure(t *testing.T) {
	dir := t.TempDir()
	script := "{\"tool\":\"noop\",\"params\":{}}\n{\"tool\":\"noop\",\"params\":{}}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.askill"), []byte(script), 0644))

	registry := tools.NewRegistry()
	tool := &countingTool{fail: true}
	require.NoError(t, registry.Register(tool))

	embedder := &ToolScriptEmbedder{Registry: registry}
	err := embedder.RunEmbedded(context.Background(), dir, Manifest{Name: "greeter", EntryPoint: "main.askill"})
	require.Error(t, err)
	require.Equal(t, 1, tool.calls)
}
