package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/antigravity-dev/agenthost/internal/sandboxfs"
)

// FSReadTool reads a file through the sandbox.
type FSReadTool struct {
	Root *sandboxfs.Root
}

func (t *FSReadTool) Name() string { return "fs_read" }
func (t *FSReadTool) Description() string {
	return "Read a file's contents from the sandboxed workspace."
}
func (t *FSReadTool) ParameterSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}

func (t *FSReadTool) Execute(_ context.Context, params json.RawMessage, _ Context) (ToolOutput, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return ToolOutput{Success: false, Output: fmt.Sprintf("invalid params: %v", err)}, nil
	}

	resolved, err := t.Root.Resolve(req.Path)
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}
	return ToolOutput{Success: true, Output: string(data)}, nil
}

// FSWriteTool writes a file through the sandbox. The parent directory
// must already exist; none is created.
type FSWriteTool struct {
	Root *sandboxfs.Root
}

func (t *FSWriteTool) Name() string { return "fs_write" }
func (t *FSWriteTool) Description() string {
	return "Write content to a file in the sandboxed workspace."
}
func (t *FSWriteTool) ParameterSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`)
}

func (t *FSWriteTool) Execute(_ context.Context, params json.RawMessage, _ Context) (ToolOutput, error) {
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return ToolOutput{Success: false, Output: fmt.Sprintf("invalid params: %v", err)}, nil
	}

	resolved, err := t.Root.Resolve(req.Path)
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}

	if err := os.WriteFile(resolved, []byte(req.Content), 0644); err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}
	return ToolOutput{Success: true, Output: fmt.Sprintf("wrote %d bytes to %s", len(req.Content), req.Path)}, nil
}

// FSDeleteTool moves a file or directory to trash through the sandbox.
type FSDeleteTool struct {
	Root  *sandboxfs.Root
	Trash *sandboxfs.Trash
}

func (t *FSDeleteTool) Name() string { return "fs_delete" }
func (t *FSDeleteTool) Description() string {
	return "Move a file or directory in the sandboxed workspace to trash (recoverable)."
}
func (t *FSDeleteTool) ParameterSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}

func (t *FSDeleteTool) Execute(_ context.Context, params json.RawMessage, _ Context) (ToolOutput, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return ToolOutput{Success: false, Output: fmt.Sprintf("invalid params: %v", err)}, nil
	}

	resolved, err := t.Root.Resolve(req.Path)
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}

	entry, err := t.Trash.Delete(resolved, "fs_delete")
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}
	if entry == nil {
		return ToolOutput{Success: true, Output: fmt.Sprintf("permanently removed system path %s", req.Path)}, nil
	}

	metadata, _ := json.Marshal(map[string]string{"trash_id": entry.ID})
	return ToolOutput{Success: true, Output: fmt.Sprintf("moved %s to trash", req.Path), Metadata: metadata}, nil
}
