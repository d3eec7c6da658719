package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/antigravity-dev/agenthost/internal/memory"
	"github.com/antigravity-dev/agenthost/internal/vectorstore"
)

// CoreMemoryReadTool returns the agent's singleton core-memory block.
type CoreMemoryReadTool struct {
	Memory *memory.Memory
}

func (t *CoreMemoryReadTool) Name() string { return "core_memory_read" }
func (t *CoreMemoryReadTool) Description() string {
	return "Read the agent's persistent core memory block."
}
func (t *CoreMemoryReadTool) ParameterSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *CoreMemoryReadTool) Execute(_ context.Context, _ json.RawMessage, _ Context) (ToolOutput, error) {
	content, err := t.Memory.CoreMemory()
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}
	return ToolOutput{Success: true, Output: content}, nil
}

// CoreMemoryWriteTool overwrites the core-memory block.
type CoreMemoryWriteTool struct {
	Memory *memory.Memory
}

func (t *CoreMemoryWriteTool) Name() string { return "core_memory_write" }
func (t *CoreMemoryWriteTool) Description() string {
	return "Overwrite the agent's persistent core memory block."
}
func (t *CoreMemoryWriteTool) ParameterSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"content":{"type":"string"}},"required":["content"]}`)
}

func (t *CoreMemoryWriteTool) Execute(_ context.Context, params json.RawMessage, _ Context) (ToolOutput, error) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return ToolOutput{Success: false, Output: fmt.Sprintf("invalid params: %v", err)}, nil
	}
	if err := t.Memory.SetCoreMemory(req.Content); err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}
	return ToolOutput{Success: true, Output: "core memory updated"}, nil
}

// MemorySearchTool runs a nearest-neighbor search over the vector store.
type MemorySearchTool struct {
	Vectors *vectorstore.Store
}

func (t *MemorySearchTool) Name() string { return "memory_search" }
func (t *MemorySearchTool) Description() string {
	return "Search recollections and ingested documents by semantic similarity."
}
func (t *MemorySearchTool) ParameterSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer"}},"required":["query"]}`)
}

func (t *MemorySearchTool) Execute(ctx context.Context, params json.RawMessage, _ Context) (ToolOutput, error) {
	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return ToolOutput{Success: false, Output: fmt.Sprintf("invalid params: %v", err)}, nil
	}
	results, err := t.Vectors.Search(ctx, req.Query, vectorstore.TableAll, req.Limit)
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}
	encoded, err := json.Marshal(results)
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}
	return ToolOutput{Success: true, Output: string(encoded)}, nil
}

// MemoryRememberTool embeds and stores a short recollection.
type MemoryRememberTool struct {
	Vectors *vectorstore.Store
}

func (t *MemoryRememberTool) Name() string { return "memory_remember" }
func (t *MemoryRememberTool) Description() string {
	return "Store a short recollection in semantic memory for later retrieval."
}
func (t *MemoryRememberTool) ParameterSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"content":{"type":"string"},"category":{"type":"string"}},"required":["content"]}`)
}

func (t *MemoryRememberTool) Execute(ctx context.Context, params json.RawMessage, toolCtx Context) (ToolOutput, error) {
	var req struct {
		Content  string `json:"content"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return ToolOutput{Success: false, Output: fmt.Sprintf("invalid params: %v", err)}, nil
	}
	id, err := t.Vectors.InsertMemory(ctx, req.Content, req.Category, toolCtx.Caller)
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}
	return ToolOutput{Success: true, Output: id}, nil
}
