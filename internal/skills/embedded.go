package skills

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antigravity-dev/agenthost/internal/tools"
)

// ToolScriptEmbedder is the reference Embedder: an .askill entry point
// is a newline-delimited sequence of tool_call envelopes (the same
// `{"tool": "...", "params": {...}}` shape internal/toolcall parses out
// of reasoning replies), run to completion in-process through the tool
// registry rather than as a child process. Blank lines and lines
// starting with "#" are skipped.
type ToolScriptEmbedder struct {
	Registry *tools.Registry
}

// RunEmbedded executes manifest's entry point line by line, stopping at
// the first tool call that fails.
func (e *ToolScriptEmbedder) RunEmbedded(ctx context.Context, dir string, manifest Manifest) error {
	path := filepath.Join(dir, manifest.EntryPoint)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("skills: open embedded script %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var envelope struct {
			Tool   string          `json:"tool"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal([]byte(line), &envelope); err != nil {
			return fmt.Errorf("skills: embedded script %s line %d: %w", manifest.Name, lineNo, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		out, err := e.Registry.Execute(ctx, envelope.Tool, envelope.Params, tools.Context{Caller: manifest.Name})
		if err != nil {
			return fmt.Errorf("skills: embedded script %s line %d: %w", manifest.Name, lineNo, err)
		}
		if !out.Success {
			return fmt.Errorf("skills: embedded script %s line %d: tool %s failed: %s", manifest.Name, lineNo, envelope.Tool, out.Output)
		}
	}
	return scanner.Err()
}
