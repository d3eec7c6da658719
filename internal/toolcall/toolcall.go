// Package toolcall extracts fenced ```tool_call``` JSON blocks from a
// reasoning step's raw output: each block carries a
// single JSON object naming a tool, its parameters, and free-text
// reasoning; everything outside fences is reply text.
package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Call is one parsed tool-call proposal.
type Call struct {
	Tool      string          `json:"tool"`
	Params    json.RawMessage `json:"params"`
	Reasoning string          `json:"reasoning"`
}

var fencePattern = regexp.MustCompile("(?s)```tool_call\\s*\\n(.*?)```")

// Parse splits raw reasoning output into reply text and zero or more
// tool calls. Fenced blocks are removed from the reply regardless of
// whether they parse; a block missing "tool" or containing malformed
// JSON yields a warning instead of a Call, and its surrounding prose is
// preserved in reply.
func Parse(raw string) (reply string, calls []Call, warnings []string) {
	var replyBuilder strings.Builder
	lastEnd := 0

	for _, loc := range fencePattern.FindAllStringSubmatchIndex(raw, -1) {
		blockStart, blockEnd := loc[0], loc[1]
		bodyStart, bodyEnd := loc[2], loc[3]

		replyBuilder.WriteString(raw[lastEnd:blockStart])
		lastEnd = blockEnd

		body := strings.TrimSpace(raw[bodyStart:bodyEnd])

		var decoded struct {
			Tool      string          `json:"tool"`
			Params    json.RawMessage `json:"params"`
			Reasoning string          `json:"reasoning"`
		}
		if err := json.Unmarshal([]byte(body), &decoded); err != nil {
			warnings = append(warnings, "toolcall: malformed JSON in tool_call block: "+err.Error())
			continue
		}
		if decoded.Tool == "" {
			warnings = append(warnings, "toolcall: tool_call block missing required \"tool\" field")
			continue
		}

		calls = append(calls, Call{
			Tool:      decoded.Tool,
			Params:    decoded.Params,
			Reasoning: decoded.Reasoning,
		})
	}
	replyBuilder.WriteString(raw[lastEnd:])

	return strings.TrimSpace(replyBuilder.String()), calls, warnings
}
