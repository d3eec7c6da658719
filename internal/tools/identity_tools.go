package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/antigravity-dev/agenthost/internal/identity"
)

// IdentityLookupTool resolves a user by id, username, or email and returns
// the non-sensitive fields only: callers never see decrypted passwords,
// TOTP secrets, or recovery codes through the tool surface.
type IdentityLookupTool struct {
	Identity *identity.Store
}

func (t *IdentityLookupTool) Name() string { return "identity_lookup" }
func (t *IdentityLookupTool) Description() string {
	return "Look up a known user's profile by id, username, or email."
}
func (t *IdentityLookupTool) ParameterSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"},"username":{"type":"string"},"email":{"type":"string"}}}`)
}

func (t *IdentityLookupTool) Execute(_ context.Context, params json.RawMessage, _ Context) (ToolOutput, error) {
	var req struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return ToolOutput{Success: false, Output: fmt.Sprintf("invalid params: %v", err)}, nil
	}

	var (
		user *identity.User
		err  error
	)
	switch {
	case req.ID != "":
		user, err = t.Identity.GetByID(req.ID)
	case req.Username != "":
		user, err = t.Identity.GetByUsername(req.Username)
	case req.Email != "":
		user, err = t.Identity.GetByEmail(req.Email)
	default:
		return ToolOutput{Success: false, Output: "one of id, username, or email is required"}, nil
	}

	if errors.Is(err, identity.ErrUserNotFound) {
		return ToolOutput{Success: false, Output: "user not found"}, nil
	}
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}

	encoded, err := json.Marshal(map[string]any{
		"id":           user.ID,
		"username":     user.Username,
		"display_name": user.DisplayName,
		"platform_ids": user.PlatformIDs,
		"created_at":   user.CreatedAt,
		"last_seen_at": user.LastSeenAt,
	})
	if err != nil {
		return ToolOutput{Success: false, Output: err.Error()}, nil
	}
	return ToolOutput{Success: true, Output: string(encoded)}, nil
}
