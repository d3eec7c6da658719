package skills

import (
	"fmt"
	"log/slog"

	"github.com/antigravity-dev/agenthost/internal/cryptutil"
	"github.com/antigravity-dev/agenthost/internal/store"
)

// CredentialStore persists per-skill credential maps with AES-GCM
// encrypted values, composing internal/store the same way
// internal/identity does.
type CredentialStore struct {
	store *store.Store
	enc   *cryptutil.Encryptor
	log   *slog.Logger
}

// NewCredentialStore builds a CredentialStore over st.
func NewCredentialStore(st *store.Store, enc *cryptutil.Encryptor, log *slog.Logger) *CredentialStore {
	return &CredentialStore{store: st, enc: enc, log: log}
}

// Set encrypts and upserts a single env-var credential for skillName.
func (c *CredentialStore) Set(skillName, key, value string) error {
	sealed, err := c.enc.Encrypt(value)
	if err != nil {
		return fmt.Errorf("skills: encrypt credential %s/%s: %w", skillName, key, err)
	}

	c.store.Lock()
	defer c.store.Unlock()
	_, err = c.store.DB().Exec(`
		INSERT INTO skill_credentials (skill_name, key, value_enc, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(skill_name, key) DO UPDATE SET value_enc = excluded.value_enc, updated_at = excluded.updated_at
	`, skillName, key, sealed)
	if err != nil {
		return fmt.Errorf("skills: store credential %s/%s: %w", skillName, key, err)
	}
	return nil
}

// GetCredentials returns a skill's decrypted credential map: if caller
// is non-empty and does not equal skillName, the request is a breach —
// it is logged and an empty map returned. Admin readers (the
// dashboard) pass an empty caller to bypass the check. Values are
// decrypted before being handed to the owning skill's environment.
func (c *CredentialStore) GetCredentials(skillName, caller string) (map[string]string, error) {
	if caller != "" && caller != skillName {
		c.log.Warn("skill credential access breach",
			"skill", skillName, "caller", caller)
		return map[string]string{}, nil
	}

	c.store.Lock()
	rows, err := c.store.DB().Query(`SELECT key, value_enc FROM skill_credentials WHERE skill_name = ?`, skillName)
	c.store.Unlock()
	if err != nil {
		return nil, fmt.Errorf("skills: query credentials for %s: %w", skillName, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, sealed string
		if err := rows.Scan(&key, &sealed); err != nil {
			return nil, fmt.Errorf("skills: scan credential row: %w", err)
		}
		plain, err := c.enc.Decrypt(sealed)
		if err != nil {
			return nil, fmt.Errorf("skills: decrypt credential %s/%s: %w", skillName, key, err)
		}
		out[key] = plain
	}
	return out, rows.Err()
}
