package identity

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrOAuthTokenNotFound is returned when no row matches (provider, account).
var ErrOAuthTokenNotFound = errors.New("identity: oauth token not found")

// OAuthToken is the decrypted, in-memory view of an oauth_tokens row.
// Token refresh belongs to the provider integrations; this type only
// persists and exposes the tokens.
type OAuthToken struct {
	Provider     string
	Account      string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	UpdatedAt    time.Time
}

// UpsertOAuthToken stores or replaces the token pair for (provider, account).
func (s *Store) UpsertOAuthToken(t OAuthToken) error {
	encAccess, err := s.encrypt.Encrypt(t.AccessToken)
	if err != nil {
		return fmt.Errorf("identity: encrypt access_token: %w", err)
	}
	encRefresh, err := s.encrypt.Encrypt(t.RefreshToken)
	if err != nil {
		return fmt.Errorf("identity: encrypt refresh_token: %w", err)
	}

	s.store.Lock()
	defer s.store.Unlock()
	_, err = s.store.DB().Exec(
		`INSERT INTO oauth_tokens (provider, account, access_token_enc, refresh_token_enc, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'))
		 ON CONFLICT(provider, account) DO UPDATE SET
			access_token_enc = excluded.access_token_enc,
			refresh_token_enc = excluded.refresh_token_enc,
			expires_at = excluded.expires_at,
			updated_at = datetime('now')`,
		t.Provider, t.Account, encAccess, encRefresh, t.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("identity: upsert oauth token %s/%s: %w", t.Provider, t.Account, err)
	}
	return nil
}

// GetOAuthToken returns the decrypted token pair for (provider, account).
func (s *Store) GetOAuthToken(provider, account string) (*OAuthToken, error) {
	s.store.Lock()
	row := s.store.DB().QueryRow(
		`SELECT provider, account, access_token_enc, refresh_token_enc, expires_at, updated_at
		 FROM oauth_tokens WHERE provider = ? AND account = ?`, provider, account,
	)
	var (
		t          OAuthToken
		encAccess  string
		encRefresh string
		expiresAt  sql.NullTime
	)
	err := row.Scan(&t.Provider, &t.Account, &encAccess, &encRefresh, &expiresAt, &t.UpdatedAt)
	s.store.Unlock()
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOAuthTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity: get oauth token %s/%s: %w", provider, account, err)
	}

	if t.AccessToken, err = s.encrypt.Decrypt(encAccess); err != nil {
		return nil, fmt.Errorf("identity: decrypt access_token: %w", err)
	}
	if t.RefreshToken, err = s.encrypt.Decrypt(encRefresh); err != nil {
		return nil, fmt.Errorf("identity: decrypt refresh_token: %w", err)
	}
	if expiresAt.Valid {
		exp := expiresAt.Time
		t.ExpiresAt = &exp
	}
	return &t, nil
}
