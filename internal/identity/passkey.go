package identity

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrPasskeyNotFound is returned when a credential id has no matching row.
var ErrPasskeyNotFound = errors.New("identity: passkey not found")

// Passkey is the decrypted, in-memory view of a passkeys row. WebAuthn
// ceremony logic lives with the dashboard's auth surface; this type is a
// pure persistence model.
type Passkey struct {
	ID           string
	UserID       string
	CredentialID string
	PublicKey    string
	SignCount    uint32
	CreatedAt    time.Time
	LastUsedAt   *time.Time
}

// CreatePasskey inserts a new passkey row, blind-indexing the credential id
// the same way other PII-adjacent lookup fields are indexed.
func (s *Store) CreatePasskey(p Passkey) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	encCredential, err := s.encrypt.Encrypt(p.CredentialID)
	if err != nil {
		return "", fmt.Errorf("identity: encrypt credential_id: %w", err)
	}

	s.store.Lock()
	defer s.store.Unlock()
	_, err = s.store.DB().Exec(
		`INSERT INTO passkeys (id, user_id, credential_id, credential_id_blind, public_key, sign_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, encCredential, s.blind.Blind(p.CredentialID), p.PublicKey, p.SignCount,
	)
	if err != nil {
		return "", fmt.Errorf("identity: create passkey: %w", err)
	}
	return p.ID, nil
}

// GetPasskeyByCredentialID looks up a passkey via the blind index.
func (s *Store) GetPasskeyByCredentialID(credentialID string) (*Passkey, error) {
	blindIdx := s.blind.Blind(credentialID)

	s.store.Lock()
	row := s.store.DB().QueryRow(
		`SELECT id, user_id, credential_id, public_key, sign_count, created_at, last_used_at
		 FROM passkeys WHERE credential_id_blind = ?`, blindIdx,
	)
	p, err := s.scanPasskey(row)
	s.store.Unlock()
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPasskeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity: get passkey: %w", err)
	}
	return p, nil
}

// ListPasskeysByUser returns every passkey registered to userID.
func (s *Store) ListPasskeysByUser(userID string) ([]*Passkey, error) {
	s.store.Lock()
	rows, err := s.store.DB().Query(
		`SELECT id, user_id, credential_id, public_key, sign_count, created_at, last_used_at
		 FROM passkeys WHERE user_id = ? ORDER BY created_at ASC`, userID,
	)
	if err != nil {
		s.store.Unlock()
		return nil, fmt.Errorf("identity: list passkeys: %w", err)
	}
	defer func() { rows.Close(); s.store.Unlock() }()

	var out []*Passkey
	for rows.Next() {
		p, err := s.scanPasskeyRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TouchSignCount advances a passkey's sign count and last_used_at after a
// successful assertion.
func (s *Store) TouchSignCount(id string, signCount uint32) error {
	s.store.Lock()
	defer s.store.Unlock()
	_, err := s.store.DB().Exec(
		`UPDATE passkeys SET sign_count = ?, last_used_at = datetime('now') WHERE id = ?`,
		signCount, id,
	)
	if err != nil {
		return fmt.Errorf("identity: touch sign count %s: %w", id, err)
	}
	return nil
}

type passkeyScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanPasskey(row passkeyScanner) (*Passkey, error) {
	return s.scanPasskeyRows(row)
}

func (s *Store) scanPasskeyRows(row passkeyScanner) (*Passkey, error) {
	var (
		p             Passkey
		encCredential string
		lastUsedAt    sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.UserID, &encCredential, &p.PublicKey, &p.SignCount, &p.CreatedAt, &lastUsedAt); err != nil {
		return nil, err
	}
	var err error
	if p.CredentialID, err = s.encrypt.Decrypt(encCredential); err != nil {
		return nil, fmt.Errorf("identity: decrypt credential_id: %w", err)
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		p.LastUsedAt = &t
	}
	return &p, nil
}
