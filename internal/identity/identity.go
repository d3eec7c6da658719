// Package identity persists user records with encrypted PII while
// supporting equality lookups via HMAC blind indexes.
// Plaintext never reaches SQL: every read of a PII column passes through
// internal/cryptutil, and every comparison query filters on the parallel
// "*_blind" column instead.
package identity

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/agenthost/internal/cryptutil"
	"github.com/antigravity-dev/agenthost/internal/store"
)

// ErrUserNotFound is returned when a lookup matches no row.
var ErrUserNotFound = errors.New("identity: user not found")

// ErrAuthFailed is returned by Authenticate on a bad username or password.
var ErrAuthFailed = errors.New("identity: authentication failed")

// User is the decrypted, in-memory view of a users row.
type User struct {
	ID            string
	Username      string
	DisplayName   string
	Email         string
	Password      string
	TOTPSecret    string
	RecoveryCodes string
	PlatformIDs   map[string]string
	CreatedAt     time.Time
	LastSeenAt    *time.Time
}

// Store composes internal/store with field encryption and blind indexing
// for the users, passkeys, and oauth_tokens tables.
type Store struct {
	store   *store.Store
	encrypt *cryptutil.Encryptor
	blind   *cryptutil.Blinder
}

// New builds an identity Store.
func New(st *store.Store, encryptor *cryptutil.Encryptor, blinder *cryptutil.Blinder) *Store {
	return &Store{store: st, encrypt: encryptor, blind: blinder}
}

// CreateUser inserts a new user, encrypting PII fields and populating blind
// indexes, and returns the fresh user id.
func (s *Store) CreateUser(u User) (string, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}

	encDisplayName, err := s.encrypt.Encrypt(u.DisplayName)
	if err != nil {
		return "", fmt.Errorf("identity: encrypt display_name: %w", err)
	}
	encEmail, err := s.encrypt.Encrypt(u.Email)
	if err != nil {
		return "", fmt.Errorf("identity: encrypt email: %w", err)
	}
	encPassword, err := s.encrypt.Encrypt(u.Password)
	if err != nil {
		return "", fmt.Errorf("identity: encrypt password: %w", err)
	}
	encTOTP, err := s.encrypt.Encrypt(u.TOTPSecret)
	if err != nil {
		return "", fmt.Errorf("identity: encrypt totp_secret: %w", err)
	}
	encRecovery, err := s.encrypt.Encrypt(u.RecoveryCodes)
	if err != nil {
		return "", fmt.Errorf("identity: encrypt recovery_codes: %w", err)
	}

	platformIDs, err := json.Marshal(nonNilMap(u.PlatformIDs))
	if err != nil {
		return "", fmt.Errorf("identity: marshal platform_ids: %w", err)
	}

	s.store.Lock()
	defer s.store.Unlock()

	_, err = s.store.DB().Exec(
		`INSERT INTO users (id, username, display_name, email, email_blind, password, totp_secret, recovery_codes, platform_ids)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, encDisplayName, encEmail, s.blind.Blind(u.Email), encPassword, encTOTP, encRecovery, string(platformIDs),
	)
	if err != nil {
		return "", fmt.Errorf("identity: create user %s: %w", u.Username, err)
	}
	return u.ID, nil
}

// GetByID returns a fully decrypted user by id.
func (s *Store) GetByID(id string) (*User, error) {
	s.store.Lock()
	row := s.store.DB().QueryRow(
		`SELECT id, username, display_name, email, password, totp_secret, recovery_codes, platform_ids, created_at, last_seen_at
		 FROM users WHERE id = ?`, id,
	)
	u, err := s.scanUser(row)
	s.store.Unlock()
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity: get by id %s: %w", id, err)
	}
	return u, nil
}

// GetByUsername returns a fully decrypted user by username. Usernames are
// not treated as PII and are stored in the clear.
func (s *Store) GetByUsername(username string) (*User, error) {
	s.store.Lock()
	row := s.store.DB().QueryRow(
		`SELECT id, username, display_name, email, password, totp_secret, recovery_codes, platform_ids, created_at, last_seen_at
		 FROM users WHERE username = ?`, username,
	)
	u, err := s.scanUser(row)
	s.store.Unlock()
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity: get by username %s: %w", username, err)
	}
	return u, nil
}

// GetByEmail looks up a user by email via the blind index, never placing
// plaintext in the query.
func (s *Store) GetByEmail(email string) (*User, error) {
	blindIdx := s.blind.Blind(email)

	s.store.Lock()
	row := s.store.DB().QueryRow(
		`SELECT id, username, display_name, email, password, totp_secret, recovery_codes, platform_ids, created_at, last_seen_at
		 FROM users WHERE email_blind = ?`, blindIdx,
	)
	u, err := s.scanUser(row)
	s.store.Unlock()
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity: get by email: %w", err)
	}
	return u, nil
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var (
		u           User
		displayName string
		email       string
		password    string
		totp        string
		recovery    string
		platformIDs string
		lastSeenAt  sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &displayName, &email, &password, &totp, &recovery, &platformIDs, &u.CreatedAt, &lastSeenAt); err != nil {
		return nil, err
	}

	var err error
	if u.DisplayName, err = s.encrypt.Decrypt(displayName); err != nil {
		return nil, fmt.Errorf("identity: decrypt display_name: %w", err)
	}
	if u.Email, err = s.encrypt.Decrypt(email); err != nil {
		return nil, fmt.Errorf("identity: decrypt email: %w", err)
	}
	if u.Password, err = s.encrypt.Decrypt(password); err != nil {
		return nil, fmt.Errorf("identity: decrypt password: %w", err)
	}
	if u.TOTPSecret, err = s.encrypt.Decrypt(totp); err != nil {
		return nil, fmt.Errorf("identity: decrypt totp_secret: %w", err)
	}
	if u.RecoveryCodes, err = s.encrypt.Decrypt(recovery); err != nil {
		return nil, fmt.Errorf("identity: decrypt recovery_codes: %w", err)
	}
	u.PlatformIDs = map[string]string{}
	if platformIDs != "" {
		if err := json.Unmarshal([]byte(platformIDs), &u.PlatformIDs); err != nil {
			return nil, fmt.Errorf("identity: unmarshal platform_ids: %w", err)
		}
	}
	if lastSeenAt.Valid {
		t := lastSeenAt.Time
		u.LastSeenAt = &t
	}
	return &u, nil
}

// Authenticate looks up username, decrypts the stored password, and
// compares byte-exact. On success last_seen_at is set to now.
func (s *Store) Authenticate(username, password string) (*User, error) {
	u, err := s.GetByUsername(username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrAuthFailed
	}
	if err != nil {
		return nil, err
	}
	if u.Password != password {
		return nil, ErrAuthFailed
	}

	s.store.Lock()
	_, err = s.store.DB().Exec(`UPDATE users SET last_seen_at = datetime('now') WHERE id = ?`, u.ID)
	s.store.Unlock()
	if err != nil {
		return nil, fmt.Errorf("identity: update last_seen_at: %w", err)
	}
	now := time.Now().UTC()
	u.LastSeenAt = &now
	return u, nil
}

// MigrateLegacyRows runs the one-shot legacy migration scan: rows whose
// encrypted columns lack the sentinel are encrypted in place and their
// blind-index columns populated from the still-plaintext value. Safe to
// rerun; already-migrated rows are idempotent under Encrypt.
func (s *Store) MigrateLegacyRows() (int, error) {
	s.store.Lock()
	defer s.store.Unlock()

	rows, err := s.store.DB().Query(`SELECT id, display_name, email, password, totp_secret, recovery_codes FROM users`)
	if err != nil {
		return 0, fmt.Errorf("identity: migrate scan: %w", err)
	}

	type legacyRow struct {
		id, displayName, email, password, totp, recovery string
	}
	var candidates []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.id, &r.displayName, &r.email, &r.password, &r.totp, &r.recovery); err != nil {
			rows.Close()
			return 0, fmt.Errorf("identity: migrate scan row: %w", err)
		}
		needsMigration := func(v string) bool { return v != "" && !cryptutil.IsEncrypted(v) }
		if needsMigration(r.email) || needsMigration(r.password) ||
			needsMigration(r.displayName) || needsMigration(r.totp) || needsMigration(r.recovery) {
			candidates = append(candidates, r)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	migrated := 0
	for _, r := range candidates {
		// A candidate can be partially migrated (say, email already
		// encrypted but password not); decrypt first so the blind index
		// is always computed over plaintext. Encrypt is idempotent, so
		// re-encrypting the already-sealed fields is a no-op.
		plainEmail, err := s.encrypt.Decrypt(r.email)
		if err != nil {
			return migrated, fmt.Errorf("identity: migrate decrypt email: %w", err)
		}
		encDisplayName, err := s.encrypt.Encrypt(r.displayName)
		if err != nil {
			return migrated, fmt.Errorf("identity: migrate encrypt display_name: %w", err)
		}
		encEmail, err := s.encrypt.Encrypt(r.email)
		if err != nil {
			return migrated, fmt.Errorf("identity: migrate encrypt email: %w", err)
		}
		encPassword, err := s.encrypt.Encrypt(r.password)
		if err != nil {
			return migrated, fmt.Errorf("identity: migrate encrypt password: %w", err)
		}
		encTOTP, err := s.encrypt.Encrypt(r.totp)
		if err != nil {
			return migrated, fmt.Errorf("identity: migrate encrypt totp_secret: %w", err)
		}
		encRecovery, err := s.encrypt.Encrypt(r.recovery)
		if err != nil {
			return migrated, fmt.Errorf("identity: migrate encrypt recovery_codes: %w", err)
		}

		_, err = s.store.DB().Exec(
			`UPDATE users SET display_name = ?, email = ?, email_blind = ?, password = ?, totp_secret = ?, recovery_codes = ? WHERE id = ?`,
			encDisplayName, encEmail, s.blind.Blind(plainEmail), encPassword, encTOTP, encRecovery, r.id,
		)
		if err != nil {
			return migrated, fmt.Errorf("identity: migrate update %s: %w", r.id, err)
		}
		migrated++
	}
	return migrated, nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
