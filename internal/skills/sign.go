package skills

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antigravity-dev/agenthost/internal/cryptutil"
)

// ErrSignatureMissing is returned when a skill directory has no
// .signature sidecar.
var ErrSignatureMissing = errors.New("skills: signature missing")

// ErrSignatureInvalid is returned when the Ed25519 signature over the
// recorded hash does not verify against the agent's public key.
var ErrSignatureInvalid = errors.New("skills: signature invalid")

// ErrTamperDetected is returned when the signature verifies but the
// recomputed content hash no longer matches the signed hash.
var ErrTamperDetected = errors.New("skills: content tampered")

const signatureFileName = ".signature"

// SigningKey holds the agent's Ed25519 keypair, used to sign every
// skill import and verify every skill start.
type SigningKey struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// LoadOrCreateSigningKey reads the encrypted private key at keyPath, or
// generates a fresh keypair on first start. The private key is sealed
// at rest with enc; the public key is also written in
// the clear alongside it for external tooling.
func LoadOrCreateSigningKey(keyPath string, enc *cryptutil.Encryptor) (*SigningKey, error) {
	data, err := os.ReadFile(keyPath)
	if err == nil {
		plaintext, decErr := enc.Decrypt(strings.TrimSpace(string(data)))
		if decErr != nil {
			return nil, fmt.Errorf("skills: decrypt signing key: %w", decErr)
		}
		raw, hexErr := hex.DecodeString(plaintext)
		if hexErr != nil || len(raw) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("skills: stored signing key is malformed")
		}
		priv := ed25519.PrivateKey(raw)
		return &SigningKey{Public: priv.Public().(ed25519.PublicKey), private: priv}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("skills: read signing key %s: %w", keyPath, err)
	}

	pub, priv, genErr := ed25519.GenerateKey(rand.Reader)
	if genErr != nil {
		return nil, fmt.Errorf("skills: generate signing key: %w", genErr)
	}

	sealed, encErr := enc.Encrypt(hex.EncodeToString(priv))
	if encErr != nil {
		return nil, fmt.Errorf("skills: seal signing key: %w", encErr)
	}
	if mkdirErr := os.MkdirAll(filepath.Dir(keyPath), 0700); mkdirErr != nil {
		return nil, fmt.Errorf("skills: create signing key dir: %w", mkdirErr)
	}
	if writeErr := os.WriteFile(keyPath, []byte(sealed+"\n"), 0600); writeErr != nil {
		return nil, fmt.Errorf("skills: write signing key: %w", writeErr)
	}
	pubPath := keyPath + ".pub"
	if writeErr := os.WriteFile(pubPath, []byte(hex.EncodeToString(pub)+"\n"), 0644); writeErr != nil {
		return nil, fmt.Errorf("skills: write public key: %w", writeErr)
	}

	return &SigningKey{Public: pub, private: priv}, nil
}

// Signature is the parsed content of a .signature sidecar.
type Signature struct {
	Hash      string
	Signature string
	PublicKey string
}

// Sign computes the content hash of dir and writes a .signature sidecar
// containing hash=/sig=/pub= lines.
func (k *SigningKey) Sign(dir string) (Signature, error) {
	hash, err := ContentHash(dir)
	if err != nil {
		return Signature{}, err
	}
	sig := ed25519.Sign(k.private, []byte(hash))

	s := Signature{
		Hash:      hash,
		Signature: hex.EncodeToString(sig),
		PublicKey: hex.EncodeToString(k.Public),
	}
	if err := writeSignature(dir, s); err != nil {
		return Signature{}, err
	}
	return s, nil
}

func writeSignature(dir string, s Signature) error {
	path := filepath.Join(dir, signatureFileName)
	content := fmt.Sprintf("hash=%s\nsig=%s\npub=%s\n", s.Hash, s.Signature, s.PublicKey)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("skills: write signature in %s: %w", dir, err)
	}
	return nil
}

func readSignature(dir string) (Signature, error) {
	f, err := os.Open(filepath.Join(dir, signatureFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return Signature{}, ErrSignatureMissing
		}
		return Signature{}, fmt.Errorf("skills: open signature in %s: %w", dir, err)
	}
	defer f.Close()

	var s Signature
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "hash":
			s.Hash = value
		case "sig":
			s.Signature = value
		case "pub":
			s.PublicKey = value
		}
	}
	if s.Hash == "" || s.Signature == "" || s.PublicKey == "" {
		return Signature{}, fmt.Errorf("%w: %s is incomplete", ErrSignatureMissing, dir)
	}
	return s, nil
}

// Verify reads dir's .signature sidecar, checks the Ed25519 signature
// over the stored hash against trustedPub, then recomputes the content
// hash and compares. Returns ErrSignatureMissing, ErrSignatureInvalid,
// or ErrTamperDetected on any mismatch.
func Verify(dir string, trustedPub ed25519.PublicKey) (Signature, error) {
	s, err := readSignature(dir)
	if err != nil {
		return Signature{}, err
	}

	sig, err := hex.DecodeString(s.Signature)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: malformed signature hex", ErrSignatureInvalid)
	}
	if !ed25519.Verify(trustedPub, []byte(s.Hash), sig) {
		return Signature{}, ErrSignatureInvalid
	}

	recomputed, err := ContentHash(dir)
	if err != nil {
		return Signature{}, err
	}
	if recomputed != s.Hash {
		return Signature{}, ErrTamperDetected
	}
	return s, nil
}
