package cryptutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	return []byte("01234567890123456789012345678901")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("alice@example.com")
	require.NoError(t, err)
	require.True(t, IsEncrypted(ciphertext))

	plain, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", plain)
}

func TestEncryptEmptyIsNoop(t *testing.T) {
	enc, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	out, err := enc.Encrypt("")
	require.NoError(t, err)
	require.Equal(t, "", out)
}

func TestEncryptIsIdempotent(t *testing.T) {
	enc, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	once, err := enc.Encrypt("bob@example.com")
	require.NoError(t, err)

	twice, err := enc.Encrypt(once)
	require.NoError(t, err)
	require.Equal(t, once, twice)
}

func TestDecryptLegacyPlaintext(t *testing.T) {
	enc, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	out, err := enc.Decrypt("not-encrypted-legacy-value")
	require.NoError(t, err)
	require.Equal(t, "not-encrypted-legacy-value", out)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	enc, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("carol@example.com")
	require.NoError(t, err)

	tampered := ciphertext[:len(ciphertext)-2] + "zz"
	_, err = enc.Decrypt(tampered)
	require.ErrorIs(t, err, ErrPiiDecrypt)
}

func TestBlindIndexDeterministicAndDistinguishing(t *testing.T) {
	blinder := NewBlinder(testKey(t))

	a1 := blinder.Blind("alice@example.com")
	a2 := blinder.Blind("alice@example.com")
	b := blinder.Blind("bob@example.com")

	require.Equal(t, a1, a2)
	require.NotEqual(t, a1, b)
}

func TestLoadOrCreateMasterKeyPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.key")

	key1, err := LoadOrCreateMasterKey(path, nil, false)
	require.NoError(t, err)
	require.Len(t, key1, 32)

	key2, err := LoadOrCreateMasterKey(path, nil, false)
	require.NoError(t, err)
	require.Equal(t, key1, key2)
}

type fakeKeyring struct {
	stored []byte
}

func (f *fakeKeyring) Store(key []byte) error {
	f.stored = append([]byte(nil), key...)
	return nil
}

func (f *fakeKeyring) Load() ([]byte, bool, error) {
	if f.stored == nil {
		return nil, false, nil
	}
	return f.stored, true, nil
}

func TestLoadOrCreateMasterKeyKeyringMigrationKeepsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.key")
	ring := &fakeKeyring{}

	key1, err := LoadOrCreateMasterKey(path, ring, true)
	require.NoError(t, err)
	require.Equal(t, key1, ring.stored)

	onDisk, err := readMasterKeyFile(path)
	require.NoError(t, err)
	require.Equal(t, key1, onDisk, "file must remain authoritative fallback after keyring migration")
}
