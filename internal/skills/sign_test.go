package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/agenthost/internal/cryptutil"
)

func testEncryptor(t *testing.T) *cryptutil.Encryptor {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	enc, err := cryptutil.NewEncryptor(key)
	require.NoError(t, err)
	return enc
}

func TestLoadOrCreateSigningKeyPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "signing.key")
	enc := testEncryptor(t)

	k1, err := LoadOrCreateSigningKey(keyPath, enc)
	require.NoError(t, err)

	k2, err := LoadOrCreateSigningKey(keyPath, enc)
	require.NoError(t, err)
	require.Equal(t, k1.Public, k2.Public)
}

func TestSignThenVerifySucceeds(t *testing.T) {
	dir := t.TempDir()
	skillDir := filepath.Join(dir, "skill")
	require.NoError(t, os.MkdirAll(skillDir, 0755))
	writeSkillFixture(t, skillDir)

	enc := testEncryptor(t)
	key, err := LoadOrCreateSigningKey(filepath.Join(dir, "signing.key"), enc)
	require.NoError(t, err)

	_, err = key.Sign(skillDir)
	require.NoError(t, err)

	sig, err := Verify(skillDir, key.Public)
	require.NoError(t, err)
	require.NotEmpty(t, sig.Hash)
}

func TestVerifyMissingSignature(t *testing.T) {
	dir := t.TempDir()
	writeSkillFixture(t, dir)

	enc := testEncryptor(t)
	key, err := LoadOrCreateSigningKey(filepath.Join(t.TempDir(), "signing.key"), enc)
	require.NoError(t, err)

	_, err = Verify(dir, key.Public)
	require.ErrorIs(t, err, ErrSignatureMissing)
}

func TestVerifyDetectsTamper(t *testing.T) {
	dir := t.TempDir()
	writeSkillFixture(t, dir)

	enc := testEncryptor(t)
	key, err := LoadOrCreateSigningKey(filepath.Join(t.TempDir(), "signing.key"), enc)
	require.NoError(t, err)

	_, err = key.Sign(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('tampered')\n"), 0644))

	_, err = Verify(dir, key.Public)
	require.ErrorIs(t, err, ErrTamperDetected)
}

func TestVerifyRejectsWrongPublicKey(t *testing.T) {
	dir := t.TempDir()
	writeSkillFixture(t, dir)

	enc := testEncryptor(t)
	key, err := LoadOrCreateSigningKey(filepath.Join(t.TempDir(), "signing.key"), enc)
	require.NoError(t, err)
	_, err = key.Sign(dir)
	require.NoError(t, err)

	other, err := LoadOrCreateSigningKey(filepath.Join(t.TempDir(), "other.key"), enc)
	require.NoError(t, err)

	_, err = Verify(dir, other.Public)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}
