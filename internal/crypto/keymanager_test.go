package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return base58.Encode(priv)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	key := generateKey(t)
	blob, err := EncryptKey(key, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestDecryptWrongPasswordFails(t *testing.T) {
	t.Parallel()

	blob, err := EncryptKey(generateKey(t), "right")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptRejectsBadKeys(t *testing.T) {
	t.Parallel()

	_, err := EncryptKey("not base58 at all!!", "pw")
	assert.Error(t, err)

	_, err = EncryptKey(base58.Encode([]byte("short")), "pw")
	assert.Error(t, err)

	_, err = EncryptKey(generateKey(t), "")
	assert.Error(t, err)
}

func TestLoadKeyPrefersRawKey(t *testing.T) {
	t.Parallel()

	key := generateKey(t)
	got, err := LoadKey(KeyConfig{RawPrivateKey: key})
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestLoadKeyFromEncryptedFile(t *testing.T) {
	t.Parallel()

	key := generateKey(t)
	blob, err := EncryptKey(key, "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestLoadKeyWithoutSourceFails(t *testing.T) {
	t.Parallel()

	_, err := LoadKey(KeyConfig{})
	assert.Error(t, err)
}
