package solana

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWallet(t *testing.T) *Wallet {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	w, err := WalletFromBase58(base58.Encode(priv))
	require.NoError(t, err)
	return w
}

func TestWalletFromBase58RejectsShortKeys(t *testing.T) {
	t.Parallel()

	_, err := WalletFromBase58(base58.Encode([]byte("too short")))
	assert.Error(t, err)
}

func TestCompactU16RoundTrip(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 127, 128, 255, 300, 16383, 16384} {
		enc := compactU16(n)
		dec, used, err := decodeCompactU16(enc)
		require.NoError(t, err)
		assert.Equal(t, n, dec)
		assert.Equal(t, len(enc), used)
	}
}

func TestSignBase64TransactionSignsFirstSlot(t *testing.T) {
	t.Parallel()

	w := testWallet(t)
	c := NewClient("http://localhost", w)

	message := []byte("legacy message bytes, opaque to the signer")
	unsigned := append(compactU16(1), make([]byte, ed25519.SignatureSize)...)
	unsigned = append(unsigned, message...)

	signedB64, err := c.SignBase64Transaction(base64.StdEncoding.EncodeToString(unsigned))
	require.NoError(t, err)

	signed, err := base64.StdEncoding.DecodeString(signedB64)
	require.NoError(t, err)

	sig := signed[1 : 1+ed25519.SignatureSize]
	pub := ed25519.PublicKey(w.PublicKeyBytes())
	assert.True(t, ed25519.Verify(pub, message, sig))
}

func TestBuildTransferTxIsVerifiable(t *testing.T) {
	t.Parallel()

	w := testWallet(t)
	c := NewClient("http://localhost", w)

	dest := base58.Encode(make([]byte, 32))
	blockhash := base58.Encode(make([]byte, 32))

	tx, err := c.buildTransferTx(dest, 1_500_000_000, blockhash)
	require.NoError(t, err)

	numSigs, header, err := decodeCompactU16(tx)
	require.NoError(t, err)
	require.Equal(t, 1, numSigs)

	sig := tx[header : header+ed25519.SignatureSize]
	msg := tx[header+ed25519.SignatureSize:]
	pub := ed25519.PublicKey(w.PublicKeyBytes())
	assert.True(t, ed25519.Verify(pub, msg, sig))

	// Header: exactly one signer, one readonly unsigned account.
	assert.Equal(t, byte(1), msg[0])
	assert.Equal(t, byte(0), msg[1])
	assert.Equal(t, byte(1), msg[2])
}

func TestBuildTransferTxRejectsBadDestination(t *testing.T) {
	t.Parallel()

	w := testWallet(t)
	c := NewClient("http://localhost", w)

	_, err := c.buildTransferTx("not-a-key", 1, base58.Encode(make([]byte, 32)))
	assert.Error(t, err)
}
