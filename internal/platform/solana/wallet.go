// Package solana is a minimal JSON-RPC client for the bits of the chain the
// bot touches: wallet balance, token supply and decimals, signing and
// submitting transactions, and plain SOL transfers.
package solana

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
)

// SOLMint is the wrapped SOL mint address used as the base asset on swaps.
const SOLMint = "So11111111111111111111111111111111111111112"

// LamportsPerSOL converts between lamports and SOL.
const LamportsPerSOL = 1_000_000_000

// Wallet is an ed25519 keypair identified by its base58 public key.
type Wallet struct {
	priv    ed25519.PrivateKey
	address string
}

// WalletFromBase58 builds a Wallet from a base58-encoded 64-byte secret key
// (the standard Solana export format: seed followed by public key).
func WalletFromBase58(secret string) (*Wallet, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("solana: decode private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("solana: private key is %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	return &Wallet{
		priv:    priv,
		address: base58.Encode(pub),
	}, nil
}

// Address returns the wallet's base58 public key.
func (w *Wallet) Address() string {
	return w.address
}

// Sign signs the message with the wallet's private key.
func (w *Wallet) Sign(message []byte) []byte {
	return ed25519.Sign(w.priv, message)
}

// PublicKeyBytes returns the raw 32-byte public key.
func (w *Wallet) PublicKeyBytes() []byte {
	return []byte(w.priv.Public().(ed25519.PublicKey))
}
