package solana

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/dmarchuk/tierbot/internal/domain"
)

// systemProgramID is the native system program ("111...111", 32 zero bytes).
var systemProgramID = make([]byte, 32)

// compactU16 encodes n in Solana's compact-u16 (shortvec) format.
func compactU16(n int) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}

// decodeCompactU16 reads a compact-u16 and returns the value and the number
// of bytes consumed.
func decodeCompactU16(buf []byte) (int, int, error) {
	val, shift := 0, 0
	for i := 0; i < len(buf) && i < 3; i++ {
		val |= int(buf[i]&0x7f) << shift
		if buf[i]&0x80 == 0 {
			return val, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("solana: truncated compact-u16")
}

// SignBase64Transaction signs a serialized unsigned (or venue-presigned)
// transaction as the fee payer: the wallet's signature replaces the first
// signature slot. Returns the signed transaction, base64-encoded.
func (c *Client) SignBase64Transaction(txBase64 string) (string, error) {
	if c.wallet == nil {
		return "", fmt.Errorf("solana: sign: no wallet configured")
	}

	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("solana: decode transaction: %w", err)
	}

	numSigs, header, err := decodeCompactU16(raw)
	if err != nil {
		return "", err
	}
	if numSigs < 1 {
		return "", fmt.Errorf("solana: transaction has no signature slots")
	}
	msgStart := header + numSigs*ed25519.SignatureSize
	if len(raw) <= msgStart {
		return "", fmt.Errorf("solana: transaction shorter than its signature table")
	}

	sig := c.wallet.Sign(raw[msgStart:])
	copy(raw[header:header+ed25519.SignatureSize], sig)

	return base64.StdEncoding.EncodeToString(raw), nil
}

// buildTransferTx serializes a signed legacy transaction moving lamports
// from the wallet to destination via the system program.
func (c *Client) buildTransferTx(destination string, lamports uint64, blockhash string) ([]byte, error) {
	destKey, err := base58.Decode(destination)
	if err != nil || len(destKey) != 32 {
		return nil, fmt.Errorf("solana: destination %q: %w", destination, domain.ErrInvalidInput)
	}
	hash, err := base58.Decode(blockhash)
	if err != nil || len(hash) != 32 {
		return nil, fmt.Errorf("solana: bad blockhash %q", blockhash)
	}

	// Instruction data: u32 instruction index (2 = Transfer) + u64 lamports.
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	// Legacy message: header, account keys, blockhash, instructions.
	var msg []byte
	msg = append(msg, 1, 0, 1) // 1 signer, 0 readonly signed, 1 readonly unsigned
	msg = append(msg, compactU16(3)...)
	msg = append(msg, c.wallet.PublicKeyBytes()...)
	msg = append(msg, destKey...)
	msg = append(msg, systemProgramID...)
	msg = append(msg, hash...)
	msg = append(msg, compactU16(1)...)
	msg = append(msg, 2) // program id index (system program)
	msg = append(msg, compactU16(2)...)
	msg = append(msg, 0, 1) // from, to
	msg = append(msg, compactU16(len(data))...)
	msg = append(msg, data...)

	sig := c.wallet.Sign(msg)

	var tx []byte
	tx = append(tx, compactU16(1)...)
	tx = append(tx, sig...)
	tx = append(tx, msg...)
	return tx, nil
}

// TransferExecutor implements domain.TransferExecutor over the RPC client.
// In dry-run mode no transaction is sent; a fabricated reference is returned
// so the settlement bookkeeping still runs end to end.
type TransferExecutor struct {
	client *Client
	dryRun bool
	logger *slog.Logger
}

// NewTransferExecutor creates a TransferExecutor.
func NewTransferExecutor(client *Client, dryRun bool, logger *slog.Logger) *TransferExecutor {
	return &TransferExecutor{
		client: client,
		dryRun: dryRun,
		logger: logger.With(slog.String("component", "solana")),
	}
}

// Transfer moves amountSOL to destination and returns the transaction
// signature.
func (t *TransferExecutor) Transfer(ctx context.Context, amountSOL float64, destination string) (domain.TransferResult, error) {
	if amountSOL <= 0 {
		return domain.TransferResult{}, fmt.Errorf("solana: transfer of %.9f SOL: %w", amountSOL, domain.ErrInvalidInput)
	}
	if destination == "" {
		return domain.TransferResult{}, fmt.Errorf("solana: transfer without destination: %w", domain.ErrInvalidInput)
	}

	if t.dryRun {
		ref := "dryrun-" + uuid.New().String()
		t.logger.InfoContext(ctx, "dry-run transfer",
			slog.Float64("amount_sol", amountSOL),
			slog.String("destination", destination),
			slog.String("ref", ref),
		)
		return domain.TransferResult{Ref: ref}, nil
	}

	lamports := uint64(math.Round(amountSOL * LamportsPerSOL))

	blockhash, err := t.client.LatestBlockhash(ctx)
	if err != nil {
		return domain.TransferResult{}, fmt.Errorf("solana: transfer blockhash: %w", err)
	}

	tx, err := t.client.buildTransferTx(destination, lamports, blockhash)
	if err != nil {
		return domain.TransferResult{}, err
	}

	sig, err := t.client.SendRawTransaction(ctx, base64.StdEncoding.EncodeToString(tx))
	if err != nil {
		return domain.TransferResult{}, fmt.Errorf("solana: send transfer: %w", err)
	}

	t.logger.InfoContext(ctx, "transfer sent",
		slog.Float64("amount_sol", amountSOL),
		slog.String("destination", destination),
		slog.String("signature", sig),
	)
	return domain.TransferResult{Ref: sig}, nil
}

// Compile-time interface checks.
var (
	_ domain.TransferExecutor = (*TransferExecutor)(nil)
	_ domain.BalanceProvider  = (*Client)(nil)
)
