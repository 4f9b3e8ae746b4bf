package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dmarchuk/tierbot/internal/domain"
)

// Client talks JSON-RPC to a Solana node. A nil wallet is allowed for
// read-only use; signing methods then fail.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	wallet     *Wallet

	mu       sync.RWMutex
	decimals map[string]int // mint -> decimals, immutable per mint
}

// NewClient creates a Client. wallet may be nil for read-only access.
func NewClient(rpcURL string, wallet *Wallet) *Client {
	return &Client{
		rpcURL: rpcURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		wallet:   wallet,
		decimals: make(map[string]int),
	}
}

// Wallet returns the signing wallet, or nil when read-only.
func (c *Client) Wallet() *Wallet {
	return c.wallet
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC request and unmarshals result into out.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("solana: marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("solana: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("solana: %s: %w: %v", method, domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("solana: read %s response: %w", method, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("solana: %s HTTP %d: %w: %s", method, resp.StatusCode, domain.ErrTransient, body)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solana: %s HTTP %d: %s", method, resp.StatusCode, body)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("solana: decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("solana: %s RPC error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("solana: decode %s result: %w", method, err)
		}
	}
	return nil
}

// Balance returns the wallet's SOL balance.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	if c.wallet == nil {
		return 0, fmt.Errorf("solana: balance: no wallet configured")
	}
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []any{c.wallet.Address()}, &result); err != nil {
		return 0, err
	}
	return float64(result.Value) / LamportsPerSOL, nil
}

// TokenSupply returns the circulating supply (in natural units) and decimals
// of an SPL token mint.
func (c *Client) TokenSupply(ctx context.Context, mint string) (supply float64, decimals int, err error) {
	var result struct {
		Value struct {
			Amount   string `json:"amount"`
			Decimals int    `json:"decimals"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getTokenSupply", []any{mint}, &result); err != nil {
		return 0, 0, err
	}

	raw, err := strconv.ParseFloat(result.Value.Amount, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("solana: parse supply for %s: %w", mint, err)
	}

	c.mu.Lock()
	c.decimals[mint] = result.Value.Decimals
	c.mu.Unlock()

	return raw / math.Pow10(result.Value.Decimals), result.Value.Decimals, nil
}

// TokenDecimals returns the mint's decimal places, cached after first lookup.
// SOL is handled without an RPC round trip.
func (c *Client) TokenDecimals(ctx context.Context, mint string) (int, error) {
	if mint == SOLMint {
		return 9, nil
	}

	c.mu.RLock()
	d, ok := c.decimals[mint]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}

	_, d, err := c.TokenSupply(ctx, mint)
	if err != nil {
		return 0, err
	}
	return d, nil
}

// LatestBlockhash returns the node's most recent blockhash.
func (c *Client) LatestBlockhash(ctx context.Context) (string, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getLatestBlockhash", []any{map[string]string{"commitment": "finalized"}}, &result); err != nil {
		return "", err
	}
	return result.Value.Blockhash, nil
}

// SendRawTransaction submits a base64-encoded signed transaction and returns
// its signature.
func (c *Client) SendRawTransaction(ctx context.Context, txBase64 string) (string, error) {
	var signature string
	params := []any{txBase64, map[string]any{"encoding": "base64", "skipPreflight": false}}
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}
