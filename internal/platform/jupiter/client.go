// Package jupiter is the REST client for the Jupiter aggregator's quote and
// swap API. It implements the swap side of trade execution: quote, build,
// sign, submit.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dmarchuk/tierbot/internal/domain"
)

// Chain is the slice of the Solana client the swap flow needs.
type Chain interface {
	TokenDecimals(ctx context.Context, mint string) (int, error)
	SignBase64Transaction(txBase64 string) (string, error)
	SendRawTransaction(ctx context.Context, txBase64 string) (string, error)
}

// Config holds swap parameters.
type Config struct {
	APIURL        string
	SlippageBps   int
	UserPublicKey string
	DryRun        bool
}

// Client implements domain.SwapExecutor via the Jupiter v6 API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	chain      Chain
	logger     *slog.Logger
}

// New creates a Client.
func New(cfg Config, chain Chain, logger *slog.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		chain:  chain,
		logger: logger.With(slog.String("component", "jupiter")),
	}
}

// quoteResponse is the subset of the quote payload the client reads; the raw
// body is passed back verbatim on the swap call.
type quoteResponse struct {
	OutAmount string `json:"outAmount"`
}

type swapRequest struct {
	QuoteResponse    json.RawMessage `json:"quoteResponse"`
	UserPublicKey    string          `json:"userPublicKey"`
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// Swap quotes and executes a trade of amountIn (natural units of the input
// mint) and returns the executed amounts in natural units. In dry-run mode
// the quote is taken as the fill and nothing is signed or submitted.
func (c *Client) Swap(ctx context.Context, inputAsset, outputAsset string, amountIn float64) (domain.SwapResult, error) {
	if amountIn <= 0 {
		return domain.SwapResult{}, fmt.Errorf("jupiter: swap of %.9f: %w", amountIn, domain.ErrInvalidInput)
	}

	decIn, err := c.chain.TokenDecimals(ctx, inputAsset)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("jupiter: input decimals: %w", err)
	}
	decOut, err := c.chain.TokenDecimals(ctx, outputAsset)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("jupiter: output decimals: %w", err)
	}

	rawIn := uint64(math.Round(amountIn * math.Pow10(decIn)))
	if rawIn == 0 {
		return domain.SwapResult{}, fmt.Errorf("jupiter: swap amount rounds to zero: %w", domain.ErrInvalidInput)
	}

	quoteBody, outAmount, err := c.quote(ctx, inputAsset, outputAsset, rawIn)
	if err != nil {
		return domain.SwapResult{}, err
	}
	amountOut := outAmount / math.Pow10(decOut)

	if c.cfg.DryRun {
		ref := "dryrun-" + uuid.New().String()
		c.logger.InfoContext(ctx, "dry-run swap",
			slog.String("input", inputAsset),
			slog.String("output", outputAsset),
			slog.Float64("amount_in", amountIn),
			slog.Float64("amount_out", amountOut),
			slog.String("ref", ref),
		)
		return domain.SwapResult{Ref: ref, AmountIn: amountIn, AmountOut: amountOut}, nil
	}

	txBase64, err := c.buildSwapTx(ctx, quoteBody)
	if err != nil {
		return domain.SwapResult{}, err
	}

	signed, err := c.chain.SignBase64Transaction(txBase64)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("jupiter: sign swap: %w", err)
	}

	sig, err := c.chain.SendRawTransaction(ctx, signed)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("jupiter: submit swap: %w", err)
	}

	c.logger.InfoContext(ctx, "swap executed",
		slog.String("input", inputAsset),
		slog.String("output", outputAsset),
		slog.Float64("amount_in", amountIn),
		slog.Float64("amount_out", amountOut),
		slog.String("signature", sig),
	)
	return domain.SwapResult{Ref: sig, AmountIn: amountIn, AmountOut: amountOut}, nil
}

// quote fetches a route for the trade and returns the raw quote body along
// with the quoted output amount in raw units.
func (c *Client) quote(ctx context.Context, inputMint, outputMint string, rawIn uint64) (json.RawMessage, float64, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(rawIn, 10))
	params.Set("slippageBps", strconv.Itoa(c.cfg.SlippageBps))

	body, err := c.doGet(ctx, "/quote?"+params.Encode())
	if err != nil {
		return nil, 0, fmt.Errorf("jupiter: quote %s->%s: %w", inputMint, outputMint, err)
	}

	var q quoteResponse
	if err := json.Unmarshal(body, &q); err != nil {
		return nil, 0, fmt.Errorf("jupiter: decode quote: %w", err)
	}
	out, err := strconv.ParseFloat(q.OutAmount, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("jupiter: parse outAmount %q: %w", q.OutAmount, err)
	}
	if out <= 0 {
		return nil, 0, fmt.Errorf("jupiter: empty route %s->%s: %w", inputMint, outputMint, domain.ErrExecutionFailed)
	}
	return body, out, nil
}

// buildSwapTx asks Jupiter to assemble the swap transaction for the quote.
func (c *Client) buildSwapTx(ctx context.Context, quoteBody json.RawMessage) (string, error) {
	payload, err := json.Marshal(swapRequest{
		QuoteResponse:    quoteBody,
		UserPublicKey:    c.cfg.UserPublicKey,
		WrapAndUnwrapSol: true,
	})
	if err != nil {
		return "", fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("jupiter: create swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("jupiter: swap request: %w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("jupiter: read swap response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return "", fmt.Errorf("jupiter: swap: %w", err)
	}

	var sr swapResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("jupiter: decode swap response: %w", err)
	}
	if sr.SwapTransaction == "" {
		return "", fmt.Errorf("jupiter: swap response without transaction: %w", domain.ErrExecutionFailed)
	}
	return sr.SwapTransaction, nil
}

// doGet sends an unauthenticated GET request to the Jupiter API.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
// Rate limits and server errors are transient; anything else the venue
// rejected permanently.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return fmt.Errorf("HTTP %d: %w: %s", statusCode, domain.ErrTransient, body)
	}
	return fmt.Errorf("HTTP %d: %w: %s", statusCode, domain.ErrExecutionFailed, body)
}

// Compile-time interface check.
var _ domain.SwapExecutor = (*Client)(nil)
