// Package coingecko provides price and market-cap lookups for Solana tokens
// via the CoinGecko simple-price API.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dmarchuk/tierbot/internal/domain"
)

// SupplySource reports a token's circulating supply in natural units. It is
// used to approximate market cap when CoinGecko has no cap for the token.
type SupplySource interface {
	TokenSupply(ctx context.Context, mint string) (supply float64, decimals int, err error)
}

// Client implements domain.MarketData. supply may be nil; the market-cap
// proxy is then unavailable.
type Client struct {
	baseURL    string
	httpClient *http.Client
	supply     SupplySource
}

// New creates a Client. baseURL is the API root, e.g.
// "https://api.coingecko.com/api/v3".
func New(baseURL string, supply SupplySource) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		supply: supply,
	}
}

// TokenMetrics returns the token's USD price and market cap. Values CoinGecko
// does not know are left nil rather than reported as errors; a missing cap is
// approximated as price times circulating supply when a supply source is
// available.
func (c *Client) TokenMetrics(ctx context.Context, assetID string) (domain.Metrics, error) {
	params := url.Values{}
	params.Set("contract_addresses", assetID)
	params.Set("vs_currencies", "usd")
	params.Set("include_market_cap", "true")

	body, err := c.doGet(ctx, "/simple/token_price/solana?"+params.Encode())
	if err != nil {
		return domain.Metrics{}, fmt.Errorf("coingecko: token price %s: %w", assetID, err)
	}

	var payload map[string]struct {
		USD          *float64 `json:"usd"`
		USDMarketCap *float64 `json:"usd_market_cap"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Metrics{}, fmt.Errorf("coingecko: decode token price: %w", err)
	}

	entry, ok := payload[assetID]
	if !ok {
		// Unknown token: not an error, the caller treats absent data as
		// transient.
		return domain.Metrics{}, nil
	}

	metrics := domain.Metrics{PriceUSD: entry.USD}
	if entry.USDMarketCap != nil && *entry.USDMarketCap > 0 {
		metrics.MarketCapUSD = entry.USDMarketCap
	} else if entry.USD != nil && c.supply != nil {
		if supply, _, err := c.supply.TokenSupply(ctx, assetID); err == nil && supply > 0 {
			cap := *entry.USD * supply
			metrics.MarketCapUSD = &cap
		}
	}
	return metrics, nil
}

// SolPriceUSD returns the current SOL/USD price.
func (c *Client) SolPriceUSD(ctx context.Context) (float64, error) {
	body, err := c.doGet(ctx, "/simple/price?ids=solana&vs_currencies=usd")
	if err != nil {
		return 0, fmt.Errorf("coingecko: sol price: %w", err)
	}

	var payload map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("coingecko: decode sol price: %w", err)
	}
	entry, ok := payload["solana"]
	if !ok || entry.USD <= 0 {
		return 0, fmt.Errorf("coingecko: sol price missing: %w", domain.ErrTransient)
	}
	return entry.USD, nil
}

// doGet sends an unauthenticated GET request to the CoinGecko API.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
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

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("HTTP %d: %w: %s", resp.StatusCode, domain.ErrTransient, body)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

// Compile-time interface check.
var _ domain.MarketData = (*Client)(nil)
