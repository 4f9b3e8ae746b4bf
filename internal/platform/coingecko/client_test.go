package coingecko

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarchuk/tierbot/internal/domain"
)

const testMint = "EoNnCWvXtrCrNYMHq2z6DbrSZCsG5hSHG9QjqiAN7ZaG"

type staticSupply struct {
	supply float64
}

func (s staticSupply) TokenSupply(ctx context.Context, mint string) (float64, int, error) {
	return s.supply, 6, nil
}

func TestTokenMetricsParsesPriceAndCap(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"%s": {"usd": 0.0000135, "usd_market_cap": 135000}}`, testMint)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	m, err := c.TokenMetrics(context.Background(), testMint)
	require.NoError(t, err)
	require.NotNil(t, m.PriceUSD)
	require.NotNil(t, m.MarketCapUSD)
	assert.InDelta(t, 0.0000135, *m.PriceUSD, 1e-12)
	assert.InDelta(t, 135000.0, *m.MarketCapUSD, 1e-6)
}

func TestTokenMetricsApproximatesMissingCapFromSupply(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"%s": {"usd": 0.001}}`, testMint)
	}))
	defer srv.Close()

	c := New(srv.URL, staticSupply{supply: 2_000_000})
	m, err := c.TokenMetrics(context.Background(), testMint)
	require.NoError(t, err)
	require.NotNil(t, m.MarketCapUSD)
	assert.InDelta(t, 2000.0, *m.MarketCapUSD, 1e-9)
}

func TestTokenMetricsUnknownTokenIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	m, err := c.TokenMetrics(context.Background(), testMint)
	require.NoError(t, err)
	assert.Nil(t, m.PriceUSD)
	assert.Nil(t, m.MarketCapUSD)
}

func TestRateLimitIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.TokenMetrics(context.Background(), testMint)
	assert.ErrorIs(t, err, domain.ErrTransient)

	_, err = c.SolPriceUSD(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestSolPriceUSD(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"solana": {"usd": 152.31}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	price, err := c.SolPriceUSD(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 152.31, price, 1e-9)
}
