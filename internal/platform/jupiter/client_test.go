package jupiter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarchuk/tierbot/internal/domain"
)

const (
	solMint  = "So11111111111111111111111111111111111111112"
	testMint = "EoNnCWvXtrCrNYMHq2z6DbrSZCsG5hSHG9QjqiAN7ZaG"
)

// fakeChain reports 9 decimals for SOL and 6 for everything else, and
// pretends to sign and submit.
type fakeChain struct {
	sent int
}

func (f *fakeChain) TokenDecimals(ctx context.Context, mint string) (int, error) {
	if mint == solMint {
		return 9, nil
	}
	return 6, nil
}

func (f *fakeChain) SignBase64Transaction(txBase64 string) (string, error) {
	return "signed:" + txBase64, nil
}

func (f *fakeChain) SendRawTransaction(ctx context.Context, txBase64 string) (string, error) {
	f.sent++
	return "sig-submitted", nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSwapDryRunUsesQuoteAsFill(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.URL.Path, "/quote"))
		q := r.URL.Query()
		assert.Equal(t, solMint, q.Get("inputMint"))
		assert.Equal(t, testMint, q.Get("outputMint"))
		assert.Equal(t, "10000000000", q.Get("amount")) // 10 SOL in lamports
		assert.Equal(t, "50", q.Get("slippageBps"))
		fmt.Fprint(w, `{"outAmount": "1000000000000"}`) // 1,000,000 units at 6 decimals
	}))
	defer srv.Close()

	chain := &fakeChain{}
	c := New(Config{APIURL: srv.URL, SlippageBps: 50, UserPublicKey: "Payer", DryRun: true}, chain, discard())

	res, err := c.Swap(context.Background(), solMint, testMint, 10)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, res.AmountIn, 1e-9)
	assert.InDelta(t, 1_000_000.0, res.AmountOut, 1e-6)
	assert.True(t, strings.HasPrefix(res.Ref, "dryrun-"))
	assert.Zero(t, chain.sent, "dry-run must not submit")
}

func TestSwapSignsAndSubmits(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/quote"):
			fmt.Fprint(w, `{"outAmount": "250000000000"}`)
		case r.URL.Path == "/swap":
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), `"userPublicKey":"Payer"`)
			assert.Contains(t, string(body), `"outAmount"`)
			fmt.Fprint(w, `{"swapTransaction": "dW5zaWduZWQ="}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	chain := &fakeChain{}
	c := New(Config{APIURL: srv.URL, SlippageBps: 50, UserPublicKey: "Payer"}, chain, discard())

	res, err := c.Swap(context.Background(), testMint, solMint, 250_000)
	require.NoError(t, err)
	assert.Equal(t, "sig-submitted", res.Ref)
	assert.InDelta(t, 250.0, res.AmountOut, 1e-9) // 250e9 lamports
	assert.Equal(t, 1, chain.sent)
}

func TestSwapRejectsNonPositiveAmount(t *testing.T) {
	t.Parallel()

	c := New(Config{APIURL: "http://localhost"}, &fakeChain{}, discard())
	_, err := c.Swap(context.Background(), solMint, testMint, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSwapRateLimitIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{APIURL: srv.URL, SlippageBps: 50}, &fakeChain{}, discard())
	_, err := c.Swap(context.Background(), solMint, testMint, 1)
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestSwapVenueRejectionIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "no route"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{APIURL: srv.URL, SlippageBps: 50}, &fakeChain{}, discard())
	_, err := c.Swap(context.Background(), solMint, testMint, 1)
	assert.ErrorIs(t, err, domain.ErrExecutionFailed)
}
