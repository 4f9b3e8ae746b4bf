package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarchuk/tierbot/internal/domain"
	"github.com/dmarchuk/tierbot/internal/ledger"
	"github.com/dmarchuk/tierbot/internal/retry"
	"github.com/dmarchuk/tierbot/internal/store/memory"
)

const (
	testMint = "EoNnCWvXtrCrNYMHq2z6DbrSZCsG5hSHG9QjqiAN7ZaG"
	solMint  = "So11111111111111111111111111111111111111112"
)

// fakeMarket returns a scripted sequence of market caps, repeating the last
// entry once the script runs out. A negative value simulates missing data.
type fakeMarket struct {
	mu   sync.Mutex
	caps []float64
	call int
}

func (f *fakeMarket) TokenMetrics(ctx context.Context, assetID string) (domain.Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.call
	if idx >= len(f.caps) {
		idx = len(f.caps) - 1
	}
	f.call++
	cap := f.caps[idx]
	if cap < 0 {
		return domain.Metrics{}, nil
	}
	return domain.Metrics{MarketCapUSD: &cap}, nil
}

func (f *fakeMarket) SolPriceUSD(ctx context.Context) (float64, error) {
	return 150, nil
}

// fakeSwapper fails the first failures calls with failErr, then succeeds.
type fakeSwapper struct {
	mu       sync.Mutex
	failures int
	failErr  error
	calls    int
	out      float64
}

func (f *fakeSwapper) Swap(ctx context.Context, in, out string, amountIn float64) (domain.SwapResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return domain.SwapResult{}, f.failErr
	}
	return domain.SwapResult{Ref: "sig-swap", AmountIn: amountIn, AmountOut: f.out}, nil
}

func testConfig() Config {
	return Config{
		BaseAsset:    solMint,
		PollInterval: time.Millisecond,
		MaxPolls:     10,
		RetryPolicy:  retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
}

func newTestLedger() (*ledger.Ledger, *memory.PositionStore) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	positions := memory.NewPositionStore()
	return ledger.New(positions, memory.NewFillStore(), memory.NewLockManager(), logger), positions
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunBuysWhenConditionMet(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger()
	market := &fakeMarket{caps: []float64{250_000, 180_000, 90_000}}
	swapper := &fakeSwapper{out: 1_000_000}

	m := New(Spec{AssetID: testMint, TargetMarketCap: 100_000, BuyAmountSOL: 10}, testConfig(), market, swapper, l, discard())
	res := m.Run(context.Background())

	require.Equal(t, OutcomeBought, res.Outcome)
	assert.Equal(t, domain.PositionStatusActive, res.Position.Status)
	assert.InDelta(t, 10.0, res.Position.EntryCostBasis, 1e-9)
	assert.InDelta(t, 1_000_000.0, res.Position.EntryQuantity, 1e-9)

	fills, err := l.Fills(context.Background(), res.Position.ID)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "sig-swap", fills[0].ExternalRef)
}

func TestRunTimesOutWithoutLedgerEntries(t *testing.T) {
	t.Parallel()

	l, positions := newTestLedger()
	market := &fakeMarket{caps: []float64{500_000}} // never reaches target
	swapper := &fakeSwapper{out: 1_000_000}

	cfg := testConfig()
	cfg.MaxPolls = 4
	m := New(Spec{AssetID: testMint, TargetMarketCap: 100_000, BuyAmountSOL: 10}, cfg, market, swapper, l, discard())
	res := m.Run(context.Background())

	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Zero(t, swapper.calls, "no buy may be attempted on timeout")

	all, err := positions.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all, "timeout must leave no ledger entries")
}

func TestRunTreatsMissingDataAsTransient(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger()
	// Two polls with no market cap, then the condition is met.
	market := &fakeMarket{caps: []float64{-1, -1, 80_000}}
	swapper := &fakeSwapper{out: 500_000}

	m := New(Spec{AssetID: testMint, TargetMarketCap: 100_000, BuyAmountSOL: 5}, testConfig(), market, swapper, l, discard())
	res := m.Run(context.Background())

	assert.Equal(t, OutcomeBought, res.Outcome)
}

func TestRunRetriesTransientSwapFailures(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger()
	market := &fakeMarket{caps: []float64{90_000}}
	swapper := &fakeSwapper{failures: 2, failErr: domain.ErrTransient, out: 1_000_000}

	m := New(Spec{AssetID: testMint, TargetMarketCap: 100_000, BuyAmountSOL: 10}, testConfig(), market, swapper, l, discard())
	res := m.Run(context.Background())

	assert.Equal(t, OutcomeBought, res.Outcome)
	assert.Equal(t, 3, swapper.calls)
}

func TestRunFailsAfterRetryBudget(t *testing.T) {
	t.Parallel()

	l, positions := newTestLedger()
	market := &fakeMarket{caps: []float64{90_000}}
	swapper := &fakeSwapper{failures: 100, failErr: domain.ErrTransient}

	m := New(Spec{AssetID: testMint, TargetMarketCap: 100_000, BuyAmountSOL: 10}, testConfig(), market, swapper, l, discard())
	res := m.Run(context.Background())

	assert.Equal(t, OutcomeExecutionFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrTransient)

	all, err := positions.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all, "failed execution must not create a position")
}

func TestRunFailsFastOnPermanentSwapError(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger()
	market := &fakeMarket{caps: []float64{90_000}}
	swapper := &fakeSwapper{failures: 100, failErr: domain.ErrInsufficientFunds}

	m := New(Spec{AssetID: testMint, TargetMarketCap: 100_000, BuyAmountSOL: 10}, testConfig(), market, swapper, l, discard())
	res := m.Run(context.Background())

	assert.Equal(t, OutcomeExecutionFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrInsufficientFunds)
	assert.Equal(t, 1, swapper.calls, "permanent errors must not be retried")
}

func TestSupervisorRejectsDuplicateWatch(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger()
	market := &fakeMarket{caps: []float64{500_000}} // never triggers
	swapper := &fakeSwapper{}

	done := make(chan Result, 1)
	sup := NewSupervisor(testConfig(), market, swapper, l, func(_ string, res Result) { done <- res }, discard())
	defer sup.Close()

	spec := Spec{AssetID: testMint, TargetMarketCap: 100_000, BuyAmountSOL: 10}
	require.NoError(t, sup.Spawn(context.Background(), spec))

	err := sup.Spawn(context.Background(), spec)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestSupervisorRejectsAssetWithOpenPosition(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger()
	_, err := l.Open(context.Background(), testMint, 100_000, domain.Fill{
		Kind: domain.FillKindEntry, BaseAmount: 10, AssetQuantity: 1_000_000,
	})
	require.NoError(t, err)

	sup := NewSupervisor(testConfig(), &fakeMarket{caps: []float64{500_000}}, &fakeSwapper{}, l, nil, discard())
	defer sup.Close()

	err = sup.Spawn(context.Background(), Spec{AssetID: testMint, TargetMarketCap: 100_000, BuyAmountSOL: 10})
	assert.ErrorIs(t, err, domain.ErrStateConflict)
	assert.False(t, sup.Watching(testMint))
}

func TestSupervisorCancelFreesAsset(t *testing.T) {
	t.Parallel()

	l, positions := newTestLedger()
	market := &fakeMarket{caps: []float64{500_000}}

	cfg := testConfig()
	cfg.PollInterval = time.Hour // park the monitor on its ticker
	cfg.MaxPolls = 1000

	done := make(chan Result, 1)
	sup := NewSupervisor(cfg, market, &fakeSwapper{}, l, func(_ string, res Result) { done <- res }, discard())
	defer sup.Close()

	spec := Spec{AssetID: testMint, TargetMarketCap: 100_000, BuyAmountSOL: 10}
	require.NoError(t, sup.Spawn(context.Background(), spec))
	require.NoError(t, sup.Cancel(testMint))

	select {
	case res := <-done:
		assert.Equal(t, OutcomeCancelled, res.Outcome)
		assert.ErrorIs(t, res.Err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop after cancel")
	}

	assert.False(t, sup.Watching(testMint))
	all, err := positions.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all, "cancellation must not leave a partial position")

	// The asset is immediately re-watchable.
	require.NoError(t, sup.Spawn(context.Background(), spec))
}

func TestSupervisorRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger()
	sup := NewSupervisor(testConfig(), &fakeMarket{caps: []float64{1}}, &fakeSwapper{}, l, nil, discard())
	defer sup.Close()

	err := sup.Spawn(context.Background(), Spec{AssetID: "", TargetMarketCap: 1, BuyAmountSOL: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = sup.Spawn(context.Background(), Spec{AssetID: testMint, TargetMarketCap: 1, BuyAmountSOL: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCancelUnknownAsset(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger()
	sup := NewSupervisor(testConfig(), &fakeMarket{caps: []float64{1}}, &fakeSwapper{}, l, nil, discard())
	defer sup.Close()

	assert.True(t, errors.Is(sup.Cancel("unknown"), domain.ErrNotFound))
}
