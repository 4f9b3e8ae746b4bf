package report

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarchuk/tierbot/internal/domain"
	"github.com/dmarchuk/tierbot/internal/store/memory"
)

const (
	mintA = "EoNnCWvXtrCrNYMHq2z6DbrSZCsG5hSHG9QjqiAN7ZaG"
	mintB = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
)

type fakeMarket struct {
	prices map[string]float64 // USD per token unit
	solUSD float64
	solErr error
}

func (f *fakeMarket) TokenMetrics(ctx context.Context, assetID string) (domain.Metrics, error) {
	p, ok := f.prices[assetID]
	if !ok {
		return domain.Metrics{}, nil
	}
	return domain.Metrics{PriceUSD: &p}, nil
}

func (f *fakeMarket) SolPriceUSD(ctx context.Context) (float64, error) {
	if f.solErr != nil {
		return 0, f.solErr
	}
	return f.solUSD, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedPosition(t *testing.T, store *memory.PositionStore, p domain.Position) {
	t.Helper()
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	require.NoError(t, store.Create(context.Background(), p))
}

func TestBuildMixesRealizedAndUnrealized(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memory.NewPositionStore()
	// Active: bought 1,000,000 units for 10 SOL, 750,000 left, 1 SOL realized.
	seedPosition(t, store, domain.Position{
		ID: "p1", AssetID: mintA, Status: domain.PositionStatusActive,
		EntryCostBasis: 10, EntryQuantity: 1_000_000, CurrentQuantity: 750_000,
		RealizedPnL: 1.0,
	})
	// Completed: 12 SOL realized over the full ladder.
	seedPosition(t, store, domain.Position{
		ID: "p2", AssetID: mintB, Status: domain.PositionStatusCompleted,
		EntryCostBasis: 10, EntryQuantity: 1_000_000, CurrentQuantity: 0,
		RealizedPnL: 12.0,
	})

	// 30% above the 1e-5 SOL unit cost: 1.3e-5 SOL at 140 USD/SOL.
	market := &fakeMarket{prices: map[string]float64{mintA: 1.3e-5 * 140}, solUSD: 140}

	rep, err := NewBuilder(store, market, nil, discardLogger()).Build(ctx)
	require.NoError(t, err)

	assert.False(t, rep.Degraded)
	assert.InDelta(t, 13.0, rep.RealizedSOL, 1e-9)
	// (1.3e-5 - 1e-5) * 750,000 = 2.25 SOL.
	assert.InDelta(t, 2.25, rep.UnrealizedSOL, 1e-6)
	assert.InDelta(t, 13.0*140, rep.RealizedUSD, 1e-6)
	assert.InDelta(t, 2.25*140, rep.UnrealizedUSD, 1e-3)

	require.Len(t, rep.Lines, 2)
	active := rep.Lines[0]
	if active.PositionID != "p1" {
		active = rep.Lines[1]
	}
	assert.True(t, active.PriceKnown)
	assert.InDelta(t, 30.0, active.GainPct, 1e-6)
}

func TestBuildDegradesWithoutExchangeRate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memory.NewPositionStore()
	seedPosition(t, store, domain.Position{
		ID: "p1", AssetID: mintB, Status: domain.PositionStatusCompleted,
		EntryCostBasis: 10, EntryQuantity: 1_000_000, RealizedPnL: 5.0,
	})

	market := &fakeMarket{solErr: errors.New("rate limited")}

	rep, err := NewBuilder(store, market, nil, discardLogger()).Build(ctx)
	require.NoError(t, err)

	assert.True(t, rep.Degraded)
	// Base-currency PnL is never blocked; USD falls back to the identity rate.
	assert.InDelta(t, 5.0, rep.RealizedSOL, 1e-9)
	assert.InDelta(t, 5.0, rep.RealizedUSD, 1e-9)
}

func TestBuildFallsBackToPriceCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memory.NewPositionStore()
	seedPosition(t, store, domain.Position{
		ID: "p1", AssetID: mintA, Status: domain.PositionStatusActive,
		EntryCostBasis: 10, EntryQuantity: 1_000_000, CurrentQuantity: 1_000_000,
	})

	// REST provider has no quote for the token; the streamed cache does.
	market := &fakeMarket{solUSD: 140}
	cache := memory.NewPriceCache()
	require.NoError(t, cache.SetPrice(ctx, mintA, 1.2e-5*140, time.Now()))

	rep, err := NewBuilder(store, market, cache, discardLogger()).Build(ctx)
	require.NoError(t, err)

	require.Len(t, rep.Lines, 1)
	assert.True(t, rep.Lines[0].PriceKnown)
	assert.InDelta(t, 2.0, rep.UnrealizedSOL, 1e-6)
}

func TestBuildMarksActiveWithoutPriceDegraded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memory.NewPositionStore()
	seedPosition(t, store, domain.Position{
		ID: "p1", AssetID: mintA, Status: domain.PositionStatusActive,
		EntryCostBasis: 10, EntryQuantity: 1_000_000, CurrentQuantity: 1_000_000,
	})

	market := &fakeMarket{solUSD: 140} // no token quote, no cache

	rep, err := NewBuilder(store, market, nil, discardLogger()).Build(ctx)
	require.NoError(t, err)

	assert.True(t, rep.Degraded)
	require.Len(t, rep.Lines, 1)
	assert.False(t, rep.Lines[0].PriceKnown)
	assert.Zero(t, rep.Lines[0].UnrealizedSOL)
}

func TestFormatMentionsDegradation(t *testing.T) {
	t.Parallel()

	rep := Report{Degraded: true, GeneratedAt: time.Now()}
	out := rep.Format()
	assert.Contains(t, out, "degraded")
	assert.Contains(t, out, "No positions.")
}
