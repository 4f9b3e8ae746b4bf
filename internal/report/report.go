// Package report builds PnL snapshots across all positions: realized profit
// for completed ones, mark-to-market for active ones, with USD totals when
// an exchange rate is available.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dmarchuk/tierbot/internal/domain"
	"github.com/dmarchuk/tierbot/internal/pnl"
)

// Line is the report entry for one position.
type Line struct {
	PositionID    string
	AssetID       string
	Status        domain.PositionStatus
	EntryCostSOL  float64
	RemainingQty  float64
	RealizedSOL   float64
	UnrealizedSOL float64
	GainPct       float64
	// PriceKnown is false when no current price could be resolved for an
	// active position; its unrealized figures are then zero.
	PriceKnown bool
}

// Report is one PnL snapshot.
type Report struct {
	Lines         []Line
	RealizedSOL   float64
	UnrealizedSOL float64
	RealizedUSD   float64
	UnrealizedUSD float64
	// Degraded is true when the SOL/USD rate was unavailable or any active
	// position had no resolvable price; SOL figures are still exact.
	Degraded    bool
	GeneratedAt time.Time
}

// Builder assembles reports from the position store and market data.
type Builder struct {
	positions domain.PositionStore
	market    domain.MarketData
	cache     domain.PriceCache // optional freshness fallback, may be nil
	logger    *slog.Logger
}

// NewBuilder creates a Builder. cache may be nil.
func NewBuilder(positions domain.PositionStore, market domain.MarketData, cache domain.PriceCache, logger *slog.Logger) *Builder {
	return &Builder{
		positions: positions,
		market:    market,
		cache:     cache,
		logger:    logger.With(slog.String("component", "report")),
	}
}

// Build produces a snapshot over every stored position. Realized PnL comes
// straight from the ledger rows; unrealized PnL is computed for active
// positions from the freshest available price. Missing market data degrades
// the report instead of failing it.
func (b *Builder) Build(ctx context.Context) (Report, error) {
	positions, err := b.positions.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("report: list positions: %w", err)
	}

	rep := Report{GeneratedAt: time.Now()}

	solUSD, err := b.market.SolPriceUSD(ctx)
	if err != nil || solUSD <= 0 {
		solUSD = 0
		b.logger.WarnContext(ctx, "sol price unavailable, report degraded to base currency")
	}

	for _, p := range positions {
		line := Line{
			PositionID:   p.ID,
			AssetID:      p.AssetID,
			Status:       p.Status,
			EntryCostSOL: p.EntryCostBasis,
			RemainingQty: p.CurrentQuantity,
			RealizedSOL:  p.RealizedPnL,
		}

		if p.Status == domain.PositionStatusActive {
			priceSOL, ok := b.priceSOL(ctx, p.AssetID, solUSD)
			if ok {
				line.PriceKnown = true
				line.UnrealizedSOL = pnl.Unrealized(priceSOL, p.UnitCost(), p.CurrentQuantity)
				line.GainPct = pnl.GainPercent(priceSOL, p.UnitCost())
			} else {
				rep.Degraded = true
			}
		}

		rep.RealizedSOL += line.RealizedSOL
		rep.UnrealizedSOL += line.UnrealizedSOL
		rep.Lines = append(rep.Lines, line)
	}

	realized := pnl.Convert(rep.RealizedSOL, solUSD)
	unrealized := pnl.Convert(rep.UnrealizedSOL, solUSD)
	rep.RealizedUSD = realized.Amount
	rep.UnrealizedUSD = unrealized.Amount
	if realized.Degraded || unrealized.Degraded {
		rep.Degraded = true
	}

	return rep, nil
}

// priceSOL resolves the current SOL-denominated unit price, preferring the
// REST provider and falling back to the streamed cache.
func (b *Builder) priceSOL(ctx context.Context, assetID string, solUSD float64) (float64, bool) {
	if solUSD <= 0 {
		return 0, false
	}

	metrics, err := b.market.TokenMetrics(ctx, assetID)
	if err == nil && metrics.PriceUSD != nil {
		return *metrics.PriceUSD / solUSD, true
	}

	if b.cache != nil {
		cached, _, cacheErr := b.cache.GetPrice(ctx, assetID)
		if cacheErr == nil && cached > 0 {
			return cached / solUSD, true
		}
	}
	return 0, false
}

// Format renders the report as operator-facing text.
func (r Report) Format() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "PnL report (%s)\n", r.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "Realized:   %+.4f SOL ($%+.2f)\n", r.RealizedSOL, r.RealizedUSD)
	fmt.Fprintf(&sb, "Unrealized: %+.4f SOL ($%+.2f)\n", r.UnrealizedSOL, r.UnrealizedUSD)
	if r.Degraded {
		sb.WriteString("(degraded: some market data was unavailable)\n")
	}

	if len(r.Lines) == 0 {
		sb.WriteString("No positions.\n")
		return sb.String()
	}

	for _, l := range r.Lines {
		switch {
		case l.Status == domain.PositionStatusActive && l.PriceKnown:
			fmt.Fprintf(&sb, "%s %s: realized %+.4f, unrealized %+.4f (%+.1f%%), %.0f units left\n",
				l.AssetID, l.Status, l.RealizedSOL, l.UnrealizedSOL, l.GainPct, l.RemainingQty)
		case l.Status == domain.PositionStatusActive:
			fmt.Fprintf(&sb, "%s %s: realized %+.4f, unrealized n/a, %.0f units left\n",
				l.AssetID, l.Status, l.RealizedSOL, l.RemainingQty)
		default:
			fmt.Fprintf(&sb, "%s %s: realized %+.4f\n", l.AssetID, l.Status, l.RealizedSOL)
		}
	}
	return sb.String()
}
