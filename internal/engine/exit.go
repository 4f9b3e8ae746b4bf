// Package engine evaluates active positions against the tiered exit ladder
// and executes the resulting sells. One engine instance is driven by the
// scheduler's tick; all bookkeeping goes through the ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmarchuk/tierbot/internal/domain"
	"github.com/dmarchuk/tierbot/internal/pnl"
	"github.com/dmarchuk/tierbot/internal/retry"
)

// LedgerAPI is the slice of the ledger the engine drives. Exit holds the
// position lock across the trade callback and the bookkeeping write, so a
// concurrent mutation can never wedge itself between the venue sell and the
// fill record.
type LedgerAPI interface {
	ListActive(ctx context.Context) ([]domain.Position, error)
	Get(ctx context.Context, positionID string) (domain.Position, error)
	Exit(ctx context.Context, positionID string, trade func(ctx context.Context, pos domain.Position) (domain.Fill, error)) (domain.Position, error)
	MarkTierSkipped(ctx context.Context, positionID, tierID string) (domain.Position, error)
	Cancel(ctx context.Context, positionID string) (domain.Position, error)
}

// Settler sweeps unsettled profit to the settlement wallet. The sweep is
// idempotent, so triggering it right after a fill is safe even when the
// periodic run overlaps.
type Settler interface {
	Sweep(ctx context.Context) (int, error)
}

// Config tunes the engine.
type Config struct {
	BaseAsset   string // mint received on exit (wrapped SOL)
	Tiers       []domain.ExitTier
	RetryPolicy retry.Policy
}

// Engine fires exit tiers and executes manual closes.
type Engine struct {
	cfg     Config
	ledger  LedgerAPI
	market  domain.MarketData
	cache   domain.PriceCache // optional freshness fallback, may be nil
	swaps   domain.SwapExecutor
	settler Settler // may be nil
	logger  *slog.Logger
}

// New creates an Engine. cache and settler may be nil.
func New(cfg Config, ledger LedgerAPI, market domain.MarketData, cache domain.PriceCache, swaps domain.SwapExecutor, settler Settler, logger *slog.Logger) *Engine {
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = domain.DefaultExitTiers()
	}
	return &Engine{
		cfg:     cfg,
		ledger:  ledger,
		market:  market,
		cache:   cache,
		swaps:   swaps,
		settler: settler,
		logger:  logger.With(slog.String("component", "engine")),
	}
}

// Tick evaluates every active position once. A single position's failure is
// logged and skipped; it never halts the pass. The returned counts are for
// observability only.
func (e *Engine) Tick(ctx context.Context) (fired, skipped int, err error) {
	positions, err := e.ledger.ListActive(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("engine: list active positions: %w", err)
	}

	for _, pos := range positions {
		if ctx.Err() != nil {
			return fired, skipped, ctx.Err()
		}
		f, s, posErr := e.evaluate(ctx, pos)
		fired += f
		skipped += s
		if posErr != nil {
			e.logger.ErrorContext(ctx, "position evaluation failed",
				slog.String("position_id", pos.ID),
				slog.String("asset", pos.AssetID),
				slog.String("error", posErr.Error()),
			)
		}
	}
	return fired, skipped, nil
}

// evaluate runs the tier ladder for one position.
func (e *Engine) evaluate(ctx context.Context, pos domain.Position) (fired, skipped int, err error) {
	priceSOL, err := e.priceSOL(ctx, pos.AssetID)
	if err != nil {
		// Missing price data is transient; the next tick retries.
		e.logger.DebugContext(ctx, "no price for position",
			slog.String("asset", pos.AssetID),
			slog.String("error", err.Error()),
		)
		return 0, 0, nil
	}

	gain := pnl.GainPercent(priceSOL, pos.UnitCost())

	for _, tier := range e.cfg.Tiers {
		if pos.HasFired(tier.ID) {
			continue
		}
		if gain < tier.GainThresholdPct {
			// Thresholds ascend, so no later tier can fire either.
			break
		}

		sellQty := tier.ExitFraction * pos.EntryQuantity
		if pos.CurrentQuantity < sellQty*(1-domain.QuantityEpsilon) {
			// Not enough left to honor the tier; mark it fired so the engine
			// never re-attempts a doomed micro-exit.
			updated, markErr := e.ledger.MarkTierSkipped(ctx, pos.ID, tier.ID)
			if markErr != nil {
				return fired, skipped, fmt.Errorf("engine: skip tier %s on %s: %w", tier.ID, pos.ID, markErr)
			}
			pos = updated
			skipped++
			e.logger.WarnContext(ctx, "tier skipped for quantity",
				slog.String("position_id", pos.ID),
				slog.String("tier", tier.ID),
				slog.Float64("remaining", pos.CurrentQuantity),
				slog.Float64("wanted", sellQty),
			)
			continue
		}

		updated, fireErr := e.fireTier(ctx, pos, tier)
		if errors.Is(fireErr, domain.ErrStateConflict) {
			// Someone else (a manual close, typically) changed the position
			// while this pass held a snapshot. Their state wins; the next
			// tick re-evaluates from scratch.
			e.logger.DebugContext(ctx, "tier pass yielded to concurrent mutation",
				slog.String("position_id", pos.ID),
				slog.String("tier", tier.ID),
			)
			break
		}
		if fireErr != nil {
			return fired, skipped, fireErr
		}
		pos = updated
		fired++

		if pos.Status != domain.PositionStatusActive {
			break
		}
	}
	return fired, skipped, nil
}

// fireTier sells the tier's quantity and records the resulting fill, all
// under the position lock. The ladder decision came from a snapshot, so the
// trade callback revalidates against the locked state before touching the
// venue.
func (e *Engine) fireTier(ctx context.Context, pos domain.Position, tier domain.ExitTier) (domain.Position, error) {
	var fill domain.Fill
	updated, err := e.ledger.Exit(ctx, pos.ID, func(ctx context.Context, fresh domain.Position) (domain.Fill, error) {
		if fresh.Status != domain.PositionStatusActive {
			return domain.Fill{}, fmt.Errorf("engine: tier %s on %s position %s: %w", tier.ID, fresh.Status, fresh.ID, domain.ErrStateConflict)
		}
		if fresh.HasFired(tier.ID) {
			return domain.Fill{}, fmt.Errorf("engine: tier %s already fired on %s: %w", tier.ID, fresh.ID, domain.ErrStateConflict)
		}
		sellQty := tier.ExitFraction * fresh.EntryQuantity
		if fresh.CurrentQuantity < sellQty*(1-domain.QuantityEpsilon) {
			return domain.Fill{}, fmt.Errorf("engine: tier %s outgrew remaining quantity on %s: %w", tier.ID, fresh.ID, domain.ErrStateConflict)
		}

		swap, err := e.sell(ctx, fresh.AssetID, sellQty)
		if err != nil {
			return domain.Fill{}, fmt.Errorf("engine: tier %s sell on %s: %w", tier.ID, fresh.ID, err)
		}

		fill = domain.Fill{
			Kind:          domain.FillKindPartialExit,
			BaseAmount:    swap.AmountOut,
			AssetQuantity: sellQty,
			PnLRealized:   pnl.RealizedForFill(swap.AmountOut, sellQty, fresh.UnitCost()),
			TierID:        tier.ID,
			ExternalRef:   swap.Ref,
		}
		return fill, nil
	})
	if err != nil {
		return pos, err
	}

	e.logger.InfoContext(ctx, "tier fired",
		slog.String("position_id", updated.ID),
		slog.String("tier", tier.ID),
		slog.Float64("quantity", fill.AssetQuantity),
		slog.Float64("proceeds", fill.BaseAmount),
		slog.Float64("pnl", fill.PnLRealized),
	)

	e.forward(ctx, updated.ID, fill)
	return updated, nil
}

// CloseManual sells the entire remaining quantity in one fill, bypassing the
// tier ladder, and completes the position. A position that has nothing left
// to sell is cancelled when it has no fills, otherwise rejected.
func (e *Engine) CloseManual(ctx context.Context, positionID string) (domain.Position, error) {
	pos, err := e.ledger.Get(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: get position %s: %w", positionID, err)
	}
	if pos.Status != domain.PositionStatusActive && pos.Status != domain.PositionStatusMonitoring {
		return domain.Position{}, fmt.Errorf("engine: close %s position %s: %w", pos.Status, positionID, domain.ErrStateConflict)
	}

	if pos.Exhausted() {
		cancelled, cancelErr := e.ledger.Cancel(ctx, positionID)
		if cancelErr != nil {
			return domain.Position{}, fmt.Errorf("engine: close empty position %s: %w", positionID, cancelErr)
		}
		return cancelled, nil
	}

	var fill domain.Fill
	updated, err := e.ledger.Exit(ctx, positionID, func(ctx context.Context, fresh domain.Position) (domain.Fill, error) {
		if fresh.Status != domain.PositionStatusActive {
			return domain.Fill{}, fmt.Errorf("engine: close %s position %s: %w", fresh.Status, positionID, domain.ErrStateConflict)
		}
		if fresh.Exhausted() {
			return domain.Fill{}, fmt.Errorf("engine: close position %s with nothing left: %w", positionID, domain.ErrStateConflict)
		}

		// Size the sell from the locked state: a tier pass that won the race
		// has already shrunk the remainder.
		swap, err := e.sell(ctx, fresh.AssetID, fresh.CurrentQuantity)
		if err != nil {
			return domain.Fill{}, fmt.Errorf("engine: close sell on %s: %w", positionID, err)
		}

		fill = domain.Fill{
			Kind:          domain.FillKindFullExit,
			BaseAmount:    swap.AmountOut,
			AssetQuantity: fresh.CurrentQuantity,
			PnLRealized:   pnl.RealizedForFill(swap.AmountOut, fresh.CurrentQuantity, fresh.UnitCost()),
			ExternalRef:   swap.Ref,
		}
		return fill, nil
	})
	if err != nil {
		return domain.Position{}, err
	}

	e.logger.InfoContext(ctx, "position closed manually",
		slog.String("position_id", positionID),
		slog.Float64("proceeds", fill.BaseAmount),
		slog.Float64("pnl", fill.PnLRealized),
	)

	e.forward(ctx, positionID, fill)
	return updated, nil
}

// sell swaps sellQty of the asset back to the base asset with bounded retry.
func (e *Engine) sell(ctx context.Context, assetID string, sellQty float64) (domain.SwapResult, error) {
	var swap domain.SwapResult
	err := retry.Do(ctx, e.cfg.RetryPolicy, domain.IsTransient, func(ctx context.Context) error {
		var swapErr error
		swap, swapErr = e.swaps.Swap(ctx, assetID, e.cfg.BaseAsset, sellQty)
		return swapErr
	})
	return swap, err
}

// priceSOL resolves the asset's price in SOL per token unit, falling back to
// the cached feed price when the provider has no quote.
func (e *Engine) priceSOL(ctx context.Context, assetID string) (float64, error) {
	solUSD, err := e.market.SolPriceUSD(ctx)
	if err != nil || solUSD <= 0 {
		return 0, fmt.Errorf("engine: sol price: %w", errors.Join(err, domain.ErrTransient))
	}

	metrics, err := e.market.TokenMetrics(ctx, assetID)
	if err == nil && metrics.PriceUSD != nil {
		return *metrics.PriceUSD / solUSD, nil
	}

	if e.cache != nil {
		cached, _, cacheErr := e.cache.GetPrice(ctx, assetID)
		if cacheErr == nil && cached > 0 {
			return cached / solUSD, nil
		}
	}
	return 0, fmt.Errorf("engine: no price for %s: %w", assetID, domain.ErrTransient)
}

// forward triggers a settlement sweep after a fill with positive realized
// profit. Failures are logged only; the periodic sweep retries them.
func (e *Engine) forward(ctx context.Context, positionID string, fill domain.Fill) {
	if e.settler == nil || fill.PnLRealized <= 0 {
		return
	}
	fwdCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := e.settler.Sweep(fwdCtx); err != nil {
		e.logger.WarnContext(ctx, "inline settlement failed, periodic sweep will retry",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
	}
}
