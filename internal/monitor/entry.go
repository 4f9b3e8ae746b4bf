// Package monitor watches an asset's market cap and executes the entry trade
// once the target is reached. Each monitor is a single-shot state machine:
// it either buys exactly once, times out, fails execution, or is cancelled.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmarchuk/tierbot/internal/domain"
	"github.com/dmarchuk/tierbot/internal/retry"
)

// Outcome is the terminal state of one monitor run.
type Outcome string

const (
	OutcomeBought          Outcome = "bought"
	OutcomeTimedOut        Outcome = "timed_out"
	OutcomeExecutionFailed Outcome = "execution_failed"
	OutcomeCancelled       Outcome = "cancelled"
)

// Result carries the terminal outcome of a monitor run. Position is only
// populated on OutcomeBought.
type Result struct {
	Outcome  Outcome
	Position domain.Position
	Err      error
}

// PositionOpener is the slice of the ledger the monitor needs: creating a
// position from a completed entry trade.
type PositionOpener interface {
	Open(ctx context.Context, assetID string, targetMarketCap float64, entry domain.Fill) (domain.Position, error)
}

// Spec describes one entry watch: buy BuyAmountSOL of AssetID once its
// market cap drops to TargetMarketCap or below.
type Spec struct {
	AssetID         string
	TargetMarketCap float64
	BuyAmountSOL    float64
}

// Config tunes the polling loop and the buy retry budget.
type Config struct {
	BaseAsset    string // mint swapped in on entry (wrapped SOL)
	PollInterval time.Duration
	MaxPolls     int
	RetryPolicy  retry.Policy
}

// EntryMonitor polls market data until the entry condition is met, then
// executes the buy and opens the position.
type EntryMonitor struct {
	spec   Spec
	cfg    Config
	market domain.MarketData
	swaps  domain.SwapExecutor
	opener PositionOpener
	logger *slog.Logger
}

// New creates an EntryMonitor for one asset watch.
func New(spec Spec, cfg Config, market domain.MarketData, swaps domain.SwapExecutor, opener PositionOpener, logger *slog.Logger) *EntryMonitor {
	return &EntryMonitor{
		spec:   spec,
		cfg:    cfg,
		market: market,
		swaps:  swaps,
		opener: opener,
		logger: logger.With(
			slog.String("component", "monitor"),
			slog.String("asset", spec.AssetID),
		),
	}
}

// Run polls until the target market cap is reached, the poll budget is
// exhausted, or ctx is cancelled. On a met condition it buys through the
// swap executor with bounded retries and opens the position. The returned
// Result is always terminal; Run never leaves a half-created position
// behind.
func (m *EntryMonitor) Run(ctx context.Context) Result {
	m.logger.InfoContext(ctx, "entry watch started",
		slog.Float64("target_market_cap", m.spec.TargetMarketCap),
		slog.Float64("buy_amount_sol", m.spec.BuyAmountSOL),
	)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for poll := 0; poll < m.cfg.MaxPolls; poll++ {
		// Poll immediately on the first iteration, then on every tick.
		if poll > 0 {
			select {
			case <-ctx.Done():
				return Result{Outcome: OutcomeCancelled, Err: ctx.Err()}
			case <-ticker.C:
			}
		}

		met, cap, err := m.conditionMet(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Outcome: OutcomeCancelled, Err: ctx.Err()}
			}
			// Missing or failing market data is transient; try again next tick.
			m.logger.DebugContext(ctx, "market data unavailable", slog.String("error", err.Error()))
			continue
		}
		if !met {
			continue
		}

		m.logger.InfoContext(ctx, "entry condition met", slog.Float64("market_cap", cap))
		return m.buy(ctx)
	}

	m.logger.WarnContext(ctx, "entry watch timed out", slog.Int("polls", m.cfg.MaxPolls))
	return Result{Outcome: OutcomeTimedOut, Err: fmt.Errorf("monitor: %s: poll budget exhausted", m.spec.AssetID)}
}

// conditionMet fetches the asset's market cap and compares it to the target.
// A missing market cap is reported as an error so the caller retries.
func (m *EntryMonitor) conditionMet(ctx context.Context) (bool, float64, error) {
	metrics, err := m.market.TokenMetrics(ctx, m.spec.AssetID)
	if err != nil {
		return false, 0, err
	}
	if metrics.MarketCapUSD == nil {
		return false, 0, fmt.Errorf("monitor: no market cap for %s: %w", m.spec.AssetID, domain.ErrTransient)
	}
	return *metrics.MarketCapUSD <= m.spec.TargetMarketCap, *metrics.MarketCapUSD, nil
}

// buy executes the entry swap with bounded retries and opens the position.
func (m *EntryMonitor) buy(ctx context.Context) Result {
	var swap domain.SwapResult
	err := retry.Do(ctx, m.cfg.RetryPolicy, domain.IsTransient, func(ctx context.Context) error {
		var swapErr error
		swap, swapErr = m.swaps.Swap(ctx, m.cfg.BaseAsset, m.spec.AssetID, m.spec.BuyAmountSOL)
		return swapErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{Outcome: OutcomeCancelled, Err: ctx.Err()}
		}
		m.logger.ErrorContext(ctx, "entry swap failed", slog.String("error", err.Error()))
		return Result{Outcome: OutcomeExecutionFailed, Err: fmt.Errorf("monitor: buy %s: %w", m.spec.AssetID, err)}
	}

	pos, err := m.opener.Open(ctx, m.spec.AssetID, m.spec.TargetMarketCap, domain.Fill{
		Kind:          domain.FillKindEntry,
		BaseAmount:    swap.AmountIn,
		AssetQuantity: swap.AmountOut,
		ExternalRef:   swap.Ref,
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "position open failed after buy", slog.String("error", err.Error()))
		return Result{Outcome: OutcomeExecutionFailed, Err: fmt.Errorf("monitor: open %s: %w", m.spec.AssetID, err)}
	}

	m.logger.InfoContext(ctx, "position entered",
		slog.String("position_id", pos.ID),
		slog.Float64("cost_basis", pos.EntryCostBasis),
		slog.Float64("quantity", pos.EntryQuantity),
	)
	return Result{Outcome: OutcomeBought, Position: pos}
}
