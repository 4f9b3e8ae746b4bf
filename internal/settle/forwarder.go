// Package settle forwards realized profit to the settlement wallet. The
// settled flag on each fill is the idempotency marker: it is flipped only
// after the transfer confirms, so a crash between transfer and flag can at
// worst re-send once, never silently drop profit.
package settle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmarchuk/tierbot/internal/domain"
)

// Config tunes the forwarder.
type Config struct {
	Destination string  // settlement wallet address
	MinAmount   float64 // deltas below this stay pending
}

// FillRecorder appends the settlement fill that mirrors a confirmed transfer
// onto the position's history. Satisfied by *ledger.Ledger.
type FillRecorder interface {
	RecordFill(ctx context.Context, positionID string, fill domain.Fill) (domain.Position, error)
}

// Forwarder sweeps unsettled exit fills and transfers their realized profit.
type Forwarder struct {
	cfg      Config
	fills    domain.FillStore
	recorder FillRecorder
	transfer domain.TransferExecutor
	logger   *slog.Logger
}

// New creates a Forwarder.
func New(cfg Config, fills domain.FillStore, recorder FillRecorder, transfer domain.TransferExecutor, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		cfg:      cfg,
		fills:    fills,
		recorder: recorder,
		transfer: transfer,
		logger:   logger.With(slog.String("component", "settle")),
	}
}

// Sweep forwards every unsettled positive delta exactly once and returns the
// number of fills settled. A fill is marked settled only after its transfer
// confirms; fills whose transfer fails stay pending for the next sweep. A
// sweep over already-settled fills is a no-op.
func (f *Forwarder) Sweep(ctx context.Context) (int, error) {
	pending, err := f.fills.ListUnsettled(ctx)
	if err != nil {
		return 0, fmt.Errorf("settle: list unsettled fills: %w", err)
	}

	settled := 0
	for _, fill := range pending {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		// The store query already excludes non-positive deltas; the guard
		// stays because forwarding a negative amount must never happen.
		if fill.PnLRealized <= 0 {
			continue
		}
		if fill.PnLRealized < f.cfg.MinAmount {
			continue
		}

		res, err := f.transfer.Transfer(ctx, fill.PnLRealized, f.cfg.Destination)
		if err != nil {
			f.logger.WarnContext(ctx, "settlement transfer failed",
				slog.String("fill_id", fill.ID),
				slog.Float64("amount", fill.PnLRealized),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := f.fills.MarkSettled(ctx, fill.ID); err != nil {
			// The transfer went through but the flag did not stick. Surface
			// loudly: the next sweep would re-send this delta.
			f.logger.ErrorContext(ctx, "transfer confirmed but settled flag not persisted",
				slog.String("fill_id", fill.ID),
				slog.String("transfer_ref", res.Ref),
				slog.String("error", err.Error()),
			)
			return settled, fmt.Errorf("settle: mark fill %s settled: %w", fill.ID, err)
		}

		settled++
		f.logger.InfoContext(ctx, "profit forwarded",
			slog.String("fill_id", fill.ID),
			slog.String("position_id", fill.PositionID),
			slog.Float64("amount", fill.PnLRealized),
			slog.String("transfer_ref", res.Ref),
		)

		f.record(ctx, fill, res)
	}
	return settled, nil
}

// record mirrors a confirmed transfer as a settlement fill on the position.
// The transfer and the settled flag are already durable; this line is
// bookkeeping only, so a failure is logged and not retried.
func (f *Forwarder) record(ctx context.Context, swept domain.Fill, res domain.TransferResult) {
	settlement := domain.Fill{
		Kind:        domain.FillKindSettlement,
		BaseAmount:  swept.PnLRealized,
		ExternalRef: res.Ref,
	}
	if _, err := f.recorder.RecordFill(ctx, swept.PositionID, settlement); err != nil {
		f.logger.WarnContext(ctx, "settlement fill not recorded",
			slog.String("position_id", swept.PositionID),
			slog.String("transfer_ref", res.Ref),
			slog.String("error", err.Error()),
		)
	}
}
