// Package ledger is the authoritative bookkeeping for positions and fills.
// Every mutation is a read-modify-write under a per-position lock, and every
// write is validated against the position invariants first: an invariant
// violation aborts the mutation instead of corrupting state.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dmarchuk/tierbot/internal/domain"
)

// pnlTolerance bounds the float drift allowed between a fill's reported
// realized PnL and the value recomputed from its proceeds and unit cost.
const pnlTolerance = 1e-6

// Ledger owns position and fill lifetimes.
type Ledger struct {
	positions domain.PositionStore
	fills     domain.FillStore
	locks     domain.LockManager
	lockTTL   time.Duration
	lockWait  time.Duration
	logger    *slog.Logger
}

// New creates a Ledger over the given stores. Lock keys are scoped per
// position so independent positions never contend.
func New(positions domain.PositionStore, fills domain.FillStore, locks domain.LockManager, logger *slog.Logger) *Ledger {
	return &Ledger{
		positions: positions,
		fills:     fills,
		locks:     locks,
		lockTTL:   30 * time.Second,
		lockWait:  10 * time.Second,
		logger:    logger.With(slog.String("component", "ledger")),
	}
}

// acquire takes the named lock, queueing behind a concurrent holder for up
// to lockWait. Mutations must not fail on contention: when the exit engine
// and a manual close race, the loser has to wait and then see the winner's
// state, not drop its own write.
func (l *Ledger) acquire(ctx context.Context, key string) (func(), error) {
	unlock, err := l.locks.AcquireWait(ctx, key, l.lockTTL, l.lockWait)
	if err != nil {
		return nil, fmt.Errorf("ledger: lock %s: %w", key, err)
	}
	return unlock, nil
}

// Open creates a new position from a completed entry trade. It fails with
// domain.ErrStateConflict when a monitoring or active position already
// exists for the asset, leaving the existing position untouched.
func (l *Ledger) Open(ctx context.Context, assetID string, targetMarketCap float64, entry domain.Fill) (domain.Position, error) {
	if entry.Kind != domain.FillKindEntry {
		return domain.Position{}, fmt.Errorf("ledger: open with %s fill: %w", entry.Kind, domain.ErrInvariant)
	}
	if entry.BaseAmount <= 0 || entry.AssetQuantity <= 0 {
		return domain.Position{}, fmt.Errorf("ledger: open with non-positive entry amounts: %w", domain.ErrInvalidInput)
	}

	unlock, err := l.acquire(ctx, "asset:"+assetID)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	if _, err := l.positions.FindOpenByAsset(ctx, assetID); err == nil {
		return domain.Position{}, fmt.Errorf("ledger: open %s: %w", assetID, domain.ErrStateConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Position{}, fmt.Errorf("ledger: check open position for %s: %w", assetID, err)
	}

	now := time.Now().UTC()
	pos := domain.Position{
		ID:              uuid.New().String(),
		AssetID:         assetID,
		EntryCostBasis:  entry.BaseAmount,
		EntryQuantity:   entry.AssetQuantity,
		CurrentQuantity: entry.AssetQuantity,
		TargetMarketCap: targetMarketCap,
		Status:          domain.PositionStatusActive, // first fill promotes Monitoring -> Active
		EntryRef:        entry.ExternalRef,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	entry.ID = fillID(entry)
	entry.PositionID = pos.ID
	entry.UnitPrice = entry.BaseAmount / entry.AssetQuantity
	entry.PnLRealized = 0
	entry.CreatedAt = now

	if err := l.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: create position for %s: %w", assetID, err)
	}
	if err := l.fills.Create(ctx, entry); err != nil {
		// Roll the position back so cancellation semantics hold: either no
		// position exists or one complete entry fill exists.
		if delErr := l.positions.Delete(ctx, pos.ID); delErr != nil {
			l.logger.ErrorContext(ctx, "rollback of half-open position failed",
				slog.String("position_id", pos.ID),
				slog.String("error", delErr.Error()),
			)
		}
		return domain.Position{}, fmt.Errorf("ledger: record entry fill for %s: %w", assetID, err)
	}

	l.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("asset", assetID),
		slog.Float64("cost_basis", pos.EntryCostBasis),
		slog.Float64("quantity", pos.EntryQuantity),
	)
	return pos, nil
}

// RecordFill applies one exit or settlement fill atomically: it recomputes
// the remaining quantity and realized PnL, appends the tier to FiredTiers
// when the fill carries one, and advances the status. The mutation aborts
// with domain.ErrInvariant when the fill would break the books.
func (l *Ledger) RecordFill(ctx context.Context, positionID string, fill domain.Fill) (domain.Position, error) {
	unlock, err := l.acquire(ctx, "position:"+positionID)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	pos, err := l.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: get position %s: %w", positionID, err)
	}
	return l.recordLocked(ctx, pos, fill)
}

// Exit runs one exit trade under the position lock and records its fill
// before releasing. The trade callback receives the position as it stands
// with the lock held, so the quantity it sells can never be a stale read,
// and the executed trade is booked in the same critical section instead of
// queueing behind whoever raced it. A callback error aborts with nothing
// recorded; callbacks must return an error instead of trading when the
// fresh state no longer justifies the exit.
func (l *Ledger) Exit(ctx context.Context, positionID string, trade func(ctx context.Context, pos domain.Position) (domain.Fill, error)) (domain.Position, error) {
	unlock, err := l.acquire(ctx, "position:"+positionID)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	pos, err := l.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: get position %s: %w", positionID, err)
	}

	fill, err := trade(ctx, pos)
	if err != nil {
		return domain.Position{}, err
	}
	return l.recordLocked(ctx, pos, fill)
}

// recordLocked applies and persists one fill. The caller holds the position
// lock.
func (l *Ledger) recordLocked(ctx context.Context, pos domain.Position, fill domain.Fill) (domain.Position, error) {
	positionID := pos.ID
	now := time.Now().UTC()
	fill.ID = fillID(fill)
	fill.PositionID = positionID
	fill.CreatedAt = now

	switch {
	case fill.Kind.IsExit():
		if err := l.applyExit(&pos, &fill); err != nil {
			return domain.Position{}, err
		}
	case fill.Kind == domain.FillKindSettlement:
		fill.PnLRealized = 0 // settlement moves profit, it does not create it
	default:
		return domain.Position{}, fmt.Errorf("ledger: record %s fill on existing position: %w", fill.Kind, domain.ErrInvariant)
	}

	pos.UpdatedAt = now
	if err := l.fills.Create(ctx, fill); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: append fill to %s: %w", positionID, err)
	}
	if err := l.positions.Update(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: update position %s: %w", positionID, err)
	}

	l.logger.InfoContext(ctx, "fill recorded",
		slog.String("position_id", positionID),
		slog.String("kind", string(fill.Kind)),
		slog.String("tier", fill.TierID),
		slog.Float64("quantity", fill.AssetQuantity),
		slog.Float64("pnl", fill.PnLRealized),
		slog.String("status", string(pos.Status)),
	)
	return pos, nil
}

// applyExit mutates pos in place for an exit fill after validating every
// invariant the fill touches.
func (l *Ledger) applyExit(pos *domain.Position, fill *domain.Fill) error {
	if pos.Status != domain.PositionStatusActive {
		return fmt.Errorf("ledger: exit fill on %s position %s: %w", pos.Status, pos.ID, domain.ErrInvariant)
	}
	if fill.AssetQuantity <= 0 {
		return fmt.Errorf("ledger: exit of non-positive quantity on %s: %w", pos.ID, domain.ErrInvariant)
	}
	if fill.TierID != "" && pos.HasFired(fill.TierID) {
		return fmt.Errorf("ledger: tier %s already fired on %s: %w", fill.TierID, pos.ID, domain.ErrInvariant)
	}

	newQty := pos.CurrentQuantity - fill.AssetQuantity
	if newQty < -pos.EntryQuantity*domain.QuantityEpsilon {
		return fmt.Errorf("ledger: exit of %.6f exceeds remaining %.6f on %s: %w",
			fill.AssetQuantity, pos.CurrentQuantity, pos.ID, domain.ErrInvariant)
	}
	if newQty < 0 {
		newQty = 0 // float dust from a full exit
	}

	// Cross-check the reported PnL against the books.
	expected := fill.BaseAmount - pos.UnitCost()*fill.AssetQuantity
	if math.Abs(expected-fill.PnLRealized) > pnlTolerance*math.Max(1, math.Abs(expected)) {
		return fmt.Errorf("ledger: fill pnl %.9f disagrees with recomputed %.9f on %s: %w",
			fill.PnLRealized, expected, pos.ID, domain.ErrInvariant)
	}

	if fill.AssetQuantity > 0 {
		fill.UnitPrice = fill.BaseAmount / fill.AssetQuantity
	}

	pos.CurrentQuantity = newQty
	pos.RealizedPnL += fill.PnLRealized
	if fill.TierID != "" {
		pos.FiredTiers = append(pos.FiredTiers, fill.TierID)
	}
	if fill.Kind == domain.FillKindFullExit || pos.Exhausted() {
		pos.Status = domain.PositionStatusCompleted
	}
	return nil
}

// MarkTierSkipped records a tier as fired without any trade. Tiers that can
// never fire for lack of remaining quantity are marked once and never
// reconsidered, which keeps the engine from hammering the venue with doomed
// micro-exits every tick.
func (l *Ledger) MarkTierSkipped(ctx context.Context, positionID, tierID string) (domain.Position, error) {
	unlock, err := l.acquire(ctx, "position:"+positionID)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	pos, err := l.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: get position %s: %w", positionID, err)
	}
	if pos.HasFired(tierID) {
		return pos, nil
	}
	pos.FiredTiers = append(pos.FiredTiers, tierID)
	pos.UpdatedAt = time.Now().UTC()
	if err := l.positions.Update(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: update position %s: %w", positionID, err)
	}
	return pos, nil
}

// Cancel transitions a position to Cancelled. Only a position with no fills
// at all may be cancelled; once anything has traded the position must run
// its course to Completed.
func (l *Ledger) Cancel(ctx context.Context, positionID string) (domain.Position, error) {
	unlock, err := l.acquire(ctx, "position:"+positionID)
	if err != nil {
		return domain.Position{}, err
	}
	defer unlock()

	pos, err := l.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: get position %s: %w", positionID, err)
	}
	if pos.Status == domain.PositionStatusCompleted || pos.Status == domain.PositionStatusCancelled {
		return domain.Position{}, fmt.Errorf("ledger: cancel %s position %s: %w", pos.Status, positionID, domain.ErrStateConflict)
	}

	existing, err := l.fills.ListByPosition(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: list fills for %s: %w", positionID, err)
	}
	if len(existing) > 0 {
		return domain.Position{}, fmt.Errorf("ledger: cancel position %s with %d fill(s): %w", positionID, len(existing), domain.ErrStateConflict)
	}

	pos.Status = domain.PositionStatusCancelled
	pos.UpdatedAt = time.Now().UTC()
	if err := l.positions.Update(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: update position %s: %w", positionID, err)
	}

	l.logger.InfoContext(ctx, "position cancelled", slog.String("position_id", positionID))
	return pos, nil
}

// QueryFilter selects positions by status and/or asset. Zero values match
// everything.
type QueryFilter struct {
	Status  domain.PositionStatus
	AssetID string
}

// Query returns positions matching the filter.
func (l *Ledger) Query(ctx context.Context, filter QueryFilter) ([]domain.Position, error) {
	var (
		all []domain.Position
		err error
	)
	if filter.Status != "" {
		all, err = l.positions.ListByStatus(ctx, filter.Status)
	} else {
		all, err = l.positions.List(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: query positions: %w", err)
	}
	if filter.AssetID == "" {
		return all, nil
	}
	matched := all[:0]
	for _, p := range all {
		if p.AssetID == filter.AssetID {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

// ListActive returns every position eligible for the exit engine's tick.
func (l *Ledger) ListActive(ctx context.Context) ([]domain.Position, error) {
	return l.Query(ctx, QueryFilter{Status: domain.PositionStatusActive})
}

// FindOpenByAsset returns the monitoring or active position for the asset.
func (l *Ledger) FindOpenByAsset(ctx context.Context, assetID string) (domain.Position, error) {
	return l.positions.FindOpenByAsset(ctx, assetID)
}

// Get returns a position by ID.
func (l *Ledger) Get(ctx context.Context, positionID string) (domain.Position, error) {
	return l.positions.GetByID(ctx, positionID)
}

// Fills returns the append-only fill history of a position.
func (l *Ledger) Fills(ctx context.Context, positionID string) ([]domain.Fill, error) {
	return l.fills.ListByPosition(ctx, positionID)
}

func fillID(f domain.Fill) string {
	if f.ID != "" {
		return f.ID
	}
	return uuid.New().String()
}
