package domain

import (
	"context"
	"time"
)

// PositionStore is the durable store for positions.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	// Update replaces all mutable fields of a position. Returns ErrNotFound
	// when the position does not exist.
	Update(ctx context.Context, p Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	// FindOpenByAsset returns the monitoring or active position for the
	// asset, or ErrNotFound when none exists.
	FindOpenByAsset(ctx context.Context, assetID string) (Position, error)
	ListByStatus(ctx context.Context, status PositionStatus) ([]Position, error)
	List(ctx context.Context) ([]Position, error)
	// ListCompletedBefore returns terminal positions last updated before the
	// cutoff, oldest first, for cold-storage archival.
	ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Position, error)
	Delete(ctx context.Context, id string) error
}

// FillStore is the append-only store for fills.
type FillStore interface {
	Create(ctx context.Context, f Fill) error
	ListByPosition(ctx context.Context, positionID string) ([]Fill, error)
	// ListUnsettled returns exit fills with positive realized PnL that have
	// not yet been settled.
	ListUnsettled(ctx context.Context) ([]Fill, error)
	// MarkSettled flips the settled flag. It must be a no-op on fills that
	// are already settled.
	MarkSettled(ctx context.Context, fillID string) error
	DeleteByPosition(ctx context.Context, positionID string) error
}

// PriceCache holds the latest streamed price per asset.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, priceUSD float64, ts time.Time) error
	// GetPrice returns ErrNotFound when no price has been cached.
	GetPrice(ctx context.Context, assetID string) (float64, time.Time, error)
}

// LockManager provides mutual exclusion keyed by string. The ledger keys
// locks by position ID so that all mutations of one position are serialized
// while independent positions proceed concurrently.
type LockManager interface {
	// Acquire returns an unlock function on success and ErrLockHeld when
	// another holder owns the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
	// AcquireWait blocks until the lock is obtained, the context is done, or
	// wait elapses. A contended mutation must wait its turn rather than fail:
	// a venue trade that already executed has to reach the books. Returns
	// ErrLockHeld once wait is exhausted.
	AcquireWait(ctx context.Context, key string, ttl, wait time.Duration) (func(), error)
}
