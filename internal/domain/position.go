// Package domain defines the core entities of the bot (positions, fills,
// exit tiers) together with the store and collaborator interfaces that the
// rest of the codebase is written against.
package domain

import "time"

// PositionStatus tracks where a position is in its lifecycle. Transitions are
// forward-only: Monitoring -> Active on the first fill, Active -> Completed
// when the remaining quantity is exhausted, and any state -> Cancelled only
// while no fill has been recorded.
type PositionStatus string

const (
	PositionStatusMonitoring PositionStatus = "monitoring"
	PositionStatusActive     PositionStatus = "active"
	PositionStatusCompleted  PositionStatus = "completed"
	PositionStatusCancelled  PositionStatus = "cancelled"
)

// QuantityEpsilon is the relative remainder below which a position counts as
// exhausted. Partial exits leave float dust; comparing against
// EntryQuantity*QuantityEpsilon keeps the threshold scale-free.
const QuantityEpsilon = 1e-6

// Position is one open or historical trade on a single asset (token mint).
// Quantities are in natural token units, amounts in SOL.
type Position struct {
	ID              string
	AssetID         string // token mint address
	EntryCostBasis  float64
	EntryQuantity   float64
	CurrentQuantity float64
	RealizedPnL     float64
	FiredTiers      []string
	TargetMarketCap float64 // USD entry condition, kept for reference
	Status          PositionStatus
	EntryRef        string // venue signature of the entry trade
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UnitCost is the average acquisition price per token unit in SOL.
func (p Position) UnitCost() float64 {
	if p.EntryQuantity == 0 {
		return 0
	}
	return p.EntryCostBasis / p.EntryQuantity
}

// HasFired reports whether the tier has already been executed (or permanently
// skipped) for this position.
func (p Position) HasFired(tierID string) bool {
	for _, id := range p.FiredTiers {
		if id == tierID {
			return true
		}
	}
	return false
}

// Exhausted reports whether the remaining quantity is below the dust
// threshold, at which point the position transitions to Completed.
func (p Position) Exhausted() bool {
	return p.CurrentQuantity < p.EntryQuantity*QuantityEpsilon
}
