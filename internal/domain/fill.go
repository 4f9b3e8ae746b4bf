package domain

import "time"

// FillKind distinguishes the four trade events a position can record.
type FillKind string

const (
	FillKindEntry       FillKind = "entry"
	FillKindPartialExit FillKind = "partial_exit"
	FillKindFullExit    FillKind = "full_exit"
	FillKindSettlement  FillKind = "settlement"
)

// IsExit reports whether the kind reduces position quantity.
func (k FillKind) IsExit() bool {
	return k == FillKindPartialExit || k == FillKindFullExit
}

// Fill is an immutable record of one executed trade against a position.
// Fills are append-only; the ledger never mutates one after creation, with
// the single exception of the Settled flag flipped by the settlement
// forwarder after a confirmed transfer.
type Fill struct {
	ID            string
	PositionID    string
	Kind          FillKind
	BaseAmount    float64 // SOL spent (entry) or received (exit)
	AssetQuantity float64 // token units bought or sold
	UnitPrice     float64 // SOL per token unit at fill time
	PnLRealized   float64 // zero for entry and settlement fills
	TierID        string  // set when a tier triggered this exit
	ExternalRef   string  // venue transaction signature, may be empty
	Settled       bool
	CreatedAt     time.Time
}
