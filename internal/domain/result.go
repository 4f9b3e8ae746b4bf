package domain

// SwapResult is the outcome of a successful swap. Amounts are in the natural
// units of the respective assets (SOL for the SOL side, token units for the
// token side). A failed swap is reported as an error, never as a zero-value
// result.
type SwapResult struct {
	Ref       string // venue transaction signature
	AmountIn  float64
	AmountOut float64
}

// TransferResult is the outcome of a successful settlement transfer.
type TransferResult struct {
	Ref string
}
