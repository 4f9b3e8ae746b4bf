package domain

import "context"

// Metrics is a market-data snapshot for one asset. Either field may be
// absent; callers treat missing data as a transient condition, not an error.
type Metrics struct {
	PriceUSD     *float64
	MarketCapUSD *float64
}

// MarketData provides price and market-cap lookups.
type MarketData interface {
	TokenMetrics(ctx context.Context, assetID string) (Metrics, error)
	SolPriceUSD(ctx context.Context) (float64, error)
}

// SwapExecutor executes a trade between two assets. amountIn is in natural
// units of the input asset. Venue rejections and timeouts are returned as
// errors wrapping ErrExecutionFailed or ErrTransient.
type SwapExecutor interface {
	Swap(ctx context.Context, inputAsset, outputAsset string, amountIn float64) (SwapResult, error)
}

// TransferExecutor moves SOL to an external destination wallet.
type TransferExecutor interface {
	Transfer(ctx context.Context, amountSOL float64, destination string) (TransferResult, error)
}

// BalanceProvider reports the bot wallet's SOL balance.
type BalanceProvider interface {
	Balance(ctx context.Context) (float64, error)
}
