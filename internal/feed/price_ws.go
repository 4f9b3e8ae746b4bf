// Package feed streams token prices over WebSocket into the price cache.
// The cache gives the exit engine and reports a fresh price even when the
// REST provider is rate limited.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmarchuk/tierbot/internal/domain"
)

// AssetsFunc returns the mints the feed should be subscribed to, typically
// the assets of all active positions.
type AssetsFunc func(ctx context.Context) ([]string, error)

// Config tunes the feed.
type Config struct {
	WsURL       string
	Resubscribe time.Duration // how often the subscription set is refreshed
}

// PriceFeed maintains one WebSocket connection, subscribes to price updates
// for the assets reported by the assets function, and writes every update
// into the price cache. It reconnects with backoff on any failure.
type PriceFeed struct {
	cfg    Config
	cache  domain.PriceCache
	assets AssetsFunc
	logger *slog.Logger
}

// New creates a PriceFeed.
func New(cfg Config, cache domain.PriceCache, assets AssetsFunc, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		cfg:    cfg,
		cache:  cache,
		assets: assets,
		logger: logger.With(slog.String("component", "feed")),
	}
}

type subscribeMsg struct {
	Type string `json:"type"`
	Data struct {
		Address  string `json:"address"`
		Currency string `json:"currency"`
	} `json:"data"`
}

type priceMsg struct {
	Type string `json:"type"`
	Data struct {
		Address  string  `json:"address"`
		Close    float64 `json:"c"`
		UnixTime int64   `json:"unixTime"`
	} `json:"data"`
}

// Run connects and streams until ctx is cancelled. Connection failures are
// retried with doubling backoff capped at one minute.
func (f *PriceFeed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.WarnContext(ctx, "feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > time.Minute {
			backoff = time.Minute
		}
	}
}

// runConnection holds one connection: subscribe, read, refresh subscriptions.
func (f *PriceFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.cfg.WsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.cfg.WsURL, err)
	}
	defer conn.Close()

	subscribed := make(map[string]bool)
	if err := f.refreshSubscriptions(ctx, conn, subscribed); err != nil {
		return err
	}

	// The reader owns the connection; the refresher only sends.
	errCh := make(chan error, 1)
	go func() {
		errCh <- f.readLoop(ctx, conn)
	}()

	resub := time.NewTicker(f.cfg.Resubscribe)
	defer resub.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-resub.C:
			if err := f.refreshSubscriptions(ctx, conn, subscribed); err != nil {
				f.logger.WarnContext(ctx, "resubscribe failed", slog.String("error", err.Error()))
			}
		}
	}
}

// refreshSubscriptions subscribes to any asset not yet on this connection.
func (f *PriceFeed) refreshSubscriptions(ctx context.Context, conn *websocket.Conn, subscribed map[string]bool) error {
	assets, err := f.assets(ctx)
	if err != nil {
		return fmt.Errorf("feed: list assets: %w", err)
	}

	for _, mint := range assets {
		if subscribed[mint] {
			continue
		}
		msg := subscribeMsg{Type: "SUBSCRIBE_PRICE"}
		msg.Data.Address = mint
		msg.Data.Currency = "usd"
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("feed: subscribe %s: %w", mint, err)
		}
		subscribed[mint] = true
		f.logger.InfoContext(ctx, "subscribed to price stream", slog.String("asset", mint))
	}
	return nil
}

// readLoop decodes price messages into the cache until the connection drops.
func (f *PriceFeed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}

		var msg priceMsg
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "PRICE_DATA" {
			continue
		}
		if msg.Data.Address == "" || msg.Data.Close <= 0 {
			continue
		}

		ts := time.Unix(msg.Data.UnixTime, 0)
		if msg.Data.UnixTime == 0 {
			ts = time.Now()
		}
		if err := f.cache.SetPrice(ctx, msg.Data.Address, msg.Data.Close, ts); err != nil {
			f.logger.WarnContext(ctx, "price cache write failed",
				slog.String("asset", msg.Data.Address),
				slog.String("error", err.Error()),
			)
		}
	}
}
