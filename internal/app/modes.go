package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmarchuk/tierbot/internal/command"
	"github.com/dmarchuk/tierbot/internal/engine"
	"github.com/dmarchuk/tierbot/internal/feed"
	"github.com/dmarchuk/tierbot/internal/monitor"
	"github.com/dmarchuk/tierbot/internal/notify"
	"github.com/dmarchuk/tierbot/internal/platform/solana"
	"github.com/dmarchuk/tierbot/internal/retry"
	"github.com/dmarchuk/tierbot/internal/telegram"
)

// BotMode runs the full trading loop: entry monitors driven by operator
// commands, the exit scheduler, settlement sweeps, the price feed, archival,
// and the Telegram command listener.
func (a *App) BotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting bot mode")

	g, ctx := errgroup.WithContext(ctx)

	eng := a.buildEngine(deps)
	sup := a.buildSupervisor(ctx, deps)
	defer sup.Close()

	scheduler := engine.NewScheduler(eng, settlerFor(deps), a.cfg.Exit.TickInterval.Duration, a.logger)
	g.Go(func() error {
		return scheduler.Run(ctx)
	})

	a.startPriceFeed(ctx, g, deps)
	a.startArchiver(ctx, g, deps)

	commands := command.New(sup, eng, deps.Ledger, deps.Reports, deps.Balance, deps.Notifier, a.logger)

	if a.cfg.Telegram.Enabled && a.cfg.Notify.TelegramToken != "" {
		listener := telegram.New(telegram.Config{
			Token:         a.cfg.Notify.TelegramToken,
			AllowedChatID: a.cfg.Telegram.AllowedChatID,
			PollTimeout:   time.Duration(a.cfg.Telegram.PollTimeout) * time.Second,
		}, commands, a.logger)
		g.Go(func() error {
			return listener.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "telegram listener disabled, bot accepts no operator commands")
	}

	return g.Wait()
}

// SchedulerMode runs only the periodic work: the exit tier pass, settlement
// sweeps, the price feed, and archival. No operator commands, no new entries.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")

	g, ctx := errgroup.WithContext(ctx)

	eng := a.buildEngine(deps)
	scheduler := engine.NewScheduler(eng, settlerFor(deps), a.cfg.Exit.TickInterval.Duration, a.logger)
	g.Go(func() error {
		return scheduler.Run(ctx)
	})

	a.startPriceFeed(ctx, g, deps)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// ReportMode builds one PnL report, delivers it, and exits.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	rep, err := deps.Reports.Build(ctx)
	if err != nil {
		return fmt.Errorf("report mode: %w", err)
	}

	text := rep.Format()
	fmt.Print(text)

	if err := deps.Notifier.Notify(ctx, notify.EventReport, "PnL report", text); err != nil {
		a.logger.WarnContext(ctx, "report delivery failed", slog.String("error", err.Error()))
	}
	return nil
}

// buildEngine assembles the exit engine from the wired dependencies.
func (a *App) buildEngine(deps *Dependencies) *engine.Engine {
	cfg := engine.Config{
		BaseAsset:   solana.SOLMint,
		Tiers:       a.cfg.Exit.ExitTiers(),
		RetryPolicy: a.retryPolicy(a.cfg.Exit.SwapRetries),
	}
	return engine.New(cfg, deps.Ledger, deps.Market, deps.PriceCache, deps.Swaps, settlerFor(deps), a.logger)
}

// buildSupervisor assembles the entry-monitor supervisor. Terminal monitor
// outcomes are announced through the notifier.
func (a *App) buildSupervisor(ctx context.Context, deps *Dependencies) *monitor.Supervisor {
	cfg := monitor.Config{
		BaseAsset:    solana.SOLMint,
		PollInterval: a.cfg.Entry.PollInterval.Duration,
		MaxPolls:     a.cfg.Entry.MaxPolls,
		RetryPolicy:  a.retryPolicy(a.cfg.Entry.SwapRetries),
	}

	onDone := func(assetID string, res monitor.Result) {
		switch res.Outcome {
		case monitor.OutcomeBought:
			p := res.Position
			_ = deps.Notifier.Notify(ctx, notify.EventEntry, "Position opened",
				fmt.Sprintf("Bought %.0f units of %s for %.4f SOL", p.EntryQuantity, assetID, p.EntryCostBasis))
		case monitor.OutcomeTimedOut:
			_ = deps.Notifier.Notify(ctx, notify.EventError, "Entry timed out",
				fmt.Sprintf("Target market cap for %s was not reached in time", assetID))
		case monitor.OutcomeExecutionFailed:
			_ = deps.Notifier.Notify(ctx, notify.EventError, "Entry failed",
				fmt.Sprintf("Buying %s failed: %v", assetID, res.Err))
		case monitor.OutcomeCancelled:
			// The cancelling command already produced its notification.
		}
	}

	return monitor.NewSupervisor(cfg, deps.Market, deps.Swaps, deps.Ledger, onDone, a.logger)
}

// startPriceFeed adds the streaming feed goroutine when the feed is enabled.
// The subscription set follows the assets of active positions.
func (a *App) startPriceFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Feed.Enabled {
		return
	}

	assets := func(ctx context.Context) ([]string, error) {
		positions, err := deps.Ledger.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(positions))
		for _, p := range positions {
			ids = append(ids, p.AssetID)
		}
		return ids, nil
	}

	pf := feed.New(feed.Config{
		WsURL:       a.cfg.Feed.WsURL,
		Resubscribe: time.Duration(a.cfg.Feed.ResubscribeSecs) * time.Second,
	}, deps.PriceCache, assets, a.logger)

	g.Go(func() error {
		return pf.Run(ctx)
	})
}

// startArchiver adds the cold-storage archival goroutine when enabled.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	g.Go(func() error {
		return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration)
	})
}

// settlerFor adapts the optional forwarder to the engine's settler interface.
// A typed nil must not leak into the interface value.
func settlerFor(deps *Dependencies) engine.Settler {
	if deps.Forwarder == nil {
		return nil
	}
	return deps.Forwarder
}

func (a *App) retryPolicy(attempts int) retry.Policy {
	p := retry.DefaultPolicy()
	if attempts > 0 {
		p.MaxAttempts = attempts
	}
	if d := a.cfg.Entry.RetryBaseDelay.Duration; d > 0 {
		p.BaseDelay = d
	}
	return p
}
