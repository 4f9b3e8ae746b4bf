// Package command implements the operator commands: open a watched position,
// close one, report PnL, and query the wallet balance. Each command returns a
// human-readable summary and emits exactly one terminal notification.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dmarchuk/tierbot/internal/domain"
	"github.com/dmarchuk/tierbot/internal/monitor"
	"github.com/dmarchuk/tierbot/internal/notify"
	"github.com/dmarchuk/tierbot/internal/report"
)

// Watcher manages entry monitors. Satisfied by *monitor.Supervisor.
type Watcher interface {
	Spawn(ctx context.Context, spec monitor.Spec) error
	Cancel(assetID string) error
	Watching(assetID string) bool
}

// Closer executes manual full exits. Satisfied by *engine.Engine.
type Closer interface {
	CloseManual(ctx context.Context, positionID string) (domain.Position, error)
}

// PositionFinder locates the open position for an asset.
type PositionFinder interface {
	FindOpenByAsset(ctx context.Context, assetID string) (domain.Position, error)
}

// Reporter builds PnL snapshots. Satisfied by *report.Builder.
type Reporter interface {
	Build(ctx context.Context) (report.Report, error)
}

// Notifier delivers the terminal notification of each command.
type Notifier interface {
	Notify(ctx context.Context, event notify.Event, title, message string) error
}

// Result is the outcome of one command.
type Result struct {
	OK      bool
	Summary string
}

// SizeSpec is a parsed position size: either an absolute SOL amount or a
// percentage of the available balance.
type SizeSpec struct {
	AmountSOL float64
	Percent   float64
	IsPercent bool
}

// ParseSizeSpec parses "1.5" as an absolute SOL amount and "25%" as a
// percentage of the wallet balance.
func ParseSizeSpec(s string) (SizeSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SizeSpec{}, fmt.Errorf("command: empty size: %w", domain.ErrInvalidInput)
	}

	if pct, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(pct, 64)
		if err != nil || v <= 0 || v > 100 {
			return SizeSpec{}, fmt.Errorf("command: invalid percentage size %q: %w", s, domain.ErrInvalidInput)
		}
		return SizeSpec{Percent: v, IsPercent: true}, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return SizeSpec{}, fmt.Errorf("command: invalid size %q: %w", s, domain.ErrInvalidInput)
	}
	return SizeSpec{AmountSOL: v}, nil
}

// Resolve normalizes the spec to an absolute SOL amount, querying the wallet
// balance for percentage sizes.
func (s SizeSpec) Resolve(ctx context.Context, balance domain.BalanceProvider) (float64, error) {
	if !s.IsPercent {
		return s.AmountSOL, nil
	}
	bal, err := balance.Balance(ctx)
	if err != nil {
		return 0, fmt.Errorf("command: resolve size: %w", err)
	}
	amount := bal * s.Percent / 100
	if amount <= 0 {
		return 0, fmt.Errorf("command: %s%% of %.4f SOL is not a tradable amount: %w",
			strconv.FormatFloat(s.Percent, 'f', -1, 64), bal, domain.ErrInsufficientFunds)
	}
	return amount, nil
}

// Service executes operator commands against the bot's subsystems.
type Service struct {
	watcher   Watcher
	closer    Closer
	positions PositionFinder
	reports   Reporter
	balance   domain.BalanceProvider
	notifier  Notifier
	logger    *slog.Logger
}

// New creates a command Service.
func New(watcher Watcher, closer Closer, positions PositionFinder, reports Reporter, balance domain.BalanceProvider, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		watcher:   watcher,
		closer:    closer,
		positions: positions,
		reports:   reports,
		balance:   balance,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "command")),
	}
}

// OpenPosition resolves the size spec and starts an entry monitor for the
// asset. The buy itself happens later, when the market-cap target is met.
func (s *Service) OpenPosition(ctx context.Context, assetID string, targetMarketCap float64, size SizeSpec) (Result, error) {
	amount, err := size.Resolve(ctx, s.balance)
	if err != nil {
		return s.fail(ctx, "Open rejected", fmt.Sprintf("Cannot size position for %s: %v", assetID, err), err)
	}

	spec := monitor.Spec{AssetID: assetID, TargetMarketCap: targetMarketCap, BuyAmountSOL: amount}
	if err := s.watcher.Spawn(ctx, spec); err != nil {
		return s.fail(ctx, "Open rejected", fmt.Sprintf("Cannot watch %s: %v", assetID, err), err)
	}

	summary := fmt.Sprintf("Watching %s: buying %.4f SOL when market cap <= $%.0f", assetID, amount, targetMarketCap)
	return s.ok(ctx, notify.EventEntry, "Watch started", summary)
}

// ClosePosition exits the asset's position. A still-monitoring watch with no
// position is cancelled instead; an active position is sold in full.
func (s *Service) ClosePosition(ctx context.Context, assetID string) (Result, error) {
	pos, err := s.positions.FindOpenByAsset(ctx, assetID)
	if errors.Is(err, domain.ErrNotFound) {
		if cancelErr := s.watcher.Cancel(assetID); cancelErr == nil {
			summary := fmt.Sprintf("Cancelled watch for %s before entry", assetID)
			return s.ok(ctx, notify.EventExit, "Watch cancelled", summary)
		}
		return s.fail(ctx, "Close rejected", fmt.Sprintf("No open position or watch for %s", assetID), err)
	}
	if err != nil {
		return s.fail(ctx, "Close failed", fmt.Sprintf("Lookup for %s failed: %v", assetID, err), err)
	}

	closed, err := s.closer.CloseManual(ctx, pos.ID)
	if err != nil {
		return s.fail(ctx, "Close failed", fmt.Sprintf("Closing %s failed: %v", assetID, err), err)
	}

	summary := fmt.Sprintf("Closed %s: status %s, realized %+.4f SOL", assetID, closed.Status, closed.RealizedPnL)
	return s.ok(ctx, notify.EventExit, "Position closed", summary)
}

// ReportPnL builds and delivers the current PnL snapshot.
func (s *Service) ReportPnL(ctx context.Context) (Result, error) {
	rep, err := s.reports.Build(ctx)
	if err != nil {
		return s.fail(ctx, "Report failed", fmt.Sprintf("Building report failed: %v", err), err)
	}
	return s.ok(ctx, notify.EventReport, "PnL report", rep.Format())
}

// GetBalance reports the bot wallet's SOL balance.
func (s *Service) GetBalance(ctx context.Context) (Result, error) {
	bal, err := s.balance.Balance(ctx)
	if err != nil {
		return s.fail(ctx, "Balance failed", fmt.Sprintf("Balance query failed: %v", err), err)
	}
	return s.ok(ctx, notify.EventReport, "Wallet balance", fmt.Sprintf("Balance: %.4f SOL", bal))
}

// ok emits the single success notification and returns the result.
func (s *Service) ok(ctx context.Context, event notify.Event, title, summary string) (Result, error) {
	if err := s.notifier.Notify(ctx, event, title, summary); err != nil {
		s.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
	}
	return Result{OK: true, Summary: summary}, nil
}

// fail emits the single failure notification and returns the result together
// with the underlying error.
func (s *Service) fail(ctx context.Context, title, summary string, err error) (Result, error) {
	if notifyErr := s.notifier.Notify(ctx, notify.EventError, title, summary); notifyErr != nil {
		s.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("title", title),
			slog.String("error", notifyErr.Error()),
		)
	}
	return Result{Summary: summary}, err
}
