package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dmarchuk/tierbot/internal/domain"
)

// LedgerView is the slice of the ledger the supervisor needs: opening
// positions and checking for existing open ones.
type LedgerView interface {
	PositionOpener
	FindOpenByAsset(ctx context.Context, assetID string) (domain.Position, error)
}

// ResultFunc is invoked once per monitor run with its terminal result, after
// the supervisor has removed the asset's handle.
type ResultFunc func(assetID string, res Result)

// Supervisor owns at most one running entry monitor per asset. Spawning a
// duplicate, whether a monitor is already running or an open position exists
// in the ledger, is rejected with domain.ErrStateConflict.
type Supervisor struct {
	cfg    Config
	market domain.MarketData
	swaps  domain.SwapExecutor
	ledger LedgerView
	onDone ResultFunc
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
	wg    sync.WaitGroup
}

// NewSupervisor creates a Supervisor. onDone may be nil.
func NewSupervisor(cfg Config, market domain.MarketData, swaps domain.SwapExecutor, ledger LedgerView, onDone ResultFunc, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		market: market,
		swaps:  swaps,
		ledger: ledger,
		onDone: onDone,
		logger: logger.With(slog.String("component", "supervisor")),
		tasks:  make(map[string]context.CancelFunc),
	}
}

// Spawn starts an entry monitor for the given spec. The monitor runs until
// it reaches a terminal outcome or Cancel/Close stops it; either way the
// asset's handle is removed before the result callback fires, so the asset
// is immediately re-watchable.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) error {
	if spec.AssetID == "" || spec.BuyAmountSOL <= 0 || spec.TargetMarketCap <= 0 {
		return fmt.Errorf("supervisor: invalid watch spec for %q: %w", spec.AssetID, domain.ErrInvalidInput)
	}

	s.mu.Lock()
	if _, running := s.tasks[spec.AssetID]; running {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: monitor already running for %s: %w", spec.AssetID, domain.ErrStateConflict)
	}
	// Reserve the slot before the ledger check so two concurrent spawns for
	// the same asset cannot both pass.
	s.tasks[spec.AssetID] = nil
	s.mu.Unlock()

	if _, err := s.ledger.FindOpenByAsset(ctx, spec.AssetID); err == nil {
		s.remove(spec.AssetID)
		return fmt.Errorf("supervisor: open position exists for %s: %w", spec.AssetID, domain.ErrStateConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.remove(spec.AssetID)
		return fmt.Errorf("supervisor: check open position for %s: %w", spec.AssetID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.tasks[spec.AssetID] = cancel
	s.mu.Unlock()

	m := New(spec, s.cfg, s.market, s.swaps, s.ledger, s.logger)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		res := m.Run(runCtx)
		s.remove(spec.AssetID)

		s.logger.InfoContext(runCtx, "monitor finished",
			slog.String("asset", spec.AssetID),
			slog.String("outcome", string(res.Outcome)),
		)
		if s.onDone != nil {
			s.onDone(spec.AssetID, res)
		}
	}()

	return nil
}

// Cancel stops the running monitor for the asset, if any. The monitor's
// result callback will report OutcomeCancelled.
func (s *Supervisor) Cancel(assetID string) error {
	s.mu.Lock()
	cancel, ok := s.tasks[assetID]
	s.mu.Unlock()
	if !ok || cancel == nil {
		return fmt.Errorf("supervisor: no monitor for %s: %w", assetID, domain.ErrNotFound)
	}
	cancel()
	return nil
}

// Watching reports whether a monitor is currently running for the asset.
func (s *Supervisor) Watching(assetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[assetID]
	return ok
}

// Assets returns the assets currently being watched.
func (s *Supervisor) Assets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		out = append(out, id)
	}
	return out
}

// Close cancels every running monitor and waits for them to finish.
func (s *Supervisor) Close() {
	s.mu.Lock()
	for _, cancel := range s.tasks {
		if cancel != nil {
			cancel()
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Supervisor) remove(assetID string) {
	s.mu.Lock()
	delete(s.tasks, assetID)
	s.mu.Unlock()
}
