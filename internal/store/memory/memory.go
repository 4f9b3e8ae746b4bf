// Package memory implements the domain stores with in-process maps. It backs
// dry-run mode, where trades are simulated and nothing should touch the
// database, and doubles as the store implementation for tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dmarchuk/tierbot/internal/domain"
)

// PositionStore is an in-memory domain.PositionStore.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

// NewPositionStore creates an empty in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.Position)}
}

func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = clonePosition(p)
	return nil
}

func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.positions[p.ID] = clonePosition(p)
	return nil
}

func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return clonePosition(p), nil
}

func (s *PositionStore) FindOpenByAsset(ctx context.Context, assetID string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.positions {
		if p.AssetID != assetID {
			continue
		}
		if p.Status == domain.PositionStatusMonitoring || p.Status == domain.PositionStatusActive {
			return clonePosition(p), nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *PositionStore) ListByStatus(ctx context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == status {
			out = append(out, clonePosition(p))
		}
	}
	sortPositions(out)
	return out, nil
}

func (s *PositionStore) List(ctx context.Context) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, clonePosition(p))
	}
	sortPositions(out)
	return out, nil
}

func (s *PositionStore) ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, p := range s.positions {
		terminal := p.Status == domain.PositionStatusCompleted || p.Status == domain.PositionStatusCancelled
		if terminal && p.UpdatedAt.Before(cutoff) {
			out = append(out, clonePosition(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *PositionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.positions, id)
	return nil
}

func clonePosition(p domain.Position) domain.Position {
	p.FiredTiers = append([]string(nil), p.FiredTiers...)
	return p
}

func sortPositions(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].CreatedAt.Before(ps[j].CreatedAt) })
}

// FillStore is an in-memory domain.FillStore.
type FillStore struct {
	mu    sync.RWMutex
	fills []domain.Fill
}

// NewFillStore creates an empty in-memory fill store.
func NewFillStore() *FillStore {
	return &FillStore{}
}

func (s *FillStore) Create(ctx context.Context, f domain.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, f)
	return nil
}

func (s *FillStore) ListByPosition(ctx context.Context, positionID string) ([]domain.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Fill
	for _, f := range s.fills {
		if f.PositionID == positionID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *FillStore) ListUnsettled(ctx context.Context) ([]domain.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Fill
	for _, f := range s.fills {
		if f.Kind.IsExit() && f.PnLRealized > 0 && !f.Settled {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *FillStore) MarkSettled(ctx context.Context, fillID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.fills {
		if s.fills[i].ID == fillID {
			s.fills[i].Settled = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *FillStore) DeleteByPosition(ctx context.Context, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.fills[:0]
	for _, f := range s.fills {
		if f.PositionID != positionID {
			kept = append(kept, f)
		}
	}
	s.fills = kept
	return nil
}

// PriceCache is an in-memory domain.PriceCache.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]pricePoint
}

type pricePoint struct {
	usd float64
	ts  time.Time
}

// NewPriceCache creates an empty in-memory price cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]pricePoint)}
}

func (c *PriceCache) SetPrice(ctx context.Context, assetID string, priceUSD float64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[assetID] = pricePoint{usd: priceUSD, ts: ts}
	return nil
}

func (c *PriceCache) GetPrice(ctx context.Context, assetID string) (float64, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[assetID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p.usd, p.ts, nil
}

// LockManager is an in-process domain.LockManager keyed by string.
type LockManager struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLockManager creates an in-process lock manager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]bool)}
}

// lockPollInterval is how often a blocked AcquireWait rechecks the key.
const lockPollInterval = 5 * time.Millisecond

func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.held[key] {
		return nil, domain.ErrLockHeld
	}
	lm.held[key] = true
	released := false
	return func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if released {
			return
		}
		released = true
		delete(lm.held, key)
	}, nil
}

func (lm *LockManager) AcquireWait(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	for {
		unlock, err := lm.Acquire(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, domain.ErrLockHeld
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Compile-time interface checks.
var (
	_ domain.PositionStore = (*PositionStore)(nil)
	_ domain.FillStore     = (*FillStore)(nil)
	_ domain.PriceCache    = (*PriceCache)(nil)
	_ domain.LockManager   = (*LockManager)(nil)
)
