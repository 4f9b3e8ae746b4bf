package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmarchuk/tierbot/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const fillSelectCols = `id, position_id, kind, base_amount, asset_quantity,
	unit_price, pnl_realized, tier_id, external_ref, settled, created_at`

func scanFillRows(rows pgx.Rows) ([]domain.Fill, error) {
	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var kind string
		if err := rows.Scan(
			&f.ID, &f.PositionID, &kind, &f.BaseAmount, &f.AssetQuantity,
			&f.UnitPrice, &f.PnLRealized, &f.TierID, &f.ExternalRef,
			&f.Settled, &f.CreatedAt,
		); err != nil {
			return nil, err
		}
		f.Kind = domain.FillKind(kind)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// Create inserts a new fill.
func (s *FillStore) Create(ctx context.Context, f domain.Fill) error {
	const query = `
		INSERT INTO fills (
			id, position_id, kind, base_amount, asset_quantity,
			unit_price, pnl_realized, tier_id, external_ref, settled, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)`

	_, err := s.pool.Exec(ctx, query,
		f.ID, f.PositionID, string(f.Kind), f.BaseAmount, f.AssetQuantity,
		f.UnitPrice, f.PnLRealized, f.TierID, f.ExternalRef, f.Settled, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create fill %s: %w", f.ID, err)
	}
	return nil
}

// ListByPosition returns all fills for a position, oldest first.
func (s *FillStore) ListByPosition(ctx context.Context, positionID string) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillSelectCols+` FROM fills
		 WHERE position_id = $1
		 ORDER BY created_at ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills for %s: %w", positionID, err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills for %s: %w", positionID, err)
	}
	return fills, nil
}

// ListUnsettled returns exit fills with positive realized PnL that have not
// been forwarded yet.
func (s *FillStore) ListUnsettled(ctx context.Context) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillSelectCols+` FROM fills
		 WHERE settled = FALSE
		   AND kind IN ('partial_exit', 'full_exit')
		   AND pnl_realized > 0
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unsettled fills: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan unsettled fills: %w", err)
	}
	return fills, nil
}

// MarkSettled flips the settled flag for a fill.
func (s *FillStore) MarkSettled(ctx context.Context, fillID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fills SET settled = TRUE WHERE id = $1`, fillID)
	if err != nil {
		return fmt.Errorf("postgres: mark fill %s settled: %w", fillID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteByPosition removes all fills belonging to a position.
func (s *FillStore) DeleteByPosition(ctx context.Context, positionID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM fills WHERE position_id = $1`, positionID)
	if err != nil {
		return fmt.Errorf("postgres: delete fills for %s: %w", positionID, err)
	}
	return nil
}

var _ domain.FillStore = (*FillStore)(nil)
