package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coinbot/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

var _ domain.FillStore = (*FillStore)(nil)

// NewFillStore creates a FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Insert appends one fill to the journal.
func (s *FillStore) Insert(ctx context.Context, f domain.Fill) error {
	const query = `
		INSERT INTO fills (order_id, pair, side, quantity, price, paper, filled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		f.OrderID, string(f.Pair), string(f.Side), f.Quantity, f.Price, f.Paper, f.Time)
	if err != nil {
		return fmt.Errorf("postgres: insert fill for order %s: %w", f.OrderID, err)
	}
	return nil
}

// ListSince returns fills at or after the cutoff, oldest first.
func (s *FillStore) ListSince(ctx context.Context, since time.Time) ([]domain.Fill, error) {
	return s.list(ctx, `SELECT id, order_id, pair, side, quantity, price, paper, filled_at
		FROM fills WHERE filled_at >= $1 ORDER BY filled_at ASC`, since)
}

// ListBefore returns fills before the cutoff, oldest first; used by the
// daily archiver.
func (s *FillStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Fill, error) {
	return s.list(ctx, `SELECT id, order_id, pair, side, quantity, price, paper, filled_at
		FROM fills WHERE filled_at < $1 ORDER BY filled_at ASC`, before)
}

func (s *FillStore) list(ctx context.Context, query string, arg any) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills: %w", err)
	}
	defer rows.Close()

	fills, err := scanFills(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills: %w", err)
	}
	return fills, nil
}

func scanFills(rows pgx.Rows) ([]domain.Fill, error) {
	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var pair, side string
		if err := rows.Scan(&f.ID, &f.OrderID, &pair, &side, &f.Quantity, &f.Price, &f.Paper, &f.Time); err != nil {
			return nil, err
		}
		f.Pair = domain.Pair(pair)
		f.Side = domain.OrderSide(side)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}
