package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coinbot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates an OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts a new order row.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, pair, side, quantity, limit_price, paper,
			state, attempts, exchange_id, last_error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, string(o.Pair), string(o.Side), o.Quantity, o.LimitPrice, o.Paper,
		string(o.State), o.Attempts, o.ExchangeID, o.LastErr, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateState changes the lifecycle state of an existing order.
func (s *OrderStore) UpdateState(ctx context.Context, id string, state domain.OrderState, lastErr string) error {
	const query = `
		UPDATE orders
		SET state = $1, last_error = NULLIF($2, ''), updated_at = NOW()
		WHERE id = $3`

	tag, err := s.pool.Exec(ctx, query, string(state), lastErr, id)
	if err != nil {
		return fmt.Errorf("postgres: update order state %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordFill finalizes a filled order row with the execution details.
func (s *OrderStore) RecordFill(ctx context.Context, o domain.Order) error {
	const query = `
		UPDATE orders
		SET state = $1, exchange_id = NULLIF($2, ''), fill_price = $3,
		    fill_quantity = $4, attempts = $5, filled_at = $6,
		    last_error = NULL, updated_at = NOW()
		WHERE id = $7`

	tag, err := s.pool.Exec(ctx, query,
		string(o.State), o.ExchangeID, o.FillPrice, o.FillQuantity, o.Attempts, o.FilledAt, o.ID)
	if err != nil {
		return fmt.Errorf("postgres: record fill %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderSelectCols = `id, pair, side, quantity, limit_price, paper,
	state, attempts, COALESCE(exchange_id, ''), COALESCE(fill_price, 0),
	COALESCE(fill_quantity, 0), COALESCE(last_error, ''), created_at,
	COALESCE(filled_at, 'epoch'::timestamptz)`

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var pair, side, state string

	err := scanner.Scan(
		&o.ID, &pair, &side, &o.Quantity, &o.LimitPrice, &o.Paper,
		&state, &o.Attempts, &o.ExchangeID, &o.FillPrice,
		&o.FillQuantity, &o.LastErr, &o.CreatedAt, &o.FilledAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Pair = domain.Pair(pair)
	o.Side = domain.OrderSide(side)
	o.State = domain.OrderState(state)
	return o, nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListBefore returns orders created before the cutoff, oldest first; used by
// the daily archiver.
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE created_at < $1
		 ORDER BY created_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders before %s: %w", before, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
