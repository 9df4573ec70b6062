package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftlabs/gridbot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Record inserts a placed order. Replaying the same id updates the fill and
// status instead, so a crash between place and record stays harmless.
func (s *OrderStore) Record(ctx context.Context, o domain.LiveOrder) error {
	const query = `
		INSERT INTO orders (id, symbol, side, price, size, filled, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET filled = EXCLUDED.filled, status = EXCLUDED.status, updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.Symbol, string(o.Side), o.Price, o.Size, o.Filled, string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateStatus changes the status of an existing order.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	const query = `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := s.pool.Exec(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update order status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListBefore returns orders created before the cutoff, oldest first.
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time) ([]domain.LiveOrder, error) {
	const query = `
		SELECT id, symbol, side, price, size, filled, status, created_at
		FROM orders WHERE created_at < $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	var out []domain.LiveOrder
	for rows.Next() {
		var o domain.LiveOrder
		var side, status string
		if err := rows.Scan(&o.ID, &o.Symbol, &side, &o.Price, &o.Size, &o.Filled, &status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		o.Side = domain.OrderSide(side)
		o.Status = domain.OrderStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeleteBefore removes orders created before the cutoff and returns the
// number deleted.
func (s *OrderStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
