package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftlabs/gridbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Record inserts a settled fill. Duplicate ids are ignored.
func (s *TradeStore) Record(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (id, order_id, symbol, side, price, quantity, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.OrderID, t.Symbol, string(t.Side), t.Price, t.Quantity, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: record trade %s: %w", t.ID, err)
	}
	return nil
}

// ListBefore returns trades executed before the cutoff, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	const query = `
		SELECT id, order_id, symbol, side, price, quantity, executed_at
		FROM trades WHERE executed_at < $1 ORDER BY executed_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &side, &t.Price, &t.Quantity, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Side = domain.OrderSide(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteBefore removes trades executed before the cutoff and returns the
// number deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE executed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
