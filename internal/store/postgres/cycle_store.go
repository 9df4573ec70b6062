package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftlabs/gridbot/internal/domain"
)

// CycleStore implements domain.CycleStore using PostgreSQL.
type CycleStore struct {
	pool *pgxpool.Pool
}

// NewCycleStore creates a CycleStore backed by the given connection pool.
func NewCycleStore(pool *pgxpool.Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

// Record inserts a per-cycle summary.
func (s *CycleStore) Record(ctx context.Context, c domain.CycleSummary) error {
	const query = `
		INSERT INTO cycles (
			id, symbol, reference, source, removed_bids, removed_asks,
			inventory_ratio, desired_orders, placed, cancelled, kept,
			started_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		c.ID, c.Symbol, c.Reference, c.Source, c.RemovedBids, c.RemovedAsks,
		c.InventoryRatio, c.DesiredOrders, c.Placed, c.Cancelled, c.Kept,
		c.StartedAt, c.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres: record cycle %s: %w", c.ID, err)
	}
	return nil
}

var _ domain.CycleStore = (*CycleStore)(nil)
