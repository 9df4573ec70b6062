package domain

import (
	"context"
	"time"
)

// OrderStore persists the bot's order history.
type OrderStore interface {
	Record(ctx context.Context, order LiveOrder) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	ListBefore(ctx context.Context, before time.Time) ([]LiveOrder, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TradeStore persists fills detected by the order tracker.
type TradeStore interface {
	Record(ctx context.Context, trade Trade) error
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// CycleStore persists per-cycle summaries, keyed by timestamp.
type CycleStore interface {
	Record(ctx context.Context, summary CycleSummary) error
}

// PriceCache caches the latest reference price per symbol so operators and
// sibling processes can read it without hitting the exchange.
type PriceCache interface {
	SetReference(ctx context.Context, symbol string, ref ReferencePrice, ts time.Time) error
	GetReference(ctx context.Context, symbol string) (ReferencePrice, time.Time, error)
}

// LockManager guards against two live instances quoting the same symbol.
type LockManager interface {
	// Acquire takes the lock for symbol or returns ErrLockHeld. The returned
	// release function is safe to call more than once.
	Acquire(ctx context.Context, symbol string, ttl time.Duration) (release func(), err error)
}

// BlobWriter stores an archive object.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
