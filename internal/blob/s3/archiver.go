package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/driftlabs/gridbot/internal/domain"
)

// Archiver moves aged order and trade history out of the primary store into
// object storage as JSONL. Records are deleted from the store only after
// their archive object uploaded successfully.
type Archiver struct {
	writer domain.BlobWriter
	orders domain.OrderStore
	trades domain.TradeStore
	symbol string
	maxAge time.Duration
	logger *slog.Logger
}

// NewArchiver creates an Archiver. maxAge is how long records stay in the
// primary store before the next run moves them out.
func NewArchiver(writer domain.BlobWriter, orders domain.OrderStore, trades domain.TradeStore, symbol string, maxAge time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		orders: orders,
		trades: trades,
		symbol: symbol,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Run archives on the given interval until ctx is cancelled. One pass runs
// immediately at startup.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := a.Archive(ctx); err != nil {
			a.logger.Error("archive pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Archive moves everything older than maxAge to object storage.
func (a *Archiver) Archive(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-a.maxAge)

	if err := a.archiveOrders(ctx, cutoff); err != nil {
		return err
	}
	return a.archiveTrades(ctx, cutoff)
}

func (a *Archiver) archiveOrders(ctx context.Context, cutoff time.Time) error {
	orders, err := a.orders.ListBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("s3blob: list orders for archive: %w", err)
	}
	if len(orders) == 0 {
		return nil
	}

	records := make([]any, 0, len(orders))
	for _, o := range orders {
		records = append(records, o)
	}
	key := a.key("orders", cutoff)
	if err := a.upload(ctx, key, records); err != nil {
		return err
	}

	deleted, err := a.orders.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("s3blob: delete archived orders: %w", err)
	}
	a.logger.Info("orders archived",
		slog.String("key", key),
		slog.Int("archived", len(orders)),
		slog.Int64("deleted", deleted),
	)
	return nil
}

func (a *Archiver) archiveTrades(ctx context.Context, cutoff time.Time) error {
	trades, err := a.trades.ListBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("s3blob: list trades for archive: %w", err)
	}
	if len(trades) == 0 {
		return nil
	}

	records := make([]any, 0, len(trades))
	for _, t := range trades {
		records = append(records, t)
	}
	key := a.key("trades", cutoff)
	if err := a.upload(ctx, key, records); err != nil {
		return err
	}

	deleted, err := a.trades.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("s3blob: delete archived trades: %w", err)
	}
	a.logger.Info("trades archived",
		slog.String("key", key),
		slog.Int("archived", len(trades)),
		slog.Int64("deleted", deleted),
	)
	return nil
}

// upload serializes records as JSONL and writes them under key.
func (a *Archiver) upload(ctx context.Context, key string, records []any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("s3blob: encode archive record: %w", err)
		}
	}
	if err := a.writer.Put(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: upload archive %s: %w", key, err)
	}
	return nil
}

// key builds "archive/{symbol}/{kind}/{cutoff}.jsonl" with the symbol's
// slash flattened so it stays one path segment.
func (a *Archiver) key(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		strings.ReplaceAll(a.symbol, "/", "-"), kind, cutoff.Format("2006-01-02T15-04-05"))
}
