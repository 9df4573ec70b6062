// Package file implements the domain store interfaces as append-only JSONL
// files, the fallback when no database DSN is configured. Each record type
// lives in its own file next to the configured path; writes are serialized
// through a mutex, reads replay the file.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/driftlabs/gridbot/internal/domain"
)

// Store holds all three record stores over one directory.
type Store struct {
	mu         sync.Mutex
	ordersPath string
	tradesPath string
	cyclesPath string
}

// orderRecord is the on-disk order row. Status updates append a new row for
// the same id; the latest row wins on read.
type orderRecord struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Filled    float64   `json:"filled"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type tradeRecord struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	ExecutedAt time.Time `json:"executed_at"`
}

// New creates the Store rooted at path. The directory is created if absent;
// path itself names the orders file, with trades and cycles files derived
// from it.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("file: empty store path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file: create store dir: %w", err)
	}

	base := strings.TrimSuffix(path, filepath.Ext(path))
	return &Store{
		ordersPath: base + ".orders.jsonl",
		tradesPath: base + ".trades.jsonl",
		cyclesPath: base + ".cycles.jsonl",
	}, nil
}

// Record appends the order row.
func (s *Store) Record(ctx context.Context, o domain.LiveOrder) error {
	return s.append(s.ordersPath, orderRecord{
		ID:        o.ID,
		Symbol:    o.Symbol,
		Side:      string(o.Side),
		Price:     o.Price,
		Size:      o.Size,
		Filled:    o.Filled,
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt,
	})
}

// UpdateStatus appends a status-change row for an already recorded order.
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	orders, err := s.readOrders()
	if err != nil {
		return err
	}
	last, ok := orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	last.Status = string(status)
	return s.append(s.ordersPath, last)
}

// ListBefore returns the latest state of orders created before the cutoff.
func (s *Store) ListBefore(ctx context.Context, before time.Time) ([]domain.LiveOrder, error) {
	orders, err := s.readOrders()
	if err != nil {
		return nil, err
	}
	var out []domain.LiveOrder
	for _, r := range orders {
		if !r.CreatedAt.Before(before) {
			continue
		}
		out = append(out, domain.LiveOrder{
			ID:        r.ID,
			Symbol:    r.Symbol,
			Side:      domain.OrderSide(r.Side),
			Price:     r.Price,
			Size:      r.Size,
			Filled:    r.Filled,
			Status:    domain.OrderStatus(r.Status),
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// DeleteBefore rewrites the orders file without rows older than the cutoff.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	orders, err := s.readOrders()
	if err != nil {
		return 0, err
	}

	var kept []orderRecord
	var deleted int64
	for _, r := range orders {
		if r.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	if deleted == 0 {
		return 0, nil
	}

	records := make([]any, 0, len(kept))
	for _, r := range kept {
		records = append(records, r)
	}
	return deleted, s.rewrite(s.ordersPath, records)
}

// Trades returns the trade-store view of this Store.
func (s *Store) Trades() *TradeStore { return &TradeStore{s: s} }

// Cycles returns the cycle-store view of this Store.
func (s *Store) Cycles() *CycleStore { return &CycleStore{s: s} }

// TradeStore is the domain.TradeStore view over the shared files.
type TradeStore struct {
	s *Store
}

// Record appends the trade row.
func (t *TradeStore) Record(ctx context.Context, tr domain.Trade) error {
	return t.s.append(t.s.tradesPath, tradeRecord{
		ID:         tr.ID,
		OrderID:    tr.OrderID,
		Symbol:     tr.Symbol,
		Side:       string(tr.Side),
		Price:      tr.Price,
		Quantity:   tr.Quantity,
		ExecutedAt: tr.Timestamp,
	})
}

// ListBefore returns trades executed before the cutoff.
func (t *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	var out []domain.Trade
	err := t.s.scan(t.s.tradesPath, func(line []byte) error {
		var r tradeRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil // skip corrupt lines
		}
		if !r.ExecutedAt.Before(before) {
			return nil
		}
		out = append(out, domain.Trade{
			ID:        r.ID,
			OrderID:   r.OrderID,
			Symbol:    r.Symbol,
			Side:      domain.OrderSide(r.Side),
			Price:     r.Price,
			Quantity:  r.Quantity,
			Timestamp: r.ExecutedAt,
		})
		return nil
	})
	return out, err
}

// DeleteBefore rewrites the trades file without rows older than the cutoff.
func (t *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	var kept []any
	var deleted int64
	err := t.s.scan(t.s.tradesPath, func(line []byte) error {
		var r tradeRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil
		}
		if r.ExecutedAt.Before(before) {
			deleted++
			return nil
		}
		kept = append(kept, r)
		return nil
	})
	if err != nil || deleted == 0 {
		return 0, err
	}
	return deleted, t.s.rewrite(t.s.tradesPath, kept)
}

// CycleStore is the domain.CycleStore view over the shared files.
type CycleStore struct {
	s *Store
}

// Record appends the cycle summary row.
func (c *CycleStore) Record(ctx context.Context, summary domain.CycleSummary) error {
	return c.s.append(c.s.cyclesPath, summary)
}

func (s *Store) append(path string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("file: marshal record: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("file: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("file: append %s: %w", path, err)
	}
	return nil
}

func (s *Store) scan(path string, fn func(line []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("file: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// readOrders replays the orders file; the last row per id wins.
func (s *Store) readOrders() (map[string]orderRecord, error) {
	out := make(map[string]orderRecord)
	err := s.scan(s.ordersPath, func(line []byte) error {
		var r orderRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil // skip corrupt lines
		}
		out[r.ID] = r
		return nil
	})
	return out, err
}

// rewrite atomically replaces the file's contents with the given records.
func (s *Store) rewrite(path string, records []any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("file: open %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			f.Close()
			return fmt.Errorf("file: marshal record: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("file: write %s: %w", tmp, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("file: flush %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("file: close %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

var (
	_ domain.OrderStore = (*Store)(nil)
	_ domain.TradeStore = (*TradeStore)(nil)
	_ domain.CycleStore = (*CycleStore)(nil)
)
