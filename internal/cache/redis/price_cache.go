package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftlabs/gridbot/internal/domain"
)

// refKeyTTL keeps stale references from outliving a dead bot for long.
const refKeyTTL = time.Hour

// PriceCache implements domain.PriceCache using Redis hashes. Each symbol's
// reference price lives at key "ref:{symbol}" with fields "price", "source",
// and "ts" (Unix nanosecond timestamp), so operators and sibling processes
// can read the bot's view without touching the exchange.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func refKey(symbol string) string {
	return "ref:" + symbol
}

// SetReference stores the latest reference price for a symbol.
func (pc *PriceCache) SetReference(ctx context.Context, symbol string, ref domain.ReferencePrice, ts time.Time) error {
	key := refKey(symbol)
	fields := map[string]interface{}{
		"price":  strconv.FormatFloat(ref.Value, 'f', -1, 64),
		"source": string(ref.Source),
		"ts":     strconv.FormatInt(ts.UnixNano(), 10),
	}
	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, refKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set reference %s: %w", symbol, err)
	}
	return nil
}

// GetReference retrieves the latest reference price for a symbol. It
// returns domain.ErrNotFound when no reference has been stored.
func (pc *PriceCache) GetReference(ctx context.Context, symbol string) (domain.ReferencePrice, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, refKey(symbol)).Result()
	if err != nil {
		return domain.ReferencePrice{}, time.Time{}, fmt.Errorf("redis: get reference %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.ReferencePrice{}, time.Time{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return domain.ReferencePrice{}, time.Time{}, fmt.Errorf("redis: parse reference price %s: %w", symbol, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.ReferencePrice{}, time.Time{}, fmt.Errorf("redis: parse reference ts %s: %w", symbol, err)
	}

	ref := domain.ReferencePrice{
		Value:  price,
		Source: domain.PriceSource(vals["source"]),
	}
	return ref, time.Unix(0, tsNano), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
