// Package pricing computes trusted reference prices from market snapshots
// and filters orderbook levels against them.
package pricing

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/driftlabs/gridbot/internal/domain"
)

// autoSpreadSanityRatio rejects a ticker mid whose ask/bid ratio exceeds
// this bound; a book that wide is not a usable fair-value signal.
const autoSpreadSanityRatio = 10.0

// Oracle computes reference prices from a MarketSnapshot. It is stateless;
// every computation works only on the snapshot it is given.
type Oracle struct {
	logger *slog.Logger
}

// NewOracle creates an Oracle.
func NewOracle(logger *slog.Logger) *Oracle {
	return &Oracle{logger: logger.With(slog.String("component", "oracle"))}
}

// Compute derives a reference price from the snapshot using the given
// source. It returns ErrNoReferencePrice when the source's inputs are
// missing or empty; it never returns a zero or negative price.
func (o *Oracle) Compute(source domain.PriceSource, snap *domain.MarketSnapshot) (domain.ReferencePrice, error) {
	switch source {
	case domain.PriceSourceVWAP:
		return o.vwap(snap)
	case domain.PriceSourceTickerMid:
		return o.tickerMid(snap)
	case domain.PriceSourceLast:
		return o.last(snap)
	case domain.PriceSourceNearestBid:
		return o.nearest(snap, domain.OrderSideBuy)
	case domain.PriceSourceNearestAsk:
		return o.nearest(snap, domain.OrderSideSell)
	default:
		return domain.ReferencePrice{}, fmt.Errorf("pricing: unknown price source %q: %w", source, domain.ErrNoReferencePrice)
	}
}

// vwap prefers the exchange-reported VWAP, falling back to a volume-weighted
// average over the snapshot's recent trades.
func (o *Oracle) vwap(snap *domain.MarketSnapshot) (domain.ReferencePrice, error) {
	if snap.Ticker.VWAP > 0 {
		return domain.ReferencePrice{Value: snap.Ticker.VWAP, Source: domain.PriceSourceVWAP}, nil
	}

	var notional, volume float64
	for _, t := range snap.Trades {
		if t.Price <= 0 || t.Size <= 0 {
			continue
		}
		notional += t.Price * t.Size
		volume += t.Size
	}
	if volume <= 0 {
		return domain.ReferencePrice{}, fmt.Errorf("pricing: vwap: no trade volume: %w", domain.ErrNoReferencePrice)
	}
	return domain.ReferencePrice{Value: notional / volume, Source: domain.PriceSourceVWAP}, nil
}

func (o *Oracle) tickerMid(snap *domain.MarketSnapshot) (domain.ReferencePrice, error) {
	t := snap.Ticker
	if t.Bid <= 0 || t.Ask <= 0 {
		return domain.ReferencePrice{}, fmt.Errorf("pricing: ticker_mid: bid/ask missing: %w", domain.ErrNoReferencePrice)
	}
	return domain.ReferencePrice{Value: (t.Bid + t.Ask) / 2, Source: domain.PriceSourceTickerMid}, nil
}

func (o *Oracle) last(snap *domain.MarketSnapshot) (domain.ReferencePrice, error) {
	if snap.Ticker.Last <= 0 {
		return domain.ReferencePrice{}, fmt.Errorf("pricing: last: no last trade: %w", domain.ErrNoReferencePrice)
	}
	return domain.ReferencePrice{Value: snap.Ticker.Last, Source: domain.PriceSourceLast}, nil
}

// nearest selects the book level on the given side numerically closest to a
// stable anchor. The anchor is the vwap → ticker_mid → last cascade, so one
// extreme resting order cannot become the reference by itself.
func (o *Oracle) nearest(snap *domain.MarketSnapshot, side domain.OrderSide) (domain.ReferencePrice, error) {
	anchor, err := o.anchor(snap)
	if err != nil {
		return domain.ReferencePrice{}, err
	}

	levels := snap.Book.Bids
	source := domain.PriceSourceNearestBid
	if side == domain.OrderSideSell {
		levels = snap.Book.Asks
		source = domain.PriceSourceNearestAsk
	}
	own := ownLevelMatcher(snap.OpenOrders, side)

	best := 0.0
	bestDist := math.Inf(1)
	for _, lvl := range levels {
		if lvl.Price <= 0 || own(lvl) {
			continue
		}
		if d := math.Abs(lvl.Price - anchor.Value); d < bestDist {
			bestDist = d
			best = lvl.Price
		}
	}
	if best <= 0 {
		return domain.ReferencePrice{}, fmt.Errorf("pricing: %s: side empty: %w", source, domain.ErrNoReferencePrice)
	}

	o.logger.Debug("nearest level selected",
		slog.String("source", string(source)),
		slog.Float64("anchor", anchor.Value),
		slog.Float64("price", best),
	)
	return domain.ReferencePrice{Value: best, Source: source}, nil
}

// anchor is the internal price cascade used by the nearest_* sources.
func (o *Oracle) anchor(snap *domain.MarketSnapshot) (domain.ReferencePrice, error) {
	if ref, err := o.vwap(snap); err == nil {
		return ref, nil
	}
	if ref, err := o.tickerMid(snap); err == nil {
		return ref, nil
	}
	return o.last(snap)
}

// Resolve synthesizes a fallback reference price after deviation filtering
// emptied one or both book sides. Mode "auto" tries vwap, then the ticker
// mid guarded by a spread sanity check, then the last price. When BOTH
// sides were filtered away the book gave no usable signal at all, so auto
// degrades to vwap-or-nothing.
func (o *Oracle) Resolve(mode domain.PriceSource, snap *domain.MarketSnapshot, bothSidesEmpty bool) (domain.ReferencePrice, error) {
	if mode != domain.PriceSourceAuto {
		return o.Compute(mode, snap)
	}

	if ref, err := o.vwap(snap); err == nil {
		return ref, nil
	}
	if bothSidesEmpty {
		return domain.ReferencePrice{}, fmt.Errorf("pricing: auto fallback with empty book: %w", domain.ErrNoReferencePrice)
	}

	t := snap.Ticker
	if t.Bid > 0 && t.Ask > 0 {
		if ratio := t.Ask / t.Bid; ratio < autoSpreadSanityRatio {
			return domain.ReferencePrice{Value: (t.Bid + t.Ask) / 2, Source: domain.PriceSourceTickerMid}, nil
		}
		o.logger.Warn("ticker spread too wide for auto fallback",
			slog.Float64("bid", t.Bid),
			slog.Float64("ask", t.Ask),
		)
	}
	return o.last(snap)
}

// ownLevelMatcher returns a predicate that reports whether a book level
// belongs to one of the bot's own orders on the given side. Venues that tag
// levels with order ids are matched by id; aggregated books are matched by
// exact price.
func ownLevelMatcher(orders []domain.LiveOrder, side domain.OrderSide) func(domain.PriceLevel) bool {
	ids := make(map[string]bool)
	prices := make(map[float64]bool)
	for _, ord := range orders {
		if ord.Side != side {
			continue
		}
		if ord.ID != "" {
			ids[ord.ID] = true
		}
		prices[ord.Price] = true
	}
	return func(lvl domain.PriceLevel) bool {
		if lvl.OrderID != "" && ids[lvl.OrderID] {
			return true
		}
		return prices[lvl.Price]
	}
}
