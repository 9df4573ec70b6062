package pricing

import (
	"log/slog"

	"github.com/driftlabs/gridbot/internal/domain"
)

// Filter removes outlier levels from the book. The bot's own orders are
// always excluded so the grid never prices against itself; deviation
// filtering applies on top of that when maxDeviation > 0, keeping only
// levels inside [reference×(1-d), reference×(1+d)].
func Filter(book domain.OrderBook, reference, maxDeviation float64, own []domain.LiveOrder) domain.FilteredBook {
	ownBid := ownLevelMatcher(own, domain.OrderSideBuy)
	ownAsk := ownLevelMatcher(own, domain.OrderSideSell)

	var lo, hi float64
	ranged := maxDeviation > 0 && reference > 0
	if ranged {
		lo = reference * (1 - maxDeviation)
		hi = reference * (1 + maxDeviation)
	}

	out := domain.FilteredBook{}
	for _, lvl := range book.Bids {
		if ownBid(lvl) {
			continue
		}
		if ranged && (lvl.Price < lo || lvl.Price > hi) {
			out.RemovedBids++
			continue
		}
		out.Bids = append(out.Bids, lvl)
	}
	for _, lvl := range book.Asks {
		if ownAsk(lvl) {
			continue
		}
		if ranged && (lvl.Price < lo || lvl.Price > hi) {
			out.RemovedAsks++
			continue
		}
		out.Asks = append(out.Asks, lvl)
	}
	return out
}

// LogFiltering emits the per-cycle filtering summary.
func LogFiltering(logger *slog.Logger, f domain.FilteredBook, reference float64) {
	logger.Info("orderbook filtered",
		slog.Int("bids", len(f.Bids)),
		slog.Int("asks", len(f.Asks)),
		slog.Int("removed_bids", f.RemovedBids),
		slog.Int("removed_asks", f.RemovedAsks),
		slog.Float64("reference", reference),
	)
}
