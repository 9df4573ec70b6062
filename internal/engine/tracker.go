package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/driftlabs/gridbot/internal/domain"
)

// Tracker follows the bot's own orders across polls. Orders that vanish
// from the exchange's open-order list are not immediately final: a partial
// fill may still be settling, or the poll raced a cancel. Vanished orders
// sit in a settlement window; when it expires the final fill is fetched
// best-effort and any filled quantity is recorded as a trade.
type Tracker struct {
	exchange          domain.ExchangeClient
	orders            domain.OrderStore
	trades            domain.TradeStore
	settlementTimeout time.Duration
	logger            *slog.Logger

	open   map[string]domain.LiveOrder
	closed map[string]closedOrder

	// OnFill, when set, is called for every settled trade.
	OnFill func(domain.Trade)
}

type closedOrder struct {
	order         domain.LiveOrder
	disappearedAt time.Time
}

// NewTracker creates a Tracker. orders and trades may be nil, in which case
// settlement only logs.
func NewTracker(exchange domain.ExchangeClient, orders domain.OrderStore, trades domain.TradeStore, settlementTimeout time.Duration, logger *slog.Logger) *Tracker {
	return &Tracker{
		exchange:          exchange,
		orders:            orders,
		trades:            trades,
		settlementTimeout: settlementTimeout,
		logger:            logger.With(slog.String("component", "tracker")),
		open:              make(map[string]domain.LiveOrder),
		closed:            make(map[string]closedOrder),
	}
}

// Track registers a freshly placed order.
func (t *Tracker) Track(order domain.LiveOrder) {
	t.open[order.ID] = order
}

// Untrack drops an order after a confirmed cancel.
func (t *Tracker) Untrack(id string) {
	delete(t.open, id)
	delete(t.closed, id)
}

// OpenCount returns the number of orders believed open.
func (t *Tracker) OpenCount() int { return len(t.open) }

// AllIDs returns every order id the tracker still cares about, open or
// settling. Used by the shutdown cancel-all.
func (t *Tracker) AllIDs() []string {
	ids := make([]string, 0, len(t.open)+len(t.closed))
	for id := range t.open {
		ids = append(ids, id)
	}
	for id := range t.closed {
		ids = append(ids, id)
	}
	return ids
}

// Sync reconciles the tracker with the exchange's open-order list for this
// cycle. Previously tracked orders absent from the response enter the
// settlement window; settled windows are finalized.
func (t *Tracker) Sync(ctx context.Context, live []domain.LiveOrder, now time.Time) {
	current := make(map[string]bool, len(live))
	for _, o := range live {
		current[o.ID] = true
		if prev, ok := t.open[o.ID]; ok && prev.Filled != o.Filled {
			t.logger.Debug("order fill progressed",
				slog.String("order_id", o.ID),
				slog.Float64("filled", o.Filled),
			)
		}
		t.open[o.ID] = o

		// An order that reappears was not closed after all.
		delete(t.closed, o.ID)
	}

	for id, order := range t.open {
		if current[id] {
			continue
		}
		delete(t.open, id)
		if _, already := t.closed[id]; !already {
			t.logger.Info("order disappeared, monitoring for settlement",
				slog.String("order_id", id),
			)
			t.closed[id] = closedOrder{order: order, disappearedAt: now}
		}
	}

	for id, co := range t.closed {
		if now.Sub(co.disappearedAt) >= t.settlementTimeout {
			delete(t.closed, id)
			t.finalize(ctx, id, co)
		}
	}
}

// finalize fetches the final fill for a settled order and records the
// trade when anything filled. Fetch failures fall back to the last seen
// fill amount; settlement is best-effort, never fatal.
func (t *Tracker) finalize(ctx context.Context, id string, co closedOrder) {
	filled := co.order.Filled
	status := domain.OrderStatusCancelled

	final, err := t.exchange.FetchOrder(ctx, id)
	switch {
	case err == nil:
		filled = final.Filled
		if final.Status == domain.OrderStatusFilled || final.Status == domain.OrderStatusPartiallyFilled {
			status = final.Status
		}
	case errors.Is(err, domain.ErrOrderNotFound):
		// Exchange purged it; keep the last known fill.
	default:
		t.logger.Warn("could not fetch final order state",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
	}

	if filled > 0 && status == domain.OrderStatusCancelled {
		status = domain.OrderStatusFilled
	}

	if t.orders != nil {
		if err := t.orders.UpdateStatus(ctx, id, status); err != nil && !errors.Is(err, domain.ErrNotFound) {
			t.logger.Warn("order status update failed",
				slog.String("order_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	if filled <= 0 {
		t.logger.Info("order settled without fills", slog.String("order_id", id))
		return
	}

	trade := domain.Trade{
		ID:        uuid.New().String(),
		OrderID:   id,
		Symbol:    co.order.Symbol,
		Side:      co.order.Side,
		Price:     co.order.Price,
		Quantity:  filled,
		Timestamp: time.Now().UTC(),
	}
	if t.trades != nil {
		if err := t.trades.Record(ctx, trade); err != nil {
			t.logger.Warn("trade record failed",
				slog.String("order_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	t.logger.Info("fill settled",
		slog.String("order_id", id),
		slog.String("side", string(trade.Side)),
		slog.Float64("price", trade.Price),
		slog.Float64("quantity", trade.Quantity),
	)
	if t.OnFill != nil {
		t.OnFill(trade)
	}
}
