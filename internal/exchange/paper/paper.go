// Package paper implements a simulated exchange for dry-run mode. It keeps
// an in-memory book and balances, fills resting orders when a simulated
// price crosses them, and tags its book levels with order ids so the
// self-exclusion path gets exercised end to end.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftlabs/gridbot/internal/domain"
)

// Config seeds the simulation.
type Config struct {
	Symbol       string
	StartPrice   float64
	BaseBalance  float64
	QuoteBalance float64
	// Drift bounds the per-poll random walk as a fraction of price.
	Drift float64
}

// Exchange is the simulated venue. All methods are safe for concurrent use.
type Exchange struct {
	cfg    Config
	logger *slog.Logger
	rng    *rand.Rand

	mu        sync.Mutex
	price     float64
	vwap      float64
	orders    map[string]*domain.LiveOrder
	closed    map[string]domain.LiveOrder
	balances  domain.Balances
	lastTicks []domain.TradeTick
}

// New creates a paper exchange seeded from cfg.
func New(cfg Config, logger *slog.Logger) *Exchange {
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 10
	}
	if cfg.Drift <= 0 {
		cfg.Drift = 0.0005
	}
	return &Exchange{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "paper")),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		price:  cfg.StartPrice,
		vwap:   cfg.StartPrice,
		orders: make(map[string]*domain.LiveOrder),
		closed: make(map[string]domain.LiveOrder),
		balances: domain.Balances{
			BaseFree:   cfg.BaseBalance,
			BaseTotal:  cfg.BaseBalance,
			QuoteFree:  cfg.QuoteBalance,
			QuoteTotal: cfg.QuoteBalance,
		},
	}
}

// FetchTicker advances the random walk one step and returns the ticker.
func (e *Exchange) FetchTicker(ctx context.Context) (domain.Ticker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.step()
	half := e.price * 0.0005
	return domain.Ticker{
		Bid:  e.price - half,
		Ask:  e.price + half,
		Last: e.price,
		VWAP: e.vwap,
	}, nil
}

// FetchOrderBook synthesizes a book around the current price. The bot's
// resting orders appear as levels tagged with their order ids.
func (e *Exchange) FetchOrderBook(ctx context.Context, depth int) (domain.OrderBook, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if depth <= 0 {
		depth = 10
	}
	var book domain.OrderBook
	for i := 1; i <= depth; i++ {
		offset := e.price * 0.0008 * float64(i)
		size := 5 + e.rng.Float64()*20
		book.Bids = append(book.Bids, domain.PriceLevel{Price: e.price - offset, Size: size})
		book.Asks = append(book.Asks, domain.PriceLevel{Price: e.price + offset, Size: size})
	}
	for _, o := range e.orders {
		lvl := domain.PriceLevel{Price: o.Price, Size: o.Size - o.Filled, OrderID: o.ID}
		if o.Side == domain.OrderSideBuy {
			book.Bids = append(book.Bids, lvl)
		} else {
			book.Asks = append(book.Asks, lvl)
		}
	}
	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price < book.Asks[j].Price })
	return book, nil
}

// FetchOpenOrders returns the resting simulated orders.
func (e *Exchange) FetchOpenOrders(ctx context.Context) ([]domain.LiveOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.LiveOrder, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FetchBalance returns the simulated balances.
func (e *Exchange) FetchBalance(ctx context.Context) (domain.Balances, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances, nil
}

// FetchTrades returns synthetic public trades around the current price.
func (e *Exchange) FetchTrades(ctx context.Context, lookback time.Duration) ([]domain.TradeTick, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.TradeTick(nil), e.lastTicks...), nil
}

// CreateOrder places a simulated limit order, reserving balance like a
// real venue would.
func (e *Exchange) CreateOrder(ctx context.Context, side domain.OrderSide, price, size float64) (domain.LiveOrder, error) {
	if price <= 0 || size <= 0 {
		return domain.LiveOrder{}, fmt.Errorf("paper: %w: price %.8f size %.8f", domain.ErrOrderRejected, price, size)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if side == domain.OrderSideBuy {
		cost := price * size
		if cost > e.balances.QuoteFree {
			return domain.LiveOrder{}, fmt.Errorf("paper: %w: need %.4f quote", domain.ErrInsufficientBalance, cost)
		}
		e.balances.QuoteFree -= cost
	} else {
		if size > e.balances.BaseFree {
			return domain.LiveOrder{}, fmt.Errorf("paper: %w: need %.4f base", domain.ErrInsufficientBalance, size)
		}
		e.balances.BaseFree -= size
	}

	order := domain.LiveOrder{
		ID:        uuid.New().String(),
		Symbol:    e.cfg.Symbol,
		Side:      side,
		Price:     price,
		Size:      size,
		Status:    domain.OrderStatusOpen,
		CreatedAt: time.Now().UTC(),
	}
	e.orders[order.ID] = &order
	e.logger.Debug("paper order placed",
		slog.String("order_id", order.ID),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("size", size),
	)
	return order, nil
}

// CancelOrder cancels a resting order and releases its reserved balance.
func (e *Exchange) CancelOrder(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok {
		return fmt.Errorf("paper: %w: %s", domain.ErrOrderNotFound, id)
	}
	remaining := o.Size - o.Filled
	if o.Side == domain.OrderSideBuy {
		e.balances.QuoteFree += o.Price * remaining
	} else {
		e.balances.BaseFree += remaining
	}
	o.Status = domain.OrderStatusCancelled
	e.closed[id] = *o
	delete(e.orders, id)
	return nil
}

// FetchOrder returns a simulated order, open or closed.
func (e *Exchange) FetchOrder(ctx context.Context, id string) (domain.LiveOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if o, ok := e.orders[id]; ok {
		return *o, nil
	}
	if o, ok := e.closed[id]; ok {
		return o, nil
	}
	return domain.LiveOrder{}, fmt.Errorf("paper: %w: %s", domain.ErrOrderNotFound, id)
}

// step advances the price one random-walk tick, fills any crossed orders,
// and refreshes the synthetic trade tape. Caller holds e.mu.
func (e *Exchange) step() {
	move := (e.rng.Float64()*2 - 1) * e.cfg.Drift
	e.price *= 1 + move
	e.vwap = e.vwap*0.95 + e.price*0.05

	now := time.Now().UTC()
	e.lastTicks = append(e.lastTicks, domain.TradeTick{
		Price:     e.price,
		Size:      1 + e.rng.Float64()*10,
		Timestamp: now,
	})
	if len(e.lastTicks) > 200 {
		e.lastTicks = e.lastTicks[len(e.lastTicks)-200:]
	}

	for id, o := range e.orders {
		crossed := (o.Side == domain.OrderSideBuy && e.price <= o.Price) ||
			(o.Side == domain.OrderSideSell && e.price >= o.Price)
		if !crossed {
			continue
		}

		remaining := o.Size - o.Filled
		o.Filled = o.Size
		o.Status = domain.OrderStatusFilled
		if o.Side == domain.OrderSideBuy {
			e.balances.BaseFree += remaining
			e.balances.BaseTotal += remaining
			e.balances.QuoteTotal -= o.Price * remaining
		} else {
			e.balances.QuoteFree += o.Price * remaining
			e.balances.QuoteTotal += o.Price * remaining
			e.balances.BaseTotal -= remaining
		}
		e.closed[id] = *o
		delete(e.orders, id)
		e.logger.Info("paper order filled",
			slog.String("order_id", id),
			slog.String("side", string(o.Side)),
			slog.Float64("price", o.Price),
			slog.Float64("size", remaining),
		)
	}
}

var _ domain.ExchangeClient = (*Exchange)(nil)
