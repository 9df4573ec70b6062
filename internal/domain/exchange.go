package domain

import (
	"context"
	"time"
)

// ExchangeClient is the connectivity capability the engine consumes. All
// calls are blocking; implementations report failures through the sentinel
// errors in this package so callers can distinguish transient trouble
// (ErrExchangeUnreachable) from hard rejections (ErrOrderRejected).
type ExchangeClient interface {
	// FetchTicker returns the current top-of-book summary.
	FetchTicker(ctx context.Context) (Ticker, error)

	// FetchOrderBook returns up to depth levels per side.
	FetchOrderBook(ctx context.Context, depth int) (OrderBook, error)

	// FetchOpenOrders returns the bot's resting orders for the symbol.
	FetchOpenOrders(ctx context.Context) ([]LiveOrder, error)

	// FetchBalance returns base/quote balances for the traded pair.
	FetchBalance(ctx context.Context) (Balances, error)

	// FetchTrades returns recent public trades within the lookback window,
	// newest last. Used for VWAP when the ticker carries none.
	FetchTrades(ctx context.Context, lookback time.Duration) ([]TradeTick, error)

	// CreateOrder places a limit order and returns the exchange's view of it.
	CreateOrder(ctx context.Context, side OrderSide, price, size float64) (LiveOrder, error)

	// CancelOrder cancels by id. Returns ErrOrderNotFound when the exchange
	// no longer knows the order.
	CancelOrder(ctx context.Context, id string) error

	// FetchOrder returns the current state of a single order, open or not.
	FetchOrder(ctx context.Context, id string) (LiveOrder, error)
}
