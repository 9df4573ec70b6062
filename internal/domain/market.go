package domain

import "time"

// Ticker is the exchange's top-of-book summary for the traded symbol.
// VWAP is the exchange-reported volume-weighted average price over its
// rolling window; zero when the exchange does not supply one.
type Ticker struct {
	Bid  float64
	Ask  float64
	Last float64
	VWAP float64
}

// PriceLevel is a single price+size entry in an orderbook. OrderID is set
// only by venues that expose per-level order identity (the paper exchange
// does); real aggregated books leave it empty.
type PriceLevel struct {
	Price   float64
	Size    float64
	OrderID string
}

// OrderBook holds the raw book as fetched: bids descending, asks ascending.
type OrderBook struct {
	Bids []PriceLevel
	Asks []PriceLevel
}

// BestBid returns the highest bid price, or 0 when the side is empty.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 when the side is empty.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// Balances holds the account balances for the traded pair, in base and
// quote currency units. Free excludes funds locked in open orders.
type Balances struct {
	BaseFree   float64
	BaseTotal  float64
	QuoteFree  float64
	QuoteTotal float64
}

// TradeTick is a single public trade used for VWAP computation.
type TradeTick struct {
	Price     float64
	Size      float64
	Timestamp time.Time
}

// MarketSnapshot is everything one cycle fetches from the exchange before
// deciding. It is owned by that cycle and discarded afterwards.
type MarketSnapshot struct {
	Symbol     string
	Ticker     Ticker
	Book       OrderBook
	OpenOrders []LiveOrder
	Balances   Balances
	Trades     []TradeTick
	FetchedAt  time.Time
}

// OwnOrderIDs returns the ids of the bot's open orders in this snapshot.
func (s *MarketSnapshot) OwnOrderIDs() map[string]bool {
	ids := make(map[string]bool, len(s.OpenOrders))
	for _, o := range s.OpenOrders {
		ids[o.ID] = true
	}
	return ids
}

// FilteredBook is the orderbook after outlier removal, with per-side
// removal counts kept for logging.
type FilteredBook struct {
	Bids        []PriceLevel
	Asks        []PriceLevel
	RemovedBids int
	RemovedAsks int
}

// BidsEmpty reports whether filtering left no usable bid levels.
func (f FilteredBook) BidsEmpty() bool { return len(f.Bids) == 0 }

// AsksEmpty reports whether filtering left no usable ask levels.
func (f FilteredBook) AsksEmpty() bool { return len(f.Asks) == 0 }
