package binance

import (
	"strconv"
	"time"

	"github.com/driftlabs/gridbot/internal/domain"
)

// apiTicker is the /api/v3/ticker/24hr response, numeric fields as strings.
type apiTicker struct {
	Symbol           string `json:"symbol"`
	BidPrice         string `json:"bidPrice"`
	AskPrice         string `json:"askPrice"`
	LastPrice        string `json:"lastPrice"`
	WeightedAvgPrice string `json:"weightedAvgPrice"`
}

func (t apiTicker) toDomain() domain.Ticker {
	return domain.Ticker{
		Bid:  parseFloat(t.BidPrice),
		Ask:  parseFloat(t.AskPrice),
		Last: parseFloat(t.LastPrice),
		VWAP: parseFloat(t.WeightedAvgPrice),
	}
}

// apiDepth is the /api/v3/depth response: [price, qty] string pairs.
type apiDepth struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

func (d apiDepth) toDomain() domain.OrderBook {
	book := domain.OrderBook{
		Bids: make([]domain.PriceLevel, 0, len(d.Bids)),
		Asks: make([]domain.PriceLevel, 0, len(d.Asks)),
	}
	for _, lvl := range d.Bids {
		book.Bids = append(book.Bids, domain.PriceLevel{Price: parseFloat(lvl[0]), Size: parseFloat(lvl[1])})
	}
	for _, lvl := range d.Asks {
		book.Asks = append(book.Asks, domain.PriceLevel{Price: parseFloat(lvl[0]), Size: parseFloat(lvl[1])})
	}
	return book
}

// apiOrder is the order shape shared by the order, openOrders, and order
// placement endpoints.
type apiOrder struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	Status      string `json:"status"`
	Time        int64  `json:"time"`
}

func (o apiOrder) toDomain() domain.LiveOrder {
	return domain.LiveOrder{
		ID:        strconv.FormatInt(o.OrderID, 10),
		Symbol:    o.Symbol,
		Side:      sideFromAPI(o.Side),
		Price:     parseFloat(o.Price),
		Size:      parseFloat(o.OrigQty),
		Filled:    parseFloat(o.ExecutedQty),
		Status:    statusFromAPI(o.Status),
		CreatedAt: time.UnixMilli(o.Time).UTC(),
	}
}

// apiTrade is a /api/v3/trades entry.
type apiTrade struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
	Time  int64  `json:"time"`
}

func (t apiTrade) toDomain() domain.TradeTick {
	return domain.TradeTick{
		Price:     parseFloat(t.Price),
		Size:      parseFloat(t.Qty),
		Timestamp: time.UnixMilli(t.Time).UTC(),
	}
}

// apiBalance is one /api/v3/account balances entry.
type apiBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// apiError is the error envelope on non-2xx responses.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func sideFromAPI(s string) domain.OrderSide {
	if s == "SELL" {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

func sideToAPI(s domain.OrderSide) string {
	if s == domain.OrderSideSell {
		return "SELL"
	}
	return "BUY"
}

func statusFromAPI(s string) domain.OrderStatus {
	switch s {
	case "NEW":
		return domain.OrderStatusOpen
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartiallyFilled
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELED", "EXPIRED", "EXPIRED_IN_MATCH":
		return domain.OrderStatusCancelled
	case "REJECTED":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusOpen
	}
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
