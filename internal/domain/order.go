package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderStatus tracks the lifecycle of an exchange order.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// GridOrder is one desired quote: a price level the bot wants resting on
// the book. Level is 0-based with level 0 nearest the reference price.
type GridOrder struct {
	Side  OrderSide
	Level int
	Price float64
	Size  float64
}

// LiveOrder is the bot's read-only view of an order the exchange holds.
type LiveOrder struct {
	ID        string
	Symbol    string
	Side      OrderSide
	Price     float64
	Size      float64
	Filled    float64
	Status    OrderStatus
	CreatedAt time.Time
}

// Trade is a recorded fill of one of the bot's orders.
type Trade struct {
	ID        string
	OrderID   string
	Symbol    string
	Side      OrderSide
	Price     float64
	Quantity  float64
	Timestamp time.Time
}

// CycleSummary is the per-cycle record persisted for observability; the
// decision path never reads it back.
type CycleSummary struct {
	ID             string
	Symbol         string
	Reference      float64
	Source         string
	RemovedBids    int
	RemovedAsks    int
	InventoryRatio float64
	DesiredOrders  int
	Placed         int
	Cancelled      int
	Kept           int
	StartedAt      time.Time
	Duration       time.Duration
}
