package match

import (
	"github.com/shopspring/decimal"
)

// Side represents the order side (Buy/Sell).
type Side int8

const (
	Buy  Side = 1
	Sell Side = 2
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType represents the type of order.
type OrderType string

const (
	Market   OrderType = "market"
	Limit    OrderType = "limit"
	FOK      OrderType = "fok"       // Fill Or Kill
	IOC      OrderType = "ioc"       // Immediate Or Cancel
	PostOnly OrderType = "post_only" // be maker order only
)

// PlaceOrderCommand is the input command for placing an order.
// Price is ignored for Market orders.
type PlaceOrderCommand struct {
	ID     string          `json:"id"`
	Side   Side            `json:"side"`
	Type   OrderType       `json:"type"`
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
	UserID int64           `json:"user_id"`
}

// Order represents the state of an order resident in the order book.
// This is also the serializable state used for snapshots.
type Order struct {
	ID        string          `json:"id"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"` // Remaining size
	Type      OrderType       `json:"type"`
	UserID    int64           `json:"user_id"`
	Timestamp int64           `json:"timestamp"` // Unix nano, creation time

	// Intrusive linked list pointers for the price level FIFO (ignored by JSON)
	next *Order
	prev *Order
}

// DepthChange represents a change in the order book depth.
type DepthChange struct {
	Side     Side
	Price    decimal.Decimal
	SizeDiff decimal.Decimal
}
