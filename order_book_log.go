package match

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// LogType represents the type of event log.
type LogType string

const (
	LogTypeOpen   LogType = "open"
	LogTypeMatch  LogType = "match"
	LogTypeReject LogType = "reject"
)

// RejectReason represents the reason why an order could not execute.
type RejectReason string

const (
	RejectReasonNone             RejectReason = ""
	RejectReasonNoLiquidity      RejectReason = "no_liquidity"       // Market/IOC: no orders available to match
	RejectReasonPriceMismatch    RejectReason = "price_mismatch"     // IOC/FOK: price does not meet requirements
	RejectReasonInsufficientSize RejectReason = "insufficient_size"  // FOK: cannot be fully filled
	RejectReasonWouldCrossSpread RejectReason = "would_cross_spread" // PostOnly: would match immediately
)

// BookLog represents an event in the order book.
// SequenceID is a per-book increasing ID for every event, used for ordering,
// deduplication, and rebuild synchronization in downstream systems.
// Use LogType to determine if the event affects order book state:
// - Open, Match: affect order book state
// - Reject: does not affect order book state
type BookLog struct {
	SequenceID   uint64          `json:"seq_id"`
	TradeID      uint64          `json:"trade_id,omitempty"` // Sequential trade ID, only set for Match events
	Type         LogType         `json:"type"`
	Instrument   string          `json:"instrument"`
	Side         Side            `json:"side"` // Taker side for Match events
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	Amount       decimal.Decimal `json:"amount,omitempty"` // Price * Size, only set for Match events
	OrderID      string          `json:"order_id"`
	UserID       int64           `json:"user_id"`
	OrderType    OrderType       `json:"order_type,omitempty"`
	MakerOrderID string          `json:"maker_order_id,omitempty"`
	MakerUserID  int64           `json:"maker_user_id,omitempty"`
	RejectReason RejectReason    `json:"reject_reason,omitempty"` // Only set for Reject events
	CreatedAt    time.Time       `json:"created_at"`
}

var bookLogPool = sync.Pool{
	New: func() any {
		return new(BookLog)
	},
}

func acquireBookLog() *BookLog {
	return bookLogPool.Get().(*BookLog)
}

func releaseBookLog(log *BookLog) {
	// Reset structure to zero values.
	// For decimal.Decimal, the zero value (nil internal pointer) represents 0, which is valid.
	*log = BookLog{}
	bookLogPool.Put(log)
}

// NewOpenLog records an order resting on the book at its own limit price.
func NewOpenLog(seqID uint64, instrument string, order *Order, now time.Time) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeOpen
	log.Instrument = instrument
	log.Side = order.Side
	log.Price = order.Price
	log.Size = order.Size
	log.OrderID = order.ID
	log.UserID = order.UserID
	log.OrderType = order.Type
	log.CreatedAt = now
	return log
}

// NewMatchLog records one fill. The price is always the maker's resting
// price; price improvement accrues to the taker.
func NewMatchLog(seqID uint64, tradeID uint64, instrument string, taker *Order, maker *Order, size decimal.Decimal, now time.Time) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.TradeID = tradeID
	log.Type = LogTypeMatch
	log.Instrument = instrument
	log.Side = taker.Side
	log.Price = maker.Price
	log.Size = size
	log.Amount = maker.Price.Mul(size)
	log.OrderID = taker.ID
	log.UserID = taker.UserID
	log.OrderType = taker.Type
	log.MakerOrderID = maker.ID
	log.MakerUserID = maker.UserID
	log.CreatedAt = now
	return log
}

// NewRejectLog records an accepted order that could not execute under its own
// constraints. The size is the unfilled remainder.
func NewRejectLog(seqID uint64, instrument string, order *Order, reason RejectReason, now time.Time) *BookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeReject
	log.Instrument = instrument
	log.Side = order.Side
	log.Price = order.Price
	log.Size = order.Size
	log.OrderID = order.ID
	log.UserID = order.UserID
	log.OrderType = order.Type
	log.RejectReason = reason
	log.CreatedAt = now
	return log
}
