package match

import "errors"

var (
	ErrInvalidInput     = errors.New("the order price and size must be positive")
	ErrDuplicateOrderID = errors.New("the order id has already been used")
	ErrOrderNotFound    = errors.New("the order was not found")
	ErrTimeout          = errors.New("timeout")
	ErrShutdown         = errors.New("order book is shutting down")
	ErrOrderBookClosed  = errors.New("order book is closed")
	ErrSequenceGap      = errors.New("book log sequence gap detected")
)
