package match

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"
)

// CommandType represents the type of command sent to the order book.
type CommandType int

const (
	CmdPlaceOrder CommandType = iota
	CmdDepth
	CmdStats
	CmdSnapshot
)

// Command represents a unified command sent to the order book loop.
// A single channel keeps command ordering deterministic.
type Command struct {
	Type    CommandType
	Payload any
	Resp    chan any // Optional: for synchronous response
}

// Depth is the aggregated view of the order book: one item per price level,
// bids best-first descending, asks best-first ascending.
type Depth struct {
	UpdateID uint64       `json:"update_id"`
	Asks     []*DepthItem `json:"asks"`
	Bids     []*DepthItem `json:"bids"`
}

// BookStats contains statistics about the order book queues
type BookStats struct {
	AskDepthCount int64
	AskOrderCount int64
	BidDepthCount int64
	BidOrderCount int64
}

// OrderBook is the matching unit for one instrument. It owns both side
// queues and the order-id history, and is driven by a single goroutine
// running Start, so every command executes atomically relative to every
// other command on the same instance. Distinct instances share no state.
type OrderBook struct {
	instrument       string
	bookID           string        // unique per instance, for log correlation
	seqID            atomic.Uint64 // increasing sequence ID for every BookLog produced
	tradeID          atomic.Uint64 // sequential trade ID, only incremented for Match events
	isShutdown       atomic.Bool
	bidQueue         *queue
	askQueue         *queue
	seen             map[string]struct{} // every accepted order id, owned by the loop
	cmdChan          chan Command
	done             chan struct{}
	shutdownComplete chan struct{}
	publisher        PublishLog
}

// NewOrderBook creates a new order book instance for one instrument.
// Call Start on its own goroutine before submitting orders.
func NewOrderBook(instrument string, publisher PublishLog) *OrderBook {
	return &OrderBook{
		instrument:       instrument,
		bookID:           xid.New().String(),
		bidQueue:         NewBuyerQueue(),
		askQueue:         NewSellerQueue(),
		seen:             make(map[string]struct{}),
		cmdChan:          make(chan Command, 32768),
		done:             make(chan struct{}),
		shutdownComplete: make(chan struct{}),
		publisher:        publisher,
	}
}

// Instrument returns the instrument this book trades.
func (book *OrderBook) Instrument() string {
	return book.instrument
}

func validatePlaceOrder(cmd *PlaceOrderCommand) error {
	if cmd == nil || len(cmd.ID) == 0 {
		return ErrInvalidInput
	}

	switch cmd.Type {
	case Limit, IOC, FOK, PostOnly:
		if !cmd.Price.IsPositive() {
			return ErrInvalidInput
		}
	case Market:
		// Market orders carry no limit price.
	default:
		return ErrInvalidInput
	}

	if !cmd.Size.IsPositive() {
		return ErrInvalidInput
	}

	return nil
}

// PlaceOrder submits an order and waits for the loop to accept or reject it.
// Validation failures and duplicate ids are returned as errors with zero
// book mutation; an accepted order's fills and resting remainder are
// published as BookLog events before PlaceOrder returns nil.
func (book *OrderBook) PlaceOrder(ctx context.Context, cmd *PlaceOrderCommand) error {
	if book.isShutdown.Load() {
		return ErrShutdown
	}

	if err := validatePlaceOrder(cmd); err != nil {
		return err
	}

	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- Command{Type: CmdPlaceOrder, Payload: cmd, Resp: respChan}:
	case <-ctx.Done():
		return ErrTimeout
	}

	select {
	case res := <-respChan:
		if err, ok := res.(error); ok {
			return err
		}
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// Depth returns the aggregated depth of the order book up to the specified
// number of levels per side. A limit <= 0 returns the whole book.
func (book *OrderBook) Depth(limit int) (*Depth, error) {
	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- Command{Type: CmdDepth, Payload: limit, Resp: respChan}:
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if result, ok := res.(*Depth); ok {
			return result, nil
		}
		if err, ok := res.(error); ok {
			return nil, err
		}
		return nil, nil
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}
}

// Snapshot returns the full aggregated book, both sides, levels in priority
// order. It is captured inside the book loop, so the state is never observed
// mid-match.
func (book *OrderBook) Snapshot() (*Depth, error) {
	return book.Depth(0)
}

// Stats returns usage statistics for the order book.
func (book *OrderBook) Stats() (*BookStats, error) {
	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- Command{Type: CmdStats, Resp: respChan}:
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if result, ok := res.(*BookStats); ok {
			return result, nil
		}
		if err, ok := res.(error); ok {
			return nil, err
		}
		return nil, nil
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}
}

// TakeSnapshot captures the full resident-order state of the book.
func (book *OrderBook) TakeSnapshot() (*OrderBookSnapshot, error) {
	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- Command{Type: CmdSnapshot, Resp: respChan}:
	case <-book.done:
		return nil, ErrOrderBookClosed
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if snap, ok := res.(*OrderBookSnapshot); ok {
			return snap, nil
		}
		if err, ok := res.(error); ok {
			return nil, err
		}
		return nil, nil
	case <-time.After(5 * time.Second):
		return nil, ErrTimeout
	}
}

// Start runs the order book loop to process orders and queries.
// Returns nil when Shutdown() is called and all pending commands are drained.
func (book *OrderBook) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-book.done:
			return book.drain()
		case cmd := <-book.cmdChan:
			book.handleCommand(cmd, false)
		}
	}
}

// Shutdown signals the order book to stop accepting new orders and waits for
// all pending commands to be processed. Returns ctx.Err() on timeout.
func (book *OrderBook) Shutdown(ctx context.Context) error {
	if book.isShutdown.CompareAndSwap(false, true) {
		close(book.done)
	}

	select {
	case <-book.shutdownComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain processes all remaining commands in the channel before returning.
func (book *OrderBook) drain() error {
	defer close(book.shutdownComplete)

	for {
		select {
		case cmd := <-book.cmdChan:
			book.handleCommand(cmd, true)
		default:
			logger.Info("order book drained",
				"instrument", book.instrument,
				"book_id", book.bookID)
			return nil
		}
	}
}

func (book *OrderBook) handleCommand(cmd Command, draining bool) {
	switch cmd.Type {
	case CmdPlaceOrder:
		placeCmd, ok := cmd.Payload.(*PlaceOrderCommand)
		if !ok {
			reply(cmd.Resp, ErrInvalidInput)
			return
		}
		reply(cmd.Resp, book.addOrder(placeCmd))
	case CmdDepth:
		if draining {
			reply(cmd.Resp, ErrOrderBookClosed)
			return
		}
		limit, _ := cmd.Payload.(int)
		reply(cmd.Resp, book.depth(limit))
	case CmdStats:
		if draining {
			reply(cmd.Resp, ErrOrderBookClosed)
			return
		}
		reply(cmd.Resp, &BookStats{
			AskDepthCount: book.askQueue.depthCount(),
			AskOrderCount: book.askQueue.orderCount(),
			BidDepthCount: book.bidQueue.depthCount(),
			BidOrderCount: book.bidQueue.orderCount(),
		})
	case CmdSnapshot:
		if draining {
			reply(cmd.Resp, ErrOrderBookClosed)
			return
		}
		reply(cmd.Resp, book.createSnapshot())
	}
}

// reply performs a non-blocking send; if no one is listening the result is dropped.
func reply(resp chan any, v any) {
	if resp == nil {
		return
	}
	select {
	case resp <- v:
	default:
	}
}

// addOrder processes an accepted submission inside the loop. It returns
// ErrDuplicateOrderID without mutation when the id was ever accepted before,
// including ids whose orders have since fully filled.
func (book *OrderBook) addOrder(cmd *PlaceOrderCommand) error {
	if _, ok := book.seen[cmd.ID]; ok {
		return ErrDuplicateOrderID
	}
	book.seen[cmd.ID] = struct{}{}

	order := &Order{
		ID:        cmd.ID,
		Side:      cmd.Side,
		Price:     cmd.Price,
		Size:      cmd.Size,
		Type:      cmd.Type,
		UserID:    cmd.UserID,
		Timestamp: time.Now().UnixNano(),
	}

	var logs []*BookLog

	switch order.Type {
	case Limit:
		logs = book.handleLimitOrder(order)
	case Market:
		logs = book.handleMarketOrder(order)
	case IOC:
		logs = book.handleIOCOrder(order)
	case FOK:
		logs = book.handleFOKOrder(order)
	case PostOnly:
		logs = book.handlePostOnlyOrder(order)
	}

	if len(logs) > 0 {
		book.publisher.Publish(logs...)
		for _, log := range logs {
			releaseBookLog(log)
		}
	}

	return nil
}

// crosses reports whether an incoming order at limit can trade against a
// resting order at makerPrice.
func crosses(side Side, limit, makerPrice decimal.Decimal) bool {
	if side == Buy {
		return limit.GreaterThanOrEqual(makerPrice)
	}
	return limit.LessThanOrEqual(makerPrice)
}

// queues returns the incoming order's own queue and the opposite queue it
// matches against.
func (book *OrderBook) queues(side Side) (myQueue, targetQueue *queue) {
	if side == Buy {
		return book.bidQueue, book.askQueue
	}
	return book.askQueue, book.bidQueue
}

// fill executes one trade between the incoming taker and the maker at the
// head of the target queue, consuming min(remaining) from both sides.
// A fully consumed maker leaves its level and the resident index; a drained
// level leaves the book.
func (book *OrderBook) fill(taker *Order, maker *Order, targetQueue *queue, now time.Time) *BookLog {
	size := decimal.Min(taker.Size, maker.Size)

	log := NewMatchLog(book.seqID.Add(1), book.tradeID.Add(1), book.instrument, taker, maker, size, now)

	taker.Size = taker.Size.Sub(size)

	if maker.Size.Equal(size) {
		targetQueue.removeOrder(maker.Price, maker.ID)
	} else {
		targetQueue.reduceOrderSize(maker.ID, size)
	}

	return log
}

// handleLimitOrder walks the opposite queue best-to-worst while the incoming
// order still crosses, filling strictly in arrival order within each level.
// The first non-crossing level terminates the walk; any remainder rests at
// the order's own limit price.
func (book *OrderBook) handleLimitOrder(order *Order) []*BookLog {
	myQueue, targetQueue := book.queues(order.Side)

	logs := make([]*BookLog, 0, 8)
	now := time.Now().UTC()

	for order.Size.IsPositive() {
		maker := targetQueue.peekHeadOrder()
		if maker == nil || !crosses(order.Side, order.Price, maker.Price) {
			break
		}

		logs = append(logs, book.fill(order, maker, targetQueue, now))
	}

	if order.Size.IsPositive() {
		myQueue.insertOrder(order)
		logs = append(logs, NewOpenLog(book.seqID.Add(1), book.instrument, order, now))
	}

	return logs
}

// handleMarketOrder consumes the best available opposite liquidity until
// filled or the book is empty. Market orders never rest; an unfilled
// remainder is rejected.
func (book *OrderBook) handleMarketOrder(order *Order) []*BookLog {
	_, targetQueue := book.queues(order.Side)

	logs := make([]*BookLog, 0, 8)
	now := time.Now().UTC()

	for order.Size.IsPositive() {
		maker := targetQueue.peekHeadOrder()
		if maker == nil {
			logs = append(logs, NewRejectLog(book.seqID.Add(1), book.instrument, order, RejectReasonNoLiquidity, now))
			return logs
		}

		logs = append(logs, book.fill(order, maker, targetQueue, now))
	}

	return logs
}

// handleIOCOrder matches like a limit order but drops any remainder that
// cannot execute immediately instead of resting it.
func (book *OrderBook) handleIOCOrder(order *Order) []*BookLog {
	_, targetQueue := book.queues(order.Side)

	logs := make([]*BookLog, 0, 8)
	now := time.Now().UTC()

	for order.Size.IsPositive() {
		maker := targetQueue.peekHeadOrder()
		if maker == nil {
			logs = append(logs, NewRejectLog(book.seqID.Add(1), book.instrument, order, RejectReasonNoLiquidity, now))
			return logs
		}

		if !crosses(order.Side, order.Price, maker.Price) {
			logs = append(logs, NewRejectLog(book.seqID.Add(1), book.instrument, order, RejectReasonPriceMismatch, now))
			return logs
		}

		logs = append(logs, book.fill(order, maker, targetQueue, now))
	}

	return logs
}

// handleFOKOrder proves the order can be fully filled within its limit price
// before touching the book, then executes. A failed proof leaves the book
// untouched and emits a single reject.
func (book *OrderBook) handleFOKOrder(order *Order) []*BookLog {
	_, targetQueue := book.queues(order.Side)

	logs := make([]*BookLog, 0, 8)
	now := time.Now().UTC()

	// Phase 1: walk the level aggregates; cheap because totalSize is cached per level.
	remaining := order.Size
	el := targetQueue.depthList.Front()

	for remaining.IsPositive() {
		if el == nil {
			logs = append(logs, NewRejectLog(book.seqID.Add(1), book.instrument, order, RejectReasonInsufficientSize, now))
			return logs
		}

		unit, _ := el.Value.(*priceUnit)

		if !crosses(order.Side, order.Price, unit.price) {
			logs = append(logs, NewRejectLog(book.seqID.Add(1), book.instrument, order, RejectReasonPriceMismatch, now))
			return logs
		}

		remaining = remaining.Sub(unit.totalSize)
		el = el.Next()
	}

	// Phase 2: execute, full fill is guaranteed.
	for order.Size.IsPositive() {
		maker := targetQueue.peekHeadOrder()
		logs = append(logs, book.fill(order, maker, targetQueue, now))
	}

	return logs
}

// handlePostOnlyOrder rests the order only if it would not cross the spread.
func (book *OrderBook) handlePostOnlyOrder(order *Order) []*BookLog {
	myQueue, targetQueue := book.queues(order.Side)

	now := time.Now().UTC()

	maker := targetQueue.peekHeadOrder()
	if maker != nil && crosses(order.Side, order.Price, maker.Price) {
		return []*BookLog{NewRejectLog(book.seqID.Add(1), book.instrument, order, RejectReasonWouldCrossSpread, now)}
	}

	myQueue.insertOrder(order)
	return []*BookLog{NewOpenLog(book.seqID.Add(1), book.instrument, order, now)}
}

// depth builds the aggregated view inside the loop.
func (book *OrderBook) depth(limit int) *Depth {
	return &Depth{
		UpdateID: book.seqID.Load(),
		Asks:     book.askQueue.depth(limit),
		Bids:     book.bidQueue.depth(limit),
	}
}

// createSnapshot captures the full resident-order state of the book.
// It runs inside the loop (via CmdSnapshot), so the state is consistent.
func (book *OrderBook) createSnapshot() *OrderBookSnapshot {
	snap := &OrderBookSnapshot{
		SchemaVersion: SnapshotSchemaVersion,
		Instrument:    book.instrument,
		SeqID:         book.seqID.Load(),
		TradeID:       book.tradeID.Load(),
		Bids:          make([]*Order, 0, book.bidQueue.orderCount()),
		Asks:          make([]*Order, 0, book.askQueue.orderCount()),
	}

	bids := book.bidQueue.toSnapshot()
	for i := range bids {
		snap.Bids = append(snap.Bids, &bids[i])
	}

	asks := book.askQueue.toSnapshot()
	for i := range asks {
		snap.Asks = append(snap.Asks, &asks[i])
	}

	return snap
}

// Restore rebuilds the order book state from a snapshot. It must be called
// before Start, while no other goroutine touches the book.
// The duplicate-id history restarts from the resident orders; ids that were
// fully filled before the snapshot are not carried over.
func (book *OrderBook) Restore(snap *OrderBookSnapshot) {
	book.seqID.Store(snap.SeqID)
	book.tradeID.Store(snap.TradeID)

	book.bidQueue = NewBuyerQueue()
	book.askQueue = NewSellerQueue()
	book.seen = make(map[string]struct{}, len(snap.Bids)+len(snap.Asks))

	restoreOrders := func(orders []*Order, q *queue) {
		for _, o := range orders {
			// Insert directly, bypassing matching; snapshot order preserves priority.
			q.insertOrder(o)
			book.seen[o.ID] = struct{}{}
		}
	}

	restoreOrders(snap.Bids, book.bidQueue)
	restoreOrders(snap.Asks, book.askQueue)
}
