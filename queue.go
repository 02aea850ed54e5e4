package match

import (
	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
)

// priceUnit is a single price level: all resting orders sharing one price,
// kept in arrival order via an intrusive doubly linked list.
type priceUnit struct {
	price     decimal.Decimal
	totalSize decimal.Decimal
	head      *Order
	tail      *Order
	count     int64
}

// DepthItem is one aggregated price level of the book.
type DepthItem struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Count int64           `json:"count"`
}

// queue holds one side of the order book. Price levels are ordered
// best-to-worst in the skip list; orders within a level are FIFO.
// The orders map is the resident-order index: an id is present iff the
// order is enqueued in exactly one level.
//
// decimal.Decimal is not usable as a map key (its internal big.Int pointer
// breaks value equality), so priceList is keyed by the canonical price string.
type queue struct {
	side        Side
	totalOrders int64
	depths      int64
	depthList   *skiplist.SkipList
	priceList   map[string]*skiplist.Element
	orders      map[string]*Order
}

// NewBuyerQueue creates a new queue for buy orders (bids).
// The orders are sorted by price in descending order (highest price first).
func NewBuyerQueue() *queue {
	return &queue{
		side: Buy,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(decimal.Decimal)
			d2, _ := rhs.(decimal.Decimal)

			if d1.LessThan(d2) {
				return 1
			} else if d1.GreaterThan(d2) {
				return -1
			}

			return 0
		})),
		priceList: make(map[string]*skiplist.Element),
		orders:    make(map[string]*Order),
	}
}

// NewSellerQueue creates a new queue for sell orders (asks).
// The orders are sorted by price in ascending order (lowest price first).
func NewSellerQueue() *queue {
	return &queue{
		side: Sell,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(decimal.Decimal)
			d2, _ := rhs.(decimal.Decimal)

			if d1.GreaterThan(d2) {
				return 1
			} else if d1.LessThan(d2) {
				return -1
			}

			return 0
		})),
		priceList: make(map[string]*skiplist.Element),
		orders:    make(map[string]*Order),
	}
}

// order finds a resident order by its ID.
func (q *queue) order(id string) *Order {
	return q.orders[id]
}

// insertOrder appends an order to the tail of its price level,
// creating the level if it does not exist yet.
func (q *queue) insertOrder(order *Order) {
	key := order.Price.String()

	el, ok := q.priceList[key]
	if ok {
		unit, _ := el.Value.(*priceUnit)

		order.prev = unit.tail
		order.next = nil
		if unit.tail != nil {
			unit.tail.next = order
		}
		unit.tail = order
		if unit.head == nil {
			unit.head = order
		}

		unit.totalSize = unit.totalSize.Add(order.Size)
		unit.count++
	} else {
		unit := &priceUnit{
			price:     order.Price,
			head:      order,
			tail:      order,
			totalSize: order.Size,
			count:     1,
		}
		order.next = nil
		order.prev = nil

		el := q.depthList.Set(order.Price, unit)
		q.priceList[key] = el
		q.depths++
	}

	q.orders[order.ID] = order
	q.totalOrders++
}

// removeOrder removes an order from the queue by price and ID.
// Empty price levels are deleted so they never persist in the book.
func (q *queue) removeOrder(price decimal.Decimal, id string) {
	key := price.String()

	skipElement, ok := q.priceList[key]
	if !ok {
		return
	}
	unit, _ := skipElement.Value.(*priceUnit)

	order, ok := q.orders[id]
	if !ok {
		return
	}

	// Unlink from the level's list
	if order.prev != nil {
		order.prev.next = order.next
	} else {
		unit.head = order.next
	}

	if order.next != nil {
		order.next.prev = order.prev
	} else {
		unit.tail = order.prev
	}

	order.next = nil
	order.prev = nil

	unit.totalSize = unit.totalSize.Sub(order.Size)
	unit.count--
	delete(q.orders, id)
	q.totalOrders--

	if unit.count == 0 {
		q.depthList.RemoveElement(skipElement)
		delete(q.priceList, key)
		q.depths--
	}
}

// reduceOrderSize decreases an order's remaining size in place, keeping its
// time priority and the level's cached total consistent.
func (q *queue) reduceOrderSize(id string, size decimal.Decimal) {
	order, ok := q.orders[id]
	if !ok {
		return
	}

	skipElement, ok := q.priceList[order.Price.String()]
	if ok {
		unit, _ := skipElement.Value.(*priceUnit)
		unit.totalSize = unit.totalSize.Sub(size)
		order.Size = order.Size.Sub(size)
	}
}

// peekHeadOrder returns the order at the front of the queue (best price,
// earliest arrival) without removing it.
func (q *queue) peekHeadOrder() *Order {
	el := q.depthList.Front()
	if el == nil {
		return nil
	}

	unit, _ := el.Value.(*priceUnit)
	return unit.head
}

// orderCount returns the total number of orders in the queue.
func (q *queue) orderCount() int64 {
	return q.totalOrders
}

// depthCount returns the number of price levels in the queue.
func (q *queue) depthCount() int64 {
	return q.depths
}

// toSnapshot serializes the queue into a slice of Order structs.
// It iterates the skip list (price levels) and then the linked list (orders)
// to preserve priority.
func (q *queue) toSnapshot() []Order {
	snapshots := make([]Order, 0, q.totalOrders)

	elem := q.depthList.Front()
	for elem != nil {
		unit := elem.Value.(*priceUnit)

		order := unit.head
		for order != nil {
			snapshots = append(snapshots, Order{
				ID:        order.ID,
				Side:      order.Side,
				Price:     order.Price,
				Size:      order.Size,
				UserID:    order.UserID,
				Type:      order.Type,
				Timestamp: order.Timestamp,
			})
			order = order.next
		}

		elem = elem.Next()
	}

	return snapshots
}

// depth returns the aggregated book depth in priority order.
// A limit <= 0 returns every price level.
func (q *queue) depth(limit int) []*DepthItem {
	if limit <= 0 || int64(limit) > q.depths {
		limit = int(q.depths)
	}

	result := make([]*DepthItem, 0, limit)

	el := q.depthList.Front()
	for i := 0; i < limit && el != nil; i++ {
		unit, _ := el.Value.(*priceUnit)
		d := DepthItem{
			Price: unit.price,
			Size:  unit.totalSize,
			Count: unit.count,
		}

		result = append(result, &d)

		el = el.Next()
	}

	return result
}
