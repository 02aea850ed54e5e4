package match

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrderBook(t *testing.T, publisher PublishLog) *OrderBook {
	t.Helper()

	book := NewOrderBook("BTC-USDT", publisher)
	go func() {
		_ = book.Start()
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = book.Shutdown(ctx)
	})

	return book
}

func limitCmd(id string, side Side, price, size int64) *PlaceOrderCommand {
	return &PlaceOrderCommand{
		ID:    id,
		Side:  side,
		Type:  Limit,
		Price: decimal.NewFromInt(price),
		Size:  decimal.NewFromInt(size),
	}
}

func TestLimitOrderMatching(t *testing.T) {
	ctx := context.Background()

	publisher := NewMemoryPublishLog()
	book := newTestOrderBook(t, publisher)

	// Buy 10@100 rests, no trade.
	require.NoError(t, book.PlaceOrder(ctx, limitCmd("1000", Buy, 100, 10)))
	require.Empty(t, publisher.Matches())
	require.Equal(t, 1, publisher.Count())
	assert.Equal(t, LogTypeOpen, publisher.Get(0).Type)

	// Sell 20@100 takes the resting buy and rests the remainder.
	require.NoError(t, book.PlaceOrder(ctx, limitCmd("1001", Sell, 100, 20)))

	matches := publisher.Matches()
	require.Len(t, matches, 1)
	assert.Equal(t, "1001", matches[0].OrderID)
	assert.Equal(t, "1000", matches[0].MakerOrderID)
	assert.True(t, matches[0].Size.Equal(decimal.NewFromInt(10)))
	assert.True(t, matches[0].Price.Equal(decimal.NewFromInt(100)))

	// Within the same submission the match is published before the open.
	logs := publisher.Logs()
	require.Equal(t, 3, len(logs))
	assert.Equal(t, LogTypeMatch, logs[1].Type)
	assert.Equal(t, LogTypeOpen, logs[2].Type)
	assert.True(t, logs[2].Size.Equal(decimal.NewFromInt(10)))

	// Sell 8@101 rests on a different level, no trade.
	require.NoError(t, book.PlaceOrder(ctx, limitCmd("1002", Sell, 101, 8)))
	require.Len(t, publisher.Matches(), 1)

	// Buy 15@100 consumes the resting sell at 100 and rests the remainder.
	require.NoError(t, book.PlaceOrder(ctx, limitCmd("1003", Buy, 100, 15)))

	matches = publisher.Matches()
	require.Len(t, matches, 2)
	assert.Equal(t, "1003", matches[1].OrderID)
	assert.Equal(t, "1001", matches[1].MakerOrderID)
	assert.True(t, matches[1].Size.Equal(decimal.NewFromInt(10)))
	assert.True(t, matches[1].Price.Equal(decimal.NewFromInt(100)))

	// The book now holds Buy 5@100 and Sell 8@101.
	snap, err := book.Snapshot()
	require.NoError(t, err)

	require.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, snap.Bids[0].Size.Equal(decimal.NewFromInt(5)))

	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Price.Equal(decimal.NewFromInt(101)))
	assert.True(t, snap.Asks[0].Size.Equal(decimal.NewFromInt(8)))

	// A fully filled id stays burned.
	err = book.PlaceOrder(ctx, limitCmd("1000", Buy, 100, 1))
	assert.ErrorIs(t, err, ErrDuplicateOrderID)
}

func TestNonCrossingOrderRests(t *testing.T) {
	ctx := context.Background()

	publisher := NewMemoryPublishLog()
	book := newTestOrderBook(t, publisher)

	require.NoError(t, book.PlaceOrder(ctx, limitCmd("s1", Sell, 100, 5)))
	require.NoError(t, book.PlaceOrder(ctx, limitCmd("b1", Buy, 99, 5)))

	assert.Empty(t, publisher.Matches())

	snap, err := book.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Price.Equal(decimal.NewFromInt(99)))
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Price.Equal(decimal.NewFromInt(100)))
}

func TestFIFOWithinPriceLevel(t *testing.T) {
	ctx := context.Background()

	publisher := NewMemoryPublishLog()
	book := newTestOrderBook(t, publisher)

	require.NoError(t, book.PlaceOrder(ctx, limitCmd("early", Buy, 100, 5)))
	require.NoError(t, book.PlaceOrder(ctx, limitCmd("late", Buy, 100, 5)))

	// 7 lots consume "early" entirely before "late" gets anything.
	require.NoError(t, book.PlaceOrder(ctx, limitCmd("taker", Sell, 100, 7)))

	matches := publisher.Matches()
	require.Len(t, matches, 2)

	assert.Equal(t, "early", matches[0].MakerOrderID)
	assert.True(t, matches[0].Size.Equal(decimal.NewFromInt(5)))

	assert.Equal(t, "late", matches[1].MakerOrderID)
	assert.True(t, matches[1].Size.Equal(decimal.NewFromInt(2)))
}

func TestPartialFillKeepsMakerPriority(t *testing.T) {
	ctx := context.Background()

	publisher := NewMemoryPublishLog()
	book := newTestOrderBook(t, publisher)

	require.NoError(t, book.PlaceOrder(ctx, limitCmd("maker", Buy, 100, 10)))
	require.NoError(t, book.PlaceOrder(ctx, limitCmd("maker2", Buy, 100, 10)))

	require.NoError(t, book.PlaceOrder(ctx, limitCmd("t1", Sell, 100, 4)))
	require.NoError(t, book.PlaceOrder(ctx, limitCmd("t2", Sell, 100, 4)))

	matches := publisher.Matches()
	require.Len(t, matches, 2)

	// Both takers hit the same partially filled maker.
	assert.Equal(t, "maker", matches[0].MakerOrderID)
	assert.Equal(t, "maker", matches[1].MakerOrderID)

	stats, err := book.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.BidOrderCount)
	assert.Equal(t, int64(1), stats.BidDepthCount)
}

func TestCrossingMultipleLevels(t *testing.T) {
	ctx := context.Background()

	publisher := NewMemoryPublishLog()
	book := newTestOrderBook(t, publisher)

	require.NoError(t, book.PlaceOrder(ctx, limitCmd("s1", Sell, 100, 1)))
	require.NoError(t, book.PlaceOrder(ctx, limitCmd("s2", Sell, 101, 1)))
	require.NoError(t, book.PlaceOrder(ctx, limitCmd("s3", Sell, 103, 1)))

	// Crosses 100 and 101 but stops at 103; remainder rests at 102.
	require.NoError(t, book.PlaceOrder(ctx, limitCmd("b1", Buy, 102, 5)))

	matches := publisher.Matches()
	require.Len(t, matches, 2)

	// Each trade executes at the maker's price, never the taker's.
	assert.True(t, matches[0].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, matches[1].Price.Equal(decimal.NewFromInt(101)))

	snap, err := book.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Price.Equal(decimal.NewFromInt(102)))
	assert.True(t, snap.Bids[0].Size.Equal(decimal.NewFromInt(3)))
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Price.Equal(decimal.NewFromInt(103)))
}

func TestPlaceOrderValidation(t *testing.T) {
	ctx := context.Background()

	publisher := NewMemoryPublishLog()
	book := newTestOrderBook(t, publisher)

	tests := []struct {
		name string
		cmd  *PlaceOrderCommand
	}{
		{"zero size", limitCmd("v1", Buy, 100, 0)},
		{"negative size", limitCmd("v2", Buy, 100, -1)},
		{"zero price", limitCmd("v3", Buy, 0, 10)},
		{"negative price", limitCmd("v4", Sell, -5, 10)},
		{"empty id", limitCmd("", Buy, 100, 10)},
		{"unknown type", &PlaceOrderCommand{ID: "v5", Side: Buy, Type: "stop", Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := book.PlaceOrder(ctx, tt.cmd)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	// Rejected submissions never touch the book.
	stats, err := book.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.BidOrderCount)
	assert.Equal(t, int64(0), stats.AskOrderCount)
	assert.Equal(t, 0, publisher.Count())
}

func TestDuplicateOrderID(t *testing.T) {
	ctx := context.Background()

	publisher := NewMemoryPublishLog()
	book := newTestOrderBook(t, publisher)

	require.NoError(t, book.PlaceOrder(ctx, limitCmd("dup", Buy, 100, 10)))

	// Still resident.
	err := book.PlaceOrder(ctx, limitCmd("dup", Buy, 100, 10))
	assert.ErrorIs(t, err, ErrDuplicateOrderID)

	// The rejected resubmission must not have mutated the book.
	stats, err := book.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.BidOrderCount)
}

func TestIOCOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("fills what crosses and drops the rest", func(t *testing.T) {
		publisher := NewMemoryPublishLog()
		book := newTestOrderBook(t, publisher)

		require.NoError(t, book.PlaceOrder(ctx, limitCmd("s1", Sell, 100, 5)))

		cmd := limitCmd("ioc-1", Buy, 100, 8)
		cmd.Type = IOC
		require.NoError(t, book.PlaceOrder(ctx, cmd))

		matches := publisher.Matches()
		require.Len(t, matches, 1)
		assert.True(t, matches[0].Size.Equal(decimal.NewFromInt(5)))

		// The remainder was dropped, not rested.
		stats, err := book.Stats()
		require.NoError(t, err)
		assert.Equal(t, int64(0), stats.BidOrderCount)

		logs := publisher.Logs()
		last := logs[len(logs)-1]
		assert.Equal(t, LogTypeReject, last.Type)
		assert.Equal(t, RejectReasonNoLiquidity, last.RejectReason)
		assert.True(t, last.Size.Equal(decimal.NewFromInt(3)))
	})

	t.Run("rejects entirely when nothing crosses", func(t *testing.T) {
		publisher := NewMemoryPublishLog()
		book := newTestOrderBook(t, publisher)

		require.NoError(t, book.PlaceOrder(ctx, limitCmd("s1", Sell, 105, 5)))

		cmd := limitCmd("ioc-2", Buy, 100, 8)
		cmd.Type = IOC
		require.NoError(t, book.PlaceOrder(ctx, cmd))

		assert.Empty(t, publisher.Matches())

		logs := publisher.Logs()
		last := logs[len(logs)-1]
		assert.Equal(t, LogTypeReject, last.Type)
		assert.Equal(t, RejectReasonPriceMismatch, last.RejectReason)
	})
}

func TestFOKOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("executes fully when liquidity suffices", func(t *testing.T) {
		publisher := NewMemoryPublishLog()
		book := newTestOrderBook(t, publisher)

		require.NoError(t, book.PlaceOrder(ctx, limitCmd("s1", Sell, 100, 5)))
		require.NoError(t, book.PlaceOrder(ctx, limitCmd("s2", Sell, 101, 5)))

		cmd := limitCmd("fok-1", Buy, 101, 8)
		cmd.Type = FOK
		require.NoError(t, book.PlaceOrder(ctx, cmd))

		matches := publisher.Matches()
		require.Len(t, matches, 2)
		assert.True(t, matches[0].Size.Equal(decimal.NewFromInt(5)))
		assert.True(t, matches[1].Size.Equal(decimal.NewFromInt(3)))
	})

	t.Run("rejects without mutation when it cannot fill", func(t *testing.T) {
		publisher := NewMemoryPublishLog()
		book := newTestOrderBook(t, publisher)

		require.NoError(t, book.PlaceOrder(ctx, limitCmd("s1", Sell, 100, 5)))

		cmd := limitCmd("fok-2", Buy, 100, 8)
		cmd.Type = FOK
		require.NoError(t, book.PlaceOrder(ctx, cmd))

		assert.Empty(t, publisher.Matches())

		// The resting sell is untouched.
		snap, err := book.Snapshot()
		require.NoError(t, err)
		require.Len(t, snap.Asks, 1)
		assert.True(t, snap.Asks[0].Size.Equal(decimal.NewFromInt(5)))

		logs := publisher.Logs()
		last := logs[len(logs)-1]
		assert.Equal(t, LogTypeReject, last.Type)
		assert.Equal(t, RejectReasonInsufficientSize, last.RejectReason)
	})
}

func TestPostOnlyOrder(t *testing.T) {
	ctx := context.Background()

	publisher := NewMemoryPublishLog()
	book := newTestOrderBook(t, publisher)

	require.NoError(t, book.PlaceOrder(ctx, limitCmd("s1", Sell, 100, 5)))

	crossing := limitCmd("po-1", Buy, 100, 5)
	crossing.Type = PostOnly
	require.NoError(t, book.PlaceOrder(ctx, crossing))

	assert.Empty(t, publisher.Matches())
	logs := publisher.Logs()
	last := logs[len(logs)-1]
	assert.Equal(t, LogTypeReject, last.Type)
	assert.Equal(t, RejectReasonWouldCrossSpread, last.RejectReason)

	passive := limitCmd("po-2", Buy, 99, 5)
	passive.Type = PostOnly
	require.NoError(t, book.PlaceOrder(ctx, passive))

	snap, err := book.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Price.Equal(decimal.NewFromInt(99)))
}

func TestMarketOrder(t *testing.T) {
	ctx := context.Background()

	publisher := NewMemoryPublishLog()
	book := newTestOrderBook(t, publisher)

	require.NoError(t, book.PlaceOrder(ctx, limitCmd("s1", Sell, 100, 3)))
	require.NoError(t, book.PlaceOrder(ctx, limitCmd("s2", Sell, 105, 3)))

	cmd := &PlaceOrderCommand{
		ID:   "mkt-1",
		Side: Buy,
		Type: Market,
		Size: decimal.NewFromInt(8),
	}
	require.NoError(t, book.PlaceOrder(ctx, cmd))

	// Sweeps both levels, then the remainder is rejected for lack of liquidity.
	matches := publisher.Matches()
	require.Len(t, matches, 2)
	assert.True(t, matches[0].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, matches[1].Price.Equal(decimal.NewFromInt(105)))

	logs := publisher.Logs()
	last := logs[len(logs)-1]
	assert.Equal(t, LogTypeReject, last.Type)
	assert.Equal(t, RejectReasonNoLiquidity, last.RejectReason)
	assert.True(t, last.Size.Equal(decimal.NewFromInt(2)))

	stats, err := book.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.BidOrderCount)
	assert.Equal(t, int64(0), stats.AskOrderCount)
}

func TestShutdownRejectsNewOrders(t *testing.T) {
	ctx := context.Background()

	publisher := NewMemoryPublishLog()
	book := NewOrderBook("BTC-USDT", publisher)
	go func() {
		_ = book.Start()
	}()

	require.NoError(t, book.PlaceOrder(ctx, limitCmd("b1", Buy, 100, 1)))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, book.Shutdown(shutdownCtx))

	err := book.PlaceOrder(ctx, limitCmd("b2", Buy, 100, 1))
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestQuantityConservation(t *testing.T) {
	ctx := context.Background()

	publisher := NewMemoryPublishLog()
	book := newTestOrderBook(t, publisher)

	rnd := rand.New(rand.NewSource(42))
	limits := make(map[string]decimal.Decimal)

	submitted := decimal.Zero
	for i := 0; i < 500; i++ {
		side := Buy
		if rnd.Intn(2) == 1 {
			side = Sell
		}
		price := int64(90 + rnd.Intn(21))
		size := int64(1 + rnd.Intn(50))

		cmd := limitCmd(fmt.Sprintf("order-%d", i), side, price, size)
		require.NoError(t, book.PlaceOrder(ctx, cmd))

		limits[cmd.ID] = cmd.Price
		submitted = submitted.Add(cmd.Size)
	}

	traded := decimal.Zero
	for _, m := range publisher.Matches() {
		traded = traded.Add(m.Size)

		// Every trade executes at the maker's limit, within the taker's limit.
		takerLimit := limits[m.OrderID]
		if m.Side == Buy {
			assert.True(t, m.Price.LessThanOrEqual(takerLimit), "buy traded above its own limit")
		} else {
			assert.True(t, m.Price.GreaterThanOrEqual(takerLimit), "sell traded below its own limit")
		}
		assert.True(t, m.Price.Equal(limits[m.MakerOrderID]), "trade price is not the maker's limit")
	}

	snap, err := book.TakeSnapshot()
	require.NoError(t, err)

	resident := decimal.Zero
	for _, o := range snap.Bids {
		resident = resident.Add(o.Size)
	}
	for _, o := range snap.Asks {
		resident = resident.Add(o.Size)
	}

	// Each trade consumes one unit from the taker and one from the maker.
	expected := traded.Mul(decimal.NewFromInt(2)).Add(resident)
	assert.True(t, submitted.Equal(expected),
		"submitted %s != 2*traded %s + resident %s", submitted, traded, resident)

	depth, err := book.Snapshot()
	require.NoError(t, err)

	// The book never ends a submission crossed.
	if len(depth.Bids) > 0 && len(depth.Asks) > 0 {
		assert.True(t, depth.Bids[0].Price.LessThan(depth.Asks[0].Price),
			"book is crossed: best bid %s >= best ask %s", depth.Bids[0].Price, depth.Asks[0].Price)
	}

	// No stale levels survive.
	for _, lvl := range append(depth.Bids, depth.Asks...) {
		assert.True(t, lvl.Size.IsPositive())
		assert.Positive(t, lvl.Count)
	}
}
