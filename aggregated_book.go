package match

import (
	"sync"
	"sync/atomic"

	"github.com/igrmk/treemap/v2"
	"github.com/shopspring/decimal"
)

// AggregatedBook maintains a simplified view of the order book, tracking only
// price levels and their aggregated sizes. It is designed for downstream
// consumers that rebuild book depth from the BookLog event stream (e.g. the
// output of a ChannelPublishLog).
type AggregatedBook struct {
	seqID atomic.Uint64 // Last applied SequenceID, for gap detection and deduplication
	mu    sync.RWMutex
	ask   *treemap.TreeMap[decimal.Decimal, decimal.Decimal]
	bid   *treemap.TreeMap[decimal.Decimal, decimal.Decimal]
}

// NewAggregatedBook creates a new AggregatedBook with empty ask and bid sides.
func NewAggregatedBook() *AggregatedBook {
	less := func(a, b decimal.Decimal) bool {
		return a.LessThan(b)
	}

	return &AggregatedBook{
		ask: treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](less),
		bid: treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](less),
	}
}

// SequenceID returns the last applied sequence ID.
func (ab *AggregatedBook) SequenceID() uint64 {
	return ab.seqID.Load()
}

// Replay applies a BookLog event to the aggregated state.
// Events at or below the last applied sequence ID are skipped (duplicates);
// a gap in the sequence returns ErrSequenceGap and applies nothing.
// Reject events do not change depth but still advance the sequence ID.
func (ab *AggregatedBook) Replay(log *BookLog) error {
	last := ab.seqID.Load()
	if log.SequenceID <= last {
		return nil
	}
	if last > 0 && log.SequenceID != last+1 {
		return ErrSequenceGap
	}

	change := CalculateDepthChange(log)
	if !change.SizeDiff.IsZero() {
		ab.apply(change)
	}

	ab.seqID.Store(log.SequenceID)
	return nil
}

func (ab *AggregatedBook) apply(change DepthChange) {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	tree := ab.bid
	if change.Side == Sell {
		tree = ab.ask
	}

	size, ok := tree.Get(change.Price)
	if !ok {
		size = decimal.Zero
	}

	size = size.Add(change.SizeDiff)
	if size.IsPositive() {
		tree.Set(change.Price, size)
	} else {
		tree.Del(change.Price)
	}
}

// Depth returns the aggregated size at a price level for the given side.
func (ab *AggregatedBook) Depth(side Side, price decimal.Decimal) (decimal.Decimal, bool) {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	tree := ab.bid
	if side == Sell {
		tree = ab.ask
	}

	return tree.Get(price)
}

// Levels returns the side's levels best-first: bids descending, asks ascending.
func (ab *AggregatedBook) Levels(side Side) []*DepthItem {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	if side == Buy {
		result := make([]*DepthItem, 0, ab.bid.Len())
		for it := ab.bid.Reverse(); it.Valid(); it.Next() {
			result = append(result, &DepthItem{Price: it.Key(), Size: it.Value()})
		}
		return result
	}

	result := make([]*DepthItem, 0, ab.ask.Len())
	for it := ab.ask.Iterator(); it.Valid(); it.Next() {
		result = append(result, &DepthItem{Price: it.Key(), Size: it.Value()})
	}
	return result
}
