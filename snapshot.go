package match

// OrderBookSnapshot contains the full resident-order state of a single
// OrderBook. Orders are listed in priority order (best price first, FIFO
// within a level), so feeding them back through Restore reproduces the
// exact matching priority.
type OrderBookSnapshot struct {
	SchemaVersion int      `json:"schema_version"`
	Instrument    string   `json:"instrument"`
	SeqID         uint64   `json:"seq_id"`   // Current BookLog sequence ID
	TradeID       uint64   `json:"trade_id"` // Current trade sequence ID
	Bids          []*Order `json:"bids"`
	Asks          []*Order `json:"asks"`
}
