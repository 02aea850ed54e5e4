package match

// CalculateDepthChange calculates the depth change caused by a book log.
// It returns which side and price level should be updated and by how much.
// Note: for LogTypeMatch, the side returned is the maker's side (opposite of
// the log's taker side), because a match removes the maker's liquidity.
func CalculateDepthChange(log *BookLog) DepthChange {
	switch log.Type {
	case LogTypeOpen:
		return DepthChange{
			Side:     log.Side,
			Price:    log.Price,
			SizeDiff: log.Size,
		}
	case LogTypeMatch:
		return DepthChange{
			Side:     log.Side.Opposite(),
			Price:    log.Price,
			SizeDiff: log.Size.Neg(),
		}
	case LogTypeReject:
		// Rejected orders never entered the book, so no depth change.
		return DepthChange{}
	}

	return DepthChange{}
}
