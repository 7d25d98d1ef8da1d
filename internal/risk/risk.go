package risk

// Limits encodes the exchange-level notional guard-rails.
type Limits struct {
	// MinOrderNotional is the smallest order value the exchange accepts.
	MinOrderNotional float64
	// DustThreshold marks holdings too small to count as real positions.
	DustThreshold float64
}

// Allow reports whether an order of this notional may be placed.
func (l Limits) Allow(notional float64) bool {
	return notional >= l.MinOrderNotional
}

// Dust reports whether a holding of this value is ignorable dust.
func (l Limits) Dust(notional float64) bool {
	return notional < l.DustThreshold
}
