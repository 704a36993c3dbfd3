package domain

// Position is the engine's authoritative view of holdings for one pair.
// It is owned exclusively by the position tracker and mutated only on
// confirmed fills.
type Position struct {
	Pair          Pair
	Size          float64
	AvgEntryPrice float64
	RealizedPnL   float64
}

// Flat reports whether the position has no open size.
func (p Position) Flat() bool { return p.Size == 0 }

// UnrealizedPnL computes mark-to-market PnL at the given price. Pure; does not
// touch tracker state.
func (p Position) UnrealizedPnL(currentPrice float64) float64 {
	if p.Size == 0 {
		return 0
	}
	return (currentPrice - p.AvgEntryPrice) * p.Size
}
