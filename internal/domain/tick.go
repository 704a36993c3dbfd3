package domain

import "time"

// Pair identifies a spot trading pair as a base-quote symbol, e.g. "BTC-USD".
// Pairs are fixed by configuration at startup.
type Pair string

// PriceTick is a single price observation from the market-data feed.
type PriceTick struct {
	Pair  Pair
	Price float64
	Time  time.Time
}

// Signal is a strategy verdict for one pair at one evaluation point.
type Signal int

const (
	SignalHold Signal = iota
	SignalBuy
	SignalSell
)

// String returns the lowercase signal name.
func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "hold"
	}
}

// Side converts a non-hold signal into an order side. Calling Side on
// SignalHold is a programming error and returns an invalid side.
func (s Signal) Side() OrderSide {
	switch s {
	case SignalBuy:
		return OrderSideBuy
	case SignalSell:
		return OrderSideSell
	}
	return ""
}
