package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Valid reports whether the side is one of the two known values.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderState tracks the order lifecycle.
type OrderState string

const (
	OrderStatePending   OrderState = "pending"
	OrderStateSubmitted OrderState = "submitted"
	OrderStateRetrying  OrderState = "retrying"
	OrderStateFilled    OrderState = "filled"
	OrderStateRejected  OrderState = "rejected"
	OrderStateFailed    OrderState = "failed"
	OrderStateCancelled OrderState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateRejected, OrderStateFailed, OrderStateCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving from one state to
// the next. Terminal states admit nothing; everything else is spelled out so
// an illegal transition is always a hard error rather than a silent flag flip.
func CanTransition(from, to OrderState) bool {
	switch from {
	case OrderStatePending:
		return to == OrderStateSubmitted || to == OrderStateRejected
	case OrderStateSubmitted:
		return to == OrderStateRetrying || to == OrderStateFilled ||
			to == OrderStateRejected || to == OrderStateFailed || to == OrderStateCancelled
	case OrderStateRetrying:
		return to == OrderStateSubmitted || to == OrderStateFailed || to == OrderStateCancelled
	}
	return false
}

// CandidateOrder is a sized order proposal produced by the trading core from a
// strategy signal. It has no identity yet; the executor assigns one on submit.
type CandidateOrder struct {
	Pair       Pair
	Side       OrderSide
	Quantity   float64
	LimitPrice float64 // 0 means market order
}

// Market reports whether the candidate has no limit price.
func (c CandidateOrder) Market() bool { return c.LimitPrice == 0 }

// Order is a tracked order owned by the executor for its lifetime. Terminal
// orders are retained for audit and never mutated again.
type Order struct {
	ID           string
	Pair         Pair
	Side         OrderSide
	Quantity     float64
	LimitPrice   float64 // 0 means market order
	Paper        bool
	State        OrderState
	Attempts     int
	CreatedAt    time.Time
	FilledAt     time.Time
	FillPrice    float64
	FillQuantity float64
	ExchangeID   string // connector-assigned id, empty until acknowledged
	LastErr      string
}

// OrderAck is the connector's response to a placement request.
type OrderAck struct {
	ExchangeID string
	Status     string
	FillPrice  float64
}
