package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := map[OrderState][]OrderState{
		OrderStatePending:   {OrderStateSubmitted, OrderStateRejected},
		OrderStateSubmitted: {OrderStateRetrying, OrderStateFilled, OrderStateRejected, OrderStateFailed, OrderStateCancelled},
		OrderStateRetrying:  {OrderStateSubmitted, OrderStateFailed, OrderStateCancelled},
		OrderStateFilled:    nil,
		OrderStateRejected:  nil,
		OrderStateFailed:    nil,
		OrderStateCancelled: nil,
	}

	states := []OrderState{
		OrderStatePending, OrderStateSubmitted, OrderStateRetrying,
		OrderStateFilled, OrderStateRejected, OrderStateFailed, OrderStateCancelled,
	}

	for from, targets := range allowed {
		ok := make(map[OrderState]bool, len(targets))
		for _, to := range targets {
			ok[to] = true
		}
		for _, to := range states {
			assert.Equal(t, ok[to], CanTransition(from, to),
				"transition %s -> %s", from, to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	assert.False(t, OrderStatePending.Terminal())
	assert.False(t, OrderStateSubmitted.Terminal())
	assert.False(t, OrderStateRetrying.Terminal())

	assert.True(t, OrderStateFilled.Terminal())
	assert.True(t, OrderStateRejected.Terminal())
	assert.True(t, OrderStateFailed.Terminal())
	assert.True(t, OrderStateCancelled.Terminal())
}

func TestCandidateOrderMarket(t *testing.T) {
	assert.True(t, CandidateOrder{Pair: "BTC-USD", Side: OrderSideBuy, Quantity: 0.1}.Market())
	assert.False(t, CandidateOrder{Pair: "BTC-USD", Side: OrderSideBuy, Quantity: 0.1, LimitPrice: 45000}.Market())
}

func TestOrderSideValid(t *testing.T) {
	assert.True(t, OrderSideBuy.Valid())
	assert.True(t, OrderSideSell.Valid())
	assert.False(t, OrderSide("short").Valid())
	assert.False(t, OrderSide("").Valid())
}
