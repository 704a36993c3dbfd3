// Package risk implements the pre-trade policy gate. The gate is pure: it
// judges a candidate order against a snapshot of engine state and the
// configured limits, and never performs I/O or mutation itself.
package risk

import (
	"fmt"
	"math"

	"coinbot/internal/config"
	"coinbot/internal/domain"
)

// Stable rejection reasons. These appear in logs, audit rows, and bus events;
// do not rename them.
const (
	ReasonInvalidParams        = "invalid_params"
	ReasonMaxOpenOrders        = "max_open_orders_exceeded"
	ReasonMaxPositionSize      = "max_position_size_exceeded"
	ReasonInsufficientHoldings = "insufficient_holdings"
	ReasonDailyLoss            = "daily_loss_exceeded"
	ReasonSlippage             = "slippage_exceeded"
)

// holdingsEpsilon absorbs float drift when a sell closes a position in full,
// mirroring the tracker's flat detection.
const holdingsEpsilon = 1e-9

// PolicySnapshot is the engine state the gate judges against. The caller
// assembles it under its admission lock so the counts cannot drift between
// check and submit.
type PolicySnapshot struct {
	// OpenOrders is the number of non-terminal orders across all pairs,
	// not counting the candidate.
	OpenOrders int
	// PositionSize is the current signed base-asset size for the
	// candidate's pair.
	PositionSize float64
	// DailyLoss is the accumulated loss since the last daily reset,
	// including worst-case stop-loss exposure of open positions.
	// Positive means losing.
	DailyLoss float64
	// CachedPrice is the latest stream price for the pair, or 0 when no
	// price has been observed yet.
	CachedPrice float64
}

// Decision is the gate verdict. Reason and Detail are only set on rejection.
type Decision struct {
	OK     bool
	Reason string
	Detail string
}

// Gate evaluates candidates against the configured risk limits.
type Gate struct {
	risk  config.RiskConfig
	order config.OrderConfig
}

// NewGate builds a gate from the configured limits.
func NewGate(risk config.RiskConfig, order config.OrderConfig) *Gate {
	return &Gate{risk: risk, order: order}
}

// Check runs every policy check in a fixed order and returns the first
// failure. The order is part of the contract: parameter validity, open-order
// budget, position bound, slippage, daily loss. The book is long-only: sells
// are bounded by tracked holdings, and the daily-loss lockout applies to
// opening (buy) candidates only.
func (g *Gate) Check(snap PolicySnapshot, c domain.CandidateOrder) Decision {
	if !c.Side.Valid() || c.Quantity <= 0 || c.LimitPrice < 0 {
		return reject(ReasonInvalidParams,
			fmt.Sprintf("side=%q quantity=%v limit=%v", c.Side, c.Quantity, c.LimitPrice))
	}

	if snap.OpenOrders+1 > g.risk.MaxOpenOrders {
		return reject(ReasonMaxOpenOrders,
			fmt.Sprintf("open=%d max=%d", snap.OpenOrders, g.risk.MaxOpenOrders))
	}

	// Sells may close no more than the tracked holdings; anything larger is
	// a stale signal, not a short entry. Rejecting here keeps
	// ErrInconsistentFill reserved for genuine book divergence.
	if c.Side == domain.OrderSideSell {
		if c.Quantity > snap.PositionSize+holdingsEpsilon {
			return reject(ReasonInsufficientHoldings,
				fmt.Sprintf("sell=%v held=%v", c.Quantity, snap.PositionSize))
		}
	} else if projected := snap.PositionSize + c.Quantity; projected > g.risk.MaxPositionSize {
		return reject(ReasonMaxPositionSize,
			fmt.Sprintf("projected=%v max=%v", projected, g.risk.MaxPositionSize))
	}

	// Limit orders far from the live price are either stale signals or fat
	// fingers. Only checkable when the stream has a price.
	if !c.Market() && snap.CachedPrice > 0 && g.order.MaxSlippagePct > 0 {
		drift := math.Abs(c.LimitPrice-snap.CachedPrice) / snap.CachedPrice
		if drift > g.order.MaxSlippagePct {
			return reject(ReasonSlippage,
				fmt.Sprintf("limit=%v market=%v drift=%.4f max=%.4f",
					c.LimitPrice, snap.CachedPrice, drift, g.order.MaxSlippagePct))
		}
	}

	// Project the worst case: the candidate fills and then stops out. On a
	// long-only book an admitted sell only reduces exposure, so the loss
	// lockout rejects opening candidates and lets sells through.
	if c.Side == domain.OrderSideBuy {
		refPrice := c.LimitPrice
		if c.Market() {
			refPrice = snap.CachedPrice
		}
		worstCase := snap.DailyLoss
		if refPrice > 0 {
			worstCase += c.Quantity * refPrice * g.risk.StopLossPct
		}
		if worstCase > g.risk.MaxDailyLoss {
			return reject(ReasonDailyLoss,
				fmt.Sprintf("projected=%.2f max=%.2f", worstCase, g.risk.MaxDailyLoss))
		}
	}

	return Decision{OK: true}
}

func reject(reason, detail string) Decision {
	return Decision{OK: false, Reason: reason, Detail: detail}
}

// Err converts a rejection into a RiskRejectedError, or nil when the decision
// passed.
func (d Decision) Err() error {
	if d.OK {
		return nil
	}
	return &domain.RiskRejectedError{Reason: d.Reason, Detail: d.Detail}
}
