// Package position maintains the per-pair position book and the daily PnL
// accumulator. The tracker is the single source of truth for exposure; only
// the trading core writes to it.
package position

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"coinbot/internal/domain"
)

// Pricer resolves a current price for a pair. The stream manager satisfies
// this; tests use a map.
type Pricer func(pair domain.Pair) (float64, bool)

// DailyStats summarizes activity since the last daily reset.
type DailyStats struct {
	Trades      int
	Volume      float64
	RealizedPnL float64
	ResetAt     time.Time
}

// Tracker holds open positions and realized PnL. A single mutex guards both
// the per-pair books and the daily accumulator so cross-pair reads are
// consistent.
type Tracker struct {
	logger *slog.Logger

	mu        sync.Mutex
	positions map[domain.Pair]*domain.Position
	stopLoss  float64

	dailyRealized float64
	dailyTrades   int
	dailyVolume   float64
	resetAt       time.Time
}

// NewTracker builds an empty tracker. stopLossPct is used to project the
// worst-case loss of open exposure into the daily-loss figure.
func NewTracker(logger *slog.Logger, stopLossPct float64) *Tracker {
	return &Tracker{
		logger:    logger.With(slog.String("component", "position_tracker")),
		positions: make(map[domain.Pair]*domain.Position),
		stopLoss:  stopLossPct,
		resetAt:   time.Now().UTC(),
	}
}

// ApplyFill updates the book for one confirmed fill. Buys grow the position
// at a weighted-average entry price; sells realize PnL proportionally to the
// quantity closed. A sell exceeding the held size is rejected with
// ErrInconsistentFill and leaves the book untouched.
func (t *Tracker) ApplyFill(pair domain.Pair, side domain.OrderSide, qty, price float64) error {
	if qty <= 0 || price <= 0 {
		return fmt.Errorf("position: apply fill: %w", domain.ErrInvalidOrderParams)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[pair]
	if !ok {
		pos = &domain.Position{Pair: pair}
		t.positions[pair] = pos
	}

	switch side {
	case domain.OrderSideBuy:
		newSize := pos.Size + qty
		pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Size + price*qty) / newSize
		pos.Size = newSize

	case domain.OrderSideSell:
		if qty > pos.Size+sizeEpsilon {
			return fmt.Errorf("position: sell %v exceeds held %v on %s: %w",
				qty, pos.Size, pair, domain.ErrInconsistentFill)
		}
		realized := (price - pos.AvgEntryPrice) * qty
		pos.RealizedPnL += realized
		pos.Size -= qty
		if pos.Size < sizeEpsilon {
			pos.Size = 0
			pos.AvgEntryPrice = 0
		}
		t.dailyRealized += realized

	default:
		return fmt.Errorf("position: apply fill: %w", domain.ErrInvalidOrderParams)
	}

	t.dailyTrades++
	t.dailyVolume += qty * price

	t.logger.Debug("fill applied",
		slog.String("pair", string(pair)),
		slog.String("side", string(side)),
		slog.Float64("qty", qty),
		slog.Float64("price", price),
		slog.Float64("size", pos.Size),
		slog.Float64("avg_entry", pos.AvgEntryPrice))
	return nil
}

// sizeEpsilon absorbs float drift when a position is closed in full.
const sizeEpsilon = 1e-9

// Position returns a copy of the book for pair. A flat zero-value position is
// returned for pairs never traded.
func (t *Tracker) Position(pair domain.Pair) domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pos, ok := t.positions[pair]; ok {
		return *pos
	}
	return domain.Position{Pair: pair}
}

// Positions returns a copy of every non-flat position.
func (t *Tracker) Positions() []domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Position, 0, len(t.positions))
	for _, pos := range t.positions {
		if !pos.Flat() {
			out = append(out, *pos)
		}
	}
	return out
}

// UnrealizedPnL marks the open position for pair against price.
func (t *Tracker) UnrealizedPnL(pair domain.Pair, price float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[pair]
	if !ok {
		return 0
	}
	return pos.UnrealizedPnL(price)
}

// DailyLoss returns the loss accumulated since the last reset plus the
// worst-case stop-loss exposure of every open position, as a positive number.
// Pairs without a resolvable price contribute entry-price exposure.
func (t *Tracker) DailyLoss(price Pricer) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	loss := -t.dailyRealized
	for pair, pos := range t.positions {
		if pos.Flat() {
			continue
		}
		ref := pos.AvgEntryPrice
		if price != nil {
			if p, ok := price(pair); ok && p > 0 {
				ref = p
			}
		}
		loss += pos.Size * ref * t.stopLoss
	}
	if loss < 0 {
		return 0
	}
	return loss
}

// DailyStats returns activity counters since the last reset.
func (t *Tracker) DailyStats() DailyStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return DailyStats{
		Trades:      t.dailyTrades,
		Volume:      t.dailyVolume,
		RealizedPnL: t.dailyRealized,
		ResetAt:     t.resetAt,
	}
}

// ResetDaily zeroes the daily accumulator. Open positions and lifetime
// realized PnL are untouched.
func (t *Tracker) ResetDaily() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger.Info("daily accumulator reset",
		slog.Int("trades", t.dailyTrades),
		slog.Float64("realized_pnl", t.dailyRealized))
	t.dailyRealized = 0
	t.dailyTrades = 0
	t.dailyVolume = 0
	t.resetAt = time.Now().UTC()
}
