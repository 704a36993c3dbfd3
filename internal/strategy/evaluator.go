// Package strategy turns price history into trade signals. The evaluator is
// pure and stateless; all history lives with the stream manager.
package strategy

import (
	"log/slog"

	"coinbot/internal/config"
	"coinbot/internal/domain"
)

// Evaluator combines a moving-average crossover with an RSI filter.
type Evaluator struct {
	cfg    config.StrategyConfig
	logger *slog.Logger
}

// NewEvaluator builds an evaluator from validated config.
func NewEvaluator(cfg config.StrategyConfig, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "strategy")),
	}
}

// MASignal detects a short/long SMA crossover by comparing the relationship
// at the previous price against the current one. An upward cross is a buy, a
// downward cross a sell. Insufficient history for the long window (plus the
// previous point) holds.
func (e *Evaluator) MASignal(prices []float64) domain.Signal {
	if len(prices) < e.cfg.LongWindow+1 {
		return domain.SignalHold
	}

	curShort, _ := sma(prices, e.cfg.ShortWindow)
	curLong, _ := sma(prices, e.cfg.LongWindow)
	prev := prices[:len(prices)-1]
	prevShort, _ := sma(prev, e.cfg.ShortWindow)
	prevLong, _ := sma(prev, e.cfg.LongWindow)

	switch {
	case prevShort <= prevLong && curShort > curLong:
		return domain.SignalBuy
	case prevShort >= prevLong && curShort < curLong:
		return domain.SignalSell
	}
	return domain.SignalHold
}

// RSISignal buys when the RSI falls below the oversold threshold and sells
// above the overbought threshold. With insufficient history the RSI is
// neutral and the signal holds.
func (e *Evaluator) RSISignal(prices []float64) domain.Signal {
	v := rsi(prices, e.cfg.RSIWindow)
	switch {
	case v < e.cfg.RSIOversold:
		return domain.SignalBuy
	case v > e.cfg.RSIOverbought:
		return domain.SignalSell
	}
	return domain.SignalHold
}

// Evaluate merges both indicators per the configured combine policy:
// "agree" requires both to emit the same non-hold direction, "either" takes
// the first non-hold signal (MA first).
func (e *Evaluator) Evaluate(pair domain.Pair, prices []float64) domain.Signal {
	ma := e.MASignal(prices)
	rs := e.RSISignal(prices)

	var out domain.Signal
	switch e.cfg.Combine {
	case "either":
		out = ma
		if out == domain.SignalHold {
			out = rs
		}
	default: // agree
		if ma != domain.SignalHold && ma == rs {
			out = ma
		}
	}

	if out != domain.SignalHold {
		e.logger.Debug("signal",
			slog.String("pair", string(pair)),
			slog.String("ma", ma.String()),
			slog.String("rsi", rs.String()),
			slog.String("combined", out.String()))
	}
	return out
}
