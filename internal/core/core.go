// Package core orchestrates the trading loop: prices in, signals evaluated,
// candidates gated, orders executed, fills applied. Strict layering: the gate
// and tracker are invoked by the core and never call back into it.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"coinbot/internal/config"
	"coinbot/internal/domain"
	"coinbot/internal/position"
	"coinbot/internal/risk"
)

// PriceSource is the slice of the stream manager the core consumes.
type PriceSource interface {
	CurrentPrice(ctx context.Context, pair domain.Pair) (float64, error)
	History(pair domain.Pair) []float64
}

// OrderSubmitter is the slice of the executor the core consumes.
type OrderSubmitter interface {
	Submit(ctx context.Context, c domain.CandidateOrder) (*domain.Order, error)
	OpenCount() int
	Outstanding() []string
}

// Evaluator produces a trade signal from price history.
type Evaluator interface {
	Evaluate(pair domain.Pair, prices []float64) domain.Signal
}

// Notifier delivers operator-facing event messages. Implementations filter by
// event type themselves.
type Notifier interface {
	Notify(ctx context.Context, event, message string)
}

// Archiver uploads the previous day's trade journal at the daily boundary.
type Archiver interface {
	ArchiveDay(ctx context.Context, day time.Time) error
}

// Core drives one evaluation loop per configured pair. Pairs run
// concurrently; within a pair everything is sequential.
type Core struct {
	pairs     []domain.Pair
	prices    PriceSource
	evaluator Evaluator
	gate      *risk.Gate
	submitter OrderSubmitter
	tracker   *position.Tracker
	connector domain.ExchangeConnector
	logger    *slog.Logger

	evalInterval time.Duration
	minInterval  time.Duration
	defaultSize  float64
	dailyReset   string

	notifier Notifier
	archiver Archiver
	audit    domain.AuditStore

	admission sync.Mutex
	inflight  int

	mu          sync.Mutex
	lastTrade   map[domain.Pair]time.Time
	halted      map[domain.Pair]string
	lossTripped bool
}

// New wires the orchestrator. notifier, archiver, and audit may be nil.
func New(
	pairs []string,
	prices PriceSource,
	evaluator Evaluator,
	gate *risk.Gate,
	submitter OrderSubmitter,
	tracker *position.Tracker,
	connector domain.ExchangeConnector,
	cfg config.Config,
	logger *slog.Logger,
) *Core {
	ps := make([]domain.Pair, 0, len(pairs))
	for _, p := range pairs {
		ps = append(ps, domain.Pair(p))
	}
	return &Core{
		pairs:        ps,
		prices:       prices,
		evaluator:    evaluator,
		gate:         gate,
		submitter:    submitter,
		tracker:      tracker,
		connector:    connector,
		logger:       logger.With(slog.String("component", "core")),
		evalInterval: cfg.Strategy.EvalInterval.Duration,
		minInterval:  cfg.Order.MinTradeInterval.Duration,
		defaultSize:  cfg.Order.DefaultSize,
		dailyReset:   cfg.Risk.DailyReset,
		lastTrade:    make(map[domain.Pair]time.Time),
		halted:       make(map[domain.Pair]string),
	}
}

// WithNotifier attaches operator notifications.
func (c *Core) WithNotifier(n Notifier) *Core { c.notifier = n; return c }

// WithArchiver attaches the daily journal archiver.
func (c *Core) WithArchiver(a Archiver) *Core { c.archiver = a; return c }

// WithAudit attaches the audit log.
func (c *Core) WithAudit(a domain.AuditStore) *Core { c.audit = a; return c }

// Run blocks until ctx is cancelled, then reconciles outstanding orders and
// returns. A single pair failing never takes the process down.
func (c *Core) Run(ctx context.Context) error {
	c.logger.Info("trading core started",
		slog.Int("pairs", len(c.pairs)),
		slog.Duration("eval_interval", c.evalInterval))
	defer c.logger.Info("trading core stopped")

	g, gctx := errgroup.WithContext(ctx)
	for _, pair := range c.pairs {
		pair := pair
		g.Go(func() error {
			c.runPair(gctx, pair)
			return nil
		})
	}
	g.Go(func() error {
		c.runDailyReset(gctx)
		return nil
	})

	_ = g.Wait()
	c.reconcile()
	return ctx.Err()
}

// runPair is the per-pair evaluation loop. All state the loop mutates is
// either pair-local or guarded.
func (c *Core) runPair(ctx context.Context, pair domain.Pair) {
	log := c.logger.With(slog.String("pair", string(pair)))
	ticker := time.NewTicker(c.evalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.evaluateOnce(ctx, pair, log)
		}
	}
}

// evaluateOnce runs a single cycle for pair: evaluate, gate, submit, apply.
func (c *Core) evaluateOnce(ctx context.Context, pair domain.Pair, log *slog.Logger) {
	if reason, halted := c.haltedReason(pair); halted {
		log.Debug("pair halted, skipping", slog.String("reason", reason))
		return
	}

	price, err := c.prices.CurrentPrice(ctx, pair)
	if err != nil {
		log.Debug("no price, skipping cycle", slog.String("error", err.Error()))
		return
	}

	signal := c.evaluator.Evaluate(pair, c.prices.History(pair))
	if signal == domain.SignalHold {
		return
	}

	if !c.tradeIntervalElapsed(pair) {
		log.Debug("min trade interval not elapsed, suppressing",
			slog.String("signal", signal.String()))
		return
	}

	candidate := domain.CandidateOrder{
		Pair:     pair,
		Side:     signal.Side(),
		Quantity: c.defaultSize,
	}

	order, err := c.admitAndSubmit(ctx, candidate, price, log)
	if err != nil || order == nil {
		return
	}

	if order.State == domain.OrderStateFilled {
		c.applyFill(ctx, order, log)
	}
}

// admitAndSubmit assembles the policy snapshot and checks the gate under the
// admission lock, reserving an open-order slot before releasing it so
// concurrent pairs cannot oversubscribe the budget.
func (c *Core) admitAndSubmit(ctx context.Context, candidate domain.CandidateOrder, price float64, log *slog.Logger) (*domain.Order, error) {
	c.admission.Lock()
	snap := risk.PolicySnapshot{
		OpenOrders:   c.submitter.OpenCount() + c.inflight,
		PositionSize: c.tracker.Position(candidate.Pair).Size,
		DailyLoss:    c.tracker.DailyLoss(c.cachedPrice),
		CachedPrice:  price,
	}
	decision := c.gate.Check(snap, candidate)
	if !decision.OK {
		c.admission.Unlock()
		c.handleRejection(ctx, candidate, decision, log)
		return nil, decision.Err()
	}
	c.inflight++
	c.admission.Unlock()

	defer func() {
		c.admission.Lock()
		c.inflight--
		c.admission.Unlock()
	}()

	c.mu.Lock()
	c.lastTrade[candidate.Pair] = time.Now().UTC()
	c.mu.Unlock()

	log.Info("submitting order",
		slog.String("side", string(candidate.Side)),
		slog.Float64("qty", candidate.Quantity),
		slog.Float64("ref_price", price))

	order, err := c.submitter.Submit(ctx, candidate)
	if err != nil {
		log.Warn("order did not fill", slog.String("error", err.Error()))
		c.auditLog(ctx, "order_failed", map[string]any{
			"pair": string(candidate.Pair), "error": err.Error(),
		})
		return order, err
	}
	return order, nil
}

// applyFill books the fill on the tracker. An inconsistent fill halts the
// pair until an operator resumes it.
func (c *Core) applyFill(ctx context.Context, order *domain.Order, log *slog.Logger) {
	err := c.tracker.ApplyFill(order.Pair, order.Side, order.FillQuantity, order.FillPrice)
	if err != nil {
		c.haltPair(order.Pair, err.Error())
		log.Error("fill inconsistent, pair halted",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()))
		c.notify(ctx, "pair_halted",
			fmt.Sprintf("%s halted: %v", order.Pair, err))
		c.auditLog(ctx, "pair_halted", map[string]any{
			"pair": string(order.Pair), "order_id": order.ID, "error": err.Error(),
		})
		return
	}

	pos := c.tracker.Position(order.Pair)
	log.Info("fill applied",
		slog.String("order_id", order.ID),
		slog.Float64("price", order.FillPrice),
		slog.Float64("position", pos.Size))
	c.notify(ctx, "order_filled",
		fmt.Sprintf("%s %s %.6f @ %.2f (position %.6f)",
			order.Pair, order.Side, order.FillQuantity, order.FillPrice, pos.Size))
}

// handleRejection logs and notifies on gate rejections. The daily-loss trip
// notifies exactly once per day.
func (c *Core) handleRejection(ctx context.Context, candidate domain.CandidateOrder, d risk.Decision, log *slog.Logger) {
	log.Warn("candidate rejected",
		slog.String("side", string(candidate.Side)),
		slog.String("reason", d.Reason),
		slog.String("detail", d.Detail))
	c.auditLog(ctx, "risk_rejected", map[string]any{
		"pair": string(candidate.Pair), "reason": d.Reason, "detail": d.Detail,
	})

	if d.Reason != risk.ReasonDailyLoss {
		return
	}
	c.mu.Lock()
	first := !c.lossTripped
	c.lossTripped = true
	c.mu.Unlock()
	if first {
		c.notify(ctx, "daily_loss_tripped",
			fmt.Sprintf("daily loss limit tripped, trading locked until reset (%s)", d.Detail))
	}
}

// haltedReason reports whether pair is halted and why.
func (c *Core) haltedReason(pair domain.Pair) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.halted[pair]
	return r, ok
}

func (c *Core) haltPair(pair domain.Pair, reason string) {
	c.mu.Lock()
	c.halted[pair] = reason
	c.mu.Unlock()
}

// ResumePair clears a halt after manual reconciliation.
func (c *Core) ResumePair(pair domain.Pair) {
	c.mu.Lock()
	_, was := c.halted[pair]
	delete(c.halted, pair)
	c.mu.Unlock()
	if was {
		c.logger.Info("pair resumed", slog.String("pair", string(pair)))
	}
}

// HaltedPairs returns the currently halted pairs and their reasons.
func (c *Core) HaltedPairs() map[domain.Pair]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[domain.Pair]string, len(c.halted))
	for k, v := range c.halted {
		out[k] = v
	}
	return out
}

func (c *Core) tradeIntervalElapsed(pair domain.Pair) bool {
	if c.minInterval <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastTrade[pair]
	return !ok || time.Since(last) >= c.minInterval
}

// cachedPrice adapts the price source to the tracker's Pricer shape.
func (c *Core) cachedPrice(pair domain.Pair) (float64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p, err := c.prices.CurrentPrice(ctx, pair)
	return p, err == nil
}

// runDailyReset fires the tracker reset (and journal archive) at each daily
// boundary.
func (c *Core) runDailyReset(ctx context.Context) {
	for {
		wait := c.untilNextReset()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			c.dailyResetNow(ctx)
		}
	}
}

func (c *Core) untilNextReset() time.Duration {
	if c.dailyReset == "rolling_24h" {
		since := time.Since(c.tracker.DailyStats().ResetAt)
		if remaining := 24*time.Hour - since; remaining > 0 {
			return remaining
		}
		return time.Second
	}
	now := time.Now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next.Sub(now)
}

// dailyResetNow archives yesterday's journal, resets the daily accumulator,
// and re-arms the daily-loss trip.
func (c *Core) dailyResetNow(ctx context.Context) {
	stats := c.tracker.DailyStats()
	c.logger.Info("daily reset",
		slog.Int("trades", stats.Trades),
		slog.Float64("volume", stats.Volume),
		slog.Float64("realized_pnl", stats.RealizedPnL))

	if c.archiver != nil {
		day := time.Now().UTC().Add(-24 * time.Hour)
		if err := c.archiver.ArchiveDay(ctx, day); err != nil {
			c.logger.Warn("journal archive failed", slog.String("error", err.Error()))
		}
	}

	c.tracker.ResetDaily()
	c.mu.Lock()
	c.lossTripped = false
	c.mu.Unlock()

	c.notify(ctx, "daily_reset",
		fmt.Sprintf("daily reset: %d trades, %.2f volume, %.2f realized pnl",
			stats.Trades, stats.Volume, stats.RealizedPnL))
	c.auditLog(ctx, "daily_reset", map[string]any{
		"trades": stats.Trades, "volume": stats.Volume, "realized_pnl": stats.RealizedPnL,
	})
}

// reconcile runs once at shutdown: any order still non-terminal is reported
// against the exchange so an operator knows what is live.
func (c *Core) reconcile() {
	outstanding := c.submitter.Outstanding()
	if len(outstanding) == 0 {
		c.logger.Info("shutdown reconciliation clean, no outstanding orders")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.logger.Warn("outstanding orders at shutdown",
		slog.Int("count", len(outstanding)),
		slog.Any("exchange_ids", outstanding))

	positions, err := c.connector.GetAccountPositions(ctx)
	if err != nil {
		c.logger.Warn("account query failed during reconciliation",
			slog.String("error", err.Error()))
		return
	}
	for _, p := range positions {
		c.logger.Info("exchange position",
			slog.String("pair", string(p.Pair)),
			slog.Float64("size", p.Size),
			slog.Float64("avg_entry", p.AvgEntryPrice))
	}
	c.notify(ctx, "shutdown_outstanding",
		fmt.Sprintf("%d outstanding orders at shutdown", len(outstanding)))
}

func (c *Core) notify(ctx context.Context, event, msg string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(ctx, event, msg)
}

func (c *Core) auditLog(ctx context.Context, event string, detail map[string]any) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Log(ctx, event, detail); err != nil {
		c.logger.Debug("audit log failed", slog.String("error", err.Error()))
	}
}
