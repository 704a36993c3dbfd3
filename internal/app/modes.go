package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"coinbot/internal/core"
	"coinbot/internal/domain"
	"coinbot/internal/executor"
	"coinbot/internal/position"
	"coinbot/internal/risk"
	"coinbot/internal/strategy"
	"coinbot/internal/stream"
)

// statusLogInterval is the cadence of the monitor mode status line.
const statusLogInterval = 30 * time.Second

// TradeMode runs the full engine: market data stream, strategy evaluation,
// risk gating, order execution, and position tracking. It blocks until the
// context is cancelled.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Any("pairs", a.cfg.TradingPairs))

	mgr := a.buildStreamManager(deps)
	if err := mgr.Start(ctx, tradingPairs(a.cfg.TradingPairs)); err != nil {
		return err
	}
	defer mgr.Stop()

	tracker := position.NewTracker(a.logger, a.cfg.Risk.StopLossPct)
	gate := risk.NewGate(a.cfg.Risk, a.cfg.Order)
	evaluator := strategy.NewEvaluator(a.cfg.Strategy, a.logger)

	exec := executor.NewExecutor(
		deps.Connector,
		mgr,
		executor.PolicyFromConfig(a.cfg.Retry),
		a.cfg.PaperTrading,
		a.logger,
	)
	if deps.OrderStore != nil && deps.FillStore != nil {
		exec.WithStores(deps.OrderStore, deps.FillStore)
	}
	if deps.EventBus != nil {
		exec.WithBus(deps.EventBus)
	}

	engine := core.New(
		a.cfg.TradingPairs,
		mgr,
		evaluator,
		gate,
		exec,
		tracker,
		deps.Connector,
		*a.cfg,
		a.logger,
	)
	if deps.Notifier != nil {
		engine.WithNotifier(deps.Notifier)
	}
	if deps.Archiver != nil {
		engine.WithArchiver(deps.Archiver)
	}
	if deps.AuditStore != nil {
		engine.WithAudit(deps.AuditStore)
	}

	return engine.Run(ctx)
}

// MonitorMode runs the market data stream without trading: ticks are cached,
// mirrored to Redis when enabled, and a status line is logged periodically.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Any("pairs", a.cfg.TradingPairs))

	mgr := a.buildStreamManager(deps)
	if err := mgr.Start(ctx, tradingPairs(a.cfg.TradingPairs)); err != nil {
		return err
	}
	defer mgr.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(statusLogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				st := mgr.Status()
				a.logger.InfoContext(ctx, "stream status",
					slog.String("state", string(st.State)),
					slog.Int("reconnects", st.Reconnects),
					slog.Time("last_tick", st.LastTick),
					slog.Time("last_heartbeat", st.LastHeartbeat),
				)
			}
		}
	})

	return g.Wait()
}

func (a *App) buildStreamManager(deps *Dependencies) *stream.Manager {
	mgr := stream.NewManager(
		deps.Connector,
		a.cfg.Stream.HeartbeatTimeout.Duration,
		a.cfg.Stream.StartupTimeout.Duration,
		a.cfg.Stream.HistorySize,
		executor.PolicyFromConfig(a.cfg.Retry),
		a.logger,
	)
	if deps.PriceCache != nil || deps.EventBus != nil {
		mgr.WithMirror(deps.PriceCache, deps.EventBus)
	}
	return mgr
}

func tradingPairs(pairs []string) []domain.Pair {
	out := make([]domain.Pair, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, domain.Pair(p))
	}
	return out
}
