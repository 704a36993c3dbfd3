// Package stream owns the market-data connection lifecycle: subscription,
// price cache, rolling history, heartbeat watchdog, and reconnection.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"coinbot/internal/domain"
	"coinbot/internal/executor"
)

// State is the connection state machine.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Status is a point-in-time snapshot for monitoring.
type Status struct {
	State         State
	Pairs         []domain.Pair
	LastHeartbeat time.Time
	LastTick      time.Time
	Reconnects    int
}

// Manager multiplexes one streaming subscription into a per-pair price cache
// and bounded rolling history. Consumers read prices; the manager owns the
// connection and recovers it without consumer involvement.
type Manager struct {
	connector domain.ExchangeConnector
	logger    *slog.Logger

	heartbeatTimeout time.Duration
	startupTimeout   time.Duration
	historySize      int
	backoff          executor.RetryPolicy

	// Optional mirrors, best effort.
	cache domain.PriceCache
	bus   domain.EventBus

	mu            sync.RWMutex
	state         State
	pairs         []domain.Pair
	latest        map[domain.Pair]domain.PriceTick
	history       map[domain.Pair][]float64
	lastHeartbeat time.Time
	lastTick      time.Time
	reconnects    int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager builds a stream manager around the connector's Subscribe
// capability.
func NewManager(connector domain.ExchangeConnector, heartbeatTimeout, startupTimeout time.Duration, historySize int, backoff executor.RetryPolicy, logger *slog.Logger) *Manager {
	return &Manager{
		connector:        connector,
		logger:           logger.With(slog.String("component", "stream")),
		heartbeatTimeout: heartbeatTimeout,
		startupTimeout:   startupTimeout,
		historySize:      historySize,
		backoff:          backoff,
		state:            StateDisconnected,
		latest:           make(map[domain.Pair]domain.PriceTick),
		history:          make(map[domain.Pair][]float64),
	}
}

// WithMirror attaches the external price mirror and event bus. Must be called
// before Start.
func (m *Manager) WithMirror(cache domain.PriceCache, bus domain.EventBus) *Manager {
	m.cache = cache
	m.bus = bus
	return m
}

// Start subscribes to pairs and launches the supervision loop. It waits up to
// the startup timeout for the first connection; on timeout it returns nil
// anyway and keeps retrying in the background, serving cached data in the
// meantime. Calling Start on a running manager is a no-op.
func (m *Manager) Start(ctx context.Context, pairs []domain.Pair) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return nil
	}

	m.mu.Lock()
	m.pairs = append([]domain.Pair(nil), pairs...)
	m.state = StateConnecting
	m.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	connected := make(chan struct{})
	go m.supervise(runCtx, connected)

	select {
	case <-connected:
		return nil
	case <-time.After(m.startupTimeout):
		m.logger.Warn("stream not connected within startup timeout, continuing degraded",
			slog.Duration("timeout", m.startupTimeout))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stream: start: %w", ctx.Err())
	}
}

// Stop tears the subscription down and halts reconnection.
func (m *Manager) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()
	m.logger.Info("stream stopped")
}

// supervise runs connect/watch cycles until ctx is cancelled. Reconnect
// attempts are unbounded; only the delay is capped.
func (m *Manager) supervise(ctx context.Context, connected chan<- struct{}) {
	defer close(m.done)

	first := true
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		stream, err := m.connector.Subscribe(ctx, m.subscribedPairs(), m.onTick, m.onHeartbeat)
		if err != nil {
			m.setState(StateReconnecting)
			delay := m.backoff.Delay(attempt)
			attempt++
			m.logger.Warn("subscribe failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		m.markConnected()
		if first {
			close(connected)
			first = false
		}
		m.logger.Info("stream connected", slog.Int("pairs", len(m.subscribedPairs())))

		cause := m.watch(ctx, stream)
		_ = stream.Close()
		if ctx.Err() != nil {
			return
		}

		m.noteReconnect(cause)
	}
}

// watch blocks until the stream fails or heartbeats go stale, returning the
// reason the connection is considered dead.
func (m *Manager) watch(ctx context.Context, stream domain.PriceStream) string {
	ticker := time.NewTicker(m.heartbeatTimeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"

		case err := <-stream.Err():
			if err == nil {
				return "closed"
			}
			return err.Error()

		case <-ticker.C:
			m.mu.RLock()
			last := m.lastHeartbeat
			if m.lastTick.After(last) {
				last = m.lastTick
			}
			m.mu.RUnlock()
			if time.Since(last) > m.heartbeatTimeout {
				return "heartbeat stale"
			}
		}
	}
}

func (m *Manager) markConnected() {
	m.mu.Lock()
	m.state = StateConnected
	now := time.Now().UTC()
	m.lastHeartbeat = now
	m.mu.Unlock()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) noteReconnect(cause string) {
	m.mu.Lock()
	m.state = StateReconnecting
	m.reconnects++
	n := m.reconnects
	m.mu.Unlock()

	m.logger.Warn("stream lost, reconnecting",
		slog.String("cause", cause),
		slog.Int("reconnects", n))
	m.publishEvent("stream.reconnecting", map[string]any{"cause": cause, "count": n})
}

func (m *Manager) subscribedPairs() []domain.Pair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Pair(nil), m.pairs...)
}

// onTick records a tick into the cache and history atomically, then mirrors
// it outward.
func (m *Manager) onTick(tick domain.PriceTick) {
	if tick.Price <= 0 {
		return
	}

	m.mu.Lock()
	m.latest[tick.Pair] = tick
	h := append(m.history[tick.Pair], tick.Price)
	if len(h) > m.historySize {
		h = h[len(h)-m.historySize:]
	}
	m.history[tick.Pair] = h
	m.lastTick = time.Now().UTC()
	m.mu.Unlock()

	if m.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := m.cache.SetPrice(ctx, tick.Pair, tick.Price, tick.Time); err != nil {
			m.logger.Debug("price mirror failed", slog.String("error", err.Error()))
		}
		cancel()
	}
}

func (m *Manager) onHeartbeat(ts time.Time) {
	m.mu.Lock()
	m.lastHeartbeat = ts
	m.mu.Unlock()
}

// CurrentPrice serves the cached tick for pair. On a cache miss it asks the
// connector directly and seeds the cache; when that fails too it reports
// ErrPriceUnavailable.
func (m *Manager) CurrentPrice(ctx context.Context, pair domain.Pair) (float64, error) {
	m.mu.RLock()
	tick, ok := m.latest[pair]
	m.mu.RUnlock()
	if ok {
		return tick.Price, nil
	}

	price, err := m.connector.GetPrice(ctx, pair)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("stream: current price %s: %w", pair, domain.ErrPriceUnavailable)
	}
	m.onTick(domain.PriceTick{Pair: pair, Price: price, Time: time.Now().UTC()})
	return price, nil
}

// History returns a copy of the rolling price history for pair, oldest first.
func (m *Manager) History(pair domain.Pair) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]float64(nil), m.history[pair]...)
}

// Status reports the connection snapshot for monitor mode.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		State:         m.state,
		Pairs:         append([]domain.Pair(nil), m.pairs...),
		LastHeartbeat: m.lastHeartbeat,
		LastTick:      m.lastTick,
		Reconnects:    m.reconnects,
	}
}

func (m *Manager) publishEvent(event string, fields map[string]any) {
	if m.bus == nil {
		return
	}
	fields["event"] = event
	payload, err := json.Marshal(fields)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.bus.Publish(ctx, "stream", payload); err != nil {
		m.logger.Debug("event publish failed", slog.String("error", err.Error()))
	}
}
