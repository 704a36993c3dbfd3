package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinbot/internal/domain"
	"coinbot/internal/executor"
)

type fakeStream struct {
	errCh     chan error
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{errCh: make(chan error, 1)}
}

func (s *fakeStream) Err() <-chan error { return s.errCh }

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.errCh) })
	return nil
}

func (s *fakeStream) fail(err error) { s.errCh <- err }

// streamConnector hands out fake streams and captures the handlers so tests
// can inject ticks and heartbeats.
type streamConnector struct {
	mu          sync.Mutex
	subscribes  int
	failFirst   int
	onTick      domain.TickHandler
	onHeartbeat domain.HeartbeatHandler
	streams     []*fakeStream
	restPrice   float64
	restErr     error
}

func (c *streamConnector) Subscribe(ctx context.Context, pairs []domain.Pair, onTick domain.TickHandler, onHeartbeat domain.HeartbeatHandler) (domain.PriceStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes++
	if c.subscribes <= c.failFirst {
		return nil, domain.Transient("subscribe", errors.New("refused"))
	}
	c.onTick = onTick
	c.onHeartbeat = onHeartbeat
	s := newFakeStream()
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *streamConnector) GetPrice(ctx context.Context, pair domain.Pair) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restErr != nil {
		return 0, c.restErr
	}
	return c.restPrice, nil
}

func (c *streamConnector) PlaceOrder(ctx context.Context, pair domain.Pair, side domain.OrderSide, qty, limit float64) (domain.OrderAck, error) {
	return domain.OrderAck{}, errors.New("not implemented")
}

func (c *streamConnector) CancelOrder(ctx context.Context, exchangeID string) error {
	return errors.New("not implemented")
}

func (c *streamConnector) GetAccountPositions(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}

func (c *streamConnector) subscribeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes
}

func (c *streamConnector) tick(pair domain.Pair, price float64) {
	c.mu.Lock()
	h := c.onTick
	c.mu.Unlock()
	if h != nil {
		h(domain.PriceTick{Pair: pair, Price: price, Time: time.Now().UTC()})
	}
}

func (c *streamConnector) heartbeat() {
	c.mu.Lock()
	h := c.onHeartbeat
	c.mu.Unlock()
	if h != nil {
		h(time.Now().UTC())
	}
}

func (c *streamConnector) currentStream() *fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.streams) == 0 {
		return nil
	}
	return c.streams[len(c.streams)-1]
}

var _ domain.ExchangeConnector = (*streamConnector)(nil)

func testBackoff() executor.RetryPolicy {
	return executor.RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 2}
}

func newTestManager(conn *streamConnector, heartbeat time.Duration) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(conn, heartbeat, time.Second, 5, testBackoff(), logger)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartConnectsAndCachesTicks(t *testing.T) {
	conn := &streamConnector{}
	m := newTestManager(conn, time.Minute)
	defer m.Stop()

	require.NoError(t, m.Start(context.Background(), []domain.Pair{"BTC-USD"}))
	require.Equal(t, StateConnected, m.Status().State)

	conn.tick("BTC-USD", 101)
	conn.tick("BTC-USD", 102)

	price, err := m.CurrentPrice(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 102.0, price)
	assert.Equal(t, []float64{101, 102}, m.History("BTC-USD"))
}

func TestHistoryIsBounded(t *testing.T) {
	conn := &streamConnector{}
	m := newTestManager(conn, time.Minute) // history size 5
	defer m.Stop()

	require.NoError(t, m.Start(context.Background(), []domain.Pair{"BTC-USD"}))
	for i := 1; i <= 8; i++ {
		conn.tick("BTC-USD", float64(i))
	}

	assert.Equal(t, []float64{4, 5, 6, 7, 8}, m.History("BTC-USD"))
}

func TestHistoryReturnsCopy(t *testing.T) {
	conn := &streamConnector{}
	m := newTestManager(conn, time.Minute)
	defer m.Stop()

	require.NoError(t, m.Start(context.Background(), []domain.Pair{"BTC-USD"}))
	conn.tick("BTC-USD", 1)

	h := m.History("BTC-USD")
	h[0] = 999
	assert.Equal(t, []float64{1}, m.History("BTC-USD"))
}

func TestCurrentPriceFallsBackToConnector(t *testing.T) {
	conn := &streamConnector{restPrice: 55}
	m := newTestManager(conn, time.Minute)
	defer m.Stop()

	require.NoError(t, m.Start(context.Background(), []domain.Pair{"ETH-USD"}))

	price, err := m.CurrentPrice(context.Background(), "ETH-USD")
	require.NoError(t, err)
	assert.Equal(t, 55.0, price)

	// The fallback seeds the cache so the next read is local.
	conn.mu.Lock()
	conn.restErr = errors.New("down")
	conn.mu.Unlock()
	price, err = m.CurrentPrice(context.Background(), "ETH-USD")
	require.NoError(t, err)
	assert.Equal(t, 55.0, price)
}

func TestCurrentPriceUnavailable(t *testing.T) {
	conn := &streamConnector{restErr: errors.New("down")}
	m := newTestManager(conn, time.Minute)
	defer m.Stop()

	require.NoError(t, m.Start(context.Background(), []domain.Pair{"ETH-USD"}))

	_, err := m.CurrentPrice(context.Background(), "ETH-USD")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestStreamErrorTriggersReconnect(t *testing.T) {
	conn := &streamConnector{}
	m := newTestManager(conn, time.Minute)
	defer m.Stop()

	require.NoError(t, m.Start(context.Background(), []domain.Pair{"BTC-USD"}))
	require.Equal(t, 1, conn.subscribeCount())

	conn.currentStream().fail(domain.ErrConnectionLost)

	waitFor(t, func() bool { return conn.subscribeCount() >= 2 }, "no resubscribe after stream error")
	waitFor(t, func() bool { return m.Status().State == StateConnected }, "never reconnected")
	assert.GreaterOrEqual(t, m.Status().Reconnects, 1)
}

func TestStaleHeartbeatForcesReconnectAndKeepsCache(t *testing.T) {
	conn := &streamConnector{}
	m := newTestManager(conn, 30*time.Millisecond)
	defer m.Stop()

	require.NoError(t, m.Start(context.Background(), []domain.Pair{"BTC-USD"}))
	conn.tick("BTC-USD", 250)
	conn.heartbeat()

	// Go silent: no ticks, no heartbeats. The watchdog must declare the
	// connection dead and resubscribe.
	waitFor(t, func() bool { return conn.subscribeCount() >= 2 }, "watchdog never fired")
	assert.GreaterOrEqual(t, m.Status().Reconnects, 1)

	// Cached prices keep serving throughout.
	price, err := m.CurrentPrice(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 250.0, price)
}

func TestStartDegradedWhenSubscribeFails(t *testing.T) {
	conn := &streamConnector{failFirst: 1000000}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(conn, time.Minute, 20*time.Millisecond, 5, testBackoff(), logger)
	defer m.Stop()

	// Start returns despite the feed being down, and keeps retrying.
	require.NoError(t, m.Start(context.Background(), []domain.Pair{"BTC-USD"}))
	assert.Equal(t, StateReconnecting, m.Status().State)
	before := conn.subscribeCount()
	waitFor(t, func() bool { return conn.subscribeCount() > before }, "no background retries")
}

func TestStartIsIdempotent(t *testing.T) {
	conn := &streamConnector{}
	m := newTestManager(conn, time.Minute)
	defer m.Stop()

	require.NoError(t, m.Start(context.Background(), []domain.Pair{"BTC-USD"}))
	require.NoError(t, m.Start(context.Background(), []domain.Pair{"BTC-USD"}))
	assert.Equal(t, 1, conn.subscribeCount())
}

func TestStopHaltsReconnection(t *testing.T) {
	conn := &streamConnector{}
	m := newTestManager(conn, time.Minute)

	require.NoError(t, m.Start(context.Background(), []domain.Pair{"BTC-USD"}))
	m.Stop()
	assert.Equal(t, StateDisconnected, m.Status().State)

	count := conn.subscribeCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, conn.subscribeCount())

	// Stop twice is safe.
	m.Stop()
}
