package position

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinbot/internal/domain"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return NewTracker(slog.New(slog.NewTextHandler(io.Discard, nil)), 0.05)
}

func TestApplyFillWeightedAverage(t *testing.T) {
	tr := newTestTracker(t)

	require.NoError(t, tr.ApplyFill("BTC-USD", domain.OrderSideBuy, 1, 100))
	require.NoError(t, tr.ApplyFill("BTC-USD", domain.OrderSideBuy, 1, 200))

	pos := tr.Position("BTC-USD")
	assert.Equal(t, 2.0, pos.Size)
	assert.InDelta(t, 150.0, pos.AvgEntryPrice, 1e-9)
}

func TestApplyFillProportionalRealization(t *testing.T) {
	tr := newTestTracker(t)

	require.NoError(t, tr.ApplyFill("BTC-USD", domain.OrderSideBuy, 2, 100))
	require.NoError(t, tr.ApplyFill("BTC-USD", domain.OrderSideSell, 1, 120))

	pos := tr.Position("BTC-USD")
	assert.InDelta(t, 1.0, pos.Size, 1e-9)
	assert.InDelta(t, 100.0, pos.AvgEntryPrice, 1e-9)
	assert.InDelta(t, 20.0, pos.RealizedPnL, 1e-9)
}

func TestRoundTripIsZeroSum(t *testing.T) {
	tr := newTestTracker(t)

	// Buy then fully sell at the same price: no realized PnL and a flat
	// book.
	require.NoError(t, tr.ApplyFill("ETH-USD", domain.OrderSideBuy, 3, 50))
	require.NoError(t, tr.ApplyFill("ETH-USD", domain.OrderSideSell, 3, 50))

	pos := tr.Position("ETH-USD")
	assert.True(t, pos.Flat())
	assert.InDelta(t, 0.0, pos.RealizedPnL, 1e-9)
	assert.Equal(t, 0.0, pos.AvgEntryPrice)
	assert.InDelta(t, 0.0, tr.DailyStats().RealizedPnL, 1e-9)
}

func TestApplyFillRejectsOversell(t *testing.T) {
	tr := newTestTracker(t)

	require.NoError(t, tr.ApplyFill("BTC-USD", domain.OrderSideBuy, 1, 100))
	err := tr.ApplyFill("BTC-USD", domain.OrderSideSell, 2, 100)
	require.ErrorIs(t, err, domain.ErrInconsistentFill)

	// Rejected fills leave the book untouched.
	pos := tr.Position("BTC-USD")
	assert.Equal(t, 1.0, pos.Size)
	assert.Equal(t, 1, tr.DailyStats().Trades)
}

func TestApplyFillRejectsBadParams(t *testing.T) {
	tr := newTestTracker(t)

	assert.ErrorIs(t, tr.ApplyFill("BTC-USD", domain.OrderSideBuy, 0, 100), domain.ErrInvalidOrderParams)
	assert.ErrorIs(t, tr.ApplyFill("BTC-USD", domain.OrderSideBuy, 1, 0), domain.ErrInvalidOrderParams)
	assert.ErrorIs(t, tr.ApplyFill("BTC-USD", "hold", 1, 100), domain.ErrInvalidOrderParams)
}

func TestUnrealizedPnL(t *testing.T) {
	tr := newTestTracker(t)

	require.NoError(t, tr.ApplyFill("BTC-USD", domain.OrderSideBuy, 2, 100))
	assert.InDelta(t, 40.0, tr.UnrealizedPnL("BTC-USD", 120), 1e-9)
	assert.InDelta(t, -20.0, tr.UnrealizedPnL("BTC-USD", 90), 1e-9)
	assert.Equal(t, 0.0, tr.UnrealizedPnL("ETH-USD", 90))
}

func TestDailyLossIncludesOpenExposure(t *testing.T) {
	tr := newTestTracker(t)

	// Realized loss of 30.
	require.NoError(t, tr.ApplyFill("BTC-USD", domain.OrderSideBuy, 1, 100))
	require.NoError(t, tr.ApplyFill("BTC-USD", domain.OrderSideSell, 1, 70))

	// Open 2 @ 100 elsewhere; worst case adds 2*110*0.05 = 11 at the
	// current price.
	require.NoError(t, tr.ApplyFill("ETH-USD", domain.OrderSideBuy, 2, 100))

	prices := map[domain.Pair]float64{"ETH-USD": 110}
	loss := tr.DailyLoss(func(p domain.Pair) (float64, bool) {
		v, ok := prices[p]
		return v, ok
	})
	assert.InDelta(t, 41.0, loss, 1e-9)

	// Without a price the entry price anchors the projection.
	loss = tr.DailyLoss(nil)
	assert.InDelta(t, 40.0, loss, 1e-9)
}

func TestDailyLossNeverNegative(t *testing.T) {
	tr := newTestTracker(t)

	// A profitable day reports zero loss.
	require.NoError(t, tr.ApplyFill("BTC-USD", domain.OrderSideBuy, 1, 100))
	require.NoError(t, tr.ApplyFill("BTC-USD", domain.OrderSideSell, 1, 200))
	assert.Equal(t, 0.0, tr.DailyLoss(nil))
}

func TestResetDaily(t *testing.T) {
	tr := newTestTracker(t)

	require.NoError(t, tr.ApplyFill("BTC-USD", domain.OrderSideBuy, 1, 100))
	require.NoError(t, tr.ApplyFill("BTC-USD", domain.OrderSideSell, 1, 70))
	require.Equal(t, 2, tr.DailyStats().Trades)

	before := tr.DailyStats().ResetAt
	tr.ResetDaily()

	stats := tr.DailyStats()
	assert.Equal(t, 0, stats.Trades)
	assert.Equal(t, 0.0, stats.Volume)
	assert.Equal(t, 0.0, stats.RealizedPnL)
	assert.False(t, stats.ResetAt.Before(before))

	// Lifetime realized PnL on the position survives the reset.
	assert.InDelta(t, -30.0, tr.Position("BTC-USD").RealizedPnL, 1e-9)
}

func TestPositionsSkipsFlat(t *testing.T) {
	tr := newTestTracker(t)

	require.NoError(t, tr.ApplyFill("BTC-USD", domain.OrderSideBuy, 1, 100))
	require.NoError(t, tr.ApplyFill("ETH-USD", domain.OrderSideBuy, 1, 50))
	require.NoError(t, tr.ApplyFill("ETH-USD", domain.OrderSideSell, 1, 50))

	open := tr.Positions()
	require.Len(t, open, 1)
	assert.Equal(t, domain.Pair("BTC-USD"), open[0].Pair)
}
