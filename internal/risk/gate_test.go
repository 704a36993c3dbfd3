package risk

import (
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinbot/internal/config"
	"coinbot/internal/domain"
	"coinbot/internal/position"
)

func testGate() *Gate {
	return NewGate(
		config.RiskConfig{
			MaxPositionSize: 5.0,
			StopLossPct:     0.05,
			MaxDailyLoss:    500.0,
			MaxOpenOrders:   3,
		},
		config.OrderConfig{MaxSlippagePct: 0.01},
	)
}

func buy(qty, limit float64) domain.CandidateOrder {
	return domain.CandidateOrder{Pair: "BTC-USD", Side: domain.OrderSideBuy, Quantity: qty, LimitPrice: limit}
}

func sell(qty, limit float64) domain.CandidateOrder {
	return domain.CandidateOrder{Pair: "BTC-USD", Side: domain.OrderSideSell, Quantity: qty, LimitPrice: limit}
}

func TestCheckAccepts(t *testing.T) {
	d := testGate().Check(PolicySnapshot{CachedPrice: 100}, buy(1, 100))
	assert.True(t, d.OK)
	assert.Empty(t, d.Reason)
	assert.NoError(t, d.Err())
}

func TestCheckInvalidParams(t *testing.T) {
	g := testGate()

	cases := []domain.CandidateOrder{
		{Pair: "BTC-USD", Side: "short", Quantity: 1, LimitPrice: 100},
		buy(0, 100),
		buy(-1, 100),
		buy(1, -100),
	}
	for _, c := range cases {
		d := g.Check(PolicySnapshot{}, c)
		require.False(t, d.OK)
		assert.Equal(t, ReasonInvalidParams, d.Reason)
	}
}

func TestCheckOpenOrderBudget(t *testing.T) {
	g := testGate()

	d := g.Check(PolicySnapshot{OpenOrders: 2, CachedPrice: 100}, buy(1, 100))
	assert.True(t, d.OK)

	d = g.Check(PolicySnapshot{OpenOrders: 3, CachedPrice: 100}, buy(1, 100))
	require.False(t, d.OK)
	assert.Equal(t, ReasonMaxOpenOrders, d.Reason)
}

func TestCheckOpenOrderBudgetIsGlobal(t *testing.T) {
	// With a budget of one, a second candidate is rejected no matter the
	// pair the first order was opened on.
	g := NewGate(
		config.RiskConfig{MaxPositionSize: 5, StopLossPct: 0.05, MaxDailyLoss: 500, MaxOpenOrders: 1},
		config.OrderConfig{},
	)

	d := g.Check(PolicySnapshot{OpenOrders: 0}, buy(1, 100))
	assert.True(t, d.OK)

	other := domain.CandidateOrder{Pair: "ETH-USD", Side: domain.OrderSideBuy, Quantity: 1, LimitPrice: 10}
	d = g.Check(PolicySnapshot{OpenOrders: 1}, other)
	require.False(t, d.OK)
	assert.Equal(t, ReasonMaxOpenOrders, d.Reason)
}

func TestCheckPositionBound(t *testing.T) {
	g := testGate()

	d := g.Check(PolicySnapshot{PositionSize: 4.5, CachedPrice: 100}, buy(0.5, 100))
	assert.True(t, d.OK)

	d = g.Check(PolicySnapshot{PositionSize: 4.5, CachedPrice: 100}, buy(0.6, 100))
	require.False(t, d.OK)
	assert.Equal(t, ReasonMaxPositionSize, d.Reason)

	// Sells are bounded by tracked holdings, not the short side.
	d = g.Check(PolicySnapshot{PositionSize: 0.5, CachedPrice: 100}, sell(0.5, 100))
	assert.True(t, d.OK)

	d = g.Check(PolicySnapshot{PositionSize: 0.5, CachedPrice: 100}, sell(0.6, 100))
	require.False(t, d.OK)
	assert.Equal(t, ReasonInsufficientHoldings, d.Reason)
}

func TestCheckFlatSellRejected(t *testing.T) {
	// A bearish signal with nothing held must be rejected here rather than
	// reach the executor and come back as an inconsistent fill.
	d := testGate().Check(PolicySnapshot{CachedPrice: 100}, sell(0.1, 0))
	require.False(t, d.OK)
	assert.Equal(t, ReasonInsufficientHoldings, d.Reason)
}

func TestCheckSlippageGuard(t *testing.T) {
	g := testGate()

	// 2% off a 100 cached price with a 1% cap.
	d := g.Check(PolicySnapshot{CachedPrice: 100}, buy(1, 102))
	require.False(t, d.OK)
	assert.Equal(t, ReasonSlippage, d.Reason)

	// No cached price means the guard cannot run.
	d = g.Check(PolicySnapshot{}, buy(1, 102))
	assert.True(t, d.OK)

	// Market orders carry no limit to compare.
	d = g.Check(PolicySnapshot{CachedPrice: 100}, buy(1, 0))
	assert.True(t, d.OK)
}

func TestCheckDailyLossLockout(t *testing.T) {
	g := testGate()

	// Worst case adds qty*price*stop_loss = 1*100*0.05 = 5.
	d := g.Check(PolicySnapshot{DailyLoss: 494, CachedPrice: 100}, buy(1, 100))
	assert.True(t, d.OK)

	d = g.Check(PolicySnapshot{DailyLoss: 496, CachedPrice: 100}, buy(1, 100))
	require.False(t, d.OK)
	assert.Equal(t, ReasonDailyLoss, d.Reason)

	// The lockout stops opening candidates even when the accumulated loss
	// alone exceeds the cap.
	d = g.Check(PolicySnapshot{DailyLoss: 600, CachedPrice: 100}, buy(0.1, 100))
	require.False(t, d.OK)
	assert.Equal(t, ReasonDailyLoss, d.Reason)

	// Sells that close held size still pass so the engine can keep
	// reducing exposure after the trip.
	d = g.Check(PolicySnapshot{DailyLoss: 600, PositionSize: 1, CachedPrice: 100}, sell(0.1, 100))
	assert.True(t, d.OK)
}

func TestCheckOrderOfChecks(t *testing.T) {
	g := testGate()

	// A candidate violating several limits reports the earliest check.
	snap := PolicySnapshot{OpenOrders: 5, PositionSize: 10, DailyLoss: 1000, CachedPrice: 100}
	d := g.Check(snap, buy(100, 500))
	require.False(t, d.OK)
	assert.Equal(t, ReasonMaxOpenOrders, d.Reason)
}

func TestPositionBoundHoldsUnderRandomFills(t *testing.T) {
	// Drive the gate and the tracker together with randomized candidates and
	// check the book after every accepted fill: the size never exceeds the
	// configured bound and never goes below flat. Seeds are fixed so a
	// failure replays.
	const maxPos = 5.0
	g := NewGate(
		config.RiskConfig{MaxPositionSize: maxPos, StopLossPct: 0.05, MaxDailyLoss: 1e12, MaxOpenOrders: 1000},
		config.OrderConfig{},
	)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for seed := int64(1); seed <= 5; seed++ {
		rng := rand.New(rand.NewSource(seed))
		tracker := position.NewTracker(logger, 0.05)

		for i := 0; i < 500; i++ {
			side := domain.OrderSideBuy
			if rng.Intn(2) == 1 {
				side = domain.OrderSideSell
			}
			qty := rng.Float64()*2 + 0.001
			price := 90 + rng.Float64()*20

			snap := PolicySnapshot{
				PositionSize: tracker.Position("BTC-USD").Size,
				DailyLoss:    tracker.DailyLoss(nil),
				CachedPrice:  price,
			}
			c := domain.CandidateOrder{Pair: "BTC-USD", Side: side, Quantity: qty}
			if d := g.Check(snap, c); !d.OK {
				continue
			}

			// Every admitted fill applies cleanly; the gate already
			// screened oversells.
			require.NoError(t, tracker.ApplyFill("BTC-USD", side, qty, price),
				"seed %d step %d", seed, i)

			size := tracker.Position("BTC-USD").Size
			assert.LessOrEqual(t, size, maxPos+1e-9, "seed %d step %d", seed, i)
			assert.GreaterOrEqual(t, size, -1e-9, "seed %d step %d", seed, i)
		}
	}
}

func TestDecisionErr(t *testing.T) {
	d := Decision{OK: false, Reason: ReasonDailyLoss, Detail: "projected=510.00 max=500.00"}
	err := d.Err()
	require.Error(t, err)
	assert.Equal(t, ReasonDailyLoss, domain.RiskReason(err))
}
