package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperliquid-bot/api"
	"hyperliquid-bot/data"
	"hyperliquid-bot/order"
	"hyperliquid-bot/state"
	"hyperliquid-bot/strategy"
)

type staticPrices map[string]float64

func (p staticPrices) LatestPrice(symbol string) (float64, bool) {
	v, ok := p[symbol]
	return v, ok
}

type flakyCloser struct {
	st       *state.BotState
	failures int
	calls    []string
}

func (c *flakyCloser) Close(_ context.Context, symbol, reason string) error {
	c.calls = append(c.calls, reason)
	if c.failures > 0 {
		c.failures--
		return errors.New("exchange unavailable")
	}
	if _, ok := c.st.BeginClose(symbol); !ok {
		return errors.New("no position")
	}
	c.st.CommitClose(symbol, 0)
	return nil
}

func limits() state.Limits {
	return state.Limits{
		MaxPositions:         2,
		Cooldown:             15 * time.Second,
		PositionSizeFraction: 1.0,
		StopLossFraction:     0.02,
		TakeProfitTarget:     20,
		TakeProfitFraction:   0.05,
	}
}

func openPosition(st *state.BotState, symbol string, side state.Side, entry, size float64) {
	now := time.Unix(1_700_000_000, 0)
	if err := st.ReserveEntry(symbol, now); err != nil {
		panic(err)
	}
	st.CommitEntry(state.Position{
		Symbol:       symbol,
		Side:         side,
		Size:         size,
		EntryPrice:   entry,
		CurrentPrice: entry,
		OpenedAt:     now,
	}, now)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		pnl    float64
		reason string
		hit    bool
	}{
		{"deep loss", -0.03, strategy.ReasonStopLoss, true},
		{"exact stop", -0.02, strategy.ReasonStopLoss, true},
		{"small loss", -0.01, "", false},
		{"flat", 0, "", false},
		{"small gain", 0.049, "", false},
		{"exact target", 0.05, strategy.ReasonTakeProfit, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, hit := Evaluate(tt.pnl, 0.02, 0.05)
			assert.Equal(t, tt.hit, hit)
			assert.Equal(t, tt.reason, reason)
		})
	}

	_, hit := Evaluate(10, 0.02, 0)
	assert.False(t, hit, "zero take-profit disables the target")
}

func TestStopLossClosesThroughManager(t *testing.T) {
	ctx := context.Background()
	store := data.NewStore([]string{"SOL"}, 0)
	require.NoError(t, store.Append("SOL", data.MarketTick{Symbol: "SOL", Price: 100}))

	st := state.New(limits())
	manager := order.NewManager(st, api.NewPaper(store, 100), "0xabc")

	pos, err := manager.TryEnter(ctx, &strategy.Signal{
		Symbol:     "SOL",
		Direction:  state.Long,
		Confidence: 0.8,
		EntryPrice: 100,
	})
	require.NoError(t, err)
	require.Equal(t, 1.0, pos.Size)
	require.Equal(t, 100.0, pos.EntryPrice)

	monitor := NewMonitor(st, store, manager, time.Second)

	require.NoError(t, store.Append("SOL", data.MarketTick{Symbol: "SOL", Price: 99}))
	assert.Equal(t, 0, monitor.CheckOnce(ctx))
	refreshed, ok := st.Position("SOL")
	require.True(t, ok)
	assert.Equal(t, 99.0, refreshed.CurrentPrice)
	assert.Equal(t, -1.0, refreshed.UnrealizedPnL)

	require.NoError(t, store.Append("SOL", data.MarketTick{Symbol: "SOL", Price: 97.9}))
	assert.Equal(t, 1, monitor.CheckOnce(ctx))

	_, ok = st.Position("SOL")
	assert.False(t, ok)
	stats := st.Stats()
	assert.True(t, stats.TotalPnL.Equal(decimal.RequireFromString("-2.1")), stats.TotalPnL.String())
	assert.Equal(t, 0, stats.ProfitableTrades)
	assert.Equal(t, 0, stats.OpenPositions)
}

func TestTakeProfitShort(t *testing.T) {
	st := state.New(limits())
	openPosition(st, "ETH", state.Short, 100, 2)
	closer := &flakyCloser{st: st}
	monitor := NewMonitor(st, staticPrices{"ETH": 94}, closer, 0)

	assert.Equal(t, 1, monitor.CheckOnce(context.Background()))
	assert.Equal(t, []string{strategy.ReasonTakeProfit}, closer.calls)
	assert.True(t, st.Stats().TotalPnL.Equal(decimal.NewFromInt(12)))
	assert.Equal(t, 1, st.Stats().ProfitableTrades)
}

func TestFailedCloseIsRetried(t *testing.T) {
	st := state.New(limits())
	openPosition(st, "BTC", state.Long, 100, 1)
	closer := &flakyCloser{st: st, failures: 1}
	monitor := NewMonitor(st, staticPrices{"BTC": 90}, closer, 0)
	ctx := context.Background()

	assert.Equal(t, 0, monitor.CheckOnce(ctx))
	_, ok := st.Position("BTC")
	assert.True(t, ok)

	assert.Equal(t, 1, monitor.CheckOnce(ctx))
	assert.Equal(t, []string{strategy.ReasonStopLoss, strategy.ReasonStopLoss}, closer.calls)
	_, ok = st.Position("BTC")
	assert.False(t, ok)
}

func TestPositionsWithoutPriceAreSkipped(t *testing.T) {
	st := state.New(limits())
	openPosition(st, "SOL", state.Long, 100, 1)
	closer := &flakyCloser{st: st}
	monitor := NewMonitor(st, staticPrices{}, closer, 0)

	assert.Equal(t, 0, monitor.CheckOnce(context.Background()))
	assert.Empty(t, closer.calls)
	pos, ok := st.Position("SOL")
	require.True(t, ok)
	assert.Equal(t, 0.0, pos.UnrealizedPnL)
}

func TestRunStopsOnCancel(t *testing.T) {
	st := state.New(limits())
	st.SetRunning(true)
	openPosition(st, "SOL", state.Long, 100, 1)
	closer := &flakyCloser{st: st}
	monitor := NewMonitor(st, staticPrices{"SOL": 50}, closer, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := st.Position("SOL")
		return !ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
