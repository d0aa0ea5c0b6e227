package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tick(symbol string, price float64) MarketTick {
	return NewMarketTick(symbol, price, time.Unix(0, 0), nil)
}

func TestNewMarketTick(t *testing.T) {
	mt := NewMarketTick("BTC", 100, time.Unix(10, 0), nil)
	assert.InDelta(t, 99.95, mt.Bid, 1e-9)
	assert.InDelta(t, 100.05, mt.Ask, 1e-9)
	assert.InDelta(t, 0.1, mt.Spread, 1e-9)
	assert.Equal(t, 1000.0, mt.Volume)
}

func TestEstimateVolume(t *testing.T) {
	flat := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	assert.Equal(t, 1000.0, EstimateVolume(flat))
	assert.Equal(t, 1000.0, EstimateVolume(flat[:10]))

	wild := []float64{1, 1, 100, 1, 100, 1, 100, 1, 100, 1, 100}
	assert.Equal(t, 5000.0, EstimateVolume(wild))

	calm := []float64{100, 100, 101, 100, 101, 100, 101, 100, 101, 100, 101}
	v := EstimateVolume(calm)
	assert.Greater(t, v, 1000.0)
	assert.Less(t, v, 1100.0)
}

func TestHistoryFIFO(t *testing.T) {
	h := NewHistory(HistoryCapacity)
	for i := 0; i < 250; i++ {
		h.Append(tick("ETH", float64(i)))
		assert.LessOrEqual(t, h.Len(), HistoryCapacity)
	}

	snap := h.Snapshot()
	require.Len(t, snap, HistoryCapacity)
	assert.Equal(t, 50.0, snap[0].Price)
	assert.Equal(t, 249.0, snap[len(snap)-1].Price)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, 249.0, latest.Price)

	h.Append(tick("ETH", 250))
	snap = h.Snapshot()
	assert.Equal(t, 51.0, snap[0].Price)
	assert.Equal(t, 250.0, snap[len(snap)-1].Price)
}

func TestHistoryPartial(t *testing.T) {
	h := NewHistory(5)
	_, ok := h.Latest()
	assert.False(t, ok)
	assert.Empty(t, h.Snapshot())

	h.Append(tick("SOL", 1), tick("SOL", 2))
	assert.Equal(t, []float64{1, 2}, Prices(h.Snapshot()))
}

func TestStore(t *testing.T) {
	s := NewStore([]string{"BTC", "ETH"}, 3)
	require.NoError(t, s.Append("BTC", tick("BTC", 1), tick("BTC", 2)))
	require.NoError(t, s.Append("ETH", tick("ETH", 5)))
	assert.Error(t, s.Append("DOGE", tick("DOGE", 1)))

	assert.Equal(t, 3, s.Total())
	assert.Equal(t, []float64{1, 2}, s.Prices("BTC"))
	assert.Nil(t, s.Snapshot("DOGE"))
	assert.True(t, s.Has("ETH"))
	assert.False(t, s.Has("DOGE"))

	price, ok := s.LatestPrice("BTC")
	assert.True(t, ok)
	assert.Equal(t, 2.0, price)
	_, ok = s.LatestPrice("SOL")
	assert.False(t, ok)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestBufferFlushOnCount(t *testing.T) {
	store := NewStore([]string{"BTC"}, HistoryCapacity)
	var flushes []string
	b := NewBuffer(store, BufferConfig{FlushThreshold: 5, FlushInterval: 5 * time.Second, TicksPerSymbol: 50},
		func(_ context.Context, symbol string, _ bool) { flushes = append(flushes, symbol) })
	c := &clock{now: time.Unix(1000, 0)}
	b.Now = c.Now

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		assert.False(t, b.Add(ctx, tick("BTC", float64(i))))
	}
	assert.Equal(t, 4, b.Staged("BTC"))
	assert.Equal(t, 0, store.Len("BTC"))

	assert.True(t, b.Add(ctx, tick("BTC", 4)))
	assert.Equal(t, 0, b.Staged("BTC"))
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, store.Prices("BTC"))
	assert.Equal(t, []string{"BTC"}, flushes)
}

func TestBufferFlushOnTime(t *testing.T) {
	store := NewStore([]string{"ETH"}, HistoryCapacity)
	calls := 0
	b := NewBuffer(store, BufferConfig{FlushThreshold: 5, FlushInterval: 5 * time.Second, TicksPerSymbol: 50},
		func(context.Context, string, bool) { calls++ })
	c := &clock{now: time.Unix(1000, 0)}
	b.Now = c.Now

	ctx := context.Background()
	assert.False(t, b.Add(ctx, tick("ETH", 1)))
	c.now = c.now.Add(5 * time.Second)
	assert.False(t, b.Add(ctx, tick("ETH", 2)))
	c.now = c.now.Add(time.Millisecond)
	assert.True(t, b.Add(ctx, tick("ETH", 3)))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 3, store.Len("ETH"))
}

func TestBufferIgnoresUnknownSymbols(t *testing.T) {
	store := NewStore([]string{"BTC"}, HistoryCapacity)
	b := NewBuffer(store, BufferConfig{FlushThreshold: 1, FlushInterval: time.Second, TicksPerSymbol: 1}, nil)
	assert.False(t, b.Add(context.Background(), tick("PEPE", 1)))
	assert.Equal(t, 0, store.Total())
}

func TestBufferGateOpensOnce(t *testing.T) {
	store := NewStore([]string{"BTC", "ETH"}, 4)
	var gates []bool
	b := NewBuffer(store, BufferConfig{FlushThreshold: 1, FlushInterval: time.Minute, TicksPerSymbol: 3},
		func(_ context.Context, _ string, open bool) { gates = append(gates, open) })

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		b.Add(ctx, tick("BTC", float64(i)))
	}
	// 4 тика BTC (ёмкость 4) меньше цели 6
	assert.False(t, b.GateOpen())

	b.Add(ctx, tick("ETH", 1))
	b.Add(ctx, tick("ETH", 2))
	assert.True(t, b.GateOpen())

	p := b.Progress()
	assert.Equal(t, 6, p.Target)
	assert.Equal(t, 6, p.Collected)
	assert.True(t, p.Open)

	assert.Equal(t, []bool{false, false, false, false, false, false, true}, gates)
	b.Add(ctx, tick("ETH", 3))
	assert.True(t, gates[len(gates)-1])
}
