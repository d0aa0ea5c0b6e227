package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linear(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func noisy(n int) []float64 {
	out := make([]float64, n)
	price := 100.0
	for i := range out {
		price *= 1 + 0.01*math.Sin(float64(i)*1.7) + 0.004*math.Cos(float64(i)*0.3)
		out[i] = price
	}
	return out
}

func TestWMA(t *testing.T) {
	assert.InDelta(t, 14.0/6.0, WMA([]float64{1, 2, 3}, 3), 1e-12)
	assert.InDelta(t, 14.0/6.0, WMA([]float64{100, 1, 2, 3}, 3), 1e-12)
	assert.Equal(t, 0.0, WMA([]float64{1, 2}, 3))
	assert.Equal(t, 0.0, WMA(nil, 0))
}

func TestHullInsufficientData(t *testing.T) {
	h := Hull(linear(100, 1, 8), 7)
	assert.Equal(t, HullMomentum{}, h)
	assert.False(t, h.Bullish())
	assert.False(t, h.Bearish())
}

func TestHullDirection(t *testing.T) {
	up := Hull(linear(100, 1, 50), 7)
	assert.True(t, up.Bullish())
	assert.False(t, up.Bearish())
	// Для линейного ряда сглаженная разница равна последней цене
	assert.InDelta(t, 149.0, up.Current, 1e-9)
	assert.InDelta(t, 147.0, up.Previous, 1e-9)

	down := Hull(linear(200, -1, 50), 7)
	assert.True(t, down.Bearish())
	assert.False(t, down.Bullish())
}

func TestBollinger(t *testing.T) {
	flat := make([]float64, 25)
	for i := range flat {
		flat[i] = 10
	}
	b := Bollinger(flat, DefaultBollingerPeriod)
	require.True(t, b.OK)
	assert.Equal(t, 0.0, b.ZScore)
	assert.InDelta(t, 0.5, b.ReversalProbability, 1e-12)
	assert.Equal(t, 0.0, b.VolatilityRatio)
	assert.Equal(t, 10.0, b.Upper)

	short := Bollinger([]float64{1, 2, 3}, DefaultBollingerPeriod)
	assert.False(t, short.OK)

	spike := append(linear(100, 0, 19), 130)
	spike[0] = 99
	up := Bollinger(spike, DefaultBollingerPeriod)
	assert.Greater(t, up.ZScore, 2.0)
	assert.Greater(t, up.ReversalProbability, 0.97)

	dip := append(linear(100, 0, 19), 70)
	dip[0] = 101
	down := Bollinger(dip, DefaultBollingerPeriod)
	assert.Less(t, down.ZScore, -2.0)
	assert.InDelta(t, up.ReversalProbability, down.ReversalProbability, 0.01)
}

func TestMomentumNeutralWhenShort(t *testing.T) {
	m := Momentum(linear(100, 1, 27), DefaultRSIPeriod)
	assert.Equal(t, MomentumResult{RSI: NeutralRSI}, m)
}

func TestMomentumRSIBounds(t *testing.T) {
	up := Momentum(linear(100, 1, 60), DefaultRSIPeriod)
	assert.Greater(t, up.RSI, 99.0)
	assert.Greater(t, up.MACD, 0.0)
	assert.InDelta(t, math.Abs(up.Histogram), up.Strength, 1e-12)

	down := Momentum(linear(200, -1, 60), DefaultRSIPeriod)
	assert.Less(t, down.RSI, 1.0)
	assert.Less(t, down.MACD, 0.0)
}

func TestEMASeries(t *testing.T) {
	assert.Equal(t, []float64{1, 1, 1}, EMASeries([]float64{1, 1, 1}, 5))
	ema := EMASeries([]float64{1, 2}, 3)
	assert.InDelta(t, 1.5, ema[1], 1e-12)
	assert.Empty(t, EMASeries(nil, 3))
}

func TestHurst(t *testing.T) {
	assert.Equal(t, NeutralHurst, Hurst([]float64{1, 2, 3}))

	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 5
	}
	assert.Equal(t, NeutralHurst, Hurst(flat))

	h := Hurst(noisy(120))
	assert.GreaterOrEqual(t, h, 0.0)
	assert.LessOrEqual(t, h, 1.0)
}

func TestIndicatorsDeterministic(t *testing.T) {
	prices := noisy(150)
	for i := 0; i < 3; i++ {
		assert.Equal(t, WMA(prices, 21), WMA(prices, 21))
		assert.Equal(t, Hull(prices, 7), Hull(prices, 7))
		assert.Equal(t, Momentum(prices, DefaultRSIPeriod), Momentum(prices, DefaultRSIPeriod))
		assert.Equal(t, Hurst(prices), Hurst(prices))
		assert.Equal(t, Bollinger(prices, 20), Bollinger(prices, 20))
	}
}

func TestClassifyMarket(t *testing.T) {
	_, ok := ClassifyMarket(linear(100, 1, 10), DefaultVolatilityThresh)
	assert.False(t, ok)

	c, ok := ClassifyMarket(linear(100, 0, 20), DefaultVolatilityThresh)
	require.True(t, ok)
	assert.Equal(t, ConditionNormal, c)

	c, _ = ClassifyMarket(linear(100, 3.0/19.0, 20), DefaultVolatilityThresh)
	assert.Equal(t, ConditionTrending, c)

	swings := make([]float64, 20)
	for i := range swings {
		swings[i] = 100
		if i%2 == 1 {
			swings[i] = 110
		}
	}
	c, _ = ClassifyMarket(swings, DefaultVolatilityThresh)
	assert.Equal(t, ConditionVolatile, c)
	assert.Equal(t, "volatile", c.String())
}
