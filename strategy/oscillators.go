package strategy

import (
	"hyperliquid-bot/indicators"
	"hyperliquid-bot/state"
)

const (
	oversoldRSI   = 30
	overboughtRSI = 70

	reversalZ           = 2.0
	reversalProbability = 0.7

	breakoutWindow     = 20
	breakoutThreshold  = 0.02
	breakoutVolatility = 0.01
)

// Моментум: перепроданность с положительной гистограммой MACD или наоборот
func momentumEntry(_ string, prices []float64, _ Params) (Decision, bool) {
	m := indicators.Momentum(prices, indicators.DefaultRSIPeriod)
	switch {
	case m.RSI < oversoldRSI && m.Histogram > 0:
		return Decision{Direction: state.Long, Confidence: 0.7}, true
	case m.RSI > overboughtRSI && m.Histogram < 0:
		return Decision{Direction: state.Short, Confidence: 0.7}, true
	}
	return Decision{}, false
}

// Возврат к среднему по полосам Боллинджера
func meanReversionEntry(_ string, prices []float64, _ Params) (Decision, bool) {
	b := indicators.Bollinger(prices, indicators.DefaultBollingerPeriod)
	if !b.OK || b.ReversalProbability <= reversalProbability {
		return Decision{}, false
	}
	switch {
	case b.ZScore < -reversalZ:
		return Decision{Direction: state.Long, Confidence: 0.6}, true
	case b.ZScore > reversalZ:
		return Decision{Direction: state.Short, Confidence: 0.6}, true
	}
	return Decision{}, false
}

// Пробой: текущая цена выше максимума (ниже минимума) предыдущих 20 тиков
// минимум на 2% при волатильности окна больше 1%
func breakoutEntry(_ string, prices []float64, _ Params) (Decision, bool) {
	if len(prices) < breakoutWindow+1 {
		return Decision{}, false
	}
	current := prices[len(prices)-1]
	window := prices[len(prices)-1-breakoutWindow : len(prices)-1]

	high, low := window[0], window[0]
	for _, p := range window[1:] {
		high = max(high, p)
		low = min(low, p)
	}
	if indicators.Volatility(window) <= breakoutVolatility {
		return Decision{}, false
	}

	switch {
	case current >= high*(1+breakoutThreshold):
		return Decision{Direction: state.Long, Confidence: 0.75}, true
	case current <= low*(1-breakoutThreshold):
		return Decision{Direction: state.Short, Confidence: 0.75}, true
	}
	return Decision{}, false
}
