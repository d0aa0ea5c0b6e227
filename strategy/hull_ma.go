package strategy

import (
	"go.uber.org/zap"

	"hyperliquid-bot/indicators"
	"hyperliquid-bot/logger"
	"hyperliquid-bot/state"
	"hyperliquid-bot/utils"
)

// Периоды WMA для стратегии Hull MA. Длинная WMA задает минимальную историю.
const (
	wmaFastPeriod  = 21
	wmaSlowPeriod  = 50
	hullMinHistory = wmaSlowPeriod
)

// Вход по Hull MA: лонг при росте цены и бычьем моментуме, шорт при падении и медвежьем
func hullEntry(symbol string, prices []float64, p Params) (Decision, bool) {
	current := prices[len(prices)-1]
	previous := prices[len(prices)-2]
	hull := indicators.Hull(prices, p.HullPeriod)

	var d Decision
	switch {
	case current > previous && hull.Bullish():
		d = Decision{Direction: state.Long, Confidence: 0.8}
	case current < previous && hull.Bearish():
		d = Decision{Direction: state.Short, Confidence: 0.8}
	default:
		return Decision{}, false
	}

	logger.Logger.Debug("Hull MA components",
		zap.String("symbol", symbol),
		zap.Float64("wma21", indicators.WMA(prices, wmaFastPeriod)),
		zap.Float64("wma50", indicators.WMA(prices, wmaSlowPeriod)),
		zap.Float64("hullCurrent", hull.Current),
		zap.Float64("hullPrevious", hull.Previous))
	return d, true
}

// Правило выхода Hull MA.
// Стоп-лосс, если P&L <= -stop_loss * номинал входа.
// Разворот, если движение цены и моментум развернулись против позиции, а P&L
// выше абсолютной цели по прибыли.
func HullExit(pos state.Position, prices []float64, p Params) (string, bool) {
	if len(prices) < 2 {
		return "", false
	}
	current := prices[len(prices)-1]
	previous := prices[len(prices)-2]

	pnl := utils.PnL(pos.Side == state.Long, pos.EntryPrice, current, pos.Size)
	lossThreshold := -p.StopLossFraction * pos.EntryPrice * pos.Size
	if pnl <= lossThreshold {
		return ReasonStopLoss, true
	}

	hull := indicators.Hull(prices, p.HullPeriod)
	switch pos.Side {
	case state.Long:
		if current < previous && hull.Bearish() && pnl > p.TakeProfitTarget {
			return ReasonHullReversal, true
		}
	case state.Short:
		if current > previous && hull.Bullish() && pnl > p.TakeProfitTarget {
			return ReasonHullReversal, true
		}
	}
	return "", false
}
