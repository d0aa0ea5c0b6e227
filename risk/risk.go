package risk

import (
	"context"
	"time"

	"go.uber.org/zap"

	"hyperliquid-bot/logger"
	"hyperliquid-bot/state"
	"hyperliquid-bot/strategy"
	"hyperliquid-bot/utils"
)

// Источник последних цен
type PriceSource interface {
	LatestPrice(symbol string) (float64, bool)
}

// Исполнитель закрытия позиций
type Closer interface {
	Close(ctx context.Context, symbol, reason string) error
}

// Монитор рисков: раз в интервал пересчитывает P&L открытых позиций и
// закрывает их по стоп-лоссу или тейк-профиту
type Monitor struct {
	state    *state.BotState
	prices   PriceSource
	closer   Closer
	interval time.Duration
}

func NewMonitor(st *state.BotState, prices PriceSource, closer Closer, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{state: st, prices: prices, closer: closer, interval: interval}
}

// Решение о закрытии по доле P&L от номинала позиции
func Evaluate(pnlFraction, stopLoss, takeProfit float64) (string, bool) {
	switch {
	case pnlFraction <= -stopLoss:
		return strategy.ReasonStopLoss, true
	case takeProfit > 0 && pnlFraction >= takeProfit:
		return strategy.ReasonTakeProfit, true
	}
	return "", false
}

// Цикл монитора. Завершается при отмене контекста.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logger.Logger.Info("Risk monitor started", zap.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			logger.Logger.Info("Risk monitor stopped")
			return nil
		case <-ticker.C:
			if !m.state.Running() {
				return nil
			}
			m.CheckOnce(ctx)
		}
	}
}

// Одна проверка всех открытых позиций. Возвращает количество закрытых.
func (m *Monitor) CheckOnce(ctx context.Context) int {
	limits := m.state.Limits
	closed := 0

	for _, pos := range m.state.Positions() {
		price, ok := m.prices.LatestPrice(pos.Symbol)
		if !ok {
			continue
		}

		pnl := utils.PnL(pos.Side == state.Long, pos.EntryPrice, price, pos.Size)
		// Позицию могли закрыть параллельно
		current, ok := m.state.RefreshPosition(pos.Symbol, price, pnl)
		if !ok {
			continue
		}

		pct := utils.PnLFraction(pnl, current.EntryPrice, current.Size)
		reason, hit := Evaluate(pct, limits.StopLossFraction, limits.TakeProfitFraction)
		if !hit {
			continue
		}

		logger.Logger.Info("Risk limit hit",
			zap.String("symbol", pos.Symbol),
			zap.String("reason", reason),
			zap.Float64("price", price),
			zap.Float64("pnl", pnl),
			zap.Float64("pnlPct", pct*100))
		logger.Events.Info().Str("symbol", pos.Symbol).Str("reason", reason).Float64("pnl", pnl).Msg("risk limit hit")

		if err := m.closer.Close(ctx, pos.Symbol, reason); err != nil {
			logger.Logger.Warn("Risk close failed, will retry",
				zap.String("symbol", pos.Symbol),
				zap.Error(err))
			continue
		}
		closed++
	}
	return closed
}
