package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hyperliquid-bot/api"
	"hyperliquid-bot/logger"
	"hyperliquid-bot/metrics"
	"hyperliquid-bot/model"
	"hyperliquid-bot/state"
	"hyperliquid-bot/strategy"
	"hyperliquid-bot/utils"
)

var (
	ErrSizeTooSmall  = errors.New("position size too small")
	ErrOrderRejected = errors.New("order rejected by exchange")
	ErrNoPosition    = errors.New("no open position")
	ErrCloseInFlight = errors.New("close already in progress")
)

// Источник последних цен для расчета P&L при закрытии
type PriceSource interface {
	LatestPrice(symbol string) (float64, bool)
}

// Параметры инструмента
type SymbolSpec struct {
	LotSize     float64 // Минимальный шаг размера
	MinNotional float64 // 0 = без нижней границы
	MaxNotional float64 // 0 = 10x капитала
}

const maxNotionalMultiplier = 10.0

// Менеджер позиций: проверка условий входа, расчет размера, исполнение ордеров
type Manager struct {
	State         *state.BotState
	Exchange      api.Exchange
	Prices        PriceSource // nil = P&L по последнему обновлению позиции
	Predictor     model.Predictor
	Address       string
	Specs         map[string]SymbolSpec
	DefaultSpec   SymbolSpec
	DefaultEquity float64

	// Источник времени, подменяется в тестах
	Now func() time.Time
}

func NewManager(st *state.BotState, exchange api.Exchange, address string) *Manager {
	return &Manager{
		State:         st,
		Exchange:      exchange,
		Predictor:     model.Noop{},
		Address:       address,
		Specs:         make(map[string]SymbolSpec),
		DefaultSpec:   SymbolSpec{LotSize: 0.01},
		DefaultEquity: 100,
		Now:           time.Now,
	}
}

func (m *Manager) spec(symbol string) SymbolSpec {
	if s, ok := m.Specs[symbol]; ok {
		return s
	}
	return m.DefaultSpec
}

// Капитал счета. При ошибке используется значение по умолчанию.
func (m *Manager) equity(ctx context.Context) float64 {
	acct, err := m.Exchange.AccountState(ctx, m.Address)
	if err != nil {
		logger.Logger.Warn("Failed to get account value, using default",
			zap.Float64("default", m.DefaultEquity),
			zap.Error(err))
		return m.DefaultEquity
	}
	if acct.AccountValue <= 0 {
		return m.DefaultEquity
	}
	return acct.AccountValue
}

// Функция для расчета размера позиции.
// Номинал = капитал * доля позиции, размер округляется вниз до шага лота,
// затем номинал ограничивается диапазоном [min, max] инструмента.
func (m *Manager) Size(symbol string, entryPrice, equity float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	spec := m.spec(symbol)
	target := equity * m.State.Limits.PositionSizeFraction
	size := utils.FloorToLot(target/entryPrice, spec.LotSize)

	maxNotional := spec.MaxNotional
	if maxNotional <= 0 {
		maxNotional = equity * maxNotionalMultiplier
	}

	// Нижняя граница округляется вверх, верхняя вниз. Верхняя граница
	// применяется последней и побеждает при min > max.
	if spec.MinNotional > 0 && utils.Notional(size, entryPrice) < spec.MinNotional {
		size = utils.CeilToLot(spec.MinNotional/entryPrice, spec.LotSize)
	}
	if utils.Notional(size, entryPrice) > maxNotional {
		size = utils.FloorToLot(maxNotional/entryPrice, spec.LotSize)
	}
	return size
}

// Функция для попытки входа в позицию по сигналу.
// При любой ошибке состояние не меняется.
func (m *Manager) TryEnter(ctx context.Context, sig *strategy.Signal) (state.Position, error) {
	symbol := sig.Symbol
	if err := m.State.ReserveEntry(symbol, m.Now()); err != nil {
		fields := []zap.Field{zap.String("symbol", symbol), zap.Error(err)}
		if errors.Is(err, state.ErrCooldown) {
			fields = append(fields, zap.Duration("remaining", m.State.CooldownRemaining(symbol, m.Now())))
		}
		logger.Logger.Debug("Entry rejected", fields...)
		logger.Events.Debug().Str("symbol", symbol).Err(err).Msg("entry rejected")
		return state.Position{}, err
	}

	committed := false
	defer func() {
		if !committed {
			m.State.ReleaseEntry(symbol)
		}
	}()

	equity := m.equity(ctx)
	size := m.Size(symbol, sig.EntryPrice, equity)
	if size <= 0 {
		logger.Logger.Warn("Position size too small, skipping trade",
			zap.String("symbol", symbol),
			zap.Float64("equity", equity),
			zap.Float64("price", sig.EntryPrice))
		return state.Position{}, ErrSizeTooSmall
	}

	isBuy := sig.Direction == state.Long
	logger.Logger.Info("Attempting to execute trade",
		zap.String("symbol", symbol),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("size", size),
		zap.Float64("price", sig.EntryPrice),
		zap.Float64("equity", equity))

	res, err := m.Exchange.MarketOpen(ctx, symbol, isBuy, size, nil)
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(symbol, "open", "error").Inc()
		logger.Logger.Error("Market open failed", zap.String("symbol", symbol), zap.Error(err))
		logger.Events.Error().Str("symbol", symbol).Err(err).Msg("open failed")
		return state.Position{}, fmt.Errorf("market open %s: %w", symbol, err)
	}
	if !res.OK() {
		metrics.OrdersTotal.WithLabelValues(symbol, "open", "rejected").Inc()
		logger.Logger.Error("Market open rejected",
			zap.String("symbol", symbol),
			zap.String("status", res.Status),
			zap.String("message", res.Message))
		logger.Events.Warn().Str("symbol", symbol).Str("status", res.Status).Msg("open rejected")
		return state.Position{}, fmt.Errorf("%w: %s %s", ErrOrderRejected, res.Status, res.Message)
	}

	entry := sig.EntryPrice
	if res.Filled != nil && res.Filled.AvgPrice > 0 {
		entry = res.Filled.AvgPrice
	}

	now := m.Now()
	pos := state.Position{
		Symbol:          symbol,
		Side:            sig.Direction,
		Size:            size,
		EntryPrice:      entry,
		CurrentPrice:    entry,
		OpenedAt:        now,
		PredictedChange: sig.PredictedChange,
	}
	m.State.CommitEntry(pos, now)
	committed = true

	stats := m.State.Stats()
	metrics.OrdersTotal.WithLabelValues(symbol, "open", "ok").Inc()
	metrics.OpenPositions.Set(float64(stats.OpenPositions))

	logger.Logger.Info("Position opened",
		zap.String("symbol", symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("size", pos.Size),
		zap.Float64("entry", pos.EntryPrice),
		zap.String("strategy", sig.Strategy),
		zap.Int("totalTrades", stats.TotalTrades))
	logger.Events.Info().
		Str("symbol", symbol).
		Str("side", string(pos.Side)).
		Float64("size", pos.Size).
		Float64("entry", pos.EntryPrice).
		Str("strategy", sig.Strategy).
		Msg("position opened")
	return pos, nil
}

// Функция для закрытия позиции. При ошибке позиция остается и будет
// закрыта на следующем цикле проверки.
func (m *Manager) Close(ctx context.Context, symbol, reason string) error {
	pos, ok := m.State.BeginClose(symbol)
	if !ok {
		if _, exists := m.State.Position(symbol); exists {
			return ErrCloseInFlight
		}
		return ErrNoPosition
	}

	res, err := m.Exchange.MarketClose(ctx, symbol, pos.Size)
	if err == nil && !res.OK() {
		err = fmt.Errorf("%w: %s %s", ErrOrderRejected, res.Status, res.Message)
	}
	if err != nil {
		m.State.AbortClose(symbol)
		metrics.OrdersTotal.WithLabelValues(symbol, "close", "error").Inc()
		logger.Logger.Error("Failed to close position",
			zap.String("symbol", symbol),
			zap.String("reason", reason),
			zap.Error(err))
		logger.Events.Error().Str("symbol", symbol).Str("reason", reason).Err(err).Msg("close failed")
		return fmt.Errorf("market close %s: %w", symbol, err)
	}

	closed, ok := m.State.CommitClose(symbol, m.exitPrice(symbol, res))
	if !ok {
		return ErrNoPosition
	}

	stats := m.State.Stats()
	metrics.OrdersTotal.WithLabelValues(symbol, "close", "ok").Inc()
	metrics.OpenPositions.Set(float64(stats.OpenPositions))
	metrics.RealizedPnL.Set(stats.TotalPnL.InexactFloat64())

	if m.Predictor != nil && closed.EntryPrice != 0 {
		actual := (closed.CurrentPrice - closed.EntryPrice) / closed.EntryPrice
		m.Predictor.RecordOutcome(closed.PredictedChange, actual)
	}

	logger.Logger.Info("Position closed",
		zap.String("symbol", symbol),
		zap.String("reason", reason),
		zap.String("side", string(closed.Side)),
		zap.Float64("entry", closed.EntryPrice),
		zap.Float64("exit", closed.CurrentPrice),
		zap.Float64("pnl", closed.UnrealizedPnL),
		zap.String("totalPnL", stats.TotalPnL.String()))
	logger.Events.Info().
		Str("symbol", symbol).
		Str("reason", reason).
		Float64("pnl", closed.UnrealizedPnL).
		Str("totalPnL", stats.TotalPnL.String()).
		Msg("position closed")
	return nil
}

// Цена выхода: цена исполнения, иначе последняя известная цена, иначе 0
func (m *Manager) exitPrice(symbol string, res api.OrderResult) float64 {
	if res.Filled != nil && res.Filled.AvgPrice > 0 {
		return res.Filled.AvgPrice
	}
	if m.Prices != nil {
		if price, ok := m.Prices.LatestPrice(symbol); ok {
			return price
		}
	}
	return 0
}

// Проверка правила выхода стратегии для открытой позиции.
// Возвращает true, если позиция была закрыта.
func (m *Manager) ManageExit(ctx context.Context, symbol string, prices []float64, exit strategy.ExitFunc, params strategy.Params) (bool, error) {
	if exit == nil {
		return false, nil
	}
	pos, ok := m.State.Position(symbol)
	if !ok {
		return false, nil
	}
	reason, hit := exit(pos, prices, params)
	if !hit {
		return false, nil
	}
	if err := m.Close(ctx, symbol, reason); err != nil {
		return false, err
	}
	return true, nil
}
