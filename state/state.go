// Package state хранит общее состояние бота: открытые позиции, таймеры
// cooldown, счетчики сделок и текущее состояние рынка. Один экземпляр
// создается при старте и передается компонентам по указателю.
package state

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"hyperliquid-bot/indicators"
	"hyperliquid-bot/utils"
)

// Причины отказа во входе
var (
	ErrPositionExists = errors.New("position already exists")
	ErrCapacity       = errors.New("max positions reached")
	ErrCooldown       = errors.New("trade cooldown active")
)

// Направление позиции
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

func (s Side) IsBuy() bool { return s == Long }

// Открытая позиция
type Position struct {
	Symbol        string
	Side          Side
	Size          float64
	EntryPrice    float64
	CurrentPrice  float64
	UnrealizedPnL float64
	OpenedAt      time.Time

	// Прогноз предиктора на момент входа, передается обратно при закрытии
	PredictedChange float64
}

// Ограничения, задаваемые конфигурацией
type Limits struct {
	MaxPositions         int
	Cooldown             time.Duration
	PositionSizeFraction float64
	StopLossFraction     float64
	TakeProfitTarget     float64 // Абсолютная цель по прибыли
	TakeProfitFraction   float64 // Процентная цель, используется монитором рисков
}

// Агрегированные счетчики
type Stats struct {
	TotalTrades      int
	ProfitableTrades int
	TotalPnL         decimal.Decimal
	OpenPositions    int
}

func (s Stats) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.ProfitableTrades) / float64(s.TotalTrades) * 100
}

// Общее состояние бота. Одна блокировка защищает позиции, резервы входа,
// cooldown и счетчики.
type BotState struct {
	Limits Limits

	running atomic.Bool

	mu               sync.RWMutex
	positions        map[string]*Position
	pending          map[string]bool // Резерв под вход, ордер еще не исполнен
	closing          map[string]bool // Идет закрытие
	lastTrade        map[string]time.Time
	totalTrades      int
	profitableTrades int
	totalPnL         decimal.Decimal
	condition        indicators.Condition
}

func New(limits Limits) *BotState {
	return &BotState{
		Limits:    limits,
		positions: make(map[string]*Position),
		pending:   make(map[string]bool),
		closing:   make(map[string]bool),
		lastTrade: make(map[string]time.Time),
	}
}

func (s *BotState) SetRunning(v bool) { s.running.Store(v) }
func (s *BotState) Running() bool     { return s.running.Load() }

// Резервирование места под вход. Проверяет наличие позиции, лимит позиций
// (с учетом незавершенных входов) и cooldown. При успехе вход по символу
// блокируется до CommitEntry или ReleaseEntry.
func (s *BotState) ReserveEntry(symbol string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[symbol]; ok || s.pending[symbol] {
		return ErrPositionExists
	}
	if len(s.positions)+len(s.pending) >= s.Limits.MaxPositions {
		return ErrCapacity
	}
	if last, ok := s.lastTrade[symbol]; ok && now.Sub(last) < s.Limits.Cooldown {
		return ErrCooldown
	}
	s.pending[symbol] = true
	return nil
}

// Оставшееся время cooldown по символу
func (s *BotState) CooldownRemaining(symbol string, now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	last, ok := s.lastTrade[symbol]
	if !ok {
		return 0
	}
	if remaining := s.Limits.Cooldown - now.Sub(last); remaining > 0 {
		return remaining
	}
	return 0
}

func (s *BotState) ReleaseEntry(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, symbol)
}

// Фиксация успешного входа: позиция, счетчик сделок, метка cooldown
func (s *BotState) CommitEntry(p Position, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, p.Symbol)
	pos := p
	s.positions[p.Symbol] = &pos
	s.totalTrades++
	s.lastTrade[p.Symbol] = now
}

// Пометка позиции как закрываемой. false, если позиции нет или ее уже закрывают.
func (s *BotState) BeginClose(symbol string) (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[symbol]
	if !ok || s.closing[symbol] {
		return Position{}, false
	}
	s.closing[symbol] = true
	return *pos, true
}

func (s *BotState) AbortClose(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.closing, symbol)
}

// Фиксация закрытия: P&L добавляется к итогу, позиция удаляется.
// При exitPrice > 0 P&L пересчитывается по цене выхода,
// иначе используется последнее обновление.
func (s *BotState) CommitClose(symbol string, exitPrice float64) (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.closing, symbol)
	pos, ok := s.positions[symbol]
	if !ok {
		return Position{}, false
	}
	delete(s.positions, symbol)

	if exitPrice > 0 {
		pos.CurrentPrice = exitPrice
		pos.UnrealizedPnL = utils.PnL(pos.Side.IsBuy(), pos.EntryPrice, exitPrice, pos.Size)
	}

	s.totalPnL = s.totalPnL.Add(decimal.NewFromFloat(pos.UnrealizedPnL))
	if pos.UnrealizedPnL > 0 {
		s.profitableTrades++
	}
	return *pos, true
}

// Обновление текущей цены и P&L позиции. false, если позиция уже закрыта.
func (s *BotState) RefreshPosition(symbol string, price, pnl float64) (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[symbol]
	if !ok {
		return Position{}, false
	}
	pos.CurrentPrice = price
	pos.UnrealizedPnL = pnl
	return *pos, true
}

func (s *BotState) Position(symbol string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Копии открытых позиций, отсортированные по символу
func (s *BotState) Positions() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *BotState) LastTrade(symbol string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.lastTrade[symbol]
	return t, ok
}

func (s *BotState) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		TotalTrades:      s.totalTrades,
		ProfitableTrades: s.profitableTrades,
		TotalPnL:         s.totalPnL,
		OpenPositions:    len(s.positions),
	}
}

func (s *BotState) SetCondition(c indicators.Condition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.condition = c
}

func (s *BotState) Condition() indicators.Condition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.condition
}
