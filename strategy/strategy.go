package strategy

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"hyperliquid-bot/logger"
	"hyperliquid-bot/state"
)

// Вид стратегии. Выбирается один раз при старте.
type Kind int

const (
	KindHullMA Kind = iota
	KindMomentum
	KindMeanReversion
	KindBreakout
)

var kindNames = map[Kind]string{
	KindHullMA:        "hull_ma",
	KindMomentum:      "momentum",
	KindMeanReversion: "mean_reversion",
	KindBreakout:      "breakout",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Функция для разбора названия стратегии из конфигурации. Пустая строка = Hull MA.
func ParseKind(name string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	if normalized == "" {
		return KindHullMA, nil
	}
	for kind, n := range kindNames {
		if n == normalized {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown strategy %q", name)
}

// Причины закрытия позиции
const (
	ReasonStopLoss     = "stop-loss"
	ReasonTakeProfit   = "take-profit"
	ReasonHullReversal = "hull-reversal"
)

// Торговый сигнал. Используется один раз менеджером позиций и отбрасывается.
type Signal struct {
	Symbol     string
	Direction  state.Side
	Confidence float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	RiskScore  float64
	Strategy   string

	// Заполняется, если включен предиктор
	PredictedChange float64
}

// Параметры риска, общие для всех стратегий
type Params struct {
	StopLossFraction     float64
	TakeProfitTarget     float64
	PositionSizeFraction float64
	HullPeriod           int
}

func DefaultParams() Params {
	return Params{
		StopLossFraction:     0.02,
		TakeProfitTarget:     20,
		PositionSizeFraction: 1.0,
		HullPeriod:           7,
	}
}

// Решение стратегии о входе
type Decision struct {
	Direction  state.Side
	Confidence float64
}

// Оценка входа по истории цен (от старой к новой). Чистая функция.
type EntryFunc func(symbol string, prices []float64, p Params) (Decision, bool)

// Оценка выхода для открытой позиции. Чистая функция.
type ExitFunc func(pos state.Position, prices []float64, p Params) (string, bool)

// Запись реестра стратегий
type Entry struct {
	Name       string
	MinHistory int
	Evaluate   EntryFunc
	Exit       ExitFunc // nil, если у стратегии нет собственного правила выхода
}

var registry = map[Kind]Entry{
	KindHullMA:        {Name: "Hull Moving Average", MinHistory: hullMinHistory, Evaluate: hullEntry, Exit: HullExit},
	KindMomentum:      {Name: "Momentum", MinHistory: 20, Evaluate: momentumEntry},
	KindMeanReversion: {Name: "Mean Reversion", MinHistory: 20, Evaluate: meanReversionEntry},
	KindBreakout:      {Name: "Breakout", MinHistory: breakoutWindow + 1, Evaluate: breakoutEntry},
}

// Запись реестра по виду стратегии
func Lookup(kind Kind) (Entry, bool) {
	e, ok := registry[kind]
	return e, ok
}

// Генератор сигналов для выбранной стратегии
type Generator struct {
	Kind   Kind
	Params Params
}

func NewGenerator(kind Kind, params Params) *Generator {
	return &Generator{Kind: kind, Params: params}
}

func (g *Generator) MinHistory() int {
	if e, ok := Lookup(g.Kind); ok {
		return e.MinHistory
	}
	return 0
}

// Правило выхода выбранной стратегии (может быть nil)
func (g *Generator) Exit() ExitFunc {
	e, _ := Lookup(g.Kind)
	return e.Exit
}

// Функция для генерации сигнала по снимку истории цен
func (g *Generator) Generate(symbol string, prices []float64) (*Signal, bool) {
	entry, ok := Lookup(g.Kind)
	if !ok || len(prices) < entry.MinHistory || len(prices) == 0 {
		return nil, false
	}

	decision, ok := entry.Evaluate(symbol, prices, g.Params)
	if !ok {
		return nil, false
	}

	signal := newSignal(symbol, decision, prices[len(prices)-1], entry.Name, g.Params)
	logger.Logger.Info("Signal generated",
		zap.String("symbol", symbol),
		zap.String("direction", string(signal.Direction)),
		zap.String("strategy", signal.Strategy),
		zap.Float64("price", signal.EntryPrice),
		zap.Float64("stopLoss", signal.StopLoss),
		zap.Float64("takeProfit", signal.TakeProfit),
		zap.Float64("confidence", signal.Confidence))
	return signal, true
}

// Стоп-лосс в процентах от цены входа, тейк-профит из абсолютной цели,
// нормированной на долю позиции
func newSignal(symbol string, d Decision, price float64, name string, p Params) *Signal {
	offset := 0.0
	if denom := price * p.PositionSizeFraction; denom != 0 {
		offset = p.TakeProfitTarget / denom
	}

	s := &Signal{
		Symbol:     symbol,
		Direction:  d.Direction,
		Confidence: d.Confidence,
		EntryPrice: price,
		RiskScore:  0.2,
		Strategy:   name,
	}
	if d.Direction == state.Long {
		s.StopLoss = price * (1 - p.StopLossFraction)
		s.TakeProfit = price + offset
	} else {
		s.StopLoss = price * (1 + p.StopLossFraction)
		s.TakeProfit = price - offset
	}
	return s
}
