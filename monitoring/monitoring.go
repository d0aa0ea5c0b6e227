package monitoring

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hyperliquid-bot/data"
	"hyperliquid-bot/logger"
	"hyperliquid-bot/state"
	"hyperliquid-bot/utils"
)

// Источник прогресса сбора данных
type ProgressSource interface {
	Progress() data.Progress
}

// Состояние открытой позиции в отчете
type PositionReport struct {
	Symbol     string
	Side       state.Side
	Size       float64
	EntryPrice float64
	Current    float64
	PnL        float64
	PnLPct     float64
}

// Снимок показателей бота, только для чтения
type Summary struct {
	TotalTrades      int
	ProfitableTrades int
	WinRate          float64
	TotalPnL         decimal.Decimal
	Condition        string
	Positions        []PositionReport
	Data             data.Progress
	Uptime           time.Duration
}

// Периодические отчеты о работе бота. Состояние не изменяет.
type Reporter struct {
	state    *state.BotState
	progress ProgressSource
	detailed time.Duration
	brief    time.Duration
	started  time.Time

	// Источник времени, подменяется в тестах
	Now func() time.Time
}

func NewReporter(st *state.BotState, progress ProgressSource, detailed, brief time.Duration) *Reporter {
	if detailed <= 0 {
		detailed = 5 * time.Minute
	}
	if brief <= 0 {
		brief = 2 * time.Minute
	}
	return &Reporter{
		state:    st,
		progress: progress,
		detailed: detailed,
		brief:    brief,
		started:  time.Now(),
		Now:      time.Now,
	}
}

func (r *Reporter) Summary() Summary {
	stats := r.state.Stats()
	s := Summary{
		TotalTrades:      stats.TotalTrades,
		ProfitableTrades: stats.ProfitableTrades,
		WinRate:          stats.WinRate(),
		TotalPnL:         stats.TotalPnL,
		Condition:        r.state.Condition().String(),
		Uptime:           r.Now().Sub(r.started),
	}
	if r.progress != nil {
		s.Data = r.progress.Progress()
	}
	for _, p := range r.state.Positions() {
		s.Positions = append(s.Positions, PositionReport{
			Symbol:     p.Symbol,
			Side:       p.Side,
			Size:       p.Size,
			EntryPrice: p.EntryPrice,
			Current:    p.CurrentPrice,
			PnL:        p.UnrealizedPnL,
			PnLPct:     utils.PnLFraction(p.UnrealizedPnL, p.EntryPrice, p.Size) * 100,
		})
	}
	return s
}

// Подробный отчет
func (r *Reporter) ReportDetailed() Summary {
	s := r.Summary()
	logger.Logger.Info("Performance summary",
		zap.Int("totalTrades", s.TotalTrades),
		zap.Int("profitableTrades", s.ProfitableTrades),
		zap.Float64("winRate", s.WinRate),
		zap.String("totalPnL", s.TotalPnL.StringFixed(2)),
		zap.String("marketCondition", s.Condition),
		zap.Int("openPositions", len(s.Positions)),
		zap.Int("dataCollected", s.Data.Collected),
		zap.Int("dataTarget", s.Data.Target),
		zap.Bool("trading", s.Data.Open),
		zap.Duration("uptime", s.Uptime))

	for _, p := range s.Positions {
		logger.Logger.Info("Open position",
			zap.String("symbol", p.Symbol),
			zap.String("side", string(p.Side)),
			zap.Float64("size", p.Size),
			zap.Float64("entry", p.EntryPrice),
			zap.Float64("current", p.Current),
			zap.Float64("pnl", p.PnL),
			zap.Float64("pnlPct", p.PnLPct))
	}
	return s
}

// Короткий отчет. Пишется только если были сделки или есть позиции.
func (r *Reporter) ReportBrief() (Summary, bool) {
	s := r.Summary()
	if s.TotalTrades == 0 && len(s.Positions) == 0 {
		return s, false
	}
	logger.Logger.Info("Status",
		zap.Int("trades", s.TotalTrades),
		zap.Float64("winRate", s.WinRate),
		zap.String("pnl", s.TotalPnL.StringFixed(2)),
		zap.Int("positions", len(s.Positions)))
	return s, true
}

// Цикл отчетов до отмены контекста
func (r *Reporter) Run(ctx context.Context) error {
	r.ReportDetailed()

	detailed := time.NewTicker(r.detailed)
	defer detailed.Stop()
	brief := time.NewTicker(r.brief)
	defer brief.Stop()

	for {
		select {
		case <-ctx.Done():
			r.ReportDetailed()
			return nil
		case <-detailed.C:
			r.ReportDetailed()
		case <-brief.C:
			r.ReportBrief()
		}
	}
}
