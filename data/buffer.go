package data

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hyperliquid-bot/logger"
	"hyperliquid-bot/metrics"
)

// Обработчик, вызываемый ровно один раз на каждый сброс буфера инструмента
type FlushFunc func(ctx context.Context, symbol string, gateOpen bool)

// Настройки буфера
type BufferConfig struct {
	FlushThreshold int           // Сброс при накоплении N тиков
	FlushInterval  time.Duration // Или если с прошлого сброса прошло больше интервала
	TicksPerSymbol int           // Сколько тиков на инструмент нужно для начала торговли
}

// Прогресс сбора данных
type Progress struct {
	Collected int
	Target    int
	Open      bool
}

// Буфер входящих тиков. Копит тики по инструменту и переносит их в историю
// пачкой, после чего запускает анализ.
type Buffer struct {
	store   *Store
	cfg     BufferConfig
	onFlush FlushFunc
	target  int

	// Источник времени, подменяется в тестах
	Now func() time.Time

	mu        sync.Mutex
	staged    map[string][]MarketTick
	lastFlush map[string]time.Time
	gateOpen  atomic.Bool
}

func NewBuffer(store *Store, cfg BufferConfig, onFlush FlushFunc) *Buffer {
	return &Buffer{
		store:     store,
		cfg:       cfg,
		onFlush:   onFlush,
		target:    len(store.Symbols()) * cfg.TicksPerSymbol,
		Now:       time.Now,
		staged:    make(map[string][]MarketTick),
		lastFlush: make(map[string]time.Time),
	}
}

// Добавление тика. Возвращает true, если тик вызвал сброс буфера.
func (b *Buffer) Add(ctx context.Context, tick MarketTick) bool {
	if !b.store.Has(tick.Symbol) {
		return false
	}
	metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()

	now := b.Now()
	symbol := tick.Symbol

	b.mu.Lock()
	staged := append(b.staged[symbol], tick)
	last, ok := b.lastFlush[symbol]
	if !ok {
		last = now
		b.lastFlush[symbol] = now
	}

	if len(staged) < b.cfg.FlushThreshold && now.Sub(last) <= b.cfg.FlushInterval {
		b.staged[symbol] = staged
		b.mu.Unlock()
		return false
	}

	delete(b.staged, symbol)
	b.lastFlush[symbol] = now
	// Запись в историю под блокировкой буфера, чтобы пачки не перемешивались
	if err := b.store.Append(symbol, staged...); err != nil {
		b.mu.Unlock()
		logger.Logger.Error("Failed to flush ticks", zap.String("symbol", symbol), zap.Error(err))
		return false
	}
	b.mu.Unlock()

	metrics.FlushesTotal.WithLabelValues(symbol).Inc()
	logger.Logger.Debug("Buffer flushed",
		zap.String("symbol", symbol),
		zap.Int("ticks", len(staged)),
		zap.Int("history", b.store.Len(symbol)))

	gate := b.checkGate()
	if b.onFlush != nil {
		b.onFlush(ctx, symbol, gate)
	}
	return true
}

// Проверка готовности данных. Однажды открывшись, шлюз больше не закрывается.
func (b *Buffer) checkGate() bool {
	if b.gateOpen.Load() {
		return true
	}
	total := b.store.Total()
	if total < b.target {
		return false
	}
	if b.gateOpen.CompareAndSwap(false, true) {
		fields := []zap.Field{zap.Int("collected", total), zap.Int("target", b.target)}
		for _, symbol := range b.store.Symbols() {
			fields = append(fields, zap.Int(symbol, b.store.Len(symbol)))
		}
		logger.Logger.Info("Data collection complete, strategy ready", fields...)
	}
	return true
}

func (b *Buffer) GateOpen() bool { return b.gateOpen.Load() }

func (b *Buffer) Progress() Progress {
	return Progress{
		Collected: b.store.Total(),
		Target:    b.target,
		Open:      b.gateOpen.Load(),
	}
}

// Количество тиков, ожидающих сброса
func (b *Buffer) Staged(symbol string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.staged[symbol])
}
