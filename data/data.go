package data

import (
	"container/ring"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Параметры синтетического спреда и оценки объема
const (
	HistoryCapacity = 200

	spreadOffset     = 0.0005
	defaultVolume    = 1000.0
	minVolume        = 500.0
	maxVolume        = 5000.0
	volumeLookback   = 10
	volumeMultiplier = 10.0
)

// Структура для хранения одного тика рынка. После создания не изменяется.
type MarketTick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Volume    float64   `json:"volume"` // Оценка, биржа объем не присылает
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Spread    float64   `json:"spread"`
}

// Функция для создания тика из mid-цены.
// Bid/ask берутся с фиксированным отступом от цены, объем оценивается по
// волатильности последних цен из истории.
func NewMarketTick(symbol string, price float64, ts time.Time, recent []float64) MarketTick {
	bid := price * (1 - spreadOffset)
	ask := price * (1 + spreadOffset)
	return MarketTick{
		Symbol:    symbol,
		Price:     price,
		Timestamp: ts,
		Volume:    EstimateVolume(recent),
		Bid:       bid,
		Ask:       ask,
		Spread:    ask - bid,
	}
}

// Функция для оценки объема по волатильности последних 10 цен
func EstimateVolume(recent []float64) float64 {
	if len(recent) <= volumeLookback {
		return defaultVolume
	}
	window := recent[len(recent)-volumeLookback:]
	mean, std := stat.PopMeanStdDev(window, nil)
	if mean == 0 {
		return defaultVolume
	}
	volume := defaultVolume * (1 + std/mean*volumeMultiplier)
	return math.Max(minVolume, math.Min(maxVolume, volume))
}

// Функция для извлечения цен из последовательности тиков
func Prices(ticks []MarketTick) []float64 {
	prices := make([]float64, len(ticks))
	for i, t := range ticks {
		prices[i] = t.Price
	}
	return prices
}

// Ограниченная история тиков одного инструмента на основе ring buffer.
// При заполнении самый старый тик вытесняется. Сама по себе не потокобезопасна,
// доступ сериализует Store.
type History struct {
	next     *ring.Ring // Ячейка, в которую будет записан следующий тик
	size     int
	capacity int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &History{next: ring.New(capacity), capacity: capacity}
}

// Добавляем тики в порядке от старого к новому
func (h *History) Append(ticks ...MarketTick) {
	for _, t := range ticks {
		h.next.Value = t
		h.next = h.next.Next()
		if h.size < h.capacity {
			h.size++
		}
	}
}

func (h *History) Len() int { return h.size }

// Копия истории от самого старого тика к самому новому
func (h *History) Snapshot() []MarketTick {
	out := make([]MarketTick, 0, h.size)
	cursor := h.next.Move(-h.size)
	for i := 0; i < h.size; i++ {
		out = append(out, cursor.Value.(MarketTick))
		cursor = cursor.Next()
	}
	return out
}

func (h *History) Latest() (MarketTick, bool) {
	if h.size == 0 {
		return MarketTick{}, false
	}
	return h.next.Prev().Value.(MarketTick), true
}

// Хранилище историй по всем торгуемым инструментам
type Store struct {
	mu        sync.RWMutex
	histories map[string]*History
	symbols   []string
}

// Функция для создания хранилища для заданного набора инструментов
func NewStore(symbols []string, capacity int) *Store {
	s := &Store{
		histories: make(map[string]*History, len(symbols)),
		symbols:   append([]string(nil), symbols...),
	}
	for _, symbol := range symbols {
		s.histories[symbol] = NewHistory(capacity)
	}
	return s
}

func (s *Store) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

// Проверка, торгуется ли инструмент
func (s *Store) Has(symbol string) bool {
	_, ok := s.histories[symbol]
	return ok
}

// Добавление тиков в историю инструмента. Единственный путь записи в историю.
func (s *Store) Append(symbol string, ticks ...MarketTick) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.histories[symbol]
	if !ok {
		return fmt.Errorf("unknown symbol: %s", symbol)
	}
	history.Append(ticks...)
	return nil
}

func (s *Store) Snapshot(symbol string) []MarketTick {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if history, ok := s.histories[symbol]; ok {
		return history.Snapshot()
	}
	return nil
}

func (s *Store) Prices(symbol string) []float64 {
	return Prices(s.Snapshot(symbol))
}

func (s *Store) Latest(symbol string) (MarketTick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if history, ok := s.histories[symbol]; ok {
		return history.Latest()
	}
	return MarketTick{}, false
}

func (s *Store) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if history, ok := s.histories[symbol]; ok {
		return history.Len()
	}
	return 0
}

// Общее количество тиков во всех историях
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, history := range s.histories {
		total += history.Len()
	}
	return total
}

// Последняя цена инструмента
func (s *Store) LatestPrice(symbol string) (float64, bool) {
	tick, ok := s.Latest(symbol)
	return tick.Price, ok
}
