package model

import (
	"fmt"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"hyperliquid-bot/data"
	"hyperliquid-bot/indicators"
)

// Количество тиков, по которым строится вектор признаков
const FeatureWindow = 50

// Названия признаков в порядке вектора
var FeatureNames = []string{
	"price_change_1", "price_change_5", "price_change_10",
	"volatility", "volume_ratio", "volume_trend", "spread_ratio",
	"bb_z_score", "bb_reversal", "bb_volatility_ratio",
	"rsi", "macd", "macd_histogram", "momentum_strength",
	"hurst", "hour", "minute",
}

// Функция для построения вектора признаков по последним 50 тикам.
// Возвращает nil, если тиков меньше.
func BuildFeatures(ticks []data.MarketTick) []float64 {
	if len(ticks) < FeatureWindow {
		return nil
	}
	window := ticks[len(ticks)-FeatureWindow:]

	prices := make([]float64, len(window))
	volumes := make([]float64, len(window))
	spreads := make([]float64, len(window))
	for i, t := range window {
		prices[i] = t.Price
		volumes[i] = t.Volume
		spreads[i] = t.Spread
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		returns = append(returns, ratio(prices[i]-prices[i-1], prices[i-1]))
	}
	_, volatility := stat.PopMeanStdDev(returns, nil)

	// Наклон линейного тренда объема
	idx := make([]float64, len(volumes))
	floats.Span(idx, 0, float64(len(volumes)-1))
	_, volumeTrend := stat.LinearRegression(idx, volumes, nil, false)

	last := len(prices) - 1
	bb := indicators.Bollinger(prices, indicators.DefaultBollingerPeriod)
	mom := indicators.Momentum(prices, indicators.DefaultRSIPeriod)
	ts := window[last].Timestamp

	return []float64{
		ratio(prices[last]-prices[last-1], prices[last-1]),
		ratio(prices[last]-prices[last-5], prices[last-5]),
		ratio(prices[last]-prices[last-10], prices[last-10]),
		volatility,
		ratioOr(volumes[last], stat.Mean(volumes[:last], nil), 1),
		volumeTrend,
		ratioOr(spreads[last], stat.Mean(spreads[:last], nil), 1),
		bb.ZScore,
		bb.ReversalProbability,
		bb.VolatilityRatio,
		mom.RSI,
		mom.MACD,
		mom.Histogram,
		mom.Strength,
		indicators.Hurst(prices),
		float64(ts.Hour()),
		float64(ts.Minute()),
	}
}

// Функция для построения обучающей выборки: признаки на шаге i и
// относительное изменение цены через lookahead тиков
func TrainingSet(ticks []data.MarketTick, lookahead int) ([][]float64, []float64) {
	var features [][]float64
	var targets []float64
	for i := FeatureWindow - 1; i+lookahead < len(ticks); i++ {
		f := BuildFeatures(ticks[:i+1])
		if f == nil {
			continue
		}
		current := ticks[i].Price
		future := ticks[i+lookahead].Price
		features = append(features, f)
		targets = append(targets, ratio(future-current, current))
	}
	return features, targets
}

func ratio(a, b float64) float64 { return ratioOr(a, b, 0) }

func ratioOr(a, b, fallback float64) float64 {
	if b == 0 {
		return fallback
	}
	return a / b
}

// Таблица признаков на основе DataFrame
type FeatureFrame struct {
	df dataframe.DataFrame
}

// Функция для создания таблицы признаков из строк
func NewFeatureFrame(rows [][]float64) (FeatureFrame, error) {
	if len(rows) == 0 {
		return FeatureFrame{}, fmt.Errorf("no feature rows")
	}
	width := len(rows[0])
	columns := make([]series.Series, width)
	for j := 0; j < width; j++ {
		col := make([]float64, len(rows))
		for i, row := range rows {
			if len(row) != width {
				return FeatureFrame{}, fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
			}
			col[i] = row[j]
		}
		columns[j] = series.New(col, series.Float, columnName(j))
	}

	df := dataframe.New(columns...)
	if df.Err != nil {
		return FeatureFrame{}, fmt.Errorf("error building feature frame: %w", df.Err)
	}
	return FeatureFrame{df: df}, nil
}

func columnName(j int) string {
	if j < len(FeatureNames) {
		return FeatureNames[j]
	}
	return fmt.Sprintf("f%d", j)
}

func (f FeatureFrame) Rows() int { return f.df.Nrow() }
func (f FeatureFrame) Cols() int { return f.df.Ncol() }

// Параметры min-max нормализации
type Scaler struct {
	Min []float64
	Max []float64
}

// Нормализация одного вектора. Столбцы с нулевым размахом дают 0.
func (s Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if i >= len(s.Min) {
			break
		}
		if span := s.Max[i] - s.Min[i]; span != 0 {
			out[i] = (v - s.Min[i]) / span
		}
	}
	return out
}

// Функция для нормализации таблицы в [0, 1] по каждому столбцу
func (f FeatureFrame) Normalize() (FeatureFrame, Scaler) {
	df := f.df.Copy()
	names := df.Names()
	scaler := Scaler{Min: make([]float64, len(names)), Max: make([]float64, len(names))}

	for j, name := range names {
		col := df.Col(name).Float()
		lo, hi := floats.Min(col), floats.Max(col)
		scaler.Min[j], scaler.Max[j] = lo, hi
		for i := range col {
			if hi != lo {
				col[i] = (col[i] - lo) / (hi - lo)
			} else {
				col[i] = 0
			}
		}
		df = df.Mutate(series.New(col, series.Float, name))
	}
	return FeatureFrame{df: df}, scaler
}

// Данные таблицы построчно в одном срезе
func (f FeatureFrame) Matrix() []float64 {
	rows, cols := f.df.Nrow(), f.df.Ncol()
	out := make([]float64, rows*cols)
	for j, name := range f.df.Names() {
		col := f.df.Col(name).Float()
		for i := 0; i < rows; i++ {
			out[i*cols+j] = col[i]
		}
	}
	return out
}
