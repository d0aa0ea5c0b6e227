// Package indicators содержит чистые функции технического анализа над
// последовательностью цен. Функции не имеют состояния и побочных эффектов:
// одинаковый вход всегда даёт одинаковый результат.
package indicators

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Значения по умолчанию для индикаторов
const (
	DefaultBollingerPeriod = 20
	DefaultRSIPeriod       = 14
	MACDFast               = 12
	MACDSlow               = 26
	MACDSignal             = 9

	NeutralRSI   = 50.0
	NeutralHurst = 0.5

	rsiEpsilon = 1e-10
)

// Функция для расчета взвешенной скользящей средней (WMA).
// Веса растут линейно от 1 (самая старая цена окна) до period (самая свежая).
// Если цен меньше, чем period, возвращает 0.
func WMA(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period {
		return 0
	}
	window := prices[len(prices)-period:]
	weights := make([]float64, period)
	for i := range weights {
		weights[i] = float64(i + 1)
	}
	return floats.Dot(window, weights) / floats.Sum(weights)
}

// Функция для расчета простой скользящей средней по последним period ценам
func SMA(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period {
		return 0
	}
	return stat.Mean(prices[len(prices)-period:], nil)
}

// Компоненты Hull MA: текущее и предыдущее (на 2 тика раньше) значение
type HullMomentum struct {
	Current  float64
	Previous float64
}

func (h HullMomentum) Bullish() bool { return h.Current > h.Previous }
func (h HullMomentum) Bearish() bool { return h.Previous > h.Current }

// Функция для расчета компонентов Hull MA.
// Это не классическая линия Hull MA, а сглаженная разница
// 2*WMA(period/2) - WMA(period), посчитанная для полной истории и для истории без
// двух последних цен. Сравниваются только эти два значения.
func Hull(prices []float64, period int) HullMomentum {
	if period <= 0 || len(prices) < period+2 {
		return HullMomentum{}
	}

	var result HullMomentum
	result.Current = hullComponent(prices, period)

	if previous := prices[:len(prices)-2]; len(previous) >= period {
		result.Previous = hullComponent(previous, period)
	}
	return result
}

func hullComponent(prices []float64, period int) float64 {
	half := int(math.RoundToEven(float64(period) / 2))
	sqrtPeriod := int(math.RoundToEven(math.Sqrt(float64(period))))

	diff := 2*WMA(prices, half) - WMA(prices, period)
	if diff == 0 || sqrtPeriod <= 0 {
		return 0
	}

	repeated := make([]float64, sqrtPeriod)
	for i := range repeated {
		repeated[i] = diff
	}
	return WMA(repeated, sqrtPeriod)
}

// Результат расчета полос Боллинджера
type BollingerResult struct {
	Upper               float64
	Lower               float64
	SMA                 float64
	ZScore              float64
	ReversalProbability float64
	VolatilityRatio     float64
	OK                  bool // false, если данных меньше периода
}

// Функция для расчета полос Боллинджера и вероятности разворота.
// Используется стандартное отклонение генеральной совокупности.
func Bollinger(prices []float64, period int) BollingerResult {
	if period <= 0 || len(prices) < period {
		return BollingerResult{ReversalProbability: 0.5}
	}

	window := prices[len(prices)-period:]
	mean, std := stat.PopMeanStdDev(window, nil)

	result := BollingerResult{
		Upper: mean + 2*std,
		Lower: mean - 2*std,
		SMA:   mean,
		OK:    true,
	}
	if std > 0 {
		result.ZScore = (prices[len(prices)-1] - mean) / std
	}
	// Вероятность разворота симметрична: для отрицательного z берём |z|
	result.ReversalProbability = distuv.UnitNormal.CDF(math.Abs(result.ZScore))
	if mean != 0 {
		result.VolatilityRatio = std / mean
	}
	return result
}

// Результат расчета осциллятора моментума
type MomentumResult struct {
	RSI       float64
	MACD      float64
	Signal    float64
	Histogram float64
	Strength  float64
}

// Функция для расчета RSI и MACD.
// При недостатке данных (меньше 2*period) возвращает нейтральный RSI 50.
func Momentum(prices []float64, period int) MomentumResult {
	if period <= 0 || len(prices) < 2*period {
		return MomentumResult{RSI: NeutralRSI}
	}

	deltas := make([]float64, len(prices)-1)
	floats.SubTo(deltas, prices[1:], prices[:len(prices)-1])

	recent := deltas[len(deltas)-period:]
	var gains, losses float64
	for _, d := range recent {
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	rs := avgGain / (avgLoss + rsiEpsilon)
	rsi := 100 - 100/(1+rs)

	fast := EMASeries(prices, MACDFast)
	slow := EMASeries(prices, MACDSlow)
	macdLine := make([]float64, len(prices))
	floats.SubTo(macdLine, fast, slow)
	signalLine := EMASeries(macdLine, MACDSignal)

	last := len(prices) - 1
	histogram := macdLine[last] - signalLine[last]

	return MomentumResult{
		RSI:       rsi,
		MACD:      macdLine[last],
		Signal:    signalLine[last],
		Histogram: histogram,
		Strength:  math.Abs(histogram),
	}
}

// Функция для расчета ряда экспоненциальной скользящей средней.
// Первое значение ряда равно первой цене, alpha = 2/(period+1).
func EMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || period <= 0 {
		return out
	}
	alpha := 2 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// Функция для расчета показателя Херста методом R/S анализа.
// Возвращает значение в [0, 1]; 0.5 при недостатке данных или вырожденной регрессии.
func Hurst(prices []float64) float64 {
	if len(prices) < 10 {
		return NeutralHurst
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			return NeutralHurst
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}

	n := len(returns)
	periods := []int{2, 4, 8, 16, min(32, n/2)}

	var logPeriods, logRS []float64
	for _, period := range periods {
		if period < 2 || period >= n {
			continue
		}
		var rsValues []float64
		for start := 0; start+period <= n; start += period {
			if rs, ok := rescaledRange(returns[start : start+period]); ok {
				rsValues = append(rsValues, rs)
			}
		}
		if len(rsValues) == 0 {
			continue
		}
		avg := stat.Mean(rsValues, nil)
		if avg <= 0 {
			continue
		}
		logPeriods = append(logPeriods, math.Log(float64(period)))
		logRS = append(logRS, math.Log(avg))
	}

	if len(logPeriods) < 2 {
		return NeutralHurst
	}

	_, slope := stat.LinearRegression(logPeriods, logRS, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return NeutralHurst
	}
	return math.Max(0, math.Min(1, slope))
}

// R/S для одного сегмента: размах накопленных отклонений, делённый на std
func rescaledRange(segment []float64) (float64, bool) {
	mean, std := stat.PopMeanStdDev(segment, nil)
	if std <= 0 {
		return 0, false
	}
	cumulative := make([]float64, len(segment))
	sum := 0.0
	for i, v := range segment {
		sum += v - mean
		cumulative[i] = sum
	}
	return (floats.Max(cumulative) - floats.Min(cumulative)) / std, true
}

// Функция для расчета относительной волатильности (std / mean)
func Volatility(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(prices, nil)
	if mean == 0 {
		return 0
	}
	return std / mean
}
