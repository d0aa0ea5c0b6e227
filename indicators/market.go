package indicators

import "math"

// Состояние рынка
type Condition int

const (
	ConditionNormal Condition = iota
	ConditionVolatile
	ConditionTrending
)

func (c Condition) String() string {
	switch c {
	case ConditionVolatile:
		return "volatile"
	case ConditionTrending:
		return "trending"
	default:
		return "normal"
	}
}

const (
	ConditionWindow         = 20
	DefaultVolatilityThresh = 0.02
	trendMove               = 0.02
)

// Функция для классификации состояния рынка по последним 20 ценам.
// Второе значение false, если данных недостаточно (состояние не меняется).
func ClassifyMarket(prices []float64, threshold float64) (Condition, bool) {
	if len(prices) < ConditionWindow {
		return ConditionNormal, false
	}
	recent := prices[len(prices)-ConditionWindow:]
	volatility := Volatility(recent)

	switch {
	case volatility > threshold:
		return ConditionVolatile, true
	case volatility < threshold/2:
		if recent[0] != 0 && math.Abs((recent[len(recent)-1]-recent[0])/recent[0]) > trendMove {
			return ConditionTrending, true
		}
		return ConditionNormal, true
	default:
		return ConditionNormal, true
	}
}
