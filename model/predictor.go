package model

// Подключаемый предиктор изменения цены.
// Predict возвращает ожидаемое относительное изменение цены и уверенность [0, 1].
type Predictor interface {
	Predict(features []float64) (value, confidence float64)
	RecordOutcome(predicted, actual float64)
}

// Предиктор, который можно обучать
type Trainer interface {
	Train(features [][]float64, targets []float64) error
}

// Предиктор, отслеживающий качество своих прогнозов
type DegradationReporter interface {
	Degraded() bool
}

// Предиктор с собственным сохранением состояния
type Persister interface {
	Save(filename string) error
	Load(filename string) error
}

// Предиктор по умолчанию: ничего не предсказывает и ничего не запоминает
type Noop struct{}

func (Noop) Predict([]float64) (float64, float64) { return 0, 0 }
func (Noop) RecordOutcome(float64, float64)       {}
