package model

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"hyperliquid-bot/logger"
)

var ErrNotEnoughSamples = errors.New("not enough training samples")

const (
	minTrainingSamples = 5
	errorWindow        = 100
	recentErrorWindow  = 10
	degradationFactor  = 1.5
	// Масштаб ошибки для пересчета в уверенность: MAE 1% дает уверенность 0.5
	confidenceScale = 100.0
)

// Линейная модель изменения цены, обучаемая градиентным спуском на gorgonia.
// Признаки нормализуются min-max, последний вес служит смещением.
type LinearPredictor struct {
	epochs    int
	learnRate float64

	mu        sync.RWMutex
	weights   []float64
	scaler    Scaler
	trainLoss float64
	errors    []float64
	degraded  bool
}

// Функция для создания новой модели
func NewLinearPredictor(epochs int, learnRate float64) *LinearPredictor {
	if epochs <= 0 {
		epochs = 200
	}
	if learnRate <= 0 {
		learnRate = 0.02
	}
	return &LinearPredictor{epochs: epochs, learnRate: learnRate}
}

// Функция для обучения модели на выборке признаков и целевых изменений цены
func (p *LinearPredictor) Train(features [][]float64, targets []float64) error {
	if len(features) < minTrainingSamples || len(features) != len(targets) {
		return fmt.Errorf("%w: %d features, %d targets", ErrNotEnoughSamples, len(features), len(targets))
	}

	frame, err := NewFeatureFrame(features)
	if err != nil {
		return err
	}
	normalized, scaler := frame.Normalize()

	rows, cols := normalized.Rows(), normalized.Cols()+1
	matrix := normalized.Matrix()
	backing := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		backing = append(backing, matrix[i*(cols-1):(i+1)*(cols-1)]...)
		backing = append(backing, 1) // Смещение
	}

	weights, loss, err := fitLinear(backing, append([]float64(nil), targets...), rows, cols, p.epochs, p.learnRate)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.weights = weights
	p.scaler = scaler
	p.trainLoss = loss
	// Исходы старой модели не относятся к новой
	p.errors = nil
	p.degraded = false
	p.mu.Unlock()

	logger.Logger.Info("Predictor trained",
		zap.Int("samples", rows),
		zap.Int("features", cols-1),
		zap.Float64("mse", loss))
	return nil
}

// Градиентный спуск для y = X*w с функцией потерь MSE
func fitLinear(x, y []float64, rows, cols, epochs int, learnRate float64) ([]float64, float64, error) {
	g := gorgonia.NewGraph()

	xT := tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(x))
	yT := tensor.New(tensor.WithShape(rows), tensor.WithBacking(y))

	xNode := gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(rows, cols), gorgonia.WithName("x"), gorgonia.WithValue(xT))
	yNode := gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(rows), gorgonia.WithName("y"), gorgonia.WithValue(yT))
	w := gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(cols), gorgonia.WithName("w"), gorgonia.WithInit(gorgonia.Zeroes()))

	pred := gorgonia.Must(gorgonia.Mul(xNode, w))
	loss := gorgonia.Must(gorgonia.Mean(gorgonia.Must(gorgonia.Square(gorgonia.Must(gorgonia.Sub(pred, yNode))))))

	if _, err := gorgonia.Grad(loss, w); err != nil {
		return nil, 0, fmt.Errorf("failed to build gradient: %w", err)
	}

	vm := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(w))
	defer vm.Close()
	solver := gorgonia.NewVanillaSolver(gorgonia.WithLearnRate(learnRate))

	var lastLoss float64
	for i := 0; i < epochs; i++ {
		if err := vm.RunAll(); err != nil {
			return nil, 0, fmt.Errorf("training epoch %d: %w", i, err)
		}
		if v, ok := loss.Value().Data().(float64); ok {
			lastLoss = v
		}
		if err := solver.Step(gorgonia.NodesToValueGrads(gorgonia.Nodes{w})); err != nil {
			return nil, 0, fmt.Errorf("solver step %d: %w", i, err)
		}
		vm.Reset()
	}

	weights, ok := w.Value().Data().([]float64)
	if !ok {
		return nil, 0, fmt.Errorf("unexpected weights type %T", w.Value().Data())
	}
	return append([]float64(nil), weights...), lastLoss, nil
}

// Прогноз изменения цены. Без обучения возвращает (0, 0).
func (p *LinearPredictor) Predict(features []float64) (float64, float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.weights) == 0 || len(features) != len(p.weights)-1 {
		return 0, 0
	}

	x := append(p.scaler.Transform(features), 1)
	xT := tensor.New(tensor.WithShape(1, len(x)), tensor.WithBacking(x))
	wT := tensor.New(tensor.WithShape(len(p.weights)), tensor.WithBacking(append([]float64(nil), p.weights...)))
	out, err := tensor.MatVecMul(xT, wT)
	if err != nil {
		logger.Logger.Warn("Predictor inference failed", zap.Error(err))
		return 0, 0
	}
	values, ok := out.Data().([]float64)
	if !ok || len(values) == 0 {
		return 0, 0
	}
	return values[0], p.confidence()
}

// Уверенность по средней абсолютной ошибке последних исходов,
// до появления исходов по ошибке обучения
func (p *LinearPredictor) confidence() float64 {
	mae := math.Sqrt(p.trainLoss)
	if len(p.errors) > 0 {
		mae = stat.Mean(p.errors, nil)
	}
	return 1 / (1 + mae*confidenceScale)
}

// Учет фактического исхода сделки. Отмечает деградацию, если средняя ошибка
// последних 10 исходов в 1.5 раза выше общей.
func (p *LinearPredictor) RecordOutcome(predicted, actual float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.errors = append(p.errors, math.Abs(predicted-actual))
	if len(p.errors) > errorWindow {
		p.errors = p.errors[len(p.errors)-errorWindow:]
	}
	if len(p.errors) < 2*recentErrorWindow {
		return
	}

	recent := stat.Mean(p.errors[len(p.errors)-recentErrorWindow:], nil)
	overall := stat.Mean(p.errors, nil)
	degraded := recent > overall*degradationFactor
	if degraded && !p.degraded {
		logger.Logger.Warn("Predictor performance degraded, retrain scheduled",
			zap.Float64("recentError", recent),
			zap.Float64("overallError", overall))
	}
	p.degraded = degraded
}

// Признак деградации модели
func (p *LinearPredictor) Degraded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.degraded
}

func (p *LinearPredictor) Trained() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.weights) > 0
}

// Сохраняемое состояние модели
type snapshot struct {
	Weights   []float64
	Min       []float64
	Max       []float64
	TrainLoss float64
}

// Функция для сохранения модели в файл
func (p *LinearPredictor) Save(filename string) error {
	p.mu.RLock()
	snap := snapshot{Weights: p.weights, Min: p.scaler.Min, Max: p.scaler.Max, TrainLoss: p.trainLoss}
	p.mu.RUnlock()

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	return nil
}

// Функция для загрузки модели из файла
func (p *LinearPredictor) Load(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode model: %w", err)
	}
	if len(snap.Weights) != len(snap.Min)+1 || len(snap.Min) != len(snap.Max) {
		return fmt.Errorf("corrupt model file %s", filename)
	}

	p.mu.Lock()
	p.weights = snap.Weights
	p.scaler = Scaler{Min: snap.Min, Max: snap.Max}
	p.trainLoss = snap.TrainLoss
	p.mu.Unlock()
	return nil
}
