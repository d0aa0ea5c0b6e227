// Package bot собирает компоненты торгового бота и управляет их жизненным циклом.
package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hyperliquid-bot/api"
	"hyperliquid-bot/config"
	"hyperliquid-bot/connector"
	"hyperliquid-bot/data"
	"hyperliquid-bot/indicators"
	"hyperliquid-bot/logger"
	"hyperliquid-bot/metrics"
	"hyperliquid-bot/model"
	"hyperliquid-bot/monitoring"
	"hyperliquid-bot/order"
	"hyperliquid-bot/risk"
	"hyperliquid-bot/state"
	"hyperliquid-bot/strategy"
	"hyperliquid-bot/utils"
)

const shutdownTimeout = 5 * time.Second

type Bot struct {
	cfg      config.Config
	exchange api.Exchange

	State     *state.BotState
	Store     *data.Store
	Buffer    *data.Buffer
	Feed      *connector.Feed
	Manager   *order.Manager
	Risk      *risk.Monitor
	Reporter  *monitoring.Reporter
	Generator *strategy.Generator
	Predictor model.Predictor

	// Повторы проверки счета при старте
	StartupRetry utils.RetryPolicy

	flushes    atomic.Int64
	retraining atomic.Bool
	trainDone  chan struct{}
}

// Функция для создания бота по конфигурации. Если exchange не задан,
// клиент биржи выбирается по режиму: шлюз или бумажная торговля.
func New(cfg config.Config, exchange api.Exchange) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind, err := strategy.ParseKind(cfg.Trading.Strategy)
	if err != nil {
		return nil, err
	}

	b := &Bot{
		cfg: cfg,
		State: state.New(state.Limits{
			MaxPositions:         cfg.Trading.MaxPositions,
			Cooldown:             cfg.Trading.Cooldown,
			PositionSizeFraction: cfg.Trading.PositionSizeFraction,
			StopLossFraction:     cfg.Trading.StopLoss,
			TakeProfitTarget:     cfg.Trading.TakeProfitTarget,
			TakeProfitFraction:   cfg.Trading.TakeProfitFraction,
		}),
		Store: data.NewStore(cfg.Trading.Symbols, cfg.Buffer.HistoryCapacity),
		Generator: strategy.NewGenerator(kind, strategy.Params{
			StopLossFraction:     cfg.Trading.StopLoss,
			TakeProfitTarget:     cfg.Trading.TakeProfitTarget,
			PositionSizeFraction: cfg.Trading.PositionSizeFraction,
			HullPeriod:           cfg.Trading.HullPeriod,
		}),
		StartupRetry: utils.RetryPolicy{Base: time.Second, Max: 10 * time.Second, MaxExponent: 3, MaxAttempts: 3},
	}

	if exchange == nil {
		exchange = b.newExchange()
	}
	b.exchange = exchange
	b.Predictor = newPredictor(cfg.Predictor)

	b.Manager = order.NewManager(b.State, exchange, cfg.Account.Address)
	b.Manager.Prices = b.Store
	b.Manager.Predictor = b.Predictor
	b.Manager.DefaultEquity = cfg.Account.DefaultEquity
	b.Manager.DefaultSpec = order.SymbolSpec(cfg.Trading.DefaultSpec)
	for symbol, spec := range cfg.Trading.Specs {
		b.Manager.Specs[symbol] = order.SymbolSpec(spec)
	}

	b.Buffer = data.NewBuffer(b.Store, data.BufferConfig{
		FlushThreshold: cfg.Buffer.FlushThreshold,
		FlushInterval:  cfg.Buffer.FlushInterval,
		TicksPerSymbol: cfg.Buffer.TicksPerSymbol,
	}, b.onFlush)

	b.Feed = connector.NewFeed(connector.FeedConfig{
		URL:          cfg.Feed.URL,
		PingInterval: cfg.Feed.PingInterval,
		ReadTimeout:  cfg.Feed.ReadTimeout,
		Retry: utils.RetryPolicy{
			Base:        cfg.Feed.Reconnect.Base,
			Max:         cfg.Feed.Reconnect.Max,
			MaxExponent: cfg.Feed.Reconnect.MaxExponent,
			MaxAttempts: cfg.Feed.Reconnect.MaxAttempts,
		},
	}, b.Store, b.Buffer)

	b.Risk = risk.NewMonitor(b.State, b.Store, b.Manager, cfg.Risk.Interval)
	b.Reporter = monitoring.NewReporter(b.State, b.Buffer, cfg.Reporting.DetailedInterval, cfg.Reporting.BriefInterval)

	logger.Logger.Info("Bot configured",
		zap.String("mode", cfg.Exchange.Mode),
		zap.String("strategy", kind.String()),
		zap.Strings("symbols", cfg.Trading.Symbols),
		zap.Int("maxPositions", cfg.Trading.MaxPositions),
		zap.Bool("predictor", cfg.Predictor.Enabled))
	return b, nil
}

func (b *Bot) newExchange() api.Exchange {
	if b.cfg.Exchange.Mode == config.ModePaper {
		return api.NewPaper(b.Store, b.cfg.Exchange.PaperEquity)
	}
	return api.NewGateway(context.Background(), api.GatewayConfig{
		InfoURL:    b.cfg.Exchange.InfoURL,
		GatewayURL: b.cfg.Exchange.GatewayURL,
		Token:      b.cfg.Exchange.Token,
		Timeout:    b.cfg.Exchange.Timeout,
		RetryCount: b.cfg.Exchange.RetryCount,
	})
}

func newPredictor(cfg config.Predictor) model.Predictor {
	if !cfg.Enabled {
		return model.Noop{}
	}
	p := model.NewLinearPredictor(cfg.Epochs, cfg.LearningRate)
	if cfg.ModelPath != "" {
		if err := p.Load(cfg.ModelPath); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Logger.Warn("Failed to load predictor, starting untrained",
					zap.String("path", cfg.ModelPath),
					zap.Error(err))
			}
		} else {
			logger.Logger.Info("Predictor loaded", zap.String("path", cfg.ModelPath))
		}
	}
	return p
}

// Проверка доступа к счету и авторизации шлюза. Единственная ошибка,
// останавливающая запуск. Отказ в авторизации не повторяется.
func (b *Bot) verifyAccount(ctx context.Context) error {
	return utils.Retry(ctx, b.StartupRetry, func(ctx context.Context) error {
		acct, err := b.exchange.AccountState(ctx, b.cfg.Account.Address)
		if err != nil {
			logger.Logger.Warn("Account check failed", zap.Error(err))
			return err
		}
		if hc, ok := b.exchange.(api.HealthChecker); ok {
			if err := hc.Health(ctx); err != nil {
				logger.Logger.Warn("Gateway check failed", zap.Error(err))
				if errors.Is(err, api.ErrUnauthorized) {
					return utils.Permanent(err)
				}
				return err
			}
		}
		logger.Logger.Info("Account verified",
			zap.String("address", b.cfg.Account.Address),
			zap.Float64("accountValue", acct.AccountValue),
			zap.Int("positions", len(acct.Positions)))
		return nil
	})
}

// Запуск бота до отмены контекста или фатальной ошибки компонента
func (b *Bot) Run(ctx context.Context) error {
	if err := b.verifyAccount(ctx); err != nil {
		logger.Logger.Error("Startup account check failed", zap.Error(err))
		return fmt.Errorf("startup account check: %w", err)
	}

	b.State.SetRunning(true)
	logger.Logger.Info("Bot started",
		zap.Int("dataTarget", b.Buffer.Progress().Target))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Feed.Run(gctx) })
	g.Go(func() error { return b.Risk.Run(gctx) })
	g.Go(func() error { return b.Reporter.Run(gctx) })

	if addr := b.cfg.Metrics.Addr; addr != "" {
		srv := metrics.Serve(addr)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	b.State.SetRunning(false)
	b.waitTraining()
	b.savePredictor()

	stats := b.State.Stats()
	logger.Logger.Info("Bot stopped",
		zap.Int("totalTrades", stats.TotalTrades),
		zap.Float64("winRate", stats.WinRate()),
		zap.String("totalPnL", stats.TotalPnL.String()),
		zap.Int("openPositions", stats.OpenPositions))
	return err
}

// Анализ после сброса буфера: состояние рынка, затем выход из позиции
// или поиск сигнала на вход
func (b *Bot) onFlush(ctx context.Context, symbol string, gateOpen bool) {
	prices := b.Store.Prices(symbol)

	if cond, ok := indicators.ClassifyMarket(prices, b.cfg.Trading.VolatilityThreshold); ok {
		if prev := b.State.Condition(); prev != cond {
			logger.Logger.Info("Market condition changed",
				zap.String("symbol", symbol),
				zap.Stringer("from", prev),
				zap.Stringer("to", cond))
		}
		b.State.SetCondition(cond)
	}

	b.maybeRetrain()

	if !gateOpen {
		return
	}

	if _, ok := b.State.Position(symbol); ok {
		if _, err := b.Manager.ManageExit(ctx, symbol, prices, b.Generator.Exit(), b.Generator.Params); err != nil &&
			!errors.Is(err, order.ErrCloseInFlight) && !errors.Is(err, order.ErrNoPosition) {
			logger.Logger.Warn("Exit check failed", zap.String("symbol", symbol), zap.Error(err))
		}
		return
	}

	sig, ok := b.Generator.Generate(symbol, prices)
	if !ok {
		return
	}
	metrics.SignalsTotal.WithLabelValues(symbol, sig.Strategy, string(sig.Direction)).Inc()

	if sig.Confidence <= b.cfg.Trading.MinConfidence {
		logger.Logger.Debug("Signal below confidence threshold",
			zap.String("symbol", symbol),
			zap.Float64("confidence", sig.Confidence),
			zap.Float64("min", b.cfg.Trading.MinConfidence))
		return
	}
	if b.vetoed(sig) {
		return
	}

	if _, err := b.Manager.TryEnter(ctx, sig); err != nil {
		if errors.Is(err, state.ErrCooldown) || errors.Is(err, state.ErrCapacity) || errors.Is(err, state.ErrPositionExists) {
			return
		}
		logger.Logger.Warn("Entry failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

// Прогноз предиктора для сигнала. Сигнал блокируется, только если
// уверенный прогноз противоречит направлению.
func (b *Bot) vetoed(sig *strategy.Signal) bool {
	if !b.cfg.Predictor.Enabled {
		return false
	}
	features := model.BuildFeatures(b.Store.Snapshot(sig.Symbol))
	if features == nil {
		return false
	}
	value, confidence := b.Predictor.Predict(features)
	sig.PredictedChange = value

	threshold := b.cfg.Predictor.VetoConfidence
	if threshold <= 0 || confidence < threshold {
		return false
	}
	opposes := (sig.Direction == state.Long && value < 0) || (sig.Direction == state.Short && value > 0)
	if opposes {
		logger.Logger.Info("Signal vetoed by predictor",
			zap.String("symbol", sig.Symbol),
			zap.String("direction", string(sig.Direction)),
			zap.Float64("predicted", value),
			zap.Float64("confidence", confidence))
	}
	return opposes
}

// Переобучение раз в N сбросов или сразу при деградации модели.
// Обучение идет в фоне, не более одного за раз.
func (b *Bot) maybeRetrain() {
	every := b.cfg.Predictor.RetrainEvery
	if !b.cfg.Predictor.Enabled || every <= 0 {
		return
	}
	if b.flushes.Add(1)%int64(every) != 0 && !b.predictorDegraded() {
		return
	}
	trainer, ok := b.Predictor.(model.Trainer)
	if !ok || !b.retraining.CompareAndSwap(false, true) {
		return
	}

	var features [][]float64
	var targets []float64
	for _, symbol := range b.Store.Symbols() {
		f, t := model.TrainingSet(b.Store.Snapshot(symbol), b.cfg.Predictor.Lookahead)
		features = append(features, f...)
		targets = append(targets, t...)
	}

	done := make(chan struct{})
	b.trainDone = done
	go func() {
		defer close(done)
		defer b.retraining.Store(false)
		if err := trainer.Train(features, targets); err != nil {
			logger.Logger.Debug("Predictor retrain skipped", zap.Error(err))
			return
		}
		b.savePredictor()
	}()
}

func (b *Bot) predictorDegraded() bool {
	d, ok := b.Predictor.(model.DegradationReporter)
	return ok && d.Degraded()
}

func (b *Bot) waitTraining() {
	if done := b.trainDone; done != nil && b.retraining.Load() {
		<-done
	}
}

func (b *Bot) savePredictor() {
	persister, ok := b.Predictor.(model.Persister)
	if !ok || b.cfg.Predictor.ModelPath == "" {
		return
	}
	if lp, ok := b.Predictor.(*model.LinearPredictor); ok && !lp.Trained() {
		return
	}
	if err := persister.Save(b.cfg.Predictor.ModelPath); err != nil {
		logger.Logger.Warn("Failed to save predictor", zap.String("path", b.cfg.Predictor.ModelPath), zap.Error(err))
	}
}
