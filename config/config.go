// Package config описывает настройки бота, загружаемые из YAML с
// переопределением через переменные окружения (.env поддерживается).
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"hyperliquid-bot/logger"
	"hyperliquid-bot/strategy"
)

var ErrInvalid = errors.New("invalid config")

// Режимы работы с биржей
const (
	ModeLive  = "live"
	ModePaper = "paper"
)

// Переменные окружения, перекрывающие значения из файла
const (
	EnvAccountAddress = "HL_ACCOUNT_ADDRESS"
	EnvGatewayURL     = "HL_GATEWAY_URL"
	EnvGatewayToken   = "HL_GATEWAY_TOKEN"
	EnvExchangeMode   = "HL_EXCHANGE_MODE"
	EnvStrategy       = "HL_STRATEGY"
	EnvLogLevel       = "HL_LOG_LEVEL"
	EnvMetricsAddr    = "HL_METRICS_ADDR"
)

type Account struct {
	Address       string  `yaml:"address"`
	DefaultEquity float64 `yaml:"default_equity"` // Если капитал счета получить не удалось
}

type Exchange struct {
	Mode        string        `yaml:"mode"` // live | paper
	InfoURL     string        `yaml:"info_url"`
	GatewayURL  string        `yaml:"gateway_url"`
	Token       string        `yaml:"token"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryCount  int           `yaml:"retry_count"`
	PaperEquity float64       `yaml:"paper_equity"`
}

// Политика переподключения. MaxAttempts = 0 означает без ограничения.
type Reconnect struct {
	Base        time.Duration `yaml:"base"`
	Max         time.Duration `yaml:"max"`
	MaxExponent int           `yaml:"max_exponent"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type Feed struct {
	URL          string        `yaml:"url"`
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	Reconnect    Reconnect     `yaml:"reconnect"`
}

// Параметры инструмента
type SymbolSpec struct {
	LotSize     float64 `yaml:"lot_size"`
	MinNotional float64 `yaml:"min_notional"` // 0 = без нижней границы, например 5000 для крупных счетов
	MaxNotional float64 `yaml:"max_notional"` // 0 = 10x капитала
}

type Trading struct {
	Strategy             string                `yaml:"strategy"`
	Symbols              []string              `yaml:"symbols"`
	Specs                map[string]SymbolSpec `yaml:"specs"`
	DefaultSpec          SymbolSpec            `yaml:"default_spec"`
	MaxPositions         int                   `yaml:"max_positions"`
	Cooldown             time.Duration         `yaml:"cooldown"`
	PositionSizeFraction float64               `yaml:"position_size_fraction"`
	StopLoss             float64               `yaml:"stop_loss"`
	TakeProfitTarget     float64               `yaml:"take_profit_target"`
	TakeProfitFraction   float64               `yaml:"take_profit_fraction"`
	MinConfidence        float64               `yaml:"min_confidence"`
	HullPeriod           int                   `yaml:"hull_period"`
	VolatilityThreshold  float64               `yaml:"volatility_threshold"`
}

type Buffer struct {
	FlushThreshold  int           `yaml:"flush_threshold"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	TicksPerSymbol  int           `yaml:"ticks_per_symbol"`
	HistoryCapacity int           `yaml:"history_capacity"`
}

type Risk struct {
	Interval time.Duration `yaml:"interval"`
}

type Reporting struct {
	DetailedInterval time.Duration `yaml:"detailed_interval"`
	BriefInterval    time.Duration `yaml:"brief_interval"`
}

// Настройки предиктора. По умолчанию выключен.
type Predictor struct {
	Enabled        bool    `yaml:"enabled"`
	RetrainEvery   int     `yaml:"retrain_every"` // Переобучение раз в N сбросов буфера
	Lookahead      int     `yaml:"lookahead"`
	VetoConfidence float64 `yaml:"veto_confidence"` // 0 = предиктор не блокирует сигналы
	Epochs         int     `yaml:"epochs"`
	LearningRate   float64 `yaml:"learning_rate"`
	ModelPath      string  `yaml:"model_path"`
}

type Metrics struct {
	Addr string `yaml:"addr"` // Пусто = не поднимать /metrics
}

type Profiling struct {
	ServerAddress string `yaml:"server_address"`
	AppName       string `yaml:"app_name"`
}

type Config struct {
	Account   Account       `yaml:"account"`
	Exchange  Exchange      `yaml:"exchange"`
	Feed      Feed          `yaml:"feed"`
	Trading   Trading       `yaml:"trading"`
	Buffer    Buffer        `yaml:"buffer"`
	Risk      Risk          `yaml:"risk"`
	Reporting Reporting     `yaml:"reporting"`
	Predictor Predictor     `yaml:"predictor"`
	Log       logger.Config `yaml:"log"`
	Metrics   Metrics       `yaml:"metrics"`
	Profiling Profiling     `yaml:"profiling"`
}

// Значения по умолчанию
func Default() Config {
	return Config{
		Account: Account{DefaultEquity: 100},
		Exchange: Exchange{
			Mode:        ModeLive,
			InfoURL:     "https://api.hyperliquid.xyz",
			GatewayURL:  "http://127.0.0.1:8081",
			Timeout:     10 * time.Second,
			RetryCount:  2,
			PaperEquity: 1000,
		},
		Feed: Feed{
			URL:          "wss://api.hyperliquid.xyz/ws",
			PingInterval: 20 * time.Second,
			ReadTimeout:  60 * time.Second,
			Reconnect: Reconnect{
				Base:        time.Second,
				Max:         60 * time.Second,
				MaxExponent: 6,
			},
		},
		Trading: Trading{
			Strategy: "hull_ma",
			Symbols:  []string{"BTC", "ETH", "SOL"},
			Specs: map[string]SymbolSpec{
				"BTC": {LotSize: 0.0001},
				"ETH": {LotSize: 0.001},
				"SOL": {LotSize: 0.01},
			},
			DefaultSpec:          SymbolSpec{LotSize: 0.01},
			MaxPositions:         2,
			Cooldown:             15 * time.Second,
			PositionSizeFraction: 1.0,
			StopLoss:             0.02,
			TakeProfitTarget:     20,
			TakeProfitFraction:   0.05,
			MinConfidence:        0.6,
			HullPeriod:           7,
			VolatilityThreshold:  0.02,
		},
		Buffer: Buffer{
			FlushThreshold:  5,
			FlushInterval:   5 * time.Second,
			TicksPerSymbol:  50,
			HistoryCapacity: 200,
		},
		Risk: Risk{Interval: time.Second},
		Reporting: Reporting{
			DetailedInterval: 5 * time.Minute,
			BriefInterval:    2 * time.Minute,
		},
		Predictor: Predictor{
			RetrainEvery: 100,
			Lookahead:    3,
			Epochs:       200,
			LearningRate: 0.02,
		},
		Log: logger.Config{
			Level:      "info",
			File:       "logs/bot.log",
			EventsFile: "logs/orders.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
			Console:    true,
		},
		Profiling: Profiling{AppName: "hyperliquid-bot"},
	}
}

// Функция для загрузки конфигурации. Пустой путь означает значения по
// умолчанию; поля, отсутствующие в файле, тоже берутся из Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("decode yaml: %w", err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// Загрузка .env файлов в окружение процесса. Отсутствующие файлы пропускаются.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Переопределение значений из переменных окружения
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAccountAddress); v != "" {
		c.Account.Address = v
	}
	if v := os.Getenv(EnvGatewayURL); v != "" {
		c.Exchange.GatewayURL = v
	}
	if v := os.Getenv(EnvGatewayToken); v != "" {
		c.Exchange.Token = v
	}
	if v := os.Getenv(EnvExchangeMode); v != "" {
		c.Exchange.Mode = strings.ToLower(v)
	}
	if v := os.Getenv(EnvStrategy); v != "" {
		c.Trading.Strategy = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.Metrics.Addr = v
	}
}

func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(len(c.Trading.Symbols) > 0, "trading.symbols is empty")
	check(c.Trading.MaxPositions >= 1, "trading.max_positions must be >= 1")
	check(c.Trading.PositionSizeFraction > 0, "trading.position_size_fraction must be > 0")
	check(c.Trading.StopLoss > 0 && c.Trading.StopLoss < 1, "trading.stop_loss must be in (0, 1)")
	check(c.Trading.TakeProfitTarget >= 0, "trading.take_profit_target must be >= 0")
	check(c.Trading.TakeProfitFraction >= 0, "trading.take_profit_fraction must be >= 0")
	check(c.Trading.MinConfidence >= 0 && c.Trading.MinConfidence < 1, "trading.min_confidence must be in [0, 1)")
	check(c.Trading.Cooldown >= 0, "trading.cooldown must be >= 0")
	check(c.Buffer.FlushThreshold >= 1, "buffer.flush_threshold must be >= 1")
	check(c.Buffer.FlushInterval > 0, "buffer.flush_interval must be > 0")
	check(c.Buffer.TicksPerSymbol >= 1, "buffer.ticks_per_symbol must be >= 1")
	check(c.Risk.Interval > 0, "risk.interval must be > 0")
	check(c.Feed.URL != "", "feed.url is empty")
	check(c.Feed.Reconnect.Base > 0, "feed.reconnect.base must be > 0")

	seen := make(map[string]bool, len(c.Trading.Symbols))
	for _, s := range c.Trading.Symbols {
		check(s != "", "trading.symbols contains an empty symbol")
		check(!seen[s], fmt.Sprintf("trading.symbols contains %s twice", s))
		seen[s] = true
	}
	if _, err := strategy.ParseKind(c.Trading.Strategy); err != nil {
		problems = append(problems, err.Error())
	}

	switch c.Exchange.Mode {
	case ModeLive:
		check(c.Account.Address != "", "account.address is required in live mode")
		check(c.Exchange.GatewayURL != "", "exchange.gateway_url is required in live mode")
		check(c.Exchange.InfoURL != "", "exchange.info_url is required in live mode")
	case ModePaper:
		check(c.Exchange.PaperEquity > 0, "exchange.paper_equity must be > 0")
	default:
		problems = append(problems, fmt.Sprintf("unknown exchange.mode %q", c.Exchange.Mode))
	}

	if c.Predictor.Enabled {
		check(c.Predictor.Lookahead >= 1, "predictor.lookahead must be >= 1")
		check(c.Predictor.VetoConfidence >= 0 && c.Predictor.VetoConfidence <= 1, "predictor.veto_confidence must be in [0, 1]")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Параметры инструмента с учетом значения по умолчанию
func (c Config) Spec(symbol string) SymbolSpec {
	if s, ok := c.Trading.Specs[symbol]; ok {
		return s
	}
	return c.Trading.DefaultSpec
}

// Копия без секретов, для вывода оператору
func (c Config) Redacted() Config {
	if c.Exchange.Token != "" {
		c.Exchange.Token = "***"
	}
	return c
}

// Запись конфигурации в YAML
func (c Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
