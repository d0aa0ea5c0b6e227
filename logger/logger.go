package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Логгер сервиса. До вызова InitLogger ничего не пишет, поэтому пакеты и тесты
// могут пользоваться им без инициализации.
var Logger = zap.NewNop()

// Отдельный поток событий по ордерам и позициям (открытие, закрытие, отказы)
var Events = zerolog.Nop()

// Настройки логирования
type Config struct {
	Level      string `yaml:"level"`       // debug | info | warn | error
	File       string `yaml:"file"`        // Файл основного лога
	EventsFile string `yaml:"events_file"` // Файл потока событий по ордерам
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Console    bool   `yaml:"console"` // Дублировать вывод в stdout
}

// Функция для инициализации логгеров
func InitLogger(cfg Config) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var sinks []zapcore.WriteSyncer
	if cfg.Console || cfg.File == "" {
		sinks = append(sinks, zapcore.AddSync(os.Stdout))
	}
	if cfg.File != "" {
		sinks = append(sinks, zapcore.AddSync(rotating(cfg, cfg.File)))
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.NewMultiWriteSyncer(sinks...), level)
	Logger = zap.New(core, zap.AddCaller())

	// Поток событий пишем в формате zerolog: JSON в файл, читаемый вид в консоль
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	if cfg.EventsFile != "" {
		writers = append(writers, rotating(cfg, cfg.EventsFile))
	}
	if len(writers) == 0 {
		Events = zerolog.Nop()
		return nil
	}

	eventsLevel, err := zerolog.ParseLevel(level.String())
	if err != nil {
		eventsLevel = zerolog.InfoLevel
	}
	Events = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(eventsLevel).
		With().
		Timestamp().
		Str("stream", "orders").
		Logger()

	return nil
}

// Ротация файлов логов
func rotating(cfg Config, filename string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

func SyncLogger() {
	_ = Logger.Sync()
}
