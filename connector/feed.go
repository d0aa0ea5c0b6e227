// Package connector поддерживает подписку на поток mid-цен биржи и
// превращает входящие сообщения в тики для буфера.
package connector

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hyperliquid-bot/data"
	"hyperliquid-bot/logger"
	"hyperliquid-bot/metrics"
	"hyperliquid-bot/utils"
)

const (
	channelAllMids   = "allMids"
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	readLimit        = 1 << 20
)

// Получатель тиков (буфер данных)
type Sink interface {
	Add(ctx context.Context, tick data.MarketTick) bool
}

type FeedConfig struct {
	URL          string
	PingInterval time.Duration
	ReadTimeout  time.Duration
	Retry        utils.RetryPolicy
}

// Подключение к потоку mid-цен с автоматическим переподключением
type Feed struct {
	cfg   FeedConfig
	store *data.Store
	sink  Sink

	// Источник времени и пауза между переподключениями, подменяются в тестах
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	connected atomic.Bool
}

func NewFeed(cfg FeedConfig, store *data.Store, sink Sink) *Feed {
	return &Feed{cfg: cfg, store: store, sink: sink, Now: time.Now, Sleep: utils.Sleep}
}

func (f *Feed) Connected() bool { return f.connected.Load() }

type subscription struct {
	Type string `json:"type"`
}

type subscribeRequest struct {
	Method       string       `json:"method"`
	Subscription subscription `json:"subscription"`
}

type midsMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Mids map[string]string `json:"mids"`
	} `json:"data"`
}

// Функция для разбора сообщения allMids.
// Возвращает false для служебных, чужих и битых сообщений.
// Цены, которые не удалось разобрать, пропускаются.
func ParseMids(msg []byte) (map[string]float64, bool) {
	var env midsMessage
	if err := sonic.Unmarshal(msg, &env); err != nil {
		return nil, false
	}
	if env.Channel != channelAllMids || len(env.Data.Mids) == 0 {
		return nil, false
	}

	mids := make(map[string]float64, len(env.Data.Mids))
	for coin, raw := range env.Data.Mids {
		// Спотовые пары приходят как "@107", а некоторые с суффиксом после @
		symbol, _, _ := strings.Cut(coin, "@")
		if symbol == "" {
			continue
		}
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil || !(price > 0) || math.IsInf(price, 1) {
			continue
		}
		mids[symbol] = price
	}
	return mids, len(mids) > 0
}

// Основной цикл. Возвращает nil при отмене контекста и ошибку только
// если исчерпан лимит переподключений.
func (f *Feed) Run(ctx context.Context) error {
	attempt := 0
	for {
		err := f.session(ctx, func() { attempt = 0 })
		f.connected.Store(false)
		if ctx.Err() != nil {
			logger.Logger.Info("Market feed stopped")
			return nil
		}

		attempt++
		metrics.ReconnectsTotal.Inc()
		if f.cfg.Retry.Exhausted(attempt) {
			logger.Logger.Error("Market feed giving up", zap.Int("attempts", attempt), zap.Error(err))
			return fmt.Errorf("%w: market feed after %d attempts: %w", utils.ErrRetriesExhausted, attempt, err)
		}

		wait := f.cfg.Retry.Delay(attempt - 1)
		if attempt <= 3 || attempt%10 == 0 {
			logger.Logger.Warn("Market feed disconnected, reconnecting",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		} else {
			logger.Logger.Debug("Market feed reconnecting", zap.Int("attempt", attempt), zap.Error(err))
		}
		if err := f.Sleep(ctx, wait); err != nil {
			logger.Logger.Info("Market feed stopped")
			return nil
		}
	}
}

// Одна сессия: подключение, подписка, чтение до ошибки
func (f *Feed) session(ctx context.Context, onConnect func()) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.cfg.URL, err)
	}
	defer conn.Close()
	// ReadMessage не знает о контексте, закрываем соединение при отмене
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req, err := sonic.Marshal(subscribeRequest{Method: "subscribe", Subscription: subscription{Type: channelAllMids}})
	if err != nil {
		return fmt.Errorf("encode subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	onConnect()
	f.connected.Store(true)
	logger.Logger.Info("Market feed connected",
		zap.String("url", f.cfg.URL),
		zap.Strings("symbols", f.store.Symbols()))

	conn.SetReadLimit(readLimit)
	f.extendDeadline(conn)
	conn.SetPongHandler(func(string) error {
		f.extendDeadline(conn)
		return nil
	})

	if f.cfg.PingInterval > 0 {
		pingCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go f.ping(pingCtx, conn)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.extendDeadline(conn)
		f.handle(ctx, msg)
	}
}

func (f *Feed) extendDeadline(conn *websocket.Conn) {
	if f.cfg.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	}
}

func (f *Feed) ping(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				logger.Logger.Debug("Market feed ping failed", zap.Error(err))
				return
			}
		}
	}
}

// Обработка одного сообщения. Возвращает количество переданных тиков.
func (f *Feed) handle(ctx context.Context, msg []byte) int {
	mids, ok := ParseMids(msg)
	if !ok {
		return 0
	}

	now := f.Now()
	forwarded := 0
	for _, symbol := range f.store.Symbols() {
		price, ok := mids[symbol]
		if !ok {
			continue
		}
		tick := data.NewMarketTick(symbol, price, now, f.store.Prices(symbol))
		f.sink.Add(ctx, tick)
		forwarded++
	}
	return forwarded
}
