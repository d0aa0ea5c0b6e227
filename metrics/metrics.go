package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"hyperliquid-bot/logger"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hlbot_ticks_total", Help: "Market ticks ingested from the stream"},
		[]string{"symbol"},
	)
	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hlbot_flushes_total", Help: "Buffer flushes into symbol history"},
		[]string{"symbol"},
	)
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hlbot_reconnects_total", Help: "Stream reconnection attempts"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hlbot_signals_total", Help: "Trading signals generated"},
		[]string{"symbol", "strategy", "direction"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hlbot_orders_total", Help: "Orders submitted to the exchange"},
		[]string{"symbol", "kind", "result"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "hlbot_open_positions", Help: "Currently open positions"},
	)
	RealizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "hlbot_realized_pnl", Help: "Aggregate realized P&L"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, FlushesTotal, ReconnectsTotal, SignalsTotal, OrdersTotal, OpenPositions, RealizedPnL)
}

// Запуск HTTP сервера с эндпоинтом /metrics
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Error("Metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	return srv
}
