package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeRegistersMetrics(t *testing.T) {
	srv := Serve("127.0.0.1:0")
	defer srv.Close()

	TicksTotal.WithLabelValues("BTC").Inc()
	OrdersTotal.WithLabelValues("BTC", "open", "ok").Inc()
	OpenPositions.Set(1)

	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["hlbot_ticks_total"])
	assert.True(t, names["hlbot_orders_total"])
	assert.True(t, names["hlbot_open_positions"])
}
