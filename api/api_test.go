package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperliquid-bot/data"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGateway(context.Background(), GatewayConfig{
		InfoURL:    srv.URL,
		GatewayURL: srv.URL,
		Token:      "secret",
		Timeout:    2 * time.Second,
	})
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func TestGatewayAccountState(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "info API is public")
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "clearinghouseState", body["type"])
		assert.Equal(t, "0xabc", body["user"])

		writeJSON(w, `{"marginSummary":{"accountValue":"1234.5"},
			"assetPositions":[{"position":{"coin":"ETH","szi":"-0.5","entryPx":"2000","unrealizedPnl":"12.5"}}]}`)
	})

	st, err := g.AccountState(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 1234.5, st.AccountValue)
	require.Len(t, st.Positions, 1)
	assert.Equal(t, AccountPosition{Coin: "ETH", Size: -0.5, EntryPrice: 2000, UnrealizedPnL: 12.5}, st.Positions[0])
}

func TestGatewayMarketOpen(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exchange/market_open", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "BTC", req["coin"])
		assert.Equal(t, true, req["is_buy"])
		assert.NotContains(t, req, "limit_px")

		writeJSON(w, `{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"totalSz":"0.01","avgPx":"65000.5","oid":77}}]}}}`)
	})

	res, err := g.MarketOpen(context.Background(), "BTC", true, 0.01, nil)
	require.NoError(t, err)
	assert.True(t, res.OK())
	require.NotNil(t, res.Filled)
	assert.Equal(t, 65000.5, res.Filled.AvgPrice)
	assert.Equal(t, "77", res.Filled.OrderID)
}

func TestGatewayRejectedOrder(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"status":"ok","response":{"data":{"statuses":[{"error":"Insufficient margin"}]}}}`)
	})

	res, err := g.MarketClose(context.Background(), "SOL", 1)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, "Insufficient margin", res.Message)
}

func TestGatewayHTTPError(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := g.AccountState(context.Background(), "0xabc")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = g.MarketOpen(context.Background(), "BTC", false, 1, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestGatewayHealth(t *testing.T) {
	status := http.StatusOK
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(status)
	})
	require.NoError(t, g.Health(context.Background()))

	status = http.StatusForbidden
	assert.ErrorIs(t, g.Health(context.Background()), ErrUnauthorized)

	status = http.StatusBadGateway
	err := g.Health(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestPaperRoundTrip(t *testing.T) {
	store := data.NewStore([]string{"BTC"}, 10)
	require.NoError(t, store.Append("BTC", data.NewMarketTick("BTC", 100, time.Unix(0, 0), nil)))
	p := NewPaper(store, 1000)

	res, err := p.MarketOpen(context.Background(), "BTC", false, 2, nil)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, 100.0, res.Filled.AvgPrice)

	again, _ := p.MarketOpen(context.Background(), "BTC", true, 1, nil)
	assert.False(t, again.OK())

	require.NoError(t, store.Append("BTC", data.NewMarketTick("BTC", 90, time.Unix(1, 0), nil)))
	st, err := p.AccountState(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1020.0, st.AccountValue)

	res, err = p.MarketClose(context.Background(), "BTC", 2)
	require.NoError(t, err)
	require.True(t, res.OK())

	st, _ = p.AccountState(context.Background(), "")
	assert.Equal(t, 1020.0, st.AccountValue)
	assert.Empty(t, st.Positions)

	missing, _ := p.MarketClose(context.Background(), "BTC", 2)
	assert.False(t, missing.OK())
}

func TestPaperNoPrice(t *testing.T) {
	p := NewPaper(data.NewStore([]string{"ETH"}, 10), 100)
	res, err := p.MarketOpen(context.Background(), "ETH", true, 1, nil)
	require.NoError(t, err)
	assert.False(t, res.OK())

	limit := 50.0
	res, _ = p.MarketOpen(context.Background(), "ETH", true, 1, &limit)
	assert.True(t, res.OK())
	assert.Equal(t, 50.0, res.Filled.AvgPrice)
}
