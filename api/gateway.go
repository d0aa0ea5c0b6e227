package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"hyperliquid-bot/logger"
)

// Настройки подключения к бирже
type GatewayConfig struct {
	InfoURL    string        // Публичный info эндпоинт биржи
	GatewayURL string        // Шлюз подписи ордеров, запускается оператором
	Token      string        // Bearer токен шлюза
	Timeout    time.Duration //
	RetryCount int
}

// Клиент биржи. Состояние счета читается из публичного info API,
// ордера отправляются через шлюз, который владеет ключами кошелька.
type Gateway struct {
	info    *resty.Client
	gateway *resty.Client
}

// Функция для создания клиента биржи
func NewGateway(ctx context.Context, cfg GatewayConfig) *Gateway {
	httpClient := http.DefaultClient
	if cfg.Token != "" {
		token := &oauth2.Token{
			AccessToken: cfg.Token,
			TokenType:   "Bearer",
		}
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	}

	return &Gateway{
		info:    newRestClient(&http.Client{}, cfg.InfoURL, cfg),
		gateway: newRestClient(httpClient, cfg.GatewayURL, cfg),
	}
}

func newRestClient(hc *http.Client, baseURL string, cfg GatewayConfig) *resty.Client {
	client := resty.NewWithClient(hc).
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetRetryCount(cfg.RetryCount)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return client
}

// Ответ clearinghouseState. Числа приходят строками.
type clearinghouseState struct {
	MarginSummary struct {
		AccountValue string `json:"accountValue"`
	} `json:"marginSummary"`
	AssetPositions []struct {
		Position struct {
			Coin          string `json:"coin"`
			Szi           string `json:"szi"`
			EntryPx       string `json:"entryPx"`
			UnrealizedPnl string `json:"unrealizedPnl"`
		} `json:"position"`
	} `json:"assetPositions"`
}

// Функция для получения состояния счета
func (g *Gateway) AccountState(ctx context.Context, address string) (AccountState, error) {
	var raw clearinghouseState
	resp, err := g.info.R().
		SetContext(ctx).
		SetBody(map[string]string{"type": "clearinghouseState", "user": address}).
		SetResult(&raw).
		Post("/info")
	if err != nil {
		return AccountState{}, fmt.Errorf("error requesting account state: %w", err)
	}
	if err := statusError(resp); err != nil {
		return AccountState{}, err
	}

	value, err := parseNumber(raw.MarginSummary.AccountValue)
	if err != nil {
		return AccountState{}, fmt.Errorf("error parsing account value: %w", err)
	}

	state := AccountState{AccountValue: value}
	for _, ap := range raw.AssetPositions {
		size, _ := parseNumber(ap.Position.Szi)
		entry, _ := parseNumber(ap.Position.EntryPx)
		pnl, _ := parseNumber(ap.Position.UnrealizedPnl)
		state.Positions = append(state.Positions, AccountPosition{
			Coin:          ap.Position.Coin,
			Size:          size,
			EntryPrice:    entry,
			UnrealizedPnL: pnl,
		})
	}

	logger.Logger.Debug("Account state received",
		zap.String("address", address),
		zap.Float64("accountValue", value),
		zap.Int("positions", len(state.Positions)))
	return state, nil
}

// Функция для проверки шлюза ордеров с токеном авторизации
func (g *Gateway) Health(ctx context.Context) error {
	resp, err := g.gateway.R().
		SetContext(ctx).
		Get("/health")
	if err != nil {
		return fmt.Errorf("error reaching exchange gateway: %w", err)
	}
	return statusError(resp)
}

// Запрос ордера к шлюзу
type orderRequest struct {
	Coin       string   `json:"coin"`
	IsBuy      *bool    `json:"is_buy,omitempty"`
	Size       float64  `json:"sz"`
	LimitPrice *float64 `json:"limit_px,omitempty"`
}

// Ответ шлюза повторяет формат биржи
type orderResponse struct {
	Status   string `json:"status"`
	Response struct {
		Data struct {
			Statuses []struct {
				Filled *struct {
					TotalSz string `json:"totalSz"`
					AvgPx   string `json:"avgPx"`
					Oid     any    `json:"oid"`
				} `json:"filled"`
				Error string `json:"error"`
			} `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

func (g *Gateway) MarketOpen(ctx context.Context, symbol string, isBuy bool, size float64, limitPrice *float64) (OrderResult, error) {
	return g.submit(ctx, "/exchange/market_open", orderRequest{
		Coin:       symbol,
		IsBuy:      &isBuy,
		Size:       size,
		LimitPrice: limitPrice,
	})
}

func (g *Gateway) MarketClose(ctx context.Context, symbol string, size float64) (OrderResult, error) {
	return g.submit(ctx, "/exchange/market_close", orderRequest{Coin: symbol, Size: size})
}

func (g *Gateway) submit(ctx context.Context, path string, req orderRequest) (OrderResult, error) {
	var raw orderResponse
	resp, err := g.gateway.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&raw).
		Post(path)
	if err != nil {
		return OrderResult{}, fmt.Errorf("error submitting order to %s: %w", path, err)
	}
	if err := statusError(resp); err != nil {
		return OrderResult{}, err
	}

	result := OrderResult{Status: raw.Status}
	if len(raw.Response.Data.Statuses) > 0 {
		st := raw.Response.Data.Statuses[0]
		if st.Error != "" {
			// Биржа приняла запрос, но отклонила ордер
			result.Status = "rejected"
			result.Message = st.Error
		}
		if st.Filled != nil {
			sz, _ := parseNumber(st.Filled.TotalSz)
			px, _ := parseNumber(st.Filled.AvgPx)
			result.Filled = &Fill{Size: sz, AvgPrice: px, OrderID: fmt.Sprint(st.Filled.Oid)}
		}
	}
	return result, nil
}

// Обработка ошибок на основе кода статуса
func statusError(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	switch resp.StatusCode() {
	case http.StatusTooManyRequests:
		return fmt.Errorf("too many requests to exchange, try again later")
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w (status %d), check the token", ErrUnauthorized, resp.StatusCode())
	default:
		return fmt.Errorf("exchange request failed with status code %d: %s", resp.StatusCode(), resp.String())
	}
}

func parseNumber(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
