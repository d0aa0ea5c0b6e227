package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hyperliquid-bot/data"
	"hyperliquid-bot/logger"
)

// Источник последних цен для бумажной торговли
type PriceSource interface {
	Latest(symbol string) (data.MarketTick, bool)
}

// Бумажная биржа: ордера исполняются по последней известной цене,
// реальные деньги не задействуются
type Paper struct {
	prices PriceSource
	Now    func() time.Time

	mu        sync.Mutex
	equity    decimal.Decimal
	positions map[string]AccountPosition
	seq       int
}

func NewPaper(prices PriceSource, equity float64) *Paper {
	return &Paper{
		prices:    prices,
		Now:       time.Now,
		equity:    decimal.NewFromFloat(equity),
		positions: make(map[string]AccountPosition),
	}
}

// Состояние счета: начальный капитал плюс реализованный и нереализованный P&L
func (p *Paper) AccountState(_ context.Context, _ string) (AccountState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	value := p.equity
	state := AccountState{}
	for coin, pos := range p.positions {
		if tick, ok := p.prices.Latest(coin); ok {
			pos.UnrealizedPnL = decimal.NewFromFloat(tick.Price).
				Sub(decimal.NewFromFloat(pos.EntryPrice)).
				Mul(decimal.NewFromFloat(pos.Size)).
				InexactFloat64()
		}
		value = value.Add(decimal.NewFromFloat(pos.UnrealizedPnL))
		state.Positions = append(state.Positions, pos)
	}
	state.AccountValue = value.InexactFloat64()
	return state, nil
}

func (p *Paper) MarketOpen(_ context.Context, symbol string, isBuy bool, size float64, limitPrice *float64) (OrderResult, error) {
	price, err := p.fillPrice(symbol, limitPrice)
	if err != nil {
		return OrderResult{Status: "error", Message: err.Error()}, nil
	}

	signed := size
	if !isBuy {
		signed = -size
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.positions[symbol]; ok {
		return OrderResult{Status: "error", Message: "position already open"}, nil
	}
	p.positions[symbol] = AccountPosition{Coin: symbol, Size: signed, EntryPrice: price}

	fill := p.fill(size, price)
	logger.Logger.Info("Paper order filled",
		zap.String("symbol", symbol),
		zap.Bool("isBuy", isBuy),
		zap.Float64("size", size),
		zap.Float64("price", price),
		zap.String("orderId", fill.OrderID))
	return OrderResult{Status: StatusOK, Filled: fill}, nil
}

func (p *Paper) MarketClose(_ context.Context, symbol string, size float64) (OrderResult, error) {
	price, err := p.fillPrice(symbol, nil)
	if err != nil {
		return OrderResult{Status: "error", Message: err.Error()}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return OrderResult{Status: "error", Message: "no open position"}, nil
	}
	delete(p.positions, symbol)

	realized := decimal.NewFromFloat(price).
		Sub(decimal.NewFromFloat(pos.EntryPrice)).
		Mul(decimal.NewFromFloat(pos.Size))
	p.equity = p.equity.Add(realized)

	fill := p.fill(size, price)
	logger.Logger.Info("Paper position closed",
		zap.String("symbol", symbol),
		zap.Float64("price", price),
		zap.String("realized", realized.String()))
	return OrderResult{Status: StatusOK, Filled: fill}, nil
}

func (p *Paper) fillPrice(symbol string, limitPrice *float64) (float64, error) {
	if limitPrice != nil && *limitPrice > 0 {
		return *limitPrice, nil
	}
	tick, ok := p.prices.Latest(symbol)
	if !ok || tick.Price <= 0 {
		return 0, fmt.Errorf("%w for %s", ErrNoPrice, symbol)
	}
	return tick.Price, nil
}

func (p *Paper) fill(size, price float64) *Fill {
	p.seq++
	return &Fill{
		Size:     size,
		AvgPrice: price,
		OrderID:  fmt.Sprintf("PAPER_%d_%d", p.Now().Unix(), p.seq),
	}
}
