package api

import (
	"context"
	"errors"
)

// Статус успешного ответа биржи
const StatusOK = "ok"

var (
	ErrNoPrice      = errors.New("no price available")
	ErrUnauthorized = errors.New("unauthorized access to exchange gateway")
)

// Интерфейс биржи: состояние счета и рыночные ордера
type Exchange interface {
	AccountState(ctx context.Context, address string) (AccountState, error)
	MarketOpen(ctx context.Context, symbol string, isBuy bool, size float64, limitPrice *float64) (OrderResult, error)
	MarketClose(ctx context.Context, symbol string, size float64) (OrderResult, error)
}

// Проверка доступности и авторизации шлюза ордеров
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Состояние счета
type AccountState struct {
	AccountValue float64
	Positions    []AccountPosition
}

// Позиция на бирже
type AccountPosition struct {
	Coin          string
	Size          float64 // Со знаком: отрицательный размер для шорта
	EntryPrice    float64
	UnrealizedPnL float64
}

// Исполнение ордера
type Fill struct {
	Size     float64
	AvgPrice float64
	OrderID  string
}

// Ответ биржи на ордер
type OrderResult struct {
	Status  string
	Filled  *Fill
	Message string
}

// Ордер считается успешным только при статусе "ok"
func (r OrderResult) OK() bool { return r.Status == StatusOK }
