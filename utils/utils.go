package utils

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// Политика повторов с экспоненциальной задержкой:
// delay = min(Max, Base * 2^min(attempt, MaxExponent)).
// MaxAttempts = 0 означает бесконечные повторы.
type RetryPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxExponent int
	MaxAttempts int
}

// Функция для расчета задержки перед повтором номер attempt (с нуля)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	exp := attempt
	if p.MaxExponent > 0 && exp > p.MaxExponent {
		exp = p.MaxExponent
	}
	wait := time.Duration(float64(p.Base) * math.Pow(2, float64(exp)))
	if p.Max > 0 && (wait > p.Max || wait < 0) {
		return p.Max
	}
	return wait
}

// Проверка, исчерпан ли лимит попыток
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Ошибка, после которой Retry не повторяет попытку
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Функция для выполнения fn с повторами по политике.
// Прерывается при отмене контекста или ошибке Permanent.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return lastErr
		}
		if p.Exhausted(attempt + 1) {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt+1, lastErr)
		}
		if err := Sleep(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}
}

// Пауза с учетом отмены контекста
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// --- Точная арифметика для размеров и P&L ---

// Функция для округления размера вниз до шага лота
func FloorToLot(size, lot float64) float64 {
	if lot <= 0 || size <= 0 {
		return 0
	}
	d := decimal.NewFromFloat(size)
	step := decimal.NewFromFloat(lot)
	return d.Div(step).Floor().Mul(step).InexactFloat64()
}

// Функция для округления размера вверх до шага лота.
// Частное округляется до 8 знаков, чтобы шум float не добавлял лишний лот.
func CeilToLot(size, lot float64) float64 {
	if lot <= 0 || size <= 0 {
		return 0
	}
	d := decimal.NewFromFloat(size)
	step := decimal.NewFromFloat(lot)
	return d.Div(step).Round(8).Ceil().Mul(step).InexactFloat64()
}

// Функция для расчета нереализованного P&L:
// (current-entry)*size для лонга, (entry-current)*size для шорта
func PnL(long bool, entry, current, size float64) float64 {
	diff := decimal.NewFromFloat(current).Sub(decimal.NewFromFloat(entry))
	if !long {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromFloat(size)).InexactFloat64()
}

// Функция для расчета P&L в долях от номинала позиции, 0 при нулевом номинале
func PnLFraction(pnl, entry, size float64) float64 {
	notional := decimal.NewFromFloat(entry).Mul(decimal.NewFromFloat(size))
	if notional.IsZero() {
		return 0
	}
	return decimal.NewFromFloat(pnl).Div(notional).InexactFloat64()
}

// Номинал позиции (цена * размер)
func Notional(size, price float64) float64 {
	return decimal.NewFromFloat(size).Mul(decimal.NewFromFloat(price)).InexactFloat64()
}
