// Package repository содержит хранилища счетов и журнала транзакций: PostgreSQL и in-memory.
package repository

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrBarExists возвращается при попытке создать бар с уже существующим идентификатором.
	ErrBarExists = errors.New("bar already exists")
	// ErrBarNotFound возвращается, если бар не найден.
	ErrBarNotFound = errors.New("bar not found")
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountNotFound возвращается, если счёт не найден.
	ErrAccountNotFound = errors.New("account not found")
	// ErrItemNotFound возвращается, если товар не найден или принадлежит другому бару.
	ErrItemNotFound = errors.New("item not found")
	// ErrTransactionNotFound возвращается, если транзакция не найдена.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// dayOf отбрасывает время суток, оставляя календарную дату в UTC.
func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// nextOverdrawnSince вычисляет дату начала овердрафта после изменения баланса.
func nextOverdrawnSince(current *time.Time, balance decimal.Decimal, at time.Time) *time.Time {
	if !balance.IsNegative() {
		return nil
	}
	if current != nil {
		return current
	}
	day := dayOf(at)
	return &day
}
