// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/bartab/internal/model"
)

const maxBarIDLen = 50

// IsValidBarID проверяет идентификатор бара: непустой, не длиннее 50 символов,
// только строчные латинские буквы, цифры, дефис и подчёркивание.
func IsValidBarID(id string) bool {
	if id == "" || len(id) > maxBarIDLen {
		return false
	}

	for _, ch := range id {
		switch {
		case ch >= 'a' && ch <= 'z':
		case unicode.IsDigit(ch):
		case ch == '-' || ch == '_':
		default:
			return false
		}
	}

	return true
}

// PositiveAmount проверяет, что сумма строго положительна.
func PositiveAmount(name string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return fmt.Errorf("%w: %s must be positive, got %s", model.ErrValidation, name, v.String())
	}
	return nil
}

// TransactionType разбирает тип транзакции, доступный для создания извне.
func TransactionType(s string) (model.TransactionType, error) {
	t := model.TransactionType(s)
	if !t.Valid() || t == model.TransactionCancel {
		return "", fmt.Errorf("%w: unknown transaction type %q", model.ErrValidation, s)
	}
	return t, nil
}
