// Package validation содержит функции валидации входных данных.
package validation

import (
	"github.com/shopspring/decimal"
)

const maxTransactionIDLength = 40

// IsValidAmount проверяет, что строка задаёт положительную сумму не более чем с двумя знаками после запятой.
func IsValidAmount(amount string) bool {
	if amount == "" {
		return false
	}

	for _, ch := range amount {
		if (ch < '0' || ch > '9') && ch != '.' {
			return false
		}
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return false
	}

	return d.IsPositive() && d.Exponent() >= -2
}

// IsValidCurrency проверяет код валюты ISO 4217 из трёх заглавных латинских букв.
func IsValidCurrency(currency string) bool {
	if len(currency) != 3 {
		return false
	}
	for i := 0; i < len(currency); i++ {
		if currency[i] < 'A' || currency[i] > 'Z' {
			return false
		}
	}
	return true
}

// IsValidTransactionID проверяет идентификатор транзакции: 1..40 символов из [A-Za-z0-9_-].
func IsValidTransactionID(id string) bool {
	if id == "" || len(id) > maxTransactionIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		ch := id[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
		default:
			return false
		}
	}
	return true
}
