package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ValidateTransfer checks the request before any transaction is opened.
func ValidateTransfer(req TransferRequest) error {
	if req.From == "" {
		return NewValidationError("fromAccountId", "fromAccountId and toAccountId are required")
	}
	if req.To == "" {
		return NewValidationError("toAccountId", "fromAccountId and toAccountId are required")
	}
	if req.From == req.To {
		return NewValidationError("toAccountId", "fromAccountId and toAccountId must differ")
	}
	return ValidateAmount(req.Amount)
}

// Amount bounds. Values outside them cannot be compared or formatted without
// expanding an attacker-chosen exponent.
const (
	MaxScale         = 18
	MaxIntegerDigits = 20
)

// ValidateAmount rejects non-positive amounts and amounts outside the supported
// range. It only inspects sign, exponent and coefficient length, never rescaling.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return NewValidationError("amount", "amount must be > 0")
	}
	if amount.Exponent() < -MaxScale {
		return NewValidationError("amount", fmt.Sprintf("amount must have at most %d decimal places", MaxScale))
	}
	if int64(amount.NumDigits())+int64(amount.Exponent()) > MaxIntegerDigits {
		return NewValidationError("amount", "amount is too large")
	}
	return nil
}

// LockOrder returns the account ids in the order their locks must be taken.
// Every transaction locks in the same lexicographic order so two transfers in
// opposite directions cannot deadlock each other.
func LockOrder(ids ...string) []string {
	ordered := make([]string, len(ids))
	copy(ordered, ids)
	sort.Strings(ordered)
	return ordered
}
