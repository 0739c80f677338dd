// Package core provides the fleet domain model: money, expense categories,
// trucks, drivers, trips, expenses and incomes, plus the error taxonomy shared
// by every layer above it.
//
// This file contains the Money type. Amounts are held as integer cents so that
// sums feeding profit calculations never drift.
package core

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a monetary amount in cents.
type Money struct {
	Cents int64
}

// MaxAmountCents is the largest single amount accepted, one trillion.
const MaxAmountCents int64 = 100_000_000_000_000

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrAmountTooLarge = errors.New("amount is too large")
	ErrAmountOverflow = errors.New("amount total overflows")
)

// Cents builds a Money value from a cent count.
func Cents(c int64) Money {
	return Money{Cents: c}
}

// Add returns m + o. Totals that may grow without bound use CheckedAdd.
func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

// CheckedAdd returns m + o, or ErrAmountOverflow when the sum does not fit.
func (m Money) CheckedAdd(o Money) (Money, error) {
	if (o.Cents > 0 && m.Cents > math.MaxInt64-o.Cents) ||
		(o.Cents < 0 && m.Cents < math.MinInt64-o.Cents) {
		return m, ErrAmountOverflow
	}
	return Money{Cents: m.Cents + o.Cents}, nil
}

// Sub returns m - o. The result may be negative.
func (m Money) Sub(o Money) Money {
	return Money{Cents: m.Cents - o.Cents}
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.Cents == 0
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.Cents < 0
}

// Validate checks that the amount can be stored as an expense, income or
// trip financial value.
func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrNegativeAmount
	}
	if m.Cents > MaxAmountCents {
		return ErrAmountTooLarge
	}
	return nil
}

// Decimal returns the amount as a decimal with two fractional digits.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String renders the amount with a dot separator and exactly two decimals.
// Locale formatting belongs to the presentation layer.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MarshalJSON encodes money as a decimal string ("1234.50") so clients never
// round-trip through binary floating point.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return ErrInvalidAmount
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ErrInvalidAmount
		}
		raw = s
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMoney converts a user supplied amount to cents.
//
// Both dot (12.34) and comma (12,34) decimal separators are accepted. When
// both appear, the last one is the decimal separator and the other one groups
// thousands, so "1.234,56" and "1,234.56" both parse to 123456 cents. Values
// with more than two decimals are rounded half-up. Negative values are
// rejected.
//
// Examples:
//
//	ParseMoney("12.34")    -> 1234
//	ParseMoney("12,345")   -> 1235
//	ParseMoney("1.234,56") -> 123456
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "-") {
		return Money{}, ErrNegativeAmount
	}
	s = strings.TrimPrefix(s, "+")
	s = normalizeSeparators(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal rounds d half-up to cents.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if d.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	cents := d.Round(2).Shift(2)
	if !cents.IsInteger() {
		return Money{}, ErrInvalidAmount
	}
	if cents.GreaterThan(decimal.New(MaxAmountCents, 0)) {
		return Money{}, ErrAmountTooLarge
	}
	return Money{Cents: cents.IntPart()}, nil
}

func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

// Sum adds every amount in the slice and fails instead of wrapping around.
func Sum(amounts ...Money) (Money, error) {
	var total Money
	for _, a := range amounts {
		next, err := total.CheckedAdd(a)
		if err != nil {
			return Money{}, err
		}
		total = next
	}
	return total, nil
}
