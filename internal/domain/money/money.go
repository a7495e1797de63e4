// Package money provides an immutable amount-with-currency value type.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/teamcart/internal/domain/domainerr"
)

// Currency is an ISO 4217 currency code.
type Currency string

// USD is the default settlement currency.
const USD Currency = "USD"

// Precision is the number of decimal places amounts are settled in.
const Precision = 2

var (
	// ErrCurrencyMismatch is returned when two amounts of different currencies meet.
	ErrCurrencyMismatch = domainerr.New(domainerr.KindValidation, "currency_mismatch", "currency mismatch")
	// ErrNegativeAmount is returned when a non-negative amount is required.
	ErrNegativeAmount = domainerr.New(domainerr.KindValidation, "negative_amount", "amount must not be negative")
)

// Money is an amount in a currency. The zero value is not a valid amount; use
// New or Zero.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// New returns amount in currency c.
func New(amount decimal.Decimal, c Currency) Money {
	return Money{Amount: amount, Currency: c}
}

// Zero returns a zero amount in currency c.
func Zero(c Currency) Money {
	return Money{Amount: decimal.Zero, Currency: c}
}

// Parse parses a decimal string such as "10.67".
func Parse(s string, c Currency) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return New(d, c), nil
}

// MustParse is like Parse but panics on malformed input. Intended for
// constants and tests.
func MustParse(s string, c Currency) Money {
	m, err := Parse(s, c)
	if err != nil {
		panic(err)
	}
	return m
}

// SameCurrency reports whether m and o share a currency.
func (m Money) SameCurrency(o Money) bool {
	return m.Currency == o.Currency
}

// Check returns ErrCurrencyMismatch if m is not in currency c.
func (m Money) Check(c Currency) error {
	if m.Currency != c {
		return ErrCurrencyMismatch
	}
	return nil
}

// Add returns m + o. Both must share a currency; callers validate currency at
// the aggregate boundary with Check, so a mismatch here is a programming error.
func (m Money) Add(o Money) Money {
	m.mustMatch(o)
	return Money{Amount: m.Amount.Add(o.Amount), Currency: m.Currency}
}

// Sub returns m - o.
func (m Money) Sub(o Money) Money {
	m.mustMatch(o)
	return Money{Amount: m.Amount.Sub(o.Amount), Currency: m.Currency}
}

// Mul returns m scaled by factor, unrounded.
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(factor), Currency: m.Currency}
}

// MulInt returns m scaled by n.
func (m Money) MulInt(n int) Money {
	return m.Mul(decimal.NewFromInt(int64(n)))
}

// Round rounds to settlement precision, half away from zero.
func (m Money) Round() Money {
	return Money{Amount: m.Amount.Round(Precision), Currency: m.Currency}
}

// Clamp limits m to [lo, hi].
func (m Money) Clamp(lo, hi Money) Money {
	if m.LessThan(lo) {
		return lo
	}
	if m.GreaterThan(hi) {
		return hi
	}
	return m
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount.IsZero() }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

// Equal reports whether m and o have the same currency and numeric value.
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount.Equal(o.Amount)
}

// LessThan reports m < o.
func (m Money) LessThan(o Money) bool {
	m.mustMatch(o)
	return m.Amount.LessThan(o.Amount)
}

// GreaterThan reports m > o.
func (m Money) GreaterThan(o Money) bool {
	m.mustMatch(o)
	return m.Amount.GreaterThan(o.Amount)
}

// String formats m as "10.67 USD".
func (m Money) String() string {
	return m.Amount.StringFixed(Precision) + " " + string(m.Currency)
}

// Sum adds amounts in currency c.
func Sum(c Currency, amounts ...Money) Money {
	total := Zero(c)
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

func (m Money) mustMatch(o Money) {
	if m.Currency != o.Currency {
		panic(fmt.Sprintf("money: %s and %s: %v", m.Currency, o.Currency, ErrCurrencyMismatch))
	}
}
