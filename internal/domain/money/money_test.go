package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usd(s string) Money {
	return MustParse(s, USD)
}

func TestMoney_Round(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "10.665", want: "10.67"},
		{in: "10.664", want: "10.66"},
		{in: "-10.665", want: "-10.67"},
		{in: "8.5333333", want: "8.53"},
		{in: "0.005", want: "0.01"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := usd(tt.in).Round()
			assert.True(t, usd(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestMoney_Arithmetic(t *testing.T) {
	a := usd("5.00")
	b := usd("8.00")

	assert.True(t, usd("13").Equal(a.Add(b)))
	assert.True(t, usd("-3").Equal(a.Sub(b)))
	assert.True(t, usd("10").Equal(a.MulInt(2)))
	assert.True(t, usd("2.5").Equal(a.Mul(decimal.RequireFromString("0.5"))))
	assert.True(t, usd("18").Equal(Sum(USD, a, a, b)))
	assert.True(t, a.LessThan(b))
	assert.False(t, a.GreaterThan(b))
	assert.Equal(t, "5.00 USD", a.String())
}

func TestMoney_Clamp(t *testing.T) {
	lo, hi := Zero(USD), usd("18")

	assert.True(t, usd("18").Equal(usd("25").Clamp(lo, hi)))
	assert.True(t, lo.Equal(usd("-1").Clamp(lo, hi)))
	assert.True(t, usd("1.80").Equal(usd("1.80").Clamp(lo, hi)))
}

func TestMoney_CurrencyMismatch(t *testing.T) {
	eur := MustParse("1", "EUR")

	require.ErrorIs(t, eur.Check(USD), ErrCurrencyMismatch)
	assert.False(t, eur.Equal(usd("1")))
	assert.Panics(t, func() { _ = eur.Add(usd("1")) })
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("ten", USD)
	require.Error(t, err)
}
