// Package currency normalizes monetary amounts to the base accounting
// currency using a static rate table.
package currency

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Converter converts amounts between currencies through the base currency.
// Rates are expressed as units of the foreign currency per one unit of the
// base currency. Unknown codes fall back to a 1:1 rate; the amount is kept
// rather than rejected, at the cost of confidence.
type Converter struct {
	base  string
	rates map[string]decimal.Decimal
}

// NewConverter creates a Converter for the given base currency and rate table.
func NewConverter(base string, rates map[string]decimal.Decimal) *Converter {
	normalized := make(map[string]decimal.Decimal, len(rates))
	for code, rate := range rates {
		normalized[strings.ToUpper(code)] = rate
	}
	return &Converter{
		base:  strings.ToUpper(base),
		rates: normalized,
	}
}

// Base returns the base currency code.
func (c *Converter) Base() string {
	return c.base
}

// Known reports whether the code has a configured rate (or is the base).
func (c *Converter) Known(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || code == c.base {
		return true
	}
	_, ok := c.rates[code]
	return ok
}

// rate returns the configured rate for code, defaulting to 1.
func (c *Converter) rate(code string) decimal.Decimal {
	if r, ok := c.rates[code]; ok {
		return r
	}
	return decimal.NewFromInt(1)
}

// ToBase converts an amount in the given currency to the base currency,
// rounded half-up to two decimals. Empty or base currency is an identity.
func (c *Converter) ToBase(amount decimal.Decimal, code string) decimal.Decimal {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || code == c.base {
		return amount
	}
	return amount.Div(c.rate(code)).Round(2)
}

// Convert converts an amount between two arbitrary configured currencies,
// passing through the base currency, rounded half-up to two decimals.
func (c *Converter) Convert(amount decimal.Decimal, from, to string) decimal.Decimal {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to {
		return amount
	}

	inBase := amount
	if from != c.base && from != "" {
		inBase = amount.Div(c.rate(from))
	}
	if to == c.base || to == "" {
		return inBase.Round(2)
	}
	return inBase.Mul(c.rate(to)).Round(2)
}

// ToBaseCents converts to base currency and returns integer cents, the
// storage representation for all persisted amounts.
func (c *Converter) ToBaseCents(amount decimal.Decimal, code string) int64 {
	return Cents(c.ToBase(amount, code))
}

// Cents converts a two-decimal amount to integer cents.
func Cents(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

// FromCents converts integer cents back to a decimal amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
