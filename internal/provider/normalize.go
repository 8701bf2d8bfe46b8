package provider

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Normalization helpers shared by the provider variants. Providers
// disagree on number encoding (CoinGecko sends JSON numbers, CoinCap
// sends strings), so everything funnels through ParseDecimal, which
// rejects the values a record must never carry.

// ParseDecimal parses a provider-supplied numeric string into a decimal,
// rejecting empty values and non-finite tokens such as NaN or Infinity.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("empty number")
	}
	switch strings.ToLower(strings.TrimPrefix(s, "+")) {
	case "nan", "inf", "-inf", "infinity", "-infinity", "null":
		return decimal.Decimal{}, fmt.Errorf("non-finite number %q", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %q: %w", s, err)
	}
	return d, nil
}

// ParsePrice parses a USD price and enforces price >= 0.
func ParsePrice(s string) (decimal.Decimal, error) {
	d, err := ParseDecimal(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("negative price %s", d)
	}
	return d, nil
}

// ParseOptional parses an optional numeric field. Missing or malformed
// optionals become nil instead of failing the whole record.
func ParseOptional(s string) *decimal.Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		return nil
	}
	return &d
}

// NormalizeSymbol trims and lower-cases a ticker symbol for consistent
// display across providers.
func NormalizeSymbol(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
