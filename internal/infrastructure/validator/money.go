package validator

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNotNumeric is returned by ParseAmount for values with no number in them
var ErrNotNumeric = errors.New("not a number")

// currencyMarkers are stripped from either end of an amount, longest first
var currencyMarkers = []string{
	"USD", "CNY", "SGD", "MYR", "THB", "PHP", "VND", "IDR", "RMB",
	"RM", "RP", "US$", "S$",
	"$", "¥", "￥", "₱", "฿", "₫", "€",
}

// ParseAmount parses a money or count cell. Thousands separators,
// non-breaking spaces and a currency symbol or code at either end are
// tolerated: "RM 1,299.00", "-$5", "12 500₫"
func ParseAmount(s string) (decimal.Decimal, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.NewReplacer(",", "", " ", "", "\u00a0", "").Replace(v)

	negative := false
	if strings.HasPrefix(v, "-") {
		negative = true
		v = v[1:]
	}
	for _, m := range currencyMarkers {
		if strings.HasPrefix(v, m) {
			v = v[len(m):]
			break
		}
	}
	for _, m := range currencyMarkers {
		if strings.HasSuffix(v, m) {
			v = v[:len(v)-len(m)]
			break
		}
	}
	if strings.HasPrefix(v, "-") && !negative {
		negative = true
		v = v[1:]
	}
	if v == "" {
		return decimal.Zero, ErrNotNumeric
	}

	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, ErrNotNumeric
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// DetectCurrency infers an ISO currency code from the way an amount is
// written
func DetectCurrency(s string) (string, bool) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "-")
	switch {
	case v == "":
		return "", false
	case strings.HasPrefix(v, "RMB"):
		return "CNY", true
	case strings.HasPrefix(v, "RM"), strings.HasPrefix(v, "MYR"):
		return "MYR", true
	case strings.HasPrefix(v, "PHP"), strings.HasPrefix(v, "₱"):
		return "PHP", true
	case strings.HasPrefix(v, "THB"), strings.HasPrefix(v, "฿"):
		return "THB", true
	case strings.HasPrefix(v, "VND"), strings.HasSuffix(v, "₫"):
		return "VND", true
	case strings.HasPrefix(v, "IDR"), strings.HasPrefix(v, "RP"):
		return "IDR", true
	case strings.HasPrefix(v, "SGD"), strings.HasPrefix(v, "S$"):
		return "SGD", true
	case strings.HasPrefix(v, "USD"), strings.HasPrefix(v, "US$"), strings.HasPrefix(v, "$"):
		return "USD", true
	case strings.HasPrefix(v, "CNY"), strings.HasPrefix(v, "¥"), strings.HasPrefix(v, "￥"):
		return "CNY", true
	}
	return "", false
}
