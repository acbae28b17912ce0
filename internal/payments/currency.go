package payments

import (
	"fmt"
	"strconv"
	"strings"
)

// zeroDecimalCurrencies have no minor unit: one unit is the smallest
// denomination already.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true,
	"XPF": true,
}

// MinorUnits converts a provider decimal string like "29.99" into integer
// minor units without ever touching floating point. Zero-decimal currencies
// pass through whole.
func MinorUnits(value, currency string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty amount")
	}
	negative := strings.HasPrefix(value, "-")
	value = strings.TrimPrefix(value, "-")

	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable amount %q", value)
	}

	var minor int64
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		if frac != "" && strings.Trim(frac, "0") != "" {
			return 0, fmt.Errorf("zero-decimal currency %s cannot carry fraction %q", currency, frac)
		}
		minor = units
	} else {
		switch len(frac) {
		case 0:
			frac = "00"
		case 1:
			frac += "0"
		case 2:
		default:
			return 0, fmt.Errorf("amount %q has sub-minor precision", value)
		}
		cents, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("unparsable amount %q", value)
		}
		minor = units*100 + cents
	}
	if negative {
		minor = -minor
	}
	return minor, nil
}

// FormatAmount renders minor units for display. Presentation only: nothing in
// orchestration math consumes its output.
func FormatAmount(minor int64, currency string) string {
	code := strings.ToUpper(currency)
	if zeroDecimalCurrencies[code] {
		return fmt.Sprintf("%d %s", minor, code)
	}
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, code)
}
