package extract

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/bankmail/pkg/api"
)

// ParseAmount parses a numeric token into a non-negative amount.
//
// A trailing group of exactly two digits behind a separator that occurs only
// once is read as cents; every other separator is thousand grouping and must
// form western (1-3 then 3s) or Indian (1-2, 2s, then 3) groups. Failures wrap
// api.ErrUnparseableAmount.
func ParseAmount(token string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		if isDigit(r) || isSeparator(r) {
			return r
		}
		return -1
	}, token)

	if !strings.ContainsAny(cleaned, "0123456789") {
		return decimal.Zero, unparseable(token, "no digits")
	}
	if isSeparator(rune(cleaned[0])) || isSeparator(rune(cleaned[len(cleaned)-1])) {
		return decimal.Zero, unparseable(token, "separator at edge")
	}

	intPart, fracPart := cleaned, ""
	if last := strings.LastIndexAny(cleaned, ".,"); last >= 0 &&
		len(cleaned)-last-1 == 2 &&
		strings.Count(cleaned, cleaned[last:last+1]) == 1 {
		intPart, fracPart = cleaned[:last], cleaned[last+1:]
	}

	if strings.ContainsAny(intPart, ".,") {
		if strings.Contains(intPart, ".") && strings.Contains(intPart, ",") {
			return decimal.Zero, unparseable(token, "mixed grouping separators")
		}
		sep := "."
		if strings.Contains(intPart, ",") {
			sep = ","
		}
		groups := strings.Split(intPart, sep)
		if !westernGroups(groups) && !indianGroups(groups) {
			return decimal.Zero, unparseable(token, "inconsistent digit grouping")
		}
		intPart = strings.Join(groups, "")
	}

	num := intPart
	if fracPart != "" {
		num += "." + fracPart
	}
	amount, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, unparseable(token, err.Error())
	}
	return amount, nil
}

// westernGroups accepts 1,234,567.
func westernGroups(groups []string) bool {
	if len(groups[0]) < 1 || len(groups[0]) > 3 {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

// indianGroups accepts 12,34,567.
func indianGroups(groups []string) bool {
	n := len(groups)
	if n < 3 || len(groups[0]) < 1 || len(groups[0]) > 2 || len(groups[n-1]) != 3 {
		return false
	}
	for _, g := range groups[1 : n-1] {
		if len(g) != 2 {
			return false
		}
	}
	return true
}

// leadingNumber returns the numeric token at the start of s, ending in a digit.
func leadingNumber(s string) string {
	end := 0
	for i, r := range s {
		if i == 0 && !isDigit(r) {
			return ""
		}
		if !isDigit(r) && !isSeparator(r) {
			break
		}
		end = i + 1
	}
	return strings.TrimRight(s[:end], ".,")
}

func unparseable(token, reason string) error {
	return fmt.Errorf("%w: %q: %s", api.ErrUnparseableAmount, token, reason)
}

func isDigit(r rune) bool     { return r >= '0' && r <= '9' }
func isSeparator(r rune) bool { return r == '.' || r == ',' }
