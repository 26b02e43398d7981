package matchrule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MatchValue tests value against pattern using three syntaxes, in this
// precedence:
//
//  1. leading "/" - the rest is a full regular expression
//  2. contains "*" - glob-style wildcard, anchored
//  3. otherwise     - case-insensitive string equality
//
// A pattern that fails to compile matches nothing.
func MatchValue(pattern, value string) bool {
	if strings.HasPrefix(pattern, "/") {
		expr := strings.TrimPrefix(pattern, "/")
		expr = strings.TrimSuffix(expr, "/")
		re, err := regexp.Compile(expr)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	}

	if strings.Contains(pattern, "*") {
		expr := "(?i)^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
		re, err := regexp.Compile(expr)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	}

	return strings.EqualFold(pattern, value)
}

// MatchPrice tests numeric containment for a price-range rule pattern
// ("min-max", inclusive).
func MatchPrice(pattern string, price float64) bool {
	lo, hi, err := parsePriceRange(pattern)
	if err != nil {
		return false
	}
	return price >= lo && price <= hi
}

func parsePriceRange(pattern string) (lo, hi float64, err error) {
	parts := strings.SplitN(pattern, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("price-range pattern %q must be min-max", pattern)
	}
	lo, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("price-range pattern %q: bad minimum: %w", pattern, err)
	}
	hi, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("price-range pattern %q: bad maximum: %w", pattern, err)
	}
	if hi < lo {
		return 0, 0, fmt.Errorf("price-range pattern %q: maximum below minimum", pattern)
	}
	return lo, hi, nil
}
