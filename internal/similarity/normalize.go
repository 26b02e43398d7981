package similarity

import (
	"strings"
	"unicode"
)

// stopWords are prepositions and conjunctions stripped during normalization.
// Tokens of length <= 2 are dropped separately, so short words like "of"
// never reach this list.
var stopWords = map[string]bool{
	"the":     true,
	"and":     true,
	"for":     true,
	"with":    true,
	"from":    true,
	"into":    true,
	"onto":    true,
	"over":    true,
	"under":   true,
	"about":   true,
	"between": true,
	"through": true,
	"but":     true,
	"nor":     true,
	"via":     true,
	"per":     true,
}

// streetSuffixes maps common address abbreviations to their expanded form so
// that "123 Main St" and "123 Main Street" normalize identically.
var streetSuffixes = map[string]string{
	"st":   "street",
	"ave":  "avenue",
	"av":   "avenue",
	"rd":   "road",
	"blvd": "boulevard",
	"dr":   "drive",
	"ln":   "lane",
	"ct":   "court",
	"pl":   "place",
	"sq":   "square",
	"hwy":  "highway",
	"pkwy": "parkway",
	"apt":  "apartment",
	"ste":  "suite",
	"fl":   "floor",
}

// Normalize lowercases the input, replaces punctuation with spaces, collapses
// whitespace, and drops stop words and tokens of length <= 2. The result is a
// single space-joined string suitable for token and edit-distance comparison.
func Normalize(s string) string {
	return strings.Join(Tokens(s), " ")
}

// Tokens returns the normalized token list of s (see Normalize).
func Tokens(s string) []string {
	cleaned := stripPunctuation(strings.ToLower(s))

	var tokens []string
	for _, tok := range strings.Fields(cleaned) {
		if len(tok) <= 2 {
			continue
		}
		if stopWords[tok] {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// NormalizeAddress expands street-suffix abbreviations before applying the
// regular normalization, so abbreviated and spelled-out addresses compare
// as equal.
func NormalizeAddress(s string) string {
	cleaned := stripPunctuation(strings.ToLower(s))

	fields := strings.Fields(cleaned)
	for i, tok := range fields {
		if full, ok := streetSuffixes[tok]; ok {
			fields[i] = full
		}
	}
	return Normalize(strings.Join(fields, " "))
}

func stripPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}
