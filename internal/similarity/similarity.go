// Package similarity provides the pure text and item comparison functions
// used by the matching and duplicate-detection engines. Nothing in this
// package performs I/O, so every function is safe to call concurrently.
package similarity

import (
	"math"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

const (
	// editDistanceWeight and tokenOverlapWeight combine the two text
	// similarity factors. They must sum to 1.
	editDistanceWeight = 0.7
	tokenOverlapWeight = 0.3

	// priceGrace is the relative price difference treated as an exact match.
	priceGrace = 0.05
)

// Text returns a similarity score in [0,1] between two strings, combining
// normalized edit distance (weight 0.7) with token-set Jaccard overlap
// (weight 0.3). It is symmetric, Text(a, a) == 1, and Text("", "") == 1.
func Text(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	// Unit substitution cost keeps the distance bounded by max(len(a),
	// len(b)), so editSim stays in [0,1]. The package default costs
	// substitutions at 2, which breaks that bound.
	distance := levenshtein.DistanceForStrings([]rune(a), []rune(b), levenshtein.DefaultOptionsWithSub)
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	editSim := 1 - float64(distance)/float64(maxLen)

	return editDistanceWeight*editSim + tokenOverlapWeight*jaccard(strings.Fields(a), strings.Fields(b))
}

// jaccard computes |A ∩ B| / |A ∪ B| over two token slices.
// Two empty sets are considered identical.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// ItemFacts carries the comparable fields of a purchased or stocked item.
// Zero values mark a field as absent: empty strings for identifiers and the
// name, non-positive values for price and quantity.
type ItemFacts struct {
	MarketplaceID string
	SKU           string
	Name          string
	UnitPrice     float64
	Quantity      int
}

// Items scores two items in [0,1] as the average over the factors available
// on both sides: marketplace-id equality, SKU equality, name text similarity,
// price closeness, and quantity equality. Factors missing on either side are
// excluded from the average rather than counted as zero. With no shared
// factors the score is 0.
func Items(a, b ItemFacts) float64 {
	var sum float64
	var factors int

	if a.MarketplaceID != "" && b.MarketplaceID != "" {
		factors++
		if strings.EqualFold(a.MarketplaceID, b.MarketplaceID) {
			sum++
		}
	}

	if a.SKU != "" && b.SKU != "" {
		factors++
		if strings.EqualFold(a.SKU, b.SKU) {
			sum++
		}
	}

	if a.Name != "" && b.Name != "" {
		factors++
		sum += Text(Normalize(a.Name), Normalize(b.Name))
	}

	if a.UnitPrice > 0 && b.UnitPrice > 0 {
		factors++
		sum += priceCloseness(a.UnitPrice, b.UnitPrice)
	}

	if a.Quantity > 0 && b.Quantity > 0 {
		factors++
		if a.Quantity == b.Quantity {
			sum++
		}
	}

	if factors == 0 {
		return 0
	}
	return sum / float64(factors)
}

// priceCloseness is 1.0 within a 5% relative difference, then decays
// linearly to 0 at a 100% difference.
func priceCloseness(a, b float64) float64 {
	larger := math.Max(a, b)
	rel := math.Abs(a-b) / larger
	if rel <= priceGrace {
		return 1
	}
	return math.Max(0, 1-rel)
}
