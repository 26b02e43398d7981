// Package matchrule holds the persisted pattern -> stock-identifier rules
// consulted by the item matching engine before it falls back to fuzzy search.
package matchrule

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRuleNotFound = errors.New("matching rule not found")
	ErrForbidden    = errors.New("forbidden: rule does not belong to company")
)

// Type classifies what a rule's pattern is matched against.
type Type string

const (
	TypeExactID    Type = "exact-id"    // item marketplace id
	TypeExactSKU   Type = "exact-sku"   // item seller SKU
	TypeExactName  Type = "exact-name"  // item product name
	TypeKeyword    Type = "keyword"     // item product name
	TypePriceRange Type = "price-range" // item unit price, pattern "min-max"
)

var validTypes = map[Type]bool{
	TypeExactID:    true,
	TypeExactSKU:   true,
	TypeExactName:  true,
	TypeKeyword:    true,
	TypePriceRange: true,
}

// Rule maps a pattern to a stock identifier. Rules are never deleted
// automatically, only deactivated. When several rules match the same item the
// conflict is resolved by priority order (lower first), then confidence
// (higher first), then id (insertion order) - never by rejecting the write.
type Rule struct {
	ID         int64     `json:"id"`
	CompanyID  int64     `json:"-"`
	Type       Type      `json:"type"`
	Pattern    string    `json:"pattern"`
	StockID    string    `json:"stockId"`
	Confidence int       `json:"confidence"`
	Priority   int       `json:"priority"`
	Active     bool      `json:"active"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CreateRuleParams contains the parameters for creating a rule.
type CreateRuleParams struct {
	CompanyID  int64
	Type       Type
	Pattern    string
	StockID    string
	Confidence int
	Priority   int
	CreatedBy  string
}

// Validate validates the create parameters.
func (p *CreateRuleParams) Validate() error {
	if !validTypes[p.Type] {
		return fmt.Errorf("unknown rule type %q", p.Type)
	}
	if p.Pattern == "" {
		return errors.New("pattern is required")
	}
	if p.StockID == "" {
		return errors.New("stock_id is required")
	}
	if p.Confidence < 0 || p.Confidence > 100 {
		return errors.New("confidence must be between 0 and 100")
	}
	if p.Type == TypePriceRange {
		if _, _, err := parsePriceRange(p.Pattern); err != nil {
			return err
		}
	}
	return nil
}
