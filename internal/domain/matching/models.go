// Package matching resolves purchased line items to stock items. Candidates
// come from a fixed cascade: exact marketplace id, exact SKU, fuzzy name
// search, then user-defined rules. Manual corrections are persisted as new
// rules so the engine improves over time while staying deterministic.
package matching

import (
	"context"
	"time"
)

// Type is the provenance of a resolved or proposed match.
type Type string

const (
	TypeExactID   Type = "exact-id"
	TypeExactSKU  Type = "exact-sku"
	TypeFuzzyName Type = "fuzzy-name"
	TypeRule      Type = "rule"
	TypeManual    Type = "manual"
	TypeAuto      Type = "auto"
)

// Fixed confidences for the identifier tiers. They are deliberately above
// anything the fuzzy tier can produce so identifier matches always rank
// first.
const (
	ConfidenceExactID  = 100
	ConfidenceExactSKU = 95
)

// Confidence assigned to rules created by learning from a manual match.
const LearnedRuleConfidence = 80

// Priorities for learned rules: marketplace-id rules are evaluated before
// SKU rules.
const (
	LearnedIDPriority  = 1
	LearnedSKUPriority = 2
)

// Candidate is one ranked stock-item match for a line item.
type Candidate struct {
	StockID    string `json:"stockId"`
	Confidence int    `json:"confidence"`
	Type       Type   `json:"matchType"`
}

// StockItem is the read-only view of a bookkeeping stock record this engine
// matches against.
type StockItem struct {
	ID                string
	Description       string
	LongDescription   string
	SupplierReference string
	SKU               string
	UnitPrice         float64
}

// StockRepository is the read-side interface over the external bookkeeping
// system's stock table.
type StockRepository interface {
	// FindBySupplierReference returns stock items whose supplier reference
	// or code equals ref exactly.
	FindBySupplierReference(ctx context.Context, companyID int64, ref string) ([]*StockItem, error)

	// FindBySKU returns stock items whose id or supplier reference equals
	// the SKU exactly.
	FindBySKU(ctx context.Context, companyID int64, sku string) ([]*StockItem, error)

	// SearchByTokens returns stock items whose description or long
	// description contains any of the tokens.
	SearchByTokens(ctx context.Context, companyID int64, tokens []string) ([]*StockItem, error)
}

// HistoryEntry is the immutable audit record of one resolved match.
type HistoryEntry struct {
	ID            int64     `json:"id"`
	CompanyID     int64     `json:"-"`
	MarketplaceID string    `json:"marketplaceId,omitempty"`
	SKU           string    `json:"sku,omitempty"`
	ProductName   string    `json:"productName"`
	StockID       string    `json:"stockId"`
	Type          Type      `json:"matchType"`
	Confidence    int       `json:"confidence"`
	CreatedAt     time.Time `json:"createdAt"`
}

// AppendHistoryParams contains the parameters for recording a match.
type AppendHistoryParams struct {
	CompanyID     int64
	MarketplaceID string
	SKU           string
	ProductName   string
	StockID       string
	Type          Type
	Confidence    int
}

// TypeCount is one row of the per-type match statistics.
type TypeCount struct {
	Type  Type  `json:"matchType"`
	Count int64 `json:"count"`
}

// HistoryRepository is append-only: entries are never updated or removed.
type HistoryRepository interface {
	Append(ctx context.Context, params AppendHistoryParams) (*HistoryEntry, error)
	Stats(ctx context.Context, companyID int64) ([]TypeCount, error)
}
