package matching

import (
	"fmt"
	"strings"
	"time"

	"reckon/internal/domain/purchase"
	"reckon/internal/similarity"
)

// SuggestionConfig carries the default ledger account codes placed on
// proposed stock definitions.
type SuggestionConfig struct {
	SalesAccount     string
	PurchaseAccount  string
	InventoryAccount string
}

// Suggestion is a proposed stock definition for an item with no match. It is
// never persisted by this engine; creating the stock record is the admin's
// call.
type Suggestion struct {
	StockID          string  `json:"stockId"`
	Description      string  `json:"description"`
	Category         string  `json:"category"`
	UnitPrice        float64 `json:"unitPrice"`
	SalesAccount     string  `json:"salesAccount"`
	PurchaseAccount  string  `json:"purchaseAccount"`
	InventoryAccount string  `json:"inventoryAccount"`
}

// categoryKeywords maps name keywords to an inferred stock category.
// First hit in listed order wins; the order goes from specific to generic.
var categoryKeywords = []struct {
	keyword  string
	category string
}{
	{"headphone", "electronics"},
	{"earbud", "electronics"},
	{"speaker", "electronics"},
	{"cable", "electronics"},
	{"charger", "electronics"},
	{"adapter", "electronics"},
	{"battery", "electronics"},
	{"keyboard", "electronics"},
	{"mouse", "electronics"},
	{"monitor", "electronics"},
	{"laptop", "electronics"},
	{"tablet", "electronics"},
	{"phone", "electronics"},
	{"camera", "electronics"},
	{"printer", "office"},
	{"paper", "office"},
	{"toner", "office"},
	{"pen", "office"},
	{"notebook", "office"},
	{"stapler", "office"},
	{"folder", "office"},
	{"desk", "furniture"},
	{"chair", "furniture"},
	{"shelf", "furniture"},
	{"lamp", "furniture"},
	{"detergent", "supplies"},
	{"cleaner", "supplies"},
	{"towel", "supplies"},
	{"glove", "supplies"},
	{"tape", "supplies"},
	{"box", "packaging"},
	{"envelope", "packaging"},
	{"bubble", "packaging"},
	{"label", "packaging"},
}

const defaultCategory = "general"

// suggestedIDWordLimit caps how many words contribute to an acronym id.
const suggestedIDWordLimit = 4

// SuggestNewItem builds a non-persisted stock definition proposal for an
// item that matched nothing. Pure computation: id generation prefers the
// marketplace id, then the SKU, then a per-word acronym of the cleaned name,
// and finally a timestamp fallback.
func SuggestNewItem(cfg SuggestionConfig, item purchase.LineItem) Suggestion {
	return Suggestion{
		StockID:          suggestStockID(item, time.Now),
		Description:      strings.TrimSpace(item.ProductName),
		Category:         inferCategory(item.ProductName),
		UnitPrice:        item.UnitPrice,
		SalesAccount:     cfg.SalesAccount,
		PurchaseAccount:  cfg.PurchaseAccount,
		InventoryAccount: cfg.InventoryAccount,
	}
}

func suggestStockID(item purchase.LineItem, now func() time.Time) string {
	if item.MarketplaceID != "" {
		return strings.ToUpper(item.MarketplaceID)
	}
	if item.SellerSKU != "" {
		return strings.ToUpper(item.SellerSKU)
	}

	tokens := similarity.Tokens(item.ProductName)
	if len(tokens) > 0 {
		if len(tokens) > suggestedIDWordLimit {
			tokens = tokens[:suggestedIDWordLimit]
		}
		parts := make([]string, 0, len(tokens))
		for _, tok := range tokens {
			if len(tok) > 3 {
				tok = tok[:3]
			}
			parts = append(parts, strings.ToUpper(tok))
		}
		return strings.Join(parts, "-")
	}

	return fmt.Sprintf("ITEM-%d", now().Unix())
}

func inferCategory(name string) string {
	lower := strings.ToLower(name)
	for _, kw := range categoryKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.category
		}
	}
	return defaultCategory
}
