package matching

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"reckon/internal/domain/matchrule"
	"reckon/internal/domain/purchase"
	"reckon/internal/similarity"
)

// Config carries the tunables of the matching engine.
type Config struct {
	// MinFuzzyConfidence filters fuzzy-name candidates below this score.
	MinFuzzyConfidence int
	// MaxResults caps FindMatches output when the caller passes 0.
	MaxResults int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MinFuzzyConfidence: 60,
		MaxResults:         10,
	}
}

// MatchApplication is one decided match to persist as part of an atomic
// batch: the item update and its history entry are written together.
type MatchApplication struct {
	ItemID        int64
	StockID       string
	Confidence    int
	Type          Type
	MarketplaceID string
	SKU           string
	ProductName   string
}

// ItemStore is the write-side interface over staged line items.
type ItemStore interface {
	// UnmatchedItems returns a staging record's unresolved line items.
	UnmatchedItems(ctx context.Context, companyID, stagingID int64) ([]*purchase.LineItem, error)

	// SetItemMatch resolves one line item and refuses to touch records in a
	// terminal state.
	SetItemMatch(ctx context.Context, companyID, itemID int64, stockID string, matchType Type) error

	// ApplyMatches persists a batch of decided matches plus their history
	// entries in a single transaction. A failure rolls the whole batch back.
	ApplyMatches(ctx context.Context, companyID, stagingID int64, matches []MatchApplication) (int, error)
}

// Engine produces ranked stock-item candidates for purchased line items and
// persists accepted matches.
type Engine struct {
	cfg      Config
	stock    StockRepository
	items    ItemStore
	history  HistoryRepository
	rules    matchrule.RuleSource
	ruleRepo matchrule.Repository
}

// NewEngine creates a matching engine. rules is the read path (usually the
// cached source); ruleRepo is the write path used for learning.
func NewEngine(cfg Config, stock StockRepository, items ItemStore, history HistoryRepository, rules matchrule.RuleSource, ruleRepo matchrule.Repository) *Engine {
	if cfg.MinFuzzyConfidence <= 0 {
		cfg.MinFuzzyConfidence = DefaultConfig().MinFuzzyConfidence
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultConfig().MaxResults
	}
	return &Engine{
		cfg:      cfg,
		stock:    stock,
		items:    items,
		history:  history,
		rules:    rules,
		ruleRepo: ruleRepo,
	}
}

// FindMatches returns ranked candidate matches for one line item, best first.
// The cascade runs exact marketplace-id, exact SKU, fuzzy name, then custom
// rules, and stops early once maxResults candidates are collected by the
// identifier tiers. The combined output is stable-sorted by confidence
// descending, so earlier tiers win ties.
func (e *Engine) FindMatches(ctx context.Context, companyID int64, item purchase.LineItem, maxResults int) ([]Candidate, error) {
	if maxResults <= 0 {
		maxResults = e.cfg.MaxResults
	}

	var candidates []Candidate

	// Tier 1: exact marketplace id against supplier reference/code.
	if item.MarketplaceID != "" {
		stocks, err := e.stock.FindBySupplierReference(ctx, companyID, item.MarketplaceID)
		if err != nil {
			return nil, fmt.Errorf("marketplace id lookup failed: %w", err)
		}
		for _, s := range stocks {
			candidates = append(candidates, Candidate{StockID: s.ID, Confidence: ConfidenceExactID, Type: TypeExactID})
		}
		if len(candidates) >= maxResults {
			return dedupeAndRank(candidates, maxResults), nil
		}
	}

	// Tier 2: exact SKU against stock id or supplier reference.
	if item.SellerSKU != "" {
		stocks, err := e.stock.FindBySKU(ctx, companyID, item.SellerSKU)
		if err != nil {
			return nil, fmt.Errorf("sku lookup failed: %w", err)
		}
		for _, s := range stocks {
			candidates = append(candidates, Candidate{StockID: s.ID, Confidence: ConfidenceExactSKU, Type: TypeExactSKU})
		}
		if len(candidates) >= maxResults {
			return dedupeAndRank(candidates, maxResults), nil
		}
	}

	// Tier 3: fuzzy name search over stock descriptions.
	fuzzy, err := e.fuzzyNameCandidates(ctx, companyID, item)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, fuzzy...)

	// Tier 4: custom rules in priority order.
	ruleCands, err := e.ruleCandidates(ctx, companyID, item)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, ruleCands...)

	return dedupeAndRank(candidates, maxResults), nil
}

func (e *Engine) fuzzyNameCandidates(ctx context.Context, companyID int64, item purchase.LineItem) ([]Candidate, error) {
	tokens := similarity.Tokens(item.ProductName)
	if len(tokens) == 0 {
		return nil, nil
	}

	stocks, err := e.stock.SearchByTokens(ctx, companyID, tokens)
	if err != nil {
		return nil, fmt.Errorf("fuzzy name search failed: %w", err)
	}

	normName := similarity.Normalize(item.ProductName)
	var out []Candidate
	for _, s := range stocks {
		sim := similarity.Text(normName, similarity.Normalize(s.Description))
		if s.LongDescription != "" {
			if longSim := similarity.Text(normName, similarity.Normalize(s.LongDescription)); longSim > sim {
				sim = longSim
			}
		}
		confidence := int(math.Round(sim * 100))
		if confidence < e.cfg.MinFuzzyConfidence {
			continue
		}
		out = append(out, Candidate{StockID: s.ID, Confidence: confidence, Type: TypeFuzzyName})
	}
	return out, nil
}

func (e *Engine) ruleCandidates(ctx context.Context, companyID int64, item purchase.LineItem) ([]Candidate, error) {
	rules, err := e.rules.ActiveRules(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load matching rules: %w", err)
	}

	var out []Candidate
	for _, rule := range rules {
		if !rule.Matches(item.MarketplaceID, item.SellerSKU, item.ProductName, item.UnitPrice) {
			continue
		}
		out = append(out, Candidate{StockID: rule.StockID, Confidence: ruleConfidence(rule), Type: TypeRule})
	}
	return out, nil
}

// ruleConfidence is the rule's stored confidence, except that exact
// identifier rules are promoted to the identifier-tier confidences: an exact
// marketplace-id or SKU equality is as certain as a stock-table identifier
// hit, whether the mapping was learned or present in stock.
func ruleConfidence(rule *matchrule.Rule) int {
	switch rule.Type {
	case matchrule.TypeExactID:
		if rule.Confidence < ConfidenceExactID {
			return ConfidenceExactID
		}
	case matchrule.TypeExactSKU:
		if rule.Confidence < ConfidenceExactSKU {
			return ConfidenceExactSKU
		}
	}
	return rule.Confidence
}

// dedupeAndRank keeps the best candidate per stock id, stable-sorts by
// confidence descending, and truncates to maxResults.
func dedupeAndRank(candidates []Candidate, maxResults int) []Candidate {
	best := make(map[string]int, len(candidates)) // stock id -> index into kept
	var kept []Candidate
	for _, c := range candidates {
		if idx, ok := best[c.StockID]; ok {
			if c.Confidence > kept[idx].Confidence {
				kept[idx] = c
			}
			continue
		}
		best[c.StockID] = len(kept)
		kept = append(kept, c)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})

	if len(kept) > maxResults {
		kept = kept[:maxResults]
	}
	return kept
}

// SaveMatchParams contains the parameters for persisting one accepted match.
type SaveMatchParams struct {
	Item       purchase.LineItem
	StockID    string
	Type       Type
	Confidence int
	// ActorID is recorded on rules learned from a manual match.
	ActorID string
}

// SaveMatch resolves the line item, appends a history entry, and - for
// manual matches only - learns new exact rules from the item's identifiers.
// Manual matches are recorded at confidence 100.
func (e *Engine) SaveMatch(ctx context.Context, companyID int64, params SaveMatchParams) error {
	confidence := params.Confidence
	if params.Type == TypeManual {
		confidence = 100
	}

	if err := e.items.SetItemMatch(ctx, companyID, params.Item.ID, params.StockID, params.Type); err != nil {
		return fmt.Errorf("failed to save match: %w", err)
	}

	if _, err := e.history.Append(ctx, AppendHistoryParams{
		CompanyID:     companyID,
		MarketplaceID: params.Item.MarketplaceID,
		SKU:           params.Item.SellerSKU,
		ProductName:   params.Item.ProductName,
		StockID:       params.StockID,
		Type:          params.Type,
		Confidence:    confidence,
	}); err != nil {
		return fmt.Errorf("failed to record match history: %w", err)
	}

	if params.Type == TypeManual {
		e.learnRules(ctx, companyID, params)
	}
	return nil
}

// learnRules persists exact-id and exact-sku rules from a manual match.
// Learning is append-only: repeated corrections accumulate rules and
// conflicts are resolved by priority at match time. A failed rule write is
// logged but does not fail the match itself.
func (e *Engine) learnRules(ctx context.Context, companyID int64, params SaveMatchParams) {
	if params.Item.MarketplaceID != "" {
		_, err := e.ruleRepo.Create(ctx, matchrule.CreateRuleParams{
			CompanyID:  companyID,
			Type:       matchrule.TypeExactID,
			Pattern:    params.Item.MarketplaceID,
			StockID:    params.StockID,
			Confidence: LearnedRuleConfidence,
			Priority:   LearnedIDPriority,
			CreatedBy:  params.ActorID,
		})
		if err != nil {
			log.Printf("Failed to learn exact-id rule for %s: %v", params.Item.MarketplaceID, err)
		}
	}

	if params.Item.SellerSKU != "" {
		_, err := e.ruleRepo.Create(ctx, matchrule.CreateRuleParams{
			CompanyID:  companyID,
			Type:       matchrule.TypeExactSKU,
			Pattern:    params.Item.SellerSKU,
			StockID:    params.StockID,
			Confidence: LearnedRuleConfidence,
			Priority:   LearnedSKUPriority,
			CreatedBy:  params.ActorID,
		})
		if err != nil {
			log.Printf("Failed to learn exact-sku rule for %s: %v", params.Item.SellerSKU, err)
		}
	}
}

// AutoMatch runs the cascade over every unresolved line item of a staging
// record and applies each item's top candidate. Decisions are computed first;
// persistence happens in one all-or-nothing batch. An item whose matching
// fails is logged and skipped; a persistence failure rolls the whole batch
// back. Returns the number of items matched.
func (e *Engine) AutoMatch(ctx context.Context, companyID, stagingID int64) (int, error) {
	items, err := e.items.UnmatchedItems(ctx, companyID, stagingID)
	if err != nil {
		return 0, fmt.Errorf("failed to load unmatched items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	var batch []MatchApplication
	for _, item := range items {
		candidates, err := e.FindMatches(ctx, companyID, *item, 1)
		if err != nil {
			log.Printf("Auto-match: skipping item %q: %v", item.Label(), err)
			continue
		}
		if len(candidates) == 0 {
			continue
		}
		top := candidates[0]
		batch = append(batch, MatchApplication{
			ItemID:        item.ID,
			StockID:       top.StockID,
			Confidence:    top.Confidence,
			Type:          TypeAuto,
			MarketplaceID: item.MarketplaceID,
			SKU:           item.SellerSKU,
			ProductName:   item.ProductName,
		})
	}

	if len(batch) == 0 {
		return 0, nil
	}

	count, err := e.items.ApplyMatches(ctx, companyID, stagingID, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to persist auto-match batch: %w", err)
	}
	log.Printf("Auto-match: staging %d matched %d of %d items", stagingID, count, len(items))
	return count, nil
}
