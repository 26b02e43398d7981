package duplicate

import (
	"context"
	"fmt"
	"math"

	"reckon/internal/domain/purchase"
	"reckon/internal/similarity"
)

const (
	// Fixed confidences of the identifier strategies.
	orderNumberConfidence   = 100
	invoiceNumberConfidence = 95

	// Date+total+address composite scoring.
	dateTotalBase    = 70
	exactTotalBonus  = 10
	addressBonusMax  = 15
	dateTotalCeiling = 90

	// Item-combination scoring. The 75-point ceiling keeps this family
	// strictly below the identifier strategies.
	itemSetMaxConfidence    = 75
	itemSimilarityThreshold = 0.8
	itemSetFractionRequired = 0.8

	// Candidate-pool total tolerance for the item-combination strategy:
	// max(5% of the new total, minTotalTolerance).
	totalTolerancePct = 0.05
)

// Config carries the duplicate engine tunables.
type Config struct {
	// MinTotalTolerance is the absolute floor of the item-combination
	// candidate-pool total tolerance.
	MinTotalTolerance float64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{MinTotalTolerance: 1.00}
}

// Service runs the duplicate-detection strategy cascade.
type Service struct {
	cfg  Config
	repo Repository
}

// NewService creates a duplicate detection service.
func NewService(cfg Config, repo Repository) *Service {
	if cfg.MinTotalTolerance <= 0 {
		cfg.MinTotalTolerance = DefaultConfig().MinTotalTolerance
	}
	return &Service{cfg: cfg, repo: repo}
}

// FindDuplicate evaluates all strategies against the new record and returns
// the single best hit, or nil when the record is unseen. The order-number
// strategy scores the confidence ceiling, so later strategies are skipped
// once it hits.
func (s *Service) FindDuplicate(ctx context.Context, companyID int64, rec *purchase.Record) (*Match, error) {
	return s.findDuplicateExcluding(ctx, companyID, rec, "", "")
}

// findDuplicateExcluding is the internal variant that ignores one existing
// record, used by retroactive scans where the record under test is itself
// already staged.
func (s *Service) findDuplicateExcluding(ctx context.Context, companyID int64, rec *purchase.Record, excludeSource purchase.Source, excludeSourceID string) (*Match, error) {
	exclude := func(er *ExistingRecord) bool {
		return excludeSourceID != "" && er.Source == excludeSource && er.SourceID == excludeSourceID
	}

	var best *Match
	keep := func(m *Match) {
		// Strictly greater: on equal confidence the earlier strategy wins.
		if m != nil && (best == nil || m.Confidence > best.Confidence) {
			best = m
		}
	}

	// Strategy 1: order-number exact match.
	if rec.OrderNumber != "" {
		hits, err := s.repo.FindByOrderNumber(ctx, companyID, rec.OrderNumber)
		if err != nil {
			return nil, fmt.Errorf("order-number search failed: %w", err)
		}
		for _, h := range hits {
			if exclude(h) {
				continue
			}
			keep(toMatch(h, orderNumberConfidence, StrategyOrderNumber))
			break
		}
		if best != nil && best.Confidence == orderNumberConfidence {
			// Already at the ceiling; nothing can outrank it.
			return best, nil
		}
	}

	// Strategy 2: invoice/receipt-number exact match.
	if rec.InvoiceNumber != "" {
		hits, err := s.repo.FindByInvoiceNumber(ctx, companyID, rec.InvoiceNumber)
		if err != nil {
			return nil, fmt.Errorf("invoice-number search failed: %w", err)
		}
		for _, h := range hits {
			if exclude(h) {
				continue
			}
			keep(toMatch(h, invoiceNumberConfidence, StrategyInvoiceNumber))
			break
		}
	}

	// Strategy 3: same day + total + address.
	if !rec.PurchaseDate.IsZero() {
		hits, err := s.repo.FindByDateAndTotal(ctx, companyID, rec.PurchaseDate, rec.Total, purchase.AmountTolerance)
		if err != nil {
			return nil, fmt.Errorf("date-total search failed: %w", err)
		}
		for _, h := range hits {
			if exclude(h) {
				continue
			}
			keep(toMatch(h, s.scoreDateTotalAddress(rec, h), StrategyDateTotalAddress))
		}
	}

	// Strategy 4: item-combination similarity.
	if len(rec.Items) > 0 {
		tolerance := math.Max(totalTolerancePct*rec.Total, s.cfg.MinTotalTolerance)
		hits, err := s.repo.FindStagedByTotalAndItemCount(ctx, companyID, rec.Total, tolerance, len(rec.Items))
		if err != nil {
			return nil, fmt.Errorf("item-combination search failed: %w", err)
		}
		for _, h := range hits {
			if exclude(h) {
				continue
			}
			if conf, ok := s.scoreItemSet(rec, h); ok {
				keep(toMatch(h, conf, StrategyItemSet))
			}
		}
	}

	return best, nil
}

// scoreDateTotalAddress starts at the base confidence, adds a bonus for
// bit-for-bit equal totals and up to 15 points proportional to address
// similarity, capped at 90.
func (s *Service) scoreDateTotalAddress(rec *purchase.Record, h *ExistingRecord) int {
	conf := dateTotalBase
	if rec.Total == h.Total {
		conf += exactTotalBonus
	}
	if rec.BillingAddress != "" && h.BillingAddress != "" {
		sim := similarity.Text(
			similarity.NormalizeAddress(rec.BillingAddress),
			similarity.NormalizeAddress(h.BillingAddress),
		)
		conf += int(math.Round(addressBonusMax * sim))
	}
	if conf > dateTotalCeiling {
		conf = dateTotalCeiling
	}
	return conf
}

// scoreItemSet computes the fraction of new items having some existing item
// with similarity >= 0.8. The candidate is accepted when the fraction itself
// reaches 0.8; the confidence is round(fraction * 75).
func (s *Service) scoreItemSet(rec *purchase.Record, h *ExistingRecord) (int, bool) {
	if len(rec.Items) == 0 || len(h.Items) == 0 {
		return 0, false
	}

	matched := 0
	for i := range rec.Items {
		newFacts := itemFacts(&rec.Items[i])
		for j := range h.Items {
			if similarity.Items(newFacts, itemFacts(&h.Items[j])) >= itemSimilarityThreshold {
				matched++
				break
			}
		}
	}

	fraction := float64(matched) / float64(len(rec.Items))
	if fraction < itemSetFractionRequired {
		return 0, false
	}
	return int(math.Round(fraction * itemSetMaxConfidence)), true
}

func itemFacts(li *purchase.LineItem) similarity.ItemFacts {
	return similarity.ItemFacts{
		MarketplaceID: li.MarketplaceID,
		SKU:           li.SellerSKU,
		Name:          li.ProductName,
		UnitPrice:     li.UnitPrice,
		Quantity:      li.Quantity,
	}
}

func toMatch(h *ExistingRecord, confidence int, strategy Strategy) *Match {
	return &Match{
		Source:        h.Source,
		SourceID:      h.SourceID,
		OrderNumber:   h.OrderNumber,
		InvoiceNumber: h.InvoiceNumber,
		PurchaseDate:  h.PurchaseDate,
		Total:         h.Total,
		Confidence:    confidence,
		Strategy:      strategy,
	}
}

// MarkAsDuplicate transitions the source record to its terminal duplicate
// status, recording which record it duplicates. An audit trail always
// remains; nothing is deleted.
func (s *Service) MarkAsDuplicate(ctx context.Context, companyID int64, source purchase.Source, sourceID string, of *Match) error {
	if err := s.repo.MarkDuplicate(ctx, companyID, source, sourceID, of); err != nil {
		return fmt.Errorf("failed to mark %s/%s as duplicate: %w", source, sourceID, err)
	}
	return nil
}
