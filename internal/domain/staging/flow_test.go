package staging

import (
	"context"
	"errors"
	"testing"
	"time"

	"reckon/internal/domain/duplicate"
	"reckon/internal/domain/matching"
	"reckon/internal/domain/matchrule"
	"reckon/internal/domain/purchase"
)

// flowStockRepo serves the matching cascade from fixed slices.
type flowStockRepo struct {
	bySupplierRef map[string][]*matching.StockItem
	bySKU         map[string][]*matching.StockItem
	byTokens      []*matching.StockItem
}

func (r *flowStockRepo) FindBySupplierReference(ctx context.Context, companyID int64, ref string) ([]*matching.StockItem, error) {
	return r.bySupplierRef[ref], nil
}
func (r *flowStockRepo) FindBySKU(ctx context.Context, companyID int64, sku string) ([]*matching.StockItem, error) {
	return r.bySKU[sku], nil
}
func (r *flowStockRepo) SearchByTokens(ctx context.Context, companyID int64, tokens []string) ([]*matching.StockItem, error) {
	return r.byTokens, nil
}

// flowItemStore reads and writes the line items of the record under test.
type flowItemStore struct {
	rec *Record
}

func (s *flowItemStore) UnmatchedItems(ctx context.Context, companyID, stagingID int64) ([]*purchase.LineItem, error) {
	var out []*purchase.LineItem
	for i := range s.rec.Purchase.Items {
		if !s.rec.Purchase.Items[i].Resolved() {
			item := s.rec.Purchase.Items[i]
			out = append(out, &item)
		}
	}
	return out, nil
}

func (s *flowItemStore) SetItemMatch(ctx context.Context, companyID, itemID int64, stockID string, matchType matching.Type) error {
	for i := range s.rec.Purchase.Items {
		if s.rec.Purchase.Items[i].ID == itemID {
			s.rec.Purchase.Items[i].StockID = stockID
			s.rec.Purchase.Items[i].Matched = true
			s.rec.Purchase.Items[i].MatchType = string(matchType)
			return nil
		}
	}
	return errors.New("item not found")
}

func (s *flowItemStore) ApplyMatches(ctx context.Context, companyID, stagingID int64, matches []matching.MatchApplication) (int, error) {
	for _, m := range matches {
		if err := s.SetItemMatch(ctx, companyID, m.ItemID, m.StockID, m.Type); err != nil {
			return 0, err
		}
	}
	return len(matches), nil
}

// flowHistoryRepo collects appended history entries.
type flowHistoryRepo struct {
	entries []matching.AppendHistoryParams
}

func (r *flowHistoryRepo) Append(ctx context.Context, params matching.AppendHistoryParams) (*matching.HistoryEntry, error) {
	r.entries = append(r.entries, params)
	return &matching.HistoryEntry{ID: int64(len(r.entries))}, nil
}
func (r *flowHistoryRepo) Stats(ctx context.Context, companyID int64) ([]matching.TypeCount, error) {
	return nil, nil
}

// flowRuleRepo stores created rules and serves them back as the active set.
type flowRuleRepo struct {
	rules []*matchrule.Rule
}

func (r *flowRuleRepo) Create(ctx context.Context, params matchrule.CreateRuleParams) (*matchrule.Rule, error) {
	rule := &matchrule.Rule{
		ID:         int64(len(r.rules) + 1),
		CompanyID:  params.CompanyID,
		Type:       params.Type,
		Pattern:    params.Pattern,
		StockID:    params.StockID,
		Confidence: params.Confidence,
		Priority:   params.Priority,
		Active:     true,
		CreatedBy:  params.CreatedBy,
	}
	r.rules = append(r.rules, rule)
	return rule, nil
}
func (r *flowRuleRepo) GetByID(ctx context.Context, id int64) (*matchrule.Rule, error) {
	return nil, nil
}
func (r *flowRuleRepo) ListByCompany(ctx context.Context, companyID int64, activeOnly bool) ([]*matchrule.Rule, error) {
	return r.rules, nil
}
func (r *flowRuleRepo) SetActive(ctx context.Context, id int64, active bool) error { return nil }
func (r *flowRuleRepo) Delete(ctx context.Context, id int64) error                 { return nil }

func (r *flowRuleRepo) ActiveRules(ctx context.Context, companyID int64) ([]*matchrule.Rule, error) {
	return r.rules, nil
}

// TestPurchaseLifecycle walks one purchase from ingest to completion: staged
// as pending, auto-matched by fuzzy name, manually corrected (which learns
// rules), blocked by the posting gate until the payment is allocated, then
// completed. A repeat ingest of the same order is caught as a duplicate.
func TestPurchaseLifecycle(t *testing.T) {
	ctx := context.Background()
	const companyID = int64(1)

	// In-memory state shared by the staging repository mock.
	var stored *Record

	repo := &MockStagingRepo{
		CreateFunc: func(ctx context.Context, rec *Record) (int64, error) {
			rec.ID = 1
			for i := range rec.Purchase.Items {
				rec.Purchase.Items[i].ID = int64(100 + i)
			}
			stored = rec
			return 1, nil
		},
		GetByIDFunc: func(ctx context.Context, cid, id int64) (*Record, error) {
			return stored, nil
		},
		SetStatusFunc: func(ctx context.Context, cid, id int64, status Status) error {
			stored.Status = status
			return nil
		},
		SetPaymentAllocatedFunc: func(ctx context.Context, cid, stagingID, paymentID int64, allocated bool) error {
			for i := range stored.Purchase.Payments {
				if stored.Purchase.Payments[i].ID == paymentID {
					stored.Purchase.Payments[i].Allocated = allocated
				}
			}
			return nil
		},
		CompleteIfReadyFunc: func(ctx context.Context, cid, id int64, txRef string) ([]string, []string, error) {
			rd := stored.CheckReadiness()
			if !rd.Ready {
				return rd.UnresolvedItems, rd.UnallocatedPayments, nil
			}
			stored.Status = StatusCompleted
			stored.PostedTransactionRef = txRef
			return nil, nil, nil
		},
	}
	dups := &MockDuplicateChecker{
		FindDuplicateFunc: func(ctx context.Context, cid int64, rec *purchase.Record) (*duplicate.Match, error) {
			if stored != nil && stored.Purchase.OrderNumber == rec.OrderNumber {
				return &duplicate.Match{
					Source:      purchase.SourceStaging,
					SourceID:    "1",
					OrderNumber: stored.Purchase.OrderNumber,
					Confidence:  100,
					Strategy:    duplicate.StrategyOrderNumber,
				}, nil
			}
			return nil, nil
		},
	}
	svc := NewService(repo, dups)

	rec := &purchase.Record{
		Source:       purchase.SourceEmail,
		SourceID:     "email-77",
		OrderNumber:  "111-2223334-5556667",
		PurchaseDate: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Total:        49.98,
		Items: []purchase.LineItem{
			{
				Position:      1,
				ProductName:   "Wireless Bluetooth Headphones",
				MarketplaceID: "B0ABC123XY",
				SellerSKU:     "WBH-SELLER-01",
				Quantity:      2,
				UnitPrice:     24.99,
				TotalPrice:    49.98,
			},
		},
		Payments: []purchase.PaymentFragment{
			{ID: 10, Method: purchase.PaymentCreditCard, Reference: "visa-1234", Amount: 49.98},
		},
	}

	// Ingest: no duplicate yet, record lands in pending.
	staged, match, err := svc.Ingest(ctx, companyID, rec)
	if err != nil {
		t.Fatalf("Ingest: unexpected error: %v", err)
	}
	if match != nil {
		t.Fatalf("Ingest: unexpected duplicate match %+v", match)
	}
	if staged.Status != StatusPending {
		t.Fatalf("staged status = %s, want %s", staged.Status, StatusPending)
	}
	if staged.ID != 1 || staged.PublicID == "" {
		t.Fatalf("staged record ids not assigned: %+v", staged)
	}

	// Matching: the marketplace id and SKU are unknown to stock, so the
	// fuzzy name tier wins.
	stock := &flowStockRepo{
		bySupplierRef: map[string][]*matching.StockItem{},
		bySKU:         map[string][]*matching.StockItem{},
		byTokens: []*matching.StockItem{
			{ID: "WBH-001", Description: "Wireless Bluetooth Headphones"},
		},
	}
	ruleRepo := &flowRuleRepo{}
	history := &flowHistoryRepo{}
	engine := matching.NewEngine(matching.DefaultConfig(), stock, &flowItemStore{rec: stored}, history, ruleRepo, ruleRepo)

	matched, err := engine.AutoMatch(ctx, companyID, staged.ID)
	if err != nil {
		t.Fatalf("AutoMatch: unexpected error: %v", err)
	}
	if matched != 1 {
		t.Fatalf("AutoMatch matched %d items, want 1", matched)
	}
	item := stored.Purchase.Items[0]
	if item.StockID != "WBH-001" || !item.Resolved() {
		t.Fatalf("after auto-match item = %+v, want resolved to WBH-001", item)
	}
	if item.MatchType != string(matching.TypeAuto) {
		t.Errorf("auto-matched item type = %s, want %s", item.MatchType, matching.TypeAuto)
	}

	// Manual correction: the user overrides the auto match. The engine
	// learns exact rules from the item's identifiers.
	err = engine.SaveMatch(ctx, companyID, matching.SaveMatchParams{
		Item:    item,
		StockID: "HEADPHONES-PREMIUM",
		Type:    matching.TypeManual,
		ActorID: "user-42",
	})
	if err != nil {
		t.Fatalf("SaveMatch: unexpected error: %v", err)
	}
	if got := stored.Purchase.Items[0].StockID; got != "HEADPHONES-PREMIUM" {
		t.Fatalf("after manual override stock id = %s, want HEADPHONES-PREMIUM", got)
	}
	if len(ruleRepo.rules) != 2 {
		t.Fatalf("learned %d rules, want exact-id and exact-sku", len(ruleRepo.rules))
	}
	for _, rule := range ruleRepo.rules {
		if rule.StockID != "HEADPHONES-PREMIUM" || rule.Confidence != 80 {
			t.Errorf("learned rule = %+v, want stock HEADPHONES-PREMIUM at confidence 80", rule)
		}
	}

	// The next purchase carrying the same marketplace id resolves through
	// the learned rule, promoted to identifier-tier confidence.
	candidates, err := engine.FindMatches(ctx, companyID, purchase.LineItem{
		ProductName:   "WBH (renewed)",
		MarketplaceID: "B0ABC123XY",
	}, 5)
	if err != nil {
		t.Fatalf("FindMatches: unexpected error: %v", err)
	}
	if len(candidates) == 0 || candidates[0].StockID != "HEADPHONES-PREMIUM" {
		t.Fatalf("candidates = %+v, want learned rule hit first", candidates)
	}
	if candidates[0].Confidence != 100 {
		t.Errorf("learned exact-id candidate confidence = %d, want 100", candidates[0].Confidence)
	}

	// Posting gate: the item is resolved but the payment is unallocated.
	rd, err := svc.IsReadyToPost(ctx, companyID, staged.ID)
	if err != nil {
		t.Fatalf("IsReadyToPost: unexpected error: %v", err)
	}
	if rd.Ready {
		t.Fatal("record reported ready with an unallocated payment")
	}
	var gerr *GatingError
	if err := svc.MarkCompleted(ctx, companyID, staged.ID, "TX-2026-0314"); !errors.As(err, &gerr) {
		t.Fatalf("MarkCompleted before allocation = %v, want *GatingError", err)
	}
	if len(gerr.UnallocatedPayments) != 1 {
		t.Errorf("gating error payments = %v, want the credit card fragment", gerr.UnallocatedPayments)
	}

	// Allocating the payment satisfies the gate and promotes the status.
	if err := svc.AllocatePayment(ctx, companyID, staged.ID, 10, true); err != nil {
		t.Fatalf("AllocatePayment: unexpected error: %v", err)
	}
	if stored.Status != StatusMatched {
		t.Fatalf("status after allocation = %s, want %s", stored.Status, StatusMatched)
	}

	if err := svc.MarkCompleted(ctx, companyID, staged.ID, "TX-2026-0314"); err != nil {
		t.Fatalf("MarkCompleted: unexpected error: %v", err)
	}
	if stored.Status != StatusCompleted || stored.PostedTransactionRef != "TX-2026-0314" {
		t.Fatalf("completed record = %+v, want completed with transaction ref", stored)
	}

	// A second ingest of the same order is flagged, not staged.
	again := *rec
	again.SourceID = "email-78"
	stagedAgain, match, err := svc.Ingest(ctx, companyID, &again)
	if err != nil {
		t.Fatalf("repeat Ingest: unexpected error: %v", err)
	}
	if stagedAgain != nil {
		t.Fatal("repeat ingest staged a duplicate purchase")
	}
	if match == nil || match.Strategy != duplicate.StrategyOrderNumber || match.SourceID != "1" {
		t.Fatalf("repeat ingest match = %+v, want order-number duplicate of record 1", match)
	}
}
