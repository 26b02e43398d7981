package duplicate

import (
	"context"
	"testing"
	"time"

	"reckon/internal/domain/purchase"
)

// MockDuplicateRepo implements Repository for testing
type MockDuplicateRepo struct {
	FindByOrderNumberFunc             func(ctx context.Context, companyID int64, orderNumber string) ([]*ExistingRecord, error)
	FindByInvoiceNumberFunc           func(ctx context.Context, companyID int64, invoiceNumber string) ([]*ExistingRecord, error)
	FindByDateAndTotalFunc            func(ctx context.Context, companyID int64, day time.Time, total, tolerance float64) ([]*ExistingRecord, error)
	FindStagedByTotalAndItemCountFunc func(ctx context.Context, companyID int64, total, tolerance float64, itemCount int) ([]*ExistingRecord, error)
	ListStagedPendingFunc             func(ctx context.Context, companyID int64, limit, offset int) ([]*ExistingRecord, error)
	MarkDuplicateFunc                 func(ctx context.Context, companyID int64, source purchase.Source, sourceID string, of *Match) error
}

func (m *MockDuplicateRepo) FindByOrderNumber(ctx context.Context, companyID int64, orderNumber string) ([]*ExistingRecord, error) {
	if m.FindByOrderNumberFunc != nil {
		return m.FindByOrderNumberFunc(ctx, companyID, orderNumber)
	}
	return nil, nil
}
func (m *MockDuplicateRepo) FindByInvoiceNumber(ctx context.Context, companyID int64, invoiceNumber string) ([]*ExistingRecord, error) {
	if m.FindByInvoiceNumberFunc != nil {
		return m.FindByInvoiceNumberFunc(ctx, companyID, invoiceNumber)
	}
	return nil, nil
}
func (m *MockDuplicateRepo) FindByDateAndTotal(ctx context.Context, companyID int64, day time.Time, total, tolerance float64) ([]*ExistingRecord, error) {
	if m.FindByDateAndTotalFunc != nil {
		return m.FindByDateAndTotalFunc(ctx, companyID, day, total, tolerance)
	}
	return nil, nil
}
func (m *MockDuplicateRepo) FindStagedByTotalAndItemCount(ctx context.Context, companyID int64, total, tolerance float64, itemCount int) ([]*ExistingRecord, error) {
	if m.FindStagedByTotalAndItemCountFunc != nil {
		return m.FindStagedByTotalAndItemCountFunc(ctx, companyID, total, tolerance, itemCount)
	}
	return nil, nil
}
func (m *MockDuplicateRepo) ListStagedPending(ctx context.Context, companyID int64, limit, offset int) ([]*ExistingRecord, error) {
	if m.ListStagedPendingFunc != nil {
		return m.ListStagedPendingFunc(ctx, companyID, limit, offset)
	}
	return nil, nil
}
func (m *MockDuplicateRepo) MarkDuplicate(ctx context.Context, companyID int64, source purchase.Source, sourceID string, of *Match) error {
	if m.MarkDuplicateFunc != nil {
		return m.MarkDuplicateFunc(ctx, companyID, source, sourceID, of)
	}
	return nil
}

func newRecord() *purchase.Record {
	return &purchase.Record{
		Source:       purchase.SourceAPI,
		SourceID:     "api-9",
		OrderNumber:  "123-4567890-1234567",
		PurchaseDate: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Total:        49.98,
		Items: []purchase.LineItem{
			{Position: 1, ProductName: "Wireless Bluetooth Headphones", Quantity: 2, UnitPrice: 24.99, TotalPrice: 49.98},
		},
	}
}

func TestFindDuplicate_OrderNumberAcrossSources(t *testing.T) {
	invoiceSearched := false
	repo := &MockDuplicateRepo{
		FindByOrderNumberFunc: func(ctx context.Context, companyID int64, orderNumber string) ([]*ExistingRecord, error) {
			if orderNumber != "123-4567890-1234567" {
				t.Errorf("orderNumber = %q", orderNumber)
			}
			// Hit lives in the email log, not staging: sources differ.
			return []*ExistingRecord{{Source: purchase.SourceEmail, SourceID: "em-3", OrderNumber: orderNumber}}, nil
		},
		FindByInvoiceNumberFunc: func(ctx context.Context, companyID int64, invoiceNumber string) ([]*ExistingRecord, error) {
			invoiceSearched = true
			return nil, nil
		},
	}
	svc := NewService(DefaultConfig(), repo)

	rec := newRecord()
	rec.InvoiceNumber = "INV-1"
	match, err := svc.FindDuplicate(context.Background(), 1, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match == nil {
		t.Fatal("expected a duplicate match")
	}
	if match.Confidence != 100 || match.Strategy != StrategyOrderNumber {
		t.Errorf("match = %+v, want confidence 100 via order-number", match)
	}
	if match.Source != purchase.SourceEmail || match.SourceID != "em-3" {
		t.Errorf("match identifies %s/%s, want email/em-3", match.Source, match.SourceID)
	}
	if invoiceSearched {
		t.Error("later strategies ran although the ceiling score was already reached")
	}
}

func TestFindDuplicate_InvoiceNumber(t *testing.T) {
	repo := &MockDuplicateRepo{
		FindByInvoiceNumberFunc: func(ctx context.Context, companyID int64, invoiceNumber string) ([]*ExistingRecord, error) {
			return []*ExistingRecord{{Source: purchase.SourceStaging, SourceID: "42", InvoiceNumber: invoiceNumber}}, nil
		},
	}
	svc := NewService(DefaultConfig(), repo)

	rec := newRecord()
	rec.OrderNumber = ""
	rec.InvoiceNumber = "INV-2031"
	match, err := svc.FindDuplicate(context.Background(), 1, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match == nil || match.Confidence != 95 || match.Strategy != StrategyInvoiceNumber {
		t.Errorf("match = %+v, want confidence 95 via invoice-number", match)
	}
}

func TestFindDuplicate_DateTotalAddressBand(t *testing.T) {
	// Same day, bit-equal totals, near-identical addresses: the composite
	// strategy must land in the 80-90 band.
	repo := &MockDuplicateRepo{
		FindByDateAndTotalFunc: func(ctx context.Context, companyID int64, day time.Time, total, tolerance float64) ([]*ExistingRecord, error) {
			return []*ExistingRecord{{
				Source:         purchase.SourceStaging,
				SourceID:       "42",
				PurchaseDate:   day,
				Total:          total,
				BillingAddress: "123 Main Street, Springfield IL 62704",
			}}, nil
		},
	}
	svc := NewService(DefaultConfig(), repo)

	rec := newRecord()
	rec.OrderNumber = ""
	rec.BillingAddress = "123 Main St, Springfield IL 62704"
	match, err := svc.FindDuplicate(context.Background(), 1, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match == nil {
		t.Fatal("expected a duplicate match")
	}
	if match.Strategy != StrategyDateTotalAddress {
		t.Errorf("strategy = %v, want date-total-address", match.Strategy)
	}
	if match.Confidence < 80 || match.Confidence > 90 {
		t.Errorf("confidence = %d, want within [80, 90]", match.Confidence)
	}
}

func TestFindDuplicate_DateTotalAddress_NoAddressNoBonus(t *testing.T) {
	repo := &MockDuplicateRepo{
		FindByDateAndTotalFunc: func(ctx context.Context, companyID int64, day time.Time, total, tolerance float64) ([]*ExistingRecord, error) {
			return []*ExistingRecord{{Source: purchase.SourceStaging, SourceID: "42", Total: total + 0.005}}, nil
		},
	}
	svc := NewService(DefaultConfig(), repo)

	rec := newRecord()
	rec.OrderNumber = ""
	match, err := svc.FindDuplicate(context.Background(), 1, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match == nil || match.Confidence != 70 {
		t.Errorf("match = %+v, want bare base confidence 70", match)
	}
}

func TestFindDuplicate_ItemCombination(t *testing.T) {
	var gotTolerance float64
	repo := &MockDuplicateRepo{
		FindStagedByTotalAndItemCountFunc: func(ctx context.Context, companyID int64, total, tolerance float64, itemCount int) ([]*ExistingRecord, error) {
			gotTolerance = tolerance
			if itemCount != 1 {
				t.Errorf("itemCount = %d, want 1", itemCount)
			}
			return []*ExistingRecord{{
				Source:   purchase.SourceStaging,
				SourceID: "42",
				Total:    total,
				Items: []purchase.LineItem{
					{Position: 1, ProductName: "Wireless Bluetooth Headphones", Quantity: 2, UnitPrice: 24.99},
				},
			}}, nil
		},
	}
	svc := NewService(DefaultConfig(), repo)

	rec := newRecord()
	rec.OrderNumber = ""
	rec.PurchaseDate = time.Time{} // disable strategy 3
	match, err := svc.FindDuplicate(context.Background(), 1, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match == nil || match.Strategy != StrategyItemSet {
		t.Fatalf("match = %+v, want item-combination hit", match)
	}
	// All items matched: fraction 1.0, confidence capped at 75.
	if match.Confidence != 75 {
		t.Errorf("confidence = %d, want 75", match.Confidence)
	}
	// Tolerance floor: 5% of 49.98 is ~2.50, above the 1.00 minimum.
	if gotTolerance < 2.49 || gotTolerance > 2.51 {
		t.Errorf("tolerance = %v, want about 2.50", gotTolerance)
	}
}

func TestFindDuplicate_ItemCombination_RejectsLowFraction(t *testing.T) {
	repo := &MockDuplicateRepo{
		FindStagedByTotalAndItemCountFunc: func(ctx context.Context, companyID int64, total, tolerance float64, itemCount int) ([]*ExistingRecord, error) {
			return []*ExistingRecord{{
				Source:   purchase.SourceStaging,
				SourceID: "42",
				Items: []purchase.LineItem{
					{Position: 1, ProductName: "Industrial Paint Thinner", Quantity: 1, UnitPrice: 3.50},
					{Position: 2, ProductName: "Garden Hose", Quantity: 1, UnitPrice: 8.00},
				},
			}}, nil
		},
	}
	svc := NewService(DefaultConfig(), repo)

	rec := newRecord()
	rec.OrderNumber = ""
	rec.PurchaseDate = time.Time{}
	rec.Items = append(rec.Items, purchase.LineItem{Position: 2, ProductName: "USB Charging Cable", Quantity: 1, UnitPrice: 9.99, TotalPrice: 9.99})

	match, err := svc.FindDuplicate(context.Background(), 1, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match != nil {
		t.Errorf("dissimilar item sets matched: %+v", match)
	}
}

func TestFindDuplicate_HigherScoreWinsAcrossStrategies(t *testing.T) {
	// Strategy 3 scores 70 here; strategy 4 would score 75. The higher
	// score wins even though strategy 3 runs first.
	repo := &MockDuplicateRepo{
		FindByDateAndTotalFunc: func(ctx context.Context, companyID int64, day time.Time, total, tolerance float64) ([]*ExistingRecord, error) {
			return []*ExistingRecord{{Source: purchase.SourceStaging, SourceID: "3", Total: total + 0.005}}, nil
		},
		FindStagedByTotalAndItemCountFunc: func(ctx context.Context, companyID int64, total, tolerance float64, itemCount int) ([]*ExistingRecord, error) {
			return []*ExistingRecord{{
				Source:   purchase.SourceStaging,
				SourceID: "4",
				Items: []purchase.LineItem{
					{Position: 1, ProductName: "Wireless Bluetooth Headphones", Quantity: 2, UnitPrice: 24.99},
				},
			}}, nil
		},
	}
	svc := NewService(DefaultConfig(), repo)

	rec := newRecord()
	rec.OrderNumber = ""
	match, err := svc.FindDuplicate(context.Background(), 1, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match == nil || match.SourceID != "4" || match.Confidence != 75 {
		t.Errorf("match = %+v, want item-combination hit on record 4 at 75", match)
	}
}

func TestFindDuplicate_NoMatchIsNotAnError(t *testing.T) {
	svc := NewService(DefaultConfig(), &MockDuplicateRepo{})

	match, err := svc.FindDuplicate(context.Background(), 1, newRecord())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match != nil {
		t.Errorf("expected no match, got %+v", match)
	}
}

func TestScanStaged_MarksOnlyOneSideOfAPair(t *testing.T) {
	// Two staged records share an order number. The scan must mark exactly
	// one of them, leaving a survivor.
	a := &ExistingRecord{Source: purchase.SourceStaging, SourceID: "1", OrderNumber: "111-000", Total: 10}
	b := &ExistingRecord{Source: purchase.SourceStaging, SourceID: "2", OrderNumber: "111-000", Total: 10}

	var marked []string
	repo := &MockDuplicateRepo{
		ListStagedPendingFunc: func(ctx context.Context, companyID int64, limit, offset int) ([]*ExistingRecord, error) {
			if offset > 0 {
				return nil, nil
			}
			return []*ExistingRecord{a, b}, nil
		},
		FindByOrderNumberFunc: func(ctx context.Context, companyID int64, orderNumber string) ([]*ExistingRecord, error) {
			return []*ExistingRecord{a, b}, nil
		},
		MarkDuplicateFunc: func(ctx context.Context, companyID int64, source purchase.Source, sourceID string, of *Match) error {
			marked = append(marked, sourceID)
			return nil
		},
	}
	svc := NewService(DefaultConfig(), repo)

	result, err := svc.ScanStaged(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RecordsChecked != 2 {
		t.Errorf("RecordsChecked = %d, want 2", result.RecordsChecked)
	}
	if result.DuplicatesFound != 2 {
		t.Errorf("DuplicatesFound = %d, want 2", result.DuplicatesFound)
	}
	if len(marked) != 1 {
		t.Errorf("marked %v, want exactly one record marked", marked)
	}
}

func TestScanStaged_PairDecisionIsWonOnce(t *testing.T) {
	// Whichever worker claims the pair first decides it. A second check of
	// the same pair, from either side, counts the find but marks nothing,
	// even when the record's own key has not been seen yet.
	a := &ExistingRecord{Source: purchase.SourceStaging, SourceID: "1", OrderNumber: "111-000", Total: 10}
	b := &ExistingRecord{Source: purchase.SourceStaging, SourceID: "2", OrderNumber: "111-000", Total: 10}

	var marked []string
	repo := &MockDuplicateRepo{
		FindByOrderNumberFunc: func(ctx context.Context, companyID int64, orderNumber string) ([]*ExistingRecord, error) {
			return []*ExistingRecord{a, b}, nil
		},
		MarkDuplicateFunc: func(ctx context.Context, companyID int64, source purchase.Source, sourceID string, of *Match) error {
			marked = append(marked, sourceID)
			return nil
		},
	}
	svc := NewService(DefaultConfig(), repo)

	tracker := &processedTracker{}
	if !tracker.claimPair(b.Source, b.SourceID, a.Source, a.SourceID) {
		t.Fatal("first claim of the pair should win")
	}

	found, markedCount, err := svc.checkStagedRecord(context.Background(), 1, a, tracker)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != 1 {
		t.Errorf("found = %d, want 1", found)
	}
	if markedCount != 0 {
		t.Errorf("marked count = %d, want 0 after the pair was already decided", markedCount)
	}
	if len(marked) != 0 {
		t.Errorf("marked %v, want no repository writes for a decided pair", marked)
	}
}
