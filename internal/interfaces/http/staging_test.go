package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reckon/internal/domain/duplicate"
	"reckon/internal/domain/purchase"
	"reckon/internal/domain/staging"
)

// MockStagingRepo implements staging.Repository for testing
type MockStagingRepo struct {
	CreateFunc              func(ctx context.Context, rec *staging.Record) (int64, error)
	GetByIDFunc             func(ctx context.Context, companyID, id int64) (*staging.Record, error)
	CompleteIfReadyFunc     func(ctx context.Context, companyID, id int64, txRef string) ([]string, []string, error)
	SetPaymentAllocatedFunc func(ctx context.Context, companyID, stagingID, paymentID int64, allocated bool) error
	DeleteFunc              func(ctx context.Context, companyID, id int64) error
}

func (m *MockStagingRepo) Create(ctx context.Context, rec *staging.Record) (int64, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, rec)
	}
	return 1, nil
}
func (m *MockStagingRepo) GetByID(ctx context.Context, companyID, id int64) (*staging.Record, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, companyID, id)
	}
	return nil, nil
}
func (m *MockStagingRepo) GetByPublicID(ctx context.Context, companyID int64, publicID string) (*staging.Record, error) {
	return nil, nil
}
func (m *MockStagingRepo) ListByStatus(ctx context.Context, companyID int64, status staging.Status, limit, offset int) ([]*staging.Record, error) {
	return nil, nil
}
func (m *MockStagingRepo) SetStatus(ctx context.Context, companyID, id int64, status staging.Status) error {
	return nil
}
func (m *MockStagingRepo) CompleteIfReady(ctx context.Context, companyID, id int64, txRef string) ([]string, []string, error) {
	if m.CompleteIfReadyFunc != nil {
		return m.CompleteIfReadyFunc(ctx, companyID, id, txRef)
	}
	return nil, nil, nil
}
func (m *MockStagingRepo) SetError(ctx context.Context, companyID, id int64, reason string) error {
	return nil
}
func (m *MockStagingRepo) SetDuplicate(ctx context.Context, companyID, id int64, of *duplicate.Match) error {
	return nil
}
func (m *MockStagingRepo) Delete(ctx context.Context, companyID, id int64) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, companyID, id)
	}
	return nil
}
func (m *MockStagingRepo) SetPaymentAllocated(ctx context.Context, companyID, stagingID, paymentID int64, allocated bool) error {
	if m.SetPaymentAllocatedFunc != nil {
		return m.SetPaymentAllocatedFunc(ctx, companyID, stagingID, paymentID, allocated)
	}
	return nil
}

// MockDuplicateChecker implements staging.DuplicateChecker for testing
type MockDuplicateChecker struct {
	FindDuplicateFunc func(ctx context.Context, companyID int64, rec *purchase.Record) (*duplicate.Match, error)
}

func (m *MockDuplicateChecker) FindDuplicate(ctx context.Context, companyID int64, rec *purchase.Record) (*duplicate.Match, error) {
	if m.FindDuplicateFunc != nil {
		return m.FindDuplicateFunc(ctx, companyID, rec)
	}
	return nil, nil
}

func ingestBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	rec := purchase.Record{
		Source:       purchase.SourceAPI,
		SourceID:     "api-1",
		OrderNumber:  "111-2223334-5556667",
		PurchaseDate: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Total:        49.98,
		Items: []purchase.LineItem{
			{Position: 1, ProductName: "Wireless Bluetooth Headphones", Quantity: 2, UnitPrice: 24.99, TotalPrice: 49.98},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(rec); err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	return &buf
}

func TestHandleIngest(t *testing.T) {
	tests := []struct {
		name           string
		companyHeader  string
		repo           *MockStagingRepo
		dups           *MockDuplicateChecker
		expectedStatus int
	}{
		{
			name:           "Created",
			companyHeader:  "1",
			repo:           &MockStagingRepo{},
			dups:           &MockDuplicateChecker{},
			expectedStatus: http.StatusCreated,
		},
		{
			name:          "DuplicateReported",
			companyHeader: "1",
			repo:          &MockStagingRepo{},
			dups: &MockDuplicateChecker{
				FindDuplicateFunc: func(ctx context.Context, companyID int64, rec *purchase.Record) (*duplicate.Match, error) {
					return &duplicate.Match{Source: purchase.SourceEmail, SourceID: "em-1", Confidence: 100, Strategy: duplicate.StrategyOrderNumber}, nil
				},
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name:          "ConcurrentBackstop",
			companyHeader: "1",
			repo: &MockStagingRepo{
				CreateFunc: func(ctx context.Context, rec *staging.Record) (int64, error) {
					return 0, staging.ErrAlreadyStaged
				},
			},
			dups:           &MockDuplicateChecker{},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "MissingCompanyHeader",
			companyHeader:  "",
			repo:           &MockStagingRepo{},
			dups:           &MockDuplicateChecker{},
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := staging.NewService(tt.repo, tt.dups)
			handler := NewStagingHandler(svc, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/purchases", ingestBody(t))
			if tt.companyHeader != "" {
				req.Header.Set(CompanyIDHeader, tt.companyHeader)
			}
			rr := httptest.NewRecorder()

			handler.HandleIngest(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.expectedStatus, rr.Body.String())
			}
		})
	}
}

func TestHandleIngest_ValidationProblemsListed(t *testing.T) {
	svc := staging.NewService(&MockStagingRepo{}, &MockDuplicateChecker{})
	handler := NewStagingHandler(svc, nil)

	body := bytes.NewBufferString(`{"source":"api","sourceId":"x"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/purchases", body)
	req.Header.Set(CompanyIDHeader, "1")
	rr := httptest.NewRecorder()

	handler.HandleIngest(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Problems) == 0 {
		t.Error("expected validation problems to be enumerated")
	}
}

func TestHandleStagingRecord_Readiness(t *testing.T) {
	repo := &MockStagingRepo{
		GetByIDFunc: func(ctx context.Context, companyID, id int64) (*staging.Record, error) {
			return &staging.Record{ID: id, CompanyID: companyID, Status: staging.StatusProcessing, Purchase: purchase.Record{
				Items: []purchase.LineItem{{Position: 1, ProductName: "Carrying Case"}},
			}}, nil
		},
	}
	svc := staging.NewService(repo, &MockDuplicateChecker{})
	handler := NewStagingHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/staging/5/ready", nil)
	req.Header.Set(CompanyIDHeader, "1")
	rr := httptest.NewRecorder()

	handler.HandleStagingRecord(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var rd staging.Readiness
	if err := json.NewDecoder(rr.Body).Decode(&rd); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rd.Ready || len(rd.UnresolvedItems) != 1 {
		t.Errorf("readiness = %+v, want not ready with one unresolved item", rd)
	}
}

func TestHandleStagingRecord_CompleteGateFailure(t *testing.T) {
	repo := &MockStagingRepo{
		GetByIDFunc: func(ctx context.Context, companyID, id int64) (*staging.Record, error) {
			return &staging.Record{ID: id, Status: staging.StatusProcessing}, nil
		},
		CompleteIfReadyFunc: func(ctx context.Context, companyID, id int64, txRef string) ([]string, []string, error) {
			return []string{"Carrying Case"}, nil, nil
		},
	}
	svc := staging.NewService(repo, &MockDuplicateChecker{})
	handler := NewStagingHandler(svc, nil)

	body := bytes.NewBufferString(`{"transactionRef":"TX-1001"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/staging/5/complete", body)
	req.Header.Set(CompanyIDHeader, "1")
	rr := httptest.NewRecorder()

	handler.HandleStagingRecord(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %s)", rr.Code, rr.Body.String())
	}
	var resp struct {
		UnresolvedItems []string `json:"unresolvedItems"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.UnresolvedItems) != 1 || resp.UnresolvedItems[0] != "Carrying Case" {
		t.Errorf("unresolvedItems = %v", resp.UnresolvedItems)
	}
}

func TestHandleStagingRecord_DeleteCompletedConflict(t *testing.T) {
	repo := &MockStagingRepo{
		GetByIDFunc: func(ctx context.Context, companyID, id int64) (*staging.Record, error) {
			return &staging.Record{ID: id, Status: staging.StatusCompleted}, nil
		},
	}
	svc := staging.NewService(repo, &MockDuplicateChecker{})
	handler := NewStagingHandler(svc, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/staging/5", nil)
	req.Header.Set(CompanyIDHeader, "1")
	rr := httptest.NewRecorder()

	handler.HandleStagingRecord(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rr.Code)
	}
}

func TestHandleStagingRecord_AllocatePayment(t *testing.T) {
	allocated := false
	repo := &MockStagingRepo{
		GetByIDFunc: func(ctx context.Context, companyID, id int64) (*staging.Record, error) {
			return &staging.Record{ID: id, Status: staging.StatusProcessing, Purchase: purchase.Record{
				Payments: []purchase.PaymentFragment{{ID: 10, Method: purchase.PaymentCreditCard, Amount: 49.98}},
			}}, nil
		},
		SetPaymentAllocatedFunc: func(ctx context.Context, companyID, stagingID, paymentID int64, alloc bool) error {
			allocated = alloc
			return nil
		},
	}
	svc := staging.NewService(repo, &MockDuplicateChecker{})
	handler := NewStagingHandler(svc, nil)

	body := bytes.NewBufferString(`{"allocated":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/staging/5/payments/10/allocate", body)
	req.Header.Set(CompanyIDHeader, "1")
	rr := httptest.NewRecorder()

	handler.HandleStagingRecord(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204 (body %s)", rr.Code, rr.Body.String())
	}
	if !allocated {
		t.Error("allocation was not persisted")
	}
}

func TestHandleStagingRecord_NotFound(t *testing.T) {
	svc := staging.NewService(&MockStagingRepo{}, &MockDuplicateChecker{})
	handler := NewStagingHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/staging/99", nil)
	req.Header.Set(CompanyIDHeader, "1")
	rr := httptest.NewRecorder()

	handler.HandleStagingRecord(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}
