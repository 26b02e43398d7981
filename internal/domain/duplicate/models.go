// Package duplicate decides whether a freshly extracted purchase record is a
// re-import of something already staged or logged. Strategies are evaluated
// independently and every hit is kept; the highest confidence wins, with the
// strategy evaluation order breaking exact ties.
package duplicate

import (
	"context"
	"errors"
	"time"

	"reckon/internal/domain/purchase"
)

var ErrSourceRecordNotFound = errors.New("source record not found")

// Strategy names which detector produced a duplicate hit.
type Strategy string

const (
	StrategyOrderNumber      Strategy = "order-number"
	StrategyInvoiceNumber    Strategy = "invoice-number"
	StrategyDateTotalAddress Strategy = "date-total-address"
	StrategyItemSet          Strategy = "item-combination"
)

// Match is the outcome of duplicate detection: the one existing record the
// new one most likely duplicates. It carries the existing record's
// identifying fields - never bare internal ids - so a human can judge the
// call.
type Match struct {
	Source        purchase.Source `json:"source"`
	SourceID      string          `json:"sourceId"`
	OrderNumber   string          `json:"orderNumber,omitempty"`
	InvoiceNumber string          `json:"invoiceNumber,omitempty"`
	PurchaseDate  time.Time       `json:"purchaseDate"`
	Total         float64         `json:"total"`
	Confidence    int             `json:"confidence"`
	Strategy      Strategy        `json:"matchCriteria"`
}

// ExistingRecord is the search view over already-staged purchases and the
// raw email/PDF import logs. Items are populated only by the candidate-pool
// query used by the item-combination strategy.
type ExistingRecord struct {
	Source         purchase.Source
	SourceID       string
	OrderNumber    string
	InvoiceNumber  string
	PurchaseDate   time.Time
	Total          float64
	BillingAddress string
	Items          []purchase.LineItem
}

// Repository defines the read/mark interface over every table a duplicate
// can live in: staged purchases plus the raw email and PDF import logs.
type Repository interface {
	// FindByOrderNumber returns records with this exact order number across
	// all source tables.
	FindByOrderNumber(ctx context.Context, companyID int64, orderNumber string) ([]*ExistingRecord, error)

	// FindByInvoiceNumber returns records with this exact invoice or receipt
	// number across all source tables.
	FindByInvoiceNumber(ctx context.Context, companyID int64, invoiceNumber string) ([]*ExistingRecord, error)

	// FindByDateAndTotal returns records purchased on the same calendar day
	// with a total within the absolute tolerance.
	FindByDateAndTotal(ctx context.Context, companyID int64, day time.Time, total, tolerance float64) ([]*ExistingRecord, error)

	// FindStagedByTotalAndItemCount returns staged purchases (items
	// included) whose total is within tolerance and whose item count equals
	// itemCount.
	FindStagedByTotalAndItemCount(ctx context.Context, companyID int64, total, tolerance float64, itemCount int) ([]*ExistingRecord, error)

	// ListStagedPending pages through pending staged purchases (items
	// included) for retroactive scans.
	ListStagedPending(ctx context.Context, companyID int64, limit, offset int) ([]*ExistingRecord, error)

	// MarkDuplicate transitions the record identified by source/sourceID to
	// its terminal duplicate status in whichever table it lives, recording
	// which record it duplicates. Data is never deleted.
	MarkDuplicate(ctx context.Context, companyID int64, source purchase.Source, sourceID string, of *Match) error
}
