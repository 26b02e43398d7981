package staging

import (
	"context"

	"reckon/internal/domain/duplicate"
)

// Repository persists staging records and their owned line items and payment
// fragments. Implementations return (nil, nil) when a record does not exist.
type Repository interface {
	// Create inserts the record with its items and payments in one
	// transaction. A unique-violation on (company_id, order_number) is
	// mapped to ErrAlreadyStaged: the last-resort backstop against two
	// concurrent ingests of the same purchase.
	Create(ctx context.Context, rec *Record) (int64, error)
	GetByID(ctx context.Context, companyID, id int64) (*Record, error)
	GetByPublicID(ctx context.Context, companyID int64, publicID string) (*Record, error)
	ListByStatus(ctx context.Context, companyID int64, status Status, limit, offset int) ([]*Record, error)
	SetStatus(ctx context.Context, companyID, id int64, status Status) error
	// CompleteIfReady locks the record row, re-validates the posting gate
	// and, only when it holds, stores the transaction reference and moves
	// the record to completed, all inside one transaction. When the gate
	// fails it returns the blocking items and payments and changes nothing.
	CompleteIfReady(ctx context.Context, companyID, id int64, txRef string) (unresolvedItems, unallocatedPayments []string, err error)
	SetError(ctx context.Context, companyID, id int64, reason string) error
	SetDuplicate(ctx context.Context, companyID, id int64, of *duplicate.Match) error
	// Delete removes the record; owned items and payments go with it via
	// cascade.
	Delete(ctx context.Context, companyID, id int64) error
	SetPaymentAllocated(ctx context.Context, companyID, stagingID, paymentID int64, allocated bool) error
}
