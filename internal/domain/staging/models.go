package staging

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"reckon/internal/domain/purchase"
)

var (
	ErrRecordNotFound     = errors.New("staging record not found")
	ErrAlreadyStaged      = errors.New("a staging record with this order number already exists")
	ErrCompletedImmutable = errors.New("completed staging records cannot be modified or deleted")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrPaymentNotFound    = errors.New("payment fragment not found on this staging record")
)

// Status is the lifecycle state of a staging record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusMatched    Status = "matched"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusDuplicate  Status = "duplicate"
)

// validTransitions encodes the state machine. completed and duplicate are
// terminal; error keeps the record editable and re-attemptable.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusMatched, StatusError, StatusDuplicate},
	StatusProcessing: {StatusPending, StatusMatched, StatusError, StatusDuplicate},
	StatusMatched:    {StatusProcessing, StatusCompleted, StatusError, StatusDuplicate},
	StatusError:      {StatusPending, StatusProcessing, StatusMatched, StatusDuplicate},
	StatusCompleted:  {},
	StatusDuplicate:  {},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Record is the aggregate root: one purchase plus its lifecycle state.
type Record struct {
	ID                   int64           `json:"id"`
	PublicID             string          `json:"publicId"`
	CompanyID            int64           `json:"companyId"`
	Status               Status          `json:"status"`
	Purchase             purchase.Record `json:"purchase"`
	Notes                string          `json:"notes,omitempty"`
	ErrorReason          string          `json:"errorReason,omitempty"`
	PostedTransactionRef string          `json:"postedTransactionRef,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// Readiness reports whether a record may be posted and, when it may not,
// which items and payments still block it.
type Readiness struct {
	Ready               bool     `json:"ready"`
	UnresolvedItems     []string `json:"unresolvedItems,omitempty"`
	UnallocatedPayments []string `json:"unallocatedPayments,omitempty"`
}

// CheckReadiness evaluates the posting gate: every line item resolved and
// every payment fragment allocation-complete.
func (r *Record) CheckReadiness() Readiness {
	var rd Readiness
	for i := range r.Purchase.Items {
		if !r.Purchase.Items[i].Resolved() {
			rd.UnresolvedItems = append(rd.UnresolvedItems, r.Purchase.Items[i].Label())
		}
	}
	for i := range r.Purchase.Payments {
		if !r.Purchase.Payments[i].Allocated {
			rd.UnallocatedPayments = append(rd.UnallocatedPayments, r.Purchase.Payments[i].Label())
		}
	}
	rd.Ready = len(rd.UnresolvedItems) == 0 && len(rd.UnallocatedPayments) == 0
	return rd
}

// GatingError rejects a completion attempt on a record that is not fully
// matched and allocated, enumerating everything still blocking it.
type GatingError struct {
	UnresolvedItems     []string
	UnallocatedPayments []string
}

func (e *GatingError) Error() string {
	var parts []string
	if len(e.UnresolvedItems) > 0 {
		parts = append(parts, fmt.Sprintf("unresolved items: %s", strings.Join(e.UnresolvedItems, ", ")))
	}
	if len(e.UnallocatedPayments) > 0 {
		parts = append(parts, fmt.Sprintf("unallocated payments: %s", strings.Join(e.UnallocatedPayments, ", ")))
	}
	if len(parts) == 0 {
		return "record is not ready to post"
	}
	return "record is not ready to post: " + strings.Join(parts, "; ")
}
