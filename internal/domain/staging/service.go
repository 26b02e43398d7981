package staging

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"reckon/internal/domain/duplicate"
	"reckon/internal/domain/purchase"
)

// DuplicateChecker is the slice of the duplicate engine the lifecycle needs.
type DuplicateChecker interface {
	FindDuplicate(ctx context.Context, companyID int64, rec *purchase.Record) (*duplicate.Match, error)
}

// Service owns the staging record lifecycle and the posting gate.
type Service struct {
	repo Repository
	dups DuplicateChecker
}

func NewService(repo Repository, dups DuplicateChecker) *Service {
	return &Service{repo: repo, dups: dups}
}

// Ingest validates the incoming purchase and runs it through duplicate
// detection. When a duplicate is found the record is NOT staged and the match
// is returned so the caller can decide what to do with it. Otherwise the
// record is staged as pending.
func (s *Service) Ingest(ctx context.Context, companyID int64, rec *purchase.Record) (*Record, *duplicate.Match, error) {
	if err := rec.Validate(); err != nil {
		return nil, nil, err
	}

	match, err := s.dups.FindDuplicate(ctx, companyID, rec)
	if err != nil {
		return nil, nil, fmt.Errorf("duplicate check failed: %w", err)
	}
	if match != nil {
		return nil, match, nil
	}

	staged := &Record{
		PublicID:  uuid.NewString(),
		CompanyID: companyID,
		Status:    StatusPending,
		Purchase:  *rec,
	}
	id, err := s.repo.Create(ctx, staged)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stage purchase: %w", err)
	}
	staged.ID = id
	return staged, nil, nil
}

func (s *Service) Get(ctx context.Context, companyID, id int64) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load staging record: %w", err)
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

// IsReadyToPost evaluates the posting gate for the record. The report is
// advisory: MarkCompleted re-validates inside the completing transaction.
func (s *Service) IsReadyToPost(ctx context.Context, companyID, id int64) (*Readiness, error) {
	rec, err := s.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	rd := rec.CheckReadiness()
	return &rd, nil
}

// Transition moves the record to the given advisory status, validating the
// state machine. The matched and completed states are not reachable here;
// they are owned by RecomputeStatus and MarkCompleted.
func (s *Service) Transition(ctx context.Context, companyID, id int64, to Status) error {
	if to == StatusMatched || to == StatusCompleted || to == StatusDuplicate {
		return fmt.Errorf("%w: %s is not directly assignable", ErrInvalidTransition, to)
	}
	rec, err := s.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if rec.Status == StatusCompleted {
		return ErrCompletedImmutable
	}
	if !CanTransition(rec.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, to)
	}
	return s.repo.SetStatus(ctx, companyID, id, to)
}

// RecomputeStatus re-derives the matched/processing status from the gate:
// pending and processing records become matched once everything is resolved
// and allocated, and a matched record falls back to processing when the gate
// no longer holds. Returns the status after the call.
func (s *Service) RecomputeStatus(ctx context.Context, companyID, id int64) (Status, error) {
	rec, err := s.Get(ctx, companyID, id)
	if err != nil {
		return "", err
	}
	ready := rec.CheckReadiness().Ready

	switch {
	case ready && (rec.Status == StatusPending || rec.Status == StatusProcessing):
		if err := s.repo.SetStatus(ctx, companyID, id, StatusMatched); err != nil {
			return "", fmt.Errorf("failed to update status: %w", err)
		}
		return StatusMatched, nil
	case !ready && rec.Status == StatusMatched:
		if err := s.repo.SetStatus(ctx, companyID, id, StatusProcessing); err != nil {
			return "", fmt.Errorf("failed to update status: %w", err)
		}
		return StatusProcessing, nil
	default:
		return rec.Status, nil
	}
}

// MarkCompleted is the posting collaborator's success callback. The gate is
// re-validated inside the repository transaction under a row lock; a stale
// readiness report is never trusted. A gate failure is returned as a
// *GatingError enumerating the blockers.
func (s *Service) MarkCompleted(ctx context.Context, companyID, id int64, txRef string) error {
	rec, err := s.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	switch rec.Status {
	case StatusCompleted:
		return ErrCompletedImmutable
	case StatusDuplicate:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusCompleted)
	}

	unresolvedItems, unallocatedPayments, err := s.repo.CompleteIfReady(ctx, companyID, id, txRef)
	if err != nil {
		return fmt.Errorf("failed to complete staging record: %w", err)
	}
	if len(unresolvedItems) > 0 || len(unallocatedPayments) > 0 {
		return &GatingError{UnresolvedItems: unresolvedItems, UnallocatedPayments: unallocatedPayments}
	}
	return nil
}

// MarkError is the posting collaborator's failure callback. The record stays
// editable and re-attemptable.
func (s *Service) MarkError(ctx context.Context, companyID, id int64, reason string) error {
	rec, err := s.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if rec.Status == StatusCompleted {
		return ErrCompletedImmutable
	}
	if !CanTransition(rec.Status, StatusError) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusError)
	}
	if err := s.repo.SetError(ctx, companyID, id, reason); err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}
	return nil
}

// MarkDuplicate short-circuits the record to its terminal duplicate status,
// keeping it (and which record it duplicates) as an audit trail.
func (s *Service) MarkDuplicate(ctx context.Context, companyID, id int64, of *duplicate.Match) error {
	rec, err := s.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if rec.Status == StatusCompleted {
		return ErrCompletedImmutable
	}
	if !CanTransition(rec.Status, StatusDuplicate) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusDuplicate)
	}
	if err := s.repo.SetDuplicate(ctx, companyID, id, of); err != nil {
		return fmt.Errorf("failed to mark duplicate: %w", err)
	}
	return nil
}

// Delete removes a non-completed record together with its line items and
// payment fragments.
func (s *Service) Delete(ctx context.Context, companyID, id int64) error {
	rec, err := s.Get(ctx, companyID, id)
	if err != nil {
		return err
	}
	if rec.Status == StatusCompleted {
		return ErrCompletedImmutable
	}
	if err := s.repo.Delete(ctx, companyID, id); err != nil {
		return fmt.Errorf("failed to delete staging record: %w", err)
	}
	return nil
}

// AllocatePayment flips the allocation-complete flag of one payment fragment
// and re-derives the record status from the gate.
func (s *Service) AllocatePayment(ctx context.Context, companyID, stagingID, paymentID int64, allocated bool) error {
	rec, err := s.Get(ctx, companyID, stagingID)
	if err != nil {
		return err
	}
	if rec.Status == StatusCompleted {
		return ErrCompletedImmutable
	}

	found := false
	for i := range rec.Purchase.Payments {
		if rec.Purchase.Payments[i].ID == paymentID {
			found = true
			break
		}
	}
	if !found {
		return ErrPaymentNotFound
	}

	if err := s.repo.SetPaymentAllocated(ctx, companyID, stagingID, paymentID, allocated); err != nil {
		return fmt.Errorf("failed to update payment allocation: %w", err)
	}

	if _, err := s.RecomputeStatus(ctx, companyID, stagingID); err != nil {
		log.Printf("Warning: failed to recompute status for staging record %d: %v", stagingID, err)
	}
	return nil
}
