package matchrule

import (
	"context"
	"fmt"
)

// Service handles business logic for matching rules.
type Service struct {
	repo Repository
}

// NewService creates a new matching rule service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Add validates and persists a new rule, returning its id.
func (s *Service) Add(ctx context.Context, params CreateRuleParams) (int64, error) {
	if err := params.Validate(); err != nil {
		return 0, fmt.Errorf("invalid rule: %w", err)
	}

	rule, err := s.repo.Create(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("failed to create rule: %w", err)
	}
	return rule.ID, nil
}

// List returns a company's rules in evaluation order.
func (s *Service) List(ctx context.Context, companyID int64, activeOnly bool) ([]*Rule, error) {
	return s.repo.ListByCompany(ctx, companyID, activeOnly)
}

// SetActive flips a rule's active flag, verifying ownership.
func (s *Service) SetActive(ctx context.Context, companyID, ruleID int64, active bool) error {
	if err := s.checkOwnership(ctx, companyID, ruleID); err != nil {
		return err
	}
	return s.repo.SetActive(ctx, ruleID, active)
}

// Delete removes a rule, verifying ownership.
func (s *Service) Delete(ctx context.Context, companyID, ruleID int64) error {
	if err := s.checkOwnership(ctx, companyID, ruleID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, ruleID)
}

func (s *Service) checkOwnership(ctx context.Context, companyID, ruleID int64) error {
	rule, err := s.repo.GetByID(ctx, ruleID)
	if err != nil {
		return err
	}
	if rule == nil {
		return ErrRuleNotFound
	}
	if rule.CompanyID != companyID {
		return ErrForbidden
	}
	return nil
}

// Matches reports whether the rule applies to the given item field values.
// The caller supplies the field the rule type targets.
func (r *Rule) Matches(marketplaceID, sku, name string, unitPrice float64) bool {
	switch r.Type {
	case TypeExactID:
		return marketplaceID != "" && MatchValue(r.Pattern, marketplaceID)
	case TypeExactSKU:
		return sku != "" && MatchValue(r.Pattern, sku)
	case TypeExactName, TypeKeyword:
		return name != "" && MatchValue(r.Pattern, name)
	case TypePriceRange:
		return MatchPrice(r.Pattern, unitPrice)
	default:
		return false
	}
}
