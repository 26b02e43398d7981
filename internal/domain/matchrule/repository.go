package matchrule

import (
	"context"
)

// Repository defines the interface for matching rule data access.
type Repository interface {
	// Create creates a new rule.
	Create(ctx context.Context, params CreateRuleParams) (*Rule, error)

	// GetByID returns a rule by its ID, or (nil, nil) when absent.
	GetByID(ctx context.Context, id int64) (*Rule, error)

	// ListByCompany returns rules for a company ordered by priority asc,
	// confidence desc, id asc. With activeOnly set, inactive rules are
	// excluded.
	ListByCompany(ctx context.Context, companyID int64, activeOnly bool) ([]*Rule, error)

	// SetActive activates or deactivates a rule.
	SetActive(ctx context.Context, id int64, active bool) error

	// Delete removes a rule. Deactivation is preferred; deletion exists for
	// explicit admin cleanup only.
	Delete(ctx context.Context, id int64) error
}
