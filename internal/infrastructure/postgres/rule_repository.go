package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"reckon/internal/domain/matchrule"
)

// RuleChangeChannel is the LISTEN/NOTIFY channel announcing matching-rule
// writes. The payload is the company id whose rules changed.
const RuleChangeChannel = "matching_rules_changed"

type MatchRuleRepository struct {
	db *DB
}

func NewMatchRuleRepository(db *DB) *MatchRuleRepository {
	return &MatchRuleRepository{db: db}
}

func (r *MatchRuleRepository) Create(ctx context.Context, params matchrule.CreateRuleParams) (*matchrule.Rule, error) {
	query := `
		INSERT INTO matching_rules (company_id, rule_type, pattern, stock_id, confidence, priority, active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7)
		RETURNING id, company_id, rule_type, pattern, stock_id, confidence, priority, active, created_by, created_at
	`

	var rule matchrule.Rule
	var createdBy sql.NullString

	err := r.db.QueryRowContext(ctx, query,
		params.CompanyID, params.Type, params.Pattern, params.StockID,
		params.Confidence, params.Priority, params.CreatedBy,
	).Scan(
		&rule.ID, &rule.CompanyID, &rule.Type, &rule.Pattern, &rule.StockID,
		&rule.Confidence, &rule.Priority, &rule.Active, &createdBy, &rule.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create matching rule: %w", err)
	}
	if createdBy.Valid {
		rule.CreatedBy = createdBy.String
	}

	r.notifyRuleChange(ctx, rule.CompanyID)
	return &rule, nil
}

func (r *MatchRuleRepository) GetByID(ctx context.Context, id int64) (*matchrule.Rule, error) {
	query := `
		SELECT id, company_id, rule_type, pattern, stock_id, confidence, priority, active, created_by, created_at
		FROM matching_rules
		WHERE id = $1
	`

	var rule matchrule.Rule
	var createdBy sql.NullString

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rule.ID, &rule.CompanyID, &rule.Type, &rule.Pattern, &rule.StockID,
		&rule.Confidence, &rule.Priority, &rule.Active, &createdBy, &rule.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get matching rule: %w", err)
	}
	if createdBy.Valid {
		rule.CreatedBy = createdBy.String
	}

	return &rule, nil
}

func (r *MatchRuleRepository) ListByCompany(ctx context.Context, companyID int64, activeOnly bool) ([]*matchrule.Rule, error) {
	query := `
		SELECT id, company_id, rule_type, pattern, stock_id, confidence, priority, active, created_by, created_at
		FROM matching_rules
		WHERE company_id = $1
	`
	if activeOnly {
		query += " AND active = true"
	}
	query += " ORDER BY priority ASC, confidence DESC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matching rules: %w", err)
	}
	defer rows.Close()

	var rules []*matchrule.Rule
	for rows.Next() {
		var rule matchrule.Rule
		var createdBy sql.NullString

		err := rows.Scan(
			&rule.ID, &rule.CompanyID, &rule.Type, &rule.Pattern, &rule.StockID,
			&rule.Confidence, &rule.Priority, &rule.Active, &createdBy, &rule.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan matching rule: %w", err)
		}
		if createdBy.Valid {
			rule.CreatedBy = createdBy.String
		}
		rules = append(rules, &rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matching rules: %w", err)
	}

	return rules, nil
}

func (r *MatchRuleRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE matching_rules SET active = $1 WHERE id = $2 RETURNING company_id`

	var companyID int64
	err := r.db.QueryRowContext(ctx, query, active, id).Scan(&companyID)
	if err == sql.ErrNoRows {
		return matchrule.ErrRuleNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update matching rule: %w", err)
	}

	r.notifyRuleChange(ctx, companyID)
	return nil
}

func (r *MatchRuleRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM matching_rules WHERE id = $1 RETURNING company_id`

	var companyID int64
	err := r.db.QueryRowContext(ctx, query, id).Scan(&companyID)
	if err == sql.ErrNoRows {
		return matchrule.ErrRuleNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete matching rule: %w", err)
	}

	r.notifyRuleChange(ctx, companyID)
	return nil
}

// notifyRuleChange announces the write so rule caches can invalidate their
// snapshot. Best effort: a lost notification only delays visibility.
func (r *MatchRuleRepository) notifyRuleChange(ctx context.Context, companyID int64) {
	if _, err := r.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, RuleChangeChannel, fmt.Sprint(companyID)); err != nil {
		log.Printf("Warning: failed to notify rule change for company %d: %v", companyID, err)
	}
}
