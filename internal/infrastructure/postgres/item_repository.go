package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"reckon/internal/domain/matching"
	"reckon/internal/domain/purchase"
	"reckon/internal/domain/staging"
)

// PurchaseItemRepository is the matching engine's write path onto staged
// line items.
type PurchaseItemRepository struct {
	db *DB
}

func NewPurchaseItemRepository(db *DB) *PurchaseItemRepository {
	return &PurchaseItemRepository{db: db}
}

func (r *PurchaseItemRepository) UnmatchedItems(ctx context.Context, companyID, stagingID int64) ([]*purchase.LineItem, error) {
	query := `
		SELECT pi.id, pi.position, pi.product_name, pi.marketplace_id, pi.seller_sku,
		       pi.quantity, pi.unit_price, pi.total_price, pi.stock_id, pi.matched, pi.match_type, pi.item_code
		FROM purchase_items pi
		JOIN staging_purchases s ON pi.staging_id = s.id
		WHERE s.company_id = $1 AND pi.staging_id = $2
		  AND (pi.matched = false OR pi.stock_id IS NULL OR pi.stock_id = '')
		ORDER BY pi.position ASC
	`

	rows, err := r.db.QueryContext(ctx, query, companyID, stagingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load unmatched items: %w", err)
	}
	defer rows.Close()

	var items []*purchase.LineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, li)
	}
	return items, rows.Err()
}

func (r *PurchaseItemRepository) SetItemMatch(ctx context.Context, companyID, itemID int64, stockID string, matchType matching.Type) error {
	query := `
		UPDATE purchase_items pi
		SET stock_id = $1, matched = true, match_type = $2
		FROM staging_purchases s
		WHERE pi.staging_id = s.id AND s.company_id = $3 AND pi.id = $4
		  AND s.status NOT IN ($5, $6)
	`

	result, err := r.db.ExecContext(ctx, query,
		stockID, matchType, companyID, itemID,
		staging.StatusCompleted, staging.StatusDuplicate,
	)
	if err != nil {
		return fmt.Errorf("failed to update line item: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("line item %d not found or its record is no longer editable", itemID)
	}
	return nil
}

// ApplyMatches persists a decided batch in one transaction: every item
// update and its history row commit together or not at all. The staging row
// is locked first so the batch cannot race a concurrent delete or
// completion.
func (r *PurchaseItemRepository) ApplyMatches(ctx context.Context, companyID, stagingID int64, matches []matching.MatchApplication) (int, error) {
	if len(matches) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status staging.Status
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM staging_purchases WHERE company_id = $1 AND id = $2 FOR UPDATE`,
		companyID, stagingID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return 0, staging.ErrRecordNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock staging record: %w", err)
	}
	if status == staging.StatusCompleted || status == staging.StatusDuplicate {
		return 0, fmt.Errorf("staging record %d is %s and no longer editable", stagingID, status)
	}

	count := 0
	for _, m := range matches {
		result, err := tx.ExecContext(ctx, `
			UPDATE purchase_items
			SET stock_id = $1, matched = true, match_type = $2
			WHERE id = $3 AND staging_id = $4 AND matched = false
		`, m.StockID, m.Type, m.ItemID, stagingID)
		if err != nil {
			return 0, fmt.Errorf("failed to apply match for item %d: %w", m.ItemID, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			// Already resolved by an earlier run; skip without a history row.
			continue
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO match_history (company_id, marketplace_id, seller_sku, product_name, stock_id, match_type, confidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, companyID, nullString(m.MarketplaceID), nullString(m.SKU), m.ProductName, m.StockID, m.Type, m.Confidence)
		if err != nil {
			return 0, fmt.Errorf("failed to append match history for item %d: %w", m.ItemID, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return count, nil
}
