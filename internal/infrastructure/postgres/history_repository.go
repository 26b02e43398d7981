package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"reckon/internal/domain/matching"
)

type MatchHistoryRepository struct {
	db *DB
}

func NewMatchHistoryRepository(db *DB) *MatchHistoryRepository {
	return &MatchHistoryRepository{db: db}
}

func (r *MatchHistoryRepository) Append(ctx context.Context, params matching.AppendHistoryParams) (*matching.HistoryEntry, error) {
	query := `
		INSERT INTO match_history (company_id, marketplace_id, seller_sku, product_name, stock_id, match_type, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, company_id, marketplace_id, seller_sku, product_name, stock_id, match_type, confidence, created_at
	`

	var entry matching.HistoryEntry
	var marketplaceID, sku sql.NullString

	err := r.db.QueryRowContext(ctx, query,
		params.CompanyID, nullString(params.MarketplaceID), nullString(params.SKU),
		params.ProductName, params.StockID, params.Type, params.Confidence,
	).Scan(
		&entry.ID, &entry.CompanyID, &marketplaceID, &sku,
		&entry.ProductName, &entry.StockID, &entry.Type, &entry.Confidence, &entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append match history: %w", err)
	}

	entry.MarketplaceID = marketplaceID.String
	entry.SKU = sku.String
	return &entry, nil
}

func (r *MatchHistoryRepository) Stats(ctx context.Context, companyID int64) ([]matching.TypeCount, error) {
	query := `
		SELECT match_type, COUNT(*)
		FROM match_history
		WHERE company_id = $1
		GROUP BY match_type
		ORDER BY COUNT(*) DESC
	`

	rows, err := r.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query match stats: %w", err)
	}
	defer rows.Close()

	var counts []matching.TypeCount
	for rows.Next() {
		var tc matching.TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan match stats: %w", err)
		}
		counts = append(counts, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match stats: %w", err)
	}

	return counts, nil
}
