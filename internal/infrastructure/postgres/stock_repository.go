package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"reckon/internal/domain/matching"
)

// StockRepository reads the external bookkeeping stock table. This core never
// writes stock items; suggestions are computed, not persisted.
type StockRepository struct {
	db *DB
}

func NewStockRepository(db *DB) *StockRepository {
	return &StockRepository{db: db}
}

const stockColumns = `id, description, long_description, supplier_reference, sku, unit_price`

func (r *StockRepository) FindBySupplierReference(ctx context.Context, companyID int64, ref string) ([]*matching.StockItem, error) {
	query := `
		SELECT ` + stockColumns + `
		FROM stock_items
		WHERE company_id = $1 AND (supplier_reference = $2 OR id = $2)
		ORDER BY id ASC
	`
	return r.queryStock(ctx, query, companyID, ref)
}

func (r *StockRepository) FindBySKU(ctx context.Context, companyID int64, sku string) ([]*matching.StockItem, error) {
	query := `
		SELECT ` + stockColumns + `
		FROM stock_items
		WHERE company_id = $1 AND (sku = $2 OR id = $2 OR supplier_reference = $2)
		ORDER BY id ASC
	`
	return r.queryStock(ctx, query, companyID, sku)
}

func (r *StockRepository) SearchByTokens(ctx context.Context, companyID int64, tokens []string) ([]*matching.StockItem, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	patterns := make([]string, len(tokens))
	for i, tok := range tokens {
		patterns[i] = "%" + strings.ToLower(tok) + "%"
	}

	query := `
		SELECT ` + stockColumns + `
		FROM stock_items
		WHERE company_id = $1
		  AND (LOWER(description) LIKE ANY($2) OR LOWER(long_description) LIKE ANY($2))
		ORDER BY id ASC
		LIMIT 200
	`
	return r.queryStock(ctx, query, companyID, pq.Array(patterns))
}

func (r *StockRepository) queryStock(ctx context.Context, query string, args ...any) ([]*matching.StockItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock items: %w", err)
	}
	defer rows.Close()

	var items []*matching.StockItem
	for rows.Next() {
		var it matching.StockItem
		var longDescription, supplierReference, sku sql.NullString
		var unitPrice sql.NullFloat64

		err := rows.Scan(&it.ID, &it.Description, &longDescription, &supplierReference, &sku, &unitPrice)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock item: %w", err)
		}

		it.LongDescription = longDescription.String
		it.SupplierReference = supplierReference.String
		it.SKU = sku.String
		it.UnitPrice = unitPrice.Float64
		items = append(items, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock items: %w", err)
	}

	return items, nil
}
