package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"reckon/internal/domain/duplicate"
	"reckon/internal/domain/purchase"
)

// DuplicateSourceRepository searches every table a purchase can already live
// in: the staging table plus the raw email and PDF import logs.
type DuplicateSourceRepository struct {
	db *DB
}

func NewDuplicateSourceRepository(db *DB) *DuplicateSourceRepository {
	return &DuplicateSourceRepository{db: db}
}

// crossSourceQuery unions the three source tables into one ExistingRecord
// shape. The staging side excludes records already marked duplicate so a
// marked record is never reported as the surviving counterpart.
const crossSourceQuery = `
	SELECT 'staging' AS source, id::text AS source_id, order_number, invoice_number,
	       purchase_date, total, COALESCE(billing_address, '') AS billing_address
	FROM staging_purchases
	WHERE company_id = $1 AND status <> 'duplicate' AND %[1]s
	UNION ALL
	SELECT 'email', id::text, order_number, invoice_number,
	       purchase_date, total, COALESCE(billing_address, '')
	FROM email_import_log
	WHERE company_id = $1 AND status <> 'duplicate' AND %[1]s
	UNION ALL
	SELECT 'pdf', id::text, order_number, invoice_number,
	       purchase_date, total, COALESCE(billing_address, '')
	FROM pdf_import_log
	WHERE company_id = $1 AND status <> 'duplicate' AND %[1]s
`

func (r *DuplicateSourceRepository) FindByOrderNumber(ctx context.Context, companyID int64, orderNumber string) ([]*duplicate.ExistingRecord, error) {
	query := fmt.Sprintf(crossSourceQuery, "order_number = $2")
	return r.queryRecords(ctx, query, companyID, orderNumber)
}

func (r *DuplicateSourceRepository) FindByInvoiceNumber(ctx context.Context, companyID int64, invoiceNumber string) ([]*duplicate.ExistingRecord, error) {
	query := fmt.Sprintf(crossSourceQuery, "invoice_number = $2")
	return r.queryRecords(ctx, query, companyID, invoiceNumber)
}

func (r *DuplicateSourceRepository) FindByDateAndTotal(ctx context.Context, companyID int64, day time.Time, total, tolerance float64) ([]*duplicate.ExistingRecord, error) {
	query := fmt.Sprintf(crossSourceQuery, "purchase_date::date = $2::date AND ABS(total - $3) <= $4")
	return r.queryRecords(ctx, query, companyID, day, total, tolerance)
}

func (r *DuplicateSourceRepository) FindStagedByTotalAndItemCount(ctx context.Context, companyID int64, total, tolerance float64, itemCount int) ([]*duplicate.ExistingRecord, error) {
	query := `
		SELECT 'staging', s.id::text, s.order_number, s.invoice_number,
		       s.purchase_date, s.total, COALESCE(s.billing_address, '')
		FROM staging_purchases s
		WHERE s.company_id = $1 AND s.status <> 'duplicate'
		  AND ABS(s.total - $2) <= $3
		  AND (SELECT COUNT(*) FROM purchase_items pi WHERE pi.staging_id = s.id) = $4
		ORDER BY s.id ASC
	`

	records, err := r.queryRecords(ctx, query, companyID, total, tolerance, itemCount)
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *DuplicateSourceRepository) ListStagedPending(ctx context.Context, companyID int64, limit, offset int) ([]*duplicate.ExistingRecord, error) {
	query := `
		SELECT 'staging', id::text, order_number, invoice_number,
		       purchase_date, total, COALESCE(billing_address, '')
		FROM staging_purchases
		WHERE company_id = $1 AND status = 'pending'
		ORDER BY id ASC
		LIMIT $2 OFFSET $3
	`

	records, err := r.queryRecords(ctx, query, companyID, limit, offset)
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *DuplicateSourceRepository) MarkDuplicate(ctx context.Context, companyID int64, source purchase.Source, sourceID string, of *duplicate.Match) error {
	var table string
	switch source {
	case purchase.SourceStaging:
		table = "staging_purchases"
	case purchase.SourceEmail:
		table = "email_import_log"
	case purchase.SourcePDF:
		table = "pdf_import_log"
	default:
		return duplicate.ErrSourceRecordNotFound
	}

	payload, err := json.Marshal(of)
	if err != nil {
		return fmt.Errorf("failed to encode duplicate info: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'duplicate', duplicate_of = $1, updated_at = CURRENT_TIMESTAMP
		WHERE company_id = $2 AND id = $3::bigint
	`, table)

	result, err := r.db.ExecContext(ctx, query, payload, companyID, sourceID)
	if err != nil {
		return fmt.Errorf("failed to mark %s record as duplicate: %w", source, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return duplicate.ErrSourceRecordNotFound
	}
	return nil
}

func (r *DuplicateSourceRepository) queryRecords(ctx context.Context, query string, args ...any) ([]*duplicate.ExistingRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search source records: %w", err)
	}
	defer rows.Close()

	var records []*duplicate.ExistingRecord
	for rows.Next() {
		var er duplicate.ExistingRecord
		var orderNumber, invoiceNumber sql.NullString
		var purchaseDate sql.NullTime

		err := rows.Scan(&er.Source, &er.SourceID, &orderNumber, &invoiceNumber, &purchaseDate, &er.Total, &er.BillingAddress)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source record: %w", err)
		}

		er.OrderNumber = orderNumber.String
		er.InvoiceNumber = invoiceNumber.String
		er.PurchaseDate = purchaseDate.Time
		records = append(records, &er)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source records: %w", err)
	}

	return records, nil
}

// loadItems fills Items for staged records, needed by the item-combination
// strategy and the retroactive scan.
func (r *DuplicateSourceRepository) loadItems(ctx context.Context, records []*duplicate.ExistingRecord) error {
	for _, er := range records {
		var stagingID int64
		if _, err := fmt.Sscan(er.SourceID, &stagingID); err != nil {
			return fmt.Errorf("unexpected staging source id %q: %w", er.SourceID, err)
		}
		items, err := loadLineItems(ctx, r.db, stagingID)
		if err != nil {
			return err
		}
		er.Items = items
	}
	return nil
}
