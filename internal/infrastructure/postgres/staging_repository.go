package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"reckon/internal/domain/duplicate"
	"reckon/internal/domain/purchase"
	"reckon/internal/domain/staging"
)

const uniqueViolation = "23505"

type StagingRepository struct {
	db *DB
}

func NewStagingRepository(db *DB) *StagingRepository {
	return &StagingRepository{db: db}
}

func (r *StagingRepository) Create(ctx context.Context, rec *staging.Record) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO staging_purchases (
			public_id, company_id, status, source, source_id,
			order_number, invoice_number, purchase_date, total, currency,
			tax_amount, shipping_amount, billing_address, shipping_address,
			notes, raw_payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`

	p := &rec.Purchase
	var id int64
	err = tx.QueryRowContext(ctx, query,
		rec.PublicID, rec.CompanyID, rec.Status, p.Source, p.SourceID,
		p.OrderNumber, nullString(p.InvoiceNumber), p.PurchaseDate, p.Total, p.Currency,
		p.TaxAmount, p.ShippingAmount, nullString(p.BillingAddress), nullString(p.ShippingAddress),
		nullString(rec.Notes), nullBytes(p.RawPayload),
	).Scan(&id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return 0, staging.ErrAlreadyStaged
		}
		return 0, fmt.Errorf("failed to insert staging record: %w", err)
	}

	for i := range p.Items {
		li := &p.Items[i]
		err = tx.QueryRowContext(ctx, `
			INSERT INTO purchase_items (
				staging_id, position, product_name, marketplace_id, seller_sku,
				quantity, unit_price, total_price, stock_id, matched, match_type, item_code
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id
		`,
			id, li.Position, li.ProductName, nullString(li.MarketplaceID), nullString(li.SellerSKU),
			li.Quantity, li.UnitPrice, li.TotalPrice, nullString(li.StockID), li.Matched,
			nullString(li.MatchType), nullString(li.ItemCode),
		).Scan(&li.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to insert line item: %w", err)
		}
	}

	for i := range p.Payments {
		pf := &p.Payments[i]
		err = tx.QueryRowContext(ctx, `
			INSERT INTO purchase_payments (staging_id, method, reference, amount, account_id, allocated)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`,
			id, pf.Method, nullString(pf.Reference), pf.Amount, nullString(pf.AccountID), pf.Allocated,
		).Scan(&pf.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to insert payment fragment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return id, nil
}

const stagingColumns = `
	id, public_id, company_id, status, source, source_id,
	order_number, invoice_number, purchase_date, total, currency,
	tax_amount, shipping_amount, billing_address, shipping_address,
	notes, error_reason, posted_transaction_ref, raw_payload, created_at, updated_at
`

func (r *StagingRepository) GetByID(ctx context.Context, companyID, id int64) (*staging.Record, error) {
	query := `SELECT ` + stagingColumns + ` FROM staging_purchases WHERE company_id = $1 AND id = $2`
	return r.getOne(ctx, query, companyID, id)
}

func (r *StagingRepository) GetByPublicID(ctx context.Context, companyID int64, publicID string) (*staging.Record, error) {
	query := `SELECT ` + stagingColumns + ` FROM staging_purchases WHERE company_id = $1 AND public_id = $2`
	return r.getOne(ctx, query, companyID, publicID)
}

func (r *StagingRepository) getOne(ctx context.Context, query string, args ...any) (*staging.Record, error) {
	rec, err := scanStagingRecord(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get staging record: %w", err)
	}

	if err := r.loadChildren(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *StagingRepository) ListByStatus(ctx context.Context, companyID int64, status staging.Status, limit, offset int) ([]*staging.Record, error) {
	query := `
		SELECT ` + stagingColumns + `
		FROM staging_purchases
		WHERE company_id = $1 AND status = $2
		ORDER BY id ASC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.QueryContext(ctx, query, companyID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list staging records: %w", err)
	}
	defer rows.Close()

	var records []*staging.Record
	for rows.Next() {
		rec, err := scanStagingRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan staging record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating staging records: %w", err)
	}

	for _, rec := range records {
		if err := r.loadChildren(ctx, rec); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// CompaniesWithRecords returns every company id that has at least one
// staging record. Used by the admin CLI's --all mode.
func (r *StagingRepository) CompaniesWithRecords(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT company_id FROM staging_purchases ORDER BY company_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan company id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating companies: %w", err)
	}
	return ids, nil
}

func (r *StagingRepository) SetStatus(ctx context.Context, companyID, id int64, status staging.Status) error {
	query := `
		UPDATE staging_purchases
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE company_id = $2 AND id = $3
	`
	return r.execExpectingRow(ctx, query, status, companyID, id)
}

// CompleteIfReady re-validates the posting gate under a row lock before
// moving the record to completed. Two concurrent completion attempts
// serialize on the lock; the loser sees either the completed status or the
// current gate state.
func (r *StagingRepository) CompleteIfReady(ctx context.Context, companyID, id int64, txRef string) (unresolvedItems, unallocatedPayments []string, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status staging.Status
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM staging_purchases WHERE company_id = $1 AND id = $2 FOR UPDATE`,
		companyID, id,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, nil, staging.ErrRecordNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock staging record: %w", err)
	}
	if status == staging.StatusCompleted {
		return nil, nil, staging.ErrCompletedImmutable
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT product_name, marketplace_id, position
		FROM purchase_items
		WHERE staging_id = $1 AND (matched = false OR stock_id IS NULL OR stock_id = '')
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check unresolved items: %w", err)
	}
	for rows.Next() {
		var li purchase.LineItem
		var marketplaceID sql.NullString
		if err := rows.Scan(&li.ProductName, &marketplaceID, &li.Position); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan unresolved item: %w", err)
		}
		li.MarketplaceID = marketplaceID.String
		unresolvedItems = append(unresolvedItems, li.Label())
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating unresolved items: %w", err)
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT method, reference
		FROM purchase_payments
		WHERE staging_id = $1 AND allocated = false
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check unallocated payments: %w", err)
	}
	for rows.Next() {
		var pf purchase.PaymentFragment
		var reference sql.NullString
		if err := rows.Scan(&pf.Method, &reference); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan unallocated payment: %w", err)
		}
		pf.Reference = reference.String
		unallocatedPayments = append(unallocatedPayments, pf.Label())
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating unallocated payments: %w", err)
	}

	// Gate failure: change nothing, report the blockers.
	if len(unresolvedItems) > 0 || len(unallocatedPayments) > 0 {
		return unresolvedItems, unallocatedPayments, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE staging_purchases
		SET status = $1, posted_transaction_ref = $2, updated_at = CURRENT_TIMESTAMP
		WHERE company_id = $3 AND id = $4
	`, staging.StatusCompleted, txRef, companyID, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to complete staging record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil, nil, nil
}

func (r *StagingRepository) SetError(ctx context.Context, companyID, id int64, reason string) error {
	query := `
		UPDATE staging_purchases
		SET status = $1, error_reason = $2, updated_at = CURRENT_TIMESTAMP
		WHERE company_id = $3 AND id = $4
	`
	return r.execExpectingRow(ctx, query, staging.StatusError, reason, companyID, id)
}

func (r *StagingRepository) SetDuplicate(ctx context.Context, companyID, id int64, of *duplicate.Match) error {
	payload, err := json.Marshal(of)
	if err != nil {
		return fmt.Errorf("failed to encode duplicate info: %w", err)
	}

	query := `
		UPDATE staging_purchases
		SET status = $1, duplicate_of = $2, updated_at = CURRENT_TIMESTAMP
		WHERE company_id = $3 AND id = $4
	`
	return r.execExpectingRow(ctx, query, staging.StatusDuplicate, payload, companyID, id)
}

// Delete removes the record; purchase_items and purchase_payments rows go
// with it via ON DELETE CASCADE.
func (r *StagingRepository) Delete(ctx context.Context, companyID, id int64) error {
	query := `DELETE FROM staging_purchases WHERE company_id = $1 AND id = $2`
	return r.execExpectingRow(ctx, query, companyID, id)
}

func (r *StagingRepository) SetPaymentAllocated(ctx context.Context, companyID, stagingID, paymentID int64, allocated bool) error {
	query := `
		UPDATE purchase_payments p
		SET allocated = $1
		FROM staging_purchases s
		WHERE p.staging_id = s.id AND s.company_id = $2 AND p.staging_id = $3 AND p.id = $4
	`

	result, err := r.db.ExecContext(ctx, query, allocated, companyID, stagingID, paymentID)
	if err != nil {
		return fmt.Errorf("failed to update payment allocation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return staging.ErrPaymentNotFound
	}
	return nil
}

func (r *StagingRepository) execExpectingRow(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update staging record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return staging.ErrRecordNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStagingRecord(row rowScanner) (*staging.Record, error) {
	var rec staging.Record
	var invoiceNumber, billingAddress, shippingAddress sql.NullString
	var notes, errorReason, postedRef sql.NullString
	var rawPayload []byte

	err := row.Scan(
		&rec.ID, &rec.PublicID, &rec.CompanyID, &rec.Status,
		&rec.Purchase.Source, &rec.Purchase.SourceID,
		&rec.Purchase.OrderNumber, &invoiceNumber, &rec.Purchase.PurchaseDate,
		&rec.Purchase.Total, &rec.Purchase.Currency,
		&rec.Purchase.TaxAmount, &rec.Purchase.ShippingAmount,
		&billingAddress, &shippingAddress,
		&notes, &errorReason, &postedRef, &rawPayload,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Purchase.InvoiceNumber = invoiceNumber.String
	rec.Purchase.BillingAddress = billingAddress.String
	rec.Purchase.ShippingAddress = shippingAddress.String
	rec.Purchase.RawPayload = rawPayload
	rec.Notes = notes.String
	rec.ErrorReason = errorReason.String
	rec.PostedTransactionRef = postedRef.String
	return &rec, nil
}

func (r *StagingRepository) loadChildren(ctx context.Context, rec *staging.Record) error {
	items, err := loadLineItems(ctx, r.db, rec.ID)
	if err != nil {
		return err
	}
	rec.Purchase.Items = items

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, method, reference, amount, account_id, allocated
		FROM purchase_payments
		WHERE staging_id = $1
		ORDER BY id ASC
	`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to load payment fragments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pf purchase.PaymentFragment
		var reference, accountID sql.NullString
		if err := rows.Scan(&pf.ID, &pf.Method, &reference, &pf.Amount, &accountID, &pf.Allocated); err != nil {
			return fmt.Errorf("failed to scan payment fragment: %w", err)
		}
		pf.Reference = reference.String
		pf.AccountID = accountID.String
		rec.Purchase.Payments = append(rec.Purchase.Payments, pf)
	}
	return rows.Err()
}

// loadLineItems is shared with the item store.
func loadLineItems(ctx context.Context, db *DB, stagingID int64) ([]purchase.LineItem, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, position, product_name, marketplace_id, seller_sku,
		       quantity, unit_price, total_price, stock_id, matched, match_type, item_code
		FROM purchase_items
		WHERE staging_id = $1
		ORDER BY position ASC
	`, stagingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load line items: %w", err)
	}
	defer rows.Close()

	var items []purchase.LineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *li)
	}
	return items, rows.Err()
}

func scanLineItem(row rowScanner) (*purchase.LineItem, error) {
	var li purchase.LineItem
	var marketplaceID, sellerSKU, stockID, matchType, itemCode sql.NullString

	err := row.Scan(
		&li.ID, &li.Position, &li.ProductName, &marketplaceID, &sellerSKU,
		&li.Quantity, &li.UnitPrice, &li.TotalPrice, &stockID, &li.Matched,
		&matchType, &itemCode,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan line item: %w", err)
	}

	li.MarketplaceID = marketplaceID.String
	li.SellerSKU = sellerSKU.String
	li.StockID = stockID.String
	li.MatchType = matchType.String
	li.ItemCode = itemCode.String
	return &li, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
