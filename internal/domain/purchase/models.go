// Package purchase defines the record shapes handed over by the importers
// (marketplace API, scraped email, OCR PDF) and the boundary validation that
// runs exactly once before a record may enter duplicate detection. Downstream
// components never re-check field presence.
package purchase

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Source identifies which importer produced a record.
type Source string

const (
	SourceAPI   Source = "api"
	SourceEmail Source = "email"
	SourcePDF   Source = "pdf"
	// SourceStaging marks records that already live in the staging table,
	// used when duplicate detection reports an existing record.
	SourceStaging Source = "staging"
)

// AmountTolerance is the absolute tolerance applied wherever two monetary
// amounts are compared for equality.
const AmountTolerance = 0.01

// PaymentMethod enumerates how a payment fragment was made.
type PaymentMethod string

const (
	PaymentCreditCard   PaymentMethod = "credit-card"
	PaymentBankTransfer PaymentMethod = "bank-transfer"
	PaymentWallet       PaymentMethod = "wallet"
	PaymentGiftCard     PaymentMethod = "gift-card"
	PaymentPoints       PaymentMethod = "points"
	PaymentSplit        PaymentMethod = "split"
)

// Record is a candidate purchase extracted by an importer. It is not yet
// committed anywhere; the duplicate-detection engine consumes it once and
// either rejects it or hands it to staging.
type Record struct {
	Source          Source    `json:"source"`
	SourceID        string    `json:"sourceId"`
	OrderNumber     string    `json:"orderNumber"`
	InvoiceNumber   string    `json:"invoiceNumber"`
	PurchaseDate    time.Time `json:"purchaseDate"`
	Total           float64   `json:"total"`
	Currency        string    `json:"currency"`
	TaxAmount       float64   `json:"taxAmount"`
	ShippingAmount  float64   `json:"shippingAmount"`
	BillingAddress  string    `json:"billingAddress,omitempty"`
	ShippingAddress string    `json:"shippingAddress,omitempty"`
	Items           []LineItem
	Payments        []PaymentFragment
	// RawPayload is the importer's original extraction output, kept opaque
	// for audit.
	RawPayload []byte `json:"-"`
}

// LineItem is one purchased product line. ID is zero until the record is
// staged.
type LineItem struct {
	ID            int64   `json:"id,omitempty"`
	Position      int     `json:"position"`
	ProductName   string  `json:"productName"`
	MarketplaceID string  `json:"marketplaceId,omitempty"`
	SellerSKU     string  `json:"sellerSku,omitempty"`
	Quantity      int     `json:"quantity"`
	UnitPrice     float64 `json:"unitPrice"`
	TotalPrice    float64 `json:"totalPrice"`
	StockID       string  `json:"stockId,omitempty"`
	Matched       bool    `json:"matched"`
	// MatchType records the provenance of the resolved match:
	// exact-id, exact-sku, rule, fuzzy-name, manual or auto.
	MatchType string `json:"matchType,omitempty"`
	ItemCode  string `json:"itemCode,omitempty"`
}

// Resolved reports whether the line item has been matched to a stock item.
func (li *LineItem) Resolved() bool {
	return li.Matched && li.StockID != ""
}

// Label returns the human-readable identity of the item for error reporting.
func (li *LineItem) Label() string {
	if li.ProductName != "" {
		return li.ProductName
	}
	if li.MarketplaceID != "" {
		return li.MarketplaceID
	}
	return fmt.Sprintf("line %d", li.Position)
}

// PaymentFragment is one part of how the purchase was paid. ID is zero until
// the record is staged.
type PaymentFragment struct {
	ID        int64         `json:"id,omitempty"`
	Method    PaymentMethod `json:"method"`
	Reference string        `json:"reference,omitempty"`
	Amount    float64       `json:"amount"`
	AccountID string        `json:"accountId,omitempty"`
	// Allocated is set once the fragment has been assigned to a concrete
	// ledger account.
	Allocated bool `json:"allocated"`
}

// Label returns the human-readable identity of the fragment for error
// reporting.
func (pf *PaymentFragment) Label() string {
	if pf.Reference != "" {
		return fmt.Sprintf("%s (%s)", pf.Method, pf.Reference)
	}
	return string(pf.Method)
}

// ValidationError reports a malformed record. Callers must reject the record
// before staging.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid purchase record: " + strings.Join(e.Problems, "; ")
}

var validSources = map[Source]bool{
	SourceAPI:   true,
	SourceEmail: true,
	SourcePDF:   true,
}

// Validate checks the record once at the importer boundary. It returns a
// *ValidationError listing every problem found, or nil.
func (r *Record) Validate() error {
	var problems []string

	if !validSources[r.Source] {
		problems = append(problems, fmt.Sprintf("unknown source %q", r.Source))
	}
	if r.OrderNumber == "" && r.InvoiceNumber == "" {
		problems = append(problems, "missing both order number and invoice number")
	}
	if r.Total <= 0 {
		problems = append(problems, "total must be positive")
	}
	if r.PurchaseDate.IsZero() {
		problems = append(problems, "missing purchase date")
	}
	if len(r.Items) == 0 {
		problems = append(problems, "record has no line items")
	}

	seen := make(map[int]bool, len(r.Items))
	for i := range r.Items {
		item := &r.Items[i]
		if item.Position < 1 {
			problems = append(problems, fmt.Sprintf("item %q: position must be >= 1", item.Label()))
		} else if seen[item.Position] {
			problems = append(problems, fmt.Sprintf("duplicate line position %d", item.Position))
		}
		seen[item.Position] = true

		if item.ProductName == "" {
			problems = append(problems, fmt.Sprintf("line %d: missing product name", item.Position))
		}
		if item.Quantity < 1 {
			problems = append(problems, fmt.Sprintf("item %q: quantity must be >= 1", item.Label()))
		}
		if item.UnitPrice < 0 {
			problems = append(problems, fmt.Sprintf("item %q: unit price must be >= 0", item.Label()))
		}
		expected := float64(item.Quantity) * item.UnitPrice
		if item.Quantity >= 1 && math.Abs(item.TotalPrice-expected) > AmountTolerance {
			problems = append(problems, fmt.Sprintf(
				"item %q: total price %.2f does not reconcile with %d x %.2f",
				item.Label(), item.TotalPrice, item.Quantity, item.UnitPrice))
		}
	}

	for i := range r.Payments {
		p := &r.Payments[i]
		if p.Amount <= 0 {
			problems = append(problems, fmt.Sprintf("payment %q: amount must be positive", p.Label()))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// PaymentsTotal sums all payment fragment amounts. The sum is expected to
// equal the record total within tolerance; the mismatch is surfaced by the
// gating check, not enforced here.
func (r *Record) PaymentsTotal() float64 {
	var sum float64
	for i := range r.Payments {
		sum += r.Payments[i].Amount
	}
	return sum
}
