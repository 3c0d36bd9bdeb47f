package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/receipt-assistant/internal/domain"
)

// numericScale is the number of fractional digits BigQuery NUMERIC keeps.
const numericScale = 9

// PurchaseRow mirrors finance.purchases. Items are a repeated record so a
// purchase is always read and written as one row.
type PurchaseRow struct {
	PurchaseID    string            `bigquery:"purchase_id"`    // REQUIRED
	Merchant      string            `bigquery:"merchant"`       // REQUIRED
	PurchaseDate  bigquery.NullDate `bigquery:"purchase_date"`  // DATE, NULLABLE
	Total         *big.Rat          `bigquery:"total"`          // NUMERIC, REQUIRED
	Currency      string            `bigquery:"currency"`       // REQUIRED
	PaymentMethod string            `bigquery:"payment_method"` // NULLABLE
	RawText       string            `bigquery:"raw_text"`       // NULLABLE
	NeedsReview   bool              `bigquery:"needs_review"`   // REQUIRED
	ReviewNotes   []string          `bigquery:"review_notes"`   // REPEATED
	Items         []PurchaseItemRow `bigquery:"items"`          // REPEATED RECORD
	CreatedTS     time.Time         `bigquery:"created_ts"`     // REQUIRED
}

// PurchaseItemRow is one element of purchases.items.
type PurchaseItemRow struct {
	LineIndex int64    `bigquery:"line_index"`
	Name      string   `bigquery:"name"`
	Category  string   `bigquery:"category"`
	UnitPrice *big.Rat `bigquery:"unit_price"` // NUMERIC
	Quantity  *big.Rat `bigquery:"quantity"`   // NUMERIC
	LineTotal *big.Rat `bigquery:"line_total"` // NUMERIC
}

// PurchaseToRow converts a domain purchase into its BigQuery row.
func PurchaseToRow(p *domain.Purchase) *PurchaseRow {
	row := &PurchaseRow{
		PurchaseID:    p.ID,
		Merchant:      p.Merchant,
		Total:         p.Total.Rat(),
		Currency:      p.Currency,
		PaymentMethod: p.PaymentMethod,
		RawText:       p.RawText,
		NeedsReview:   p.NeedsReview,
		ReviewNotes:   append([]string{}, p.ReviewNotes...),
		Items:         make([]PurchaseItemRow, 0, len(p.Items)),
		CreatedTS:     p.CreatedAt,
	}
	if p.Date != nil {
		row.PurchaseDate = bigquery.NullDate{Date: *p.Date, Valid: true}
	}
	for i, item := range p.Items {
		row.Items = append(row.Items, PurchaseItemRow{
			LineIndex: int64(i),
			Name:      item.Name,
			Category:  item.Category,
			UnitPrice: item.UnitPrice.Rat(),
			Quantity:  item.Quantity.Rat(),
			LineTotal: item.LineTotal.Rat(),
		})
	}
	return row
}

// PurchaseFromRow converts a BigQuery row back into a domain purchase.
func PurchaseFromRow(row *PurchaseRow) (*domain.Purchase, error) {
	total, err := ratToDecimal(row.Total)
	if err != nil {
		return nil, fmt.Errorf("PurchaseFromRow: total of %s: %w", row.PurchaseID, err)
	}

	p := &domain.Purchase{
		ID:            row.PurchaseID,
		Merchant:      row.Merchant,
		Total:         total,
		Currency:      row.Currency,
		PaymentMethod: row.PaymentMethod,
		RawText:       row.RawText,
		NeedsReview:   row.NeedsReview,
		Items:         make([]domain.PurchaseItem, 0, len(row.Items)),
		CreatedAt:     row.CreatedTS,
	}
	if len(row.ReviewNotes) > 0 {
		p.ReviewNotes = append([]string{}, row.ReviewNotes...)
	}
	if row.PurchaseDate.Valid {
		d := row.PurchaseDate.Date
		p.Date = &d
	}

	for _, ir := range row.Items {
		item := domain.PurchaseItem{Name: ir.Name, Category: ir.Category}
		if item.UnitPrice, err = ratToDecimal(ir.UnitPrice); err != nil {
			return nil, fmt.Errorf("PurchaseFromRow: unit price of %q: %w", ir.Name, err)
		}
		if item.Quantity, err = ratToDecimal(ir.Quantity); err != nil {
			return nil, fmt.Errorf("PurchaseFromRow: quantity of %q: %w", ir.Name, err)
		}
		if item.LineTotal, err = ratToDecimal(ir.LineTotal); err != nil {
			return nil, fmt.Errorf("PurchaseFromRow: line total of %q: %w", ir.Name, err)
		}
		p.Items = append(p.Items, item)
	}

	return p, nil
}

func ratToDecimal(r *big.Rat) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(r.FloatString(numericScale))
}
