package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// DefaultCategory is assigned to items whose category could not be inferred.
const DefaultCategory = "uncategorized"

// DefaultCurrency is used when the receipt does not state a currency.
const DefaultCurrency = "USD"

// PurchaseItem is one line of a receipt.
type PurchaseItem struct {
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  decimal.Decimal `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Purchase represents one normalized receipt transaction.
// This is a domain struct, not a storage row; each store backend maps it
// into its own schema.
type Purchase struct {
	ID            string          `json:"id"`
	Merchant      string          `json:"merchant"`
	Date          *civil.Date     `json:"date"` // nil when the date could not be resolved
	Items         []PurchaseItem  `json:"items"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	RawText       string          `json:"raw_text"`

	NeedsReview bool     `json:"needs_review"`
	ReviewNotes []string `json:"review_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// FlagForReview marks the purchase for human follow-up with a diagnostic reason.
func (p *Purchase) FlagForReview(reason string) {
	p.NeedsReview = true
	p.ReviewNotes = append(p.ReviewNotes, reason)
}

// Correct turns p into a user correction of stored. Identity and creation
// time come from stored, and the review flag and its notes are cleared.
// Currency and raw text fall back to the stored values when p omits them.
func (p *Purchase) Correct(stored *Purchase) {
	p.ID = stored.ID
	p.CreatedAt = stored.CreatedAt
	if p.Currency == "" {
		p.Currency = stored.Currency
	}
	if p.RawText == "" {
		p.RawText = stored.RawText
	}
	if p.Items == nil {
		p.Items = []PurchaseItem{}
	}
	p.NeedsReview = false
	p.ReviewNotes = nil
}

// ItemsTotal returns the sum of all item line totals.
func (p *Purchase) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range p.Items {
		sum = sum.Add(it.LineTotal)
	}
	return sum
}

// Clone returns a deep copy so stores never share slices with callers.
func (p *Purchase) Clone() *Purchase {
	if p == nil {
		return nil
	}
	c := *p
	if p.Date != nil {
		d := *p.Date
		c.Date = &d
	}
	if p.Items != nil {
		c.Items = append([]PurchaseItem(nil), p.Items...)
	}
	if p.ReviewNotes != nil {
		c.ReviewNotes = append([]string(nil), p.ReviewNotes...)
	}
	return &c
}
