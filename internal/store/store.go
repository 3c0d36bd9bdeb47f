// Package store defines the purchase record store and the filter semantics
// shared by every backend.
package store

import (
	"context"
	"iter"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/receipt-assistant/internal/domain"
)

// PurchaseStore persists purchases and answers filtered queries.
// Implementations must be safe for concurrent use.
type PurchaseStore interface {
	// Append stores p and returns its ID. A purchase without an ID gets a new one.
	// Appending an ID that already exists replaces the stored record in place.
	Append(ctx context.Context, p *domain.Purchase) (string, error)

	// Query returns a lazy sequence of purchases matching f in insertion order.
	// Each range over the sequence reads storage again.
	Query(ctx context.Context, f Filter) iter.Seq2[*domain.Purchase, error]

	// Get returns the purchase with the given ID or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Purchase, error)

	// Replace overwrites an existing purchase. Returns domain.ErrNotFound if id is unknown.
	Replace(ctx context.Context, id string, p *domain.Purchase) error

	// Delete removes a purchase. Returns domain.ErrNotFound if id is unknown.
	Delete(ctx context.Context, id string) error

	Close() error
}

// Filter is a conjunction of optional criteria. The zero Filter matches everything.
type Filter struct {
	From *civil.Date
	To   *civil.Date

	// Merchant matches case-insensitively, as a substring unless ExactMerchant is set.
	Merchant      string
	ExactMerchant bool

	// Category matches when any item carries it, case-insensitively.
	Category string
}

// DateBounded reports whether the filter restricts dates.
func (f Filter) DateBounded() bool {
	return f.From != nil || f.To != nil
}

// Matches reports whether p satisfies every criterion of f.
func (f Filter) Matches(p *domain.Purchase) bool {
	if p == nil {
		return false
	}

	if f.DateBounded() {
		if p.Date == nil {
			return false
		}
		if f.From != nil && p.Date.Before(*f.From) {
			return false
		}
		if f.To != nil && p.Date.After(*f.To) {
			return false
		}
	}

	if f.Merchant != "" {
		merchant := strings.ToLower(p.Merchant)
		want := strings.ToLower(f.Merchant)
		if f.ExactMerchant {
			if merchant != want {
				return false
			}
		} else if !strings.Contains(merchant, want) {
			return false
		}
	}

	if f.Category != "" {
		found := false
		for _, item := range p.Items {
			if strings.EqualFold(item.Category, f.Category) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// MonthFilter returns a filter covering every day of the given month.
func MonthFilter(year int, month time.Month) Filter {
	from := civil.Date{Year: year, Month: month, Day: 1}
	to := from.AddMonths(1).AddDays(-1)
	return Filter{From: &from, To: &to}
}

// Collect drains a query into a slice, stopping at the first error.
func Collect(seq iter.Seq2[*domain.Purchase, error]) ([]*domain.Purchase, error) {
	var out []*domain.Purchase
	for p, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
