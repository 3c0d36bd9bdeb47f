package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/store"
)

// selectPurchases yields one row per item (or one row for an item-less purchase).
const selectPurchases = `
	SELECT
		p.id, p.merchant, p.purchase_date, p.total, p.currency,
		p.payment_method, p.raw_text, p.needs_review, p.review_notes, p.created_at,
		i.name, i.category, i.unit_price, i.quantity, i.line_total
	FROM purchases p
	LEFT JOIN items i ON i.purchase_id = p.id`

// Query implements store.PurchaseStore. Date bounds are pushed into SQL;
// merchant and category criteria are applied to each assembled purchase.
func (s *Store) Query(ctx context.Context, f store.Filter) iter.Seq2[*domain.Purchase, error] {
	return func(yield func(*domain.Purchase, error) bool) {
		var (
			where []string
			args  []any
		)
		if f.DateBounded() {
			where = append(where, "p.purchase_date IS NOT NULL")
		}
		if f.From != nil {
			where = append(where, "p.purchase_date >= ?")
			args = append(args, f.From.String())
		}
		if f.To != nil {
			where = append(where, "p.purchase_date <= ?")
			args = append(args, f.To.String())
		}

		query := selectPurchases
		if len(where) > 0 {
			query += " WHERE " + strings.Join(where, " AND ")
		}
		query += " ORDER BY p.seq, i.line_index"

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("Query: reading purchases: %w: %w", domain.ErrStoreUnavailable, err))
			return
		}
		defer rows.Close()

		err = scanPurchases(rows, func(p *domain.Purchase) bool {
			if !f.Matches(p) {
				return true
			}
			return yield(p, nil)
		})
		if err != nil {
			yield(nil, fmt.Errorf("Query: %w", err))
		}
	}
}

// scanPurchases groups consecutive rows of the same purchase and calls emit
// for each completed purchase. Scanning stops when emit returns false.
func scanPurchases(rows *sql.Rows, emit func(*domain.Purchase) bool) error {
	var current *domain.Purchase

	for rows.Next() {
		var (
			id, merchant, total, currency  string
			paymentMethod, rawText, notes  string
			createdAt                      string
			purchaseDate                   sql.NullString
			needsReview                    bool
			itemName, itemCategory         sql.NullString
			unitPrice, quantity, lineTotal sql.NullString
		)
		if err := rows.Scan(
			&id, &merchant, &purchaseDate, &total, &currency,
			&paymentMethod, &rawText, &needsReview, &notes, &createdAt,
			&itemName, &itemCategory, &unitPrice, &quantity, &lineTotal,
		); err != nil {
			return fmt.Errorf("scanning purchase row: %w: %w", domain.ErrStoreUnavailable, err)
		}

		if current == nil || current.ID != id {
			if current != nil && !emit(current) {
				return nil
			}

			p, err := purchaseFromRow(id, merchant, purchaseDate, total, currency,
				paymentMethod, rawText, needsReview, notes, createdAt)
			if err != nil {
				return err
			}
			current = p
		}

		if itemName.Valid {
			item, err := itemFromRow(itemName.String, itemCategory.String,
				unitPrice.String, quantity.String, lineTotal.String)
			if err != nil {
				return fmt.Errorf("purchase %s: %w", id, err)
			}
			current.Items = append(current.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating purchases: %w: %w", domain.ErrStoreUnavailable, err)
	}

	if current != nil {
		emit(current)
	}
	return nil
}

func purchaseFromRow(id, merchant string, purchaseDate sql.NullString, total, currency,
	paymentMethod, rawText string, needsReview bool, notes, createdAt string) (*domain.Purchase, error) {

	p := &domain.Purchase{
		ID:            id,
		Merchant:      merchant,
		Currency:      currency,
		PaymentMethod: paymentMethod,
		RawText:       rawText,
		NeedsReview:   needsReview,
		Items:         []domain.PurchaseItem{},
	}

	if purchaseDate.Valid && purchaseDate.String != "" {
		d, err := civil.ParseDate(purchaseDate.String)
		if err != nil {
			return nil, fmt.Errorf("purchase %s: parsing date: %w", id, err)
		}
		p.Date = &d
	}

	t, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("purchase %s: parsing total: %w", id, err)
	}
	p.Total = t

	if p.ReviewNotes, err = decodeNotes(notes); err != nil {
		return nil, fmt.Errorf("purchase %s: %w", id, err)
	}

	if p.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("purchase %s: parsing created_at: %w", id, err)
	}

	return p, nil
}

func itemFromRow(name, category, unitPrice, quantity, lineTotal string) (domain.PurchaseItem, error) {
	item := domain.PurchaseItem{Name: name, Category: category}

	var err error
	if item.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return item, fmt.Errorf("item %q: parsing unit price: %w", name, err)
	}
	if item.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return item, fmt.Errorf("item %q: parsing quantity: %w", name, err)
	}
	if item.LineTotal, err = decimal.NewFromString(lineTotal); err != nil {
		return item, fmt.Errorf("item %q: parsing line total: %w", name, err)
	}
	return item, nil
}
