// Package sqlite provides the default SQLite-backed PurchaseStore.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/store"
)

// Ensure Store implements store.PurchaseStore
var _ store.PurchaseStore = (*Store)(nil)

const timeLayout = time.RFC3339Nano

// Store implements store.PurchaseStore using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the database at dbPath and runs migrations.
// Failures wrap domain.ErrStoreUnavailable.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite.New: creating database directory: %w: %w", domain.ErrStoreUnavailable, err)
		}
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite.New: opening database: %w: %w", domain.ErrStoreUnavailable, err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite.New: running migrations: %w: %w", domain.ErrStoreUnavailable, err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append implements store.PurchaseStore. An existing ID keeps its insertion
// position and creation time; everything else is overwritten.
func (s *Store) Append(ctx context.Context, p *domain.Purchase) (string, error) {
	if p == nil {
		return "", fmt.Errorf("Append: purchase is nil")
	}

	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}

	notes, err := encodeNotes(p.ReviewNotes)
	if err != nil {
		return "", fmt.Errorf("Append: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("Append: begin transaction: %w: %w", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchases (
			id, merchant, purchase_date, total, currency,
			payment_method, raw_text, needs_review, review_notes, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			merchant = excluded.merchant,
			purchase_date = excluded.purchase_date,
			total = excluded.total,
			currency = excluded.currency,
			payment_method = excluded.payment_method,
			raw_text = excluded.raw_text,
			needs_review = excluded.needs_review,
			review_notes = excluded.review_notes`,
		id, p.Merchant, dateValue(p), p.Total.String(), p.Currency,
		p.PaymentMethod, p.RawText, p.NeedsReview, notes, createdAt.Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("Append: upserting purchase: %w: %w", domain.ErrStoreUnavailable, err)
	}

	if err := replaceItems(ctx, tx, id, p.Items); err != nil {
		return "", fmt.Errorf("Append: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("Append: commit: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return id, nil
}

// Get implements store.PurchaseStore.
func (s *Store) Get(ctx context.Context, id string) (*domain.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, selectPurchases+` WHERE p.id = ? ORDER BY i.line_index`, id)
	if err != nil {
		return nil, fmt.Errorf("Get: querying purchase: %w: %w", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var found *domain.Purchase
	err = scanPurchases(rows, func(p *domain.Purchase) bool {
		found = p
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	if found == nil {
		return nil, fmt.Errorf("Get: purchase %s: %w", id, domain.ErrNotFound)
	}
	return found, nil
}

// Replace implements store.PurchaseStore.
func (s *Store) Replace(ctx context.Context, id string, p *domain.Purchase) error {
	if p == nil {
		return fmt.Errorf("Replace: purchase is nil")
	}

	notes, err := encodeNotes(p.ReviewNotes)
	if err != nil {
		return fmt.Errorf("Replace: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Replace: begin transaction: %w: %w", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE purchases SET
			merchant = ?, purchase_date = ?, total = ?, currency = ?,
			payment_method = ?, raw_text = ?, needs_review = ?, review_notes = ?
		WHERE id = ?`,
		p.Merchant, dateValue(p), p.Total.String(), p.Currency,
		p.PaymentMethod, p.RawText, p.NeedsReview, notes, id,
	)
	if err != nil {
		return fmt.Errorf("Replace: updating purchase: %w: %w", domain.ErrStoreUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("Replace: purchase %s: %w", id, domain.ErrNotFound)
	}

	if err := replaceItems(ctx, tx, id, p.Items); err != nil {
		return fmt.Errorf("Replace: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Replace: commit: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Delete implements store.PurchaseStore. Items go with the purchase via ON DELETE CASCADE.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM purchases WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("Delete: deleting purchase: %w: %w", domain.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Delete: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("Delete: purchase %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func replaceItems(ctx context.Context, tx *sql.Tx, purchaseID string, items []domain.PurchaseItem) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM items WHERE purchase_id = ?", purchaseID); err != nil {
		return fmt.Errorf("clearing items: %w: %w", domain.ErrStoreUnavailable, err)
	}

	for i, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO items (purchase_id, line_index, name, category, unit_price, quantity, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			purchaseID, i, item.Name, item.Category,
			item.UnitPrice.String(), item.Quantity.String(), item.LineTotal.String(),
		)
		if err != nil {
			return fmt.Errorf("inserting item %d: %w: %w", i, domain.ErrStoreUnavailable, err)
		}
	}
	return nil
}

func dateValue(p *domain.Purchase) any {
	if p.Date == nil {
		return nil
	}
	return p.Date.String()
}

func encodeNotes(notes []string) (string, error) {
	if notes == nil {
		notes = []string{}
	}
	b, err := json.Marshal(notes)
	if err != nil {
		return "", fmt.Errorf("encoding review notes: %w", err)
	}
	return string(b), nil
}

func decodeNotes(s string) ([]string, error) {
	var notes []string
	if s == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(s), &notes); err != nil {
		return nil, fmt.Errorf("decoding review notes: %w", err)
	}
	if len(notes) == 0 {
		return nil, nil
	}
	return notes, nil
}
