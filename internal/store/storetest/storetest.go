// Package storetest holds behaviour tests shared by every PurchaseStore backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/store"
)

// Factory returns a fresh, empty store. The test cleans it up with Close.
type Factory func(t *testing.T) store.PurchaseStore

// Run exercises the PurchaseStore contract against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("AppendThenGet", func(t *testing.T) { testAppendThenGet(t, newStore) })
	t.Run("GetUnknown", func(t *testing.T) { testGetUnknown(t, newStore) })
	t.Run("QueryInsertionOrder", func(t *testing.T) { testQueryInsertionOrder(t, newStore) })
	t.Run("QueryFilters", func(t *testing.T) { testQueryFilters(t, newStore) })
	t.Run("QueryRestartable", func(t *testing.T) { testQueryRestartable(t, newStore) })
	t.Run("AppendSameIDReplaces", func(t *testing.T) { testAppendSameIDReplaces(t, newStore) })
	t.Run("ReplaceAndDelete", func(t *testing.T) { testReplaceAndDelete(t, newStore) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, newStore) })
}

func open(t *testing.T, newStore Factory) store.PurchaseStore {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func date(y, m, d int) *civil.Date {
	return &civil.Date{Year: y, Month: time.Month(m), Day: d}
}

// Purchase builds a small purchase for tests.
func Purchase(merchant string, d *civil.Date, total string, categories ...string) *domain.Purchase {
	p := &domain.Purchase{
		Merchant: merchant,
		Date:     d,
		Total:    decimal.RequireFromString(total),
		Currency: domain.DefaultCurrency,
		Items:    []domain.PurchaseItem{},
	}
	for i, c := range categories {
		p.Items = append(p.Items, domain.PurchaseItem{
			Name:      merchant + " item " + string(rune('A'+i)),
			Category:  c,
			UnitPrice: decimal.RequireFromString(total),
			Quantity:  decimal.NewFromInt(1),
			LineTotal: decimal.RequireFromString(total),
		})
	}
	return p
}

func mustAppend(t *testing.T, s store.PurchaseStore, p *domain.Purchase) string {
	t.Helper()
	id, err := s.Append(context.Background(), p)
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	return id
}

func collect(t *testing.T, s store.PurchaseStore, f store.Filter) []*domain.Purchase {
	t.Helper()
	got, err := store.Collect(s.Query(context.Background(), f))
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	return got
}

func merchants(ps []*domain.Purchase) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Merchant)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testAppendThenGet(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()

	p := Purchase("TARGET", date(2024, 1, 15), "3.99", "dairy")
	p.PaymentMethod = "visa"
	p.RawText = "TARGET\nMILK 3.99"
	p.FlagForReview("total: check")

	id := mustAppend(t, s, p)
	if id == "" {
		t.Fatal("Append() returned empty ID")
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.ID != id {
		t.Errorf("ID = %q, want %q", got.ID, id)
	}
	if got.Merchant != "TARGET" || got.PaymentMethod != "visa" || got.RawText != p.RawText {
		t.Errorf("Scalar fields not preserved: %+v", got)
	}
	if got.Date == nil || *got.Date != *p.Date {
		t.Errorf("Date = %v, want %v", got.Date, p.Date)
	}
	if !got.Total.Equal(p.Total) {
		t.Errorf("Total = %s, want %s", got.Total, p.Total)
	}
	if len(got.Items) != 1 || got.Items[0].Category != "dairy" || !got.Items[0].LineTotal.Equal(p.Items[0].LineTotal) {
		t.Errorf("Items not preserved: %+v", got.Items)
	}
	if !got.NeedsReview || len(got.ReviewNotes) != 1 {
		t.Errorf("Review state not preserved: %v %v", got.NeedsReview, got.ReviewNotes)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not assigned")
	}
}

func testGetUnknown(t *testing.T, newStore Factory) {
	s := open(t, newStore)

	_, err := s.Get(context.Background(), "does-not-exist")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func testQueryInsertionOrder(t *testing.T, newStore Factory) {
	s := open(t, newStore)

	if got := collect(t, s, store.Filter{}); len(got) != 0 {
		t.Errorf("Expected empty store, got %d purchases", len(got))
	}

	mustAppend(t, s, Purchase("Charlie", date(2024, 3, 1), "1.00"))
	mustAppend(t, s, Purchase("Alpha", date(2024, 1, 1), "2.00"))
	mustAppend(t, s, Purchase("Bravo", nil, "3.00"))

	got := merchants(collect(t, s, store.Filter{}))
	want := []string{"Charlie", "Alpha", "Bravo"}
	if !equalStrings(got, want) {
		t.Errorf("Query() order = %v, want %v", got, want)
	}
}

func testQueryFilters(t *testing.T, newStore Factory) {
	s := open(t, newStore)

	mustAppend(t, s, Purchase("Whole Foods", date(2024, 1, 1), "10.00", "produce", "dairy"))
	mustAppend(t, s, Purchase("Target", date(2024, 1, 31), "20.00", "household"))
	mustAppend(t, s, Purchase("Target Express", date(2024, 2, 1), "30.00", "Dairy"))
	mustAppend(t, s, Purchase("Corner Shop", nil, "5.00", "dairy"))

	tests := []struct {
		name   string
		filter store.Filter
		want   []string
	}{
		{
			name:   "inclusive date range",
			filter: store.Filter{From: date(2024, 1, 1), To: date(2024, 1, 31)},
			want:   []string{"Whole Foods", "Target"},
		},
		{
			name:   "open upper bound excludes undated",
			filter: store.Filter{From: date(2024, 1, 31)},
			want:   []string{"Target", "Target Express"},
		},
		{
			name:   "merchant substring case-insensitive",
			filter: store.Filter{Merchant: "target"},
			want:   []string{"Target", "Target Express"},
		},
		{
			name:   "merchant exact",
			filter: store.Filter{Merchant: "TARGET", ExactMerchant: true},
			want:   []string{"Target"},
		},
		{
			name:   "category any item",
			filter: store.Filter{Category: "dairy"},
			want:   []string{"Whole Foods", "Target Express", "Corner Shop"},
		},
		{
			name:   "conjunction",
			filter: store.Filter{Category: "dairy", Merchant: "target", To: date(2024, 12, 31)},
			want:   []string{"Target Express"},
		},
		{
			name:   "no match",
			filter: store.Filter{Merchant: "costco"},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := merchants(collect(t, s, tt.filter))
			if !equalStrings(got, tt.want) {
				t.Errorf("Query(%+v) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func testQueryRestartable(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()

	mustAppend(t, s, Purchase("First", date(2024, 1, 1), "1.00"))
	seq := s.Query(ctx, store.Filter{})

	first, err := store.Collect(seq)
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}

	mustAppend(t, s, Purchase("Second", date(2024, 1, 2), "2.00"))

	second, err := store.Collect(seq)
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if len(first) != 1 || len(second) != 2 {
		t.Errorf("Expected sequence to re-read storage: first=%d second=%d", len(first), len(second))
	}

	// Early break must not leak or fail
	for p, err := range seq {
		if err != nil {
			t.Fatalf("Query() failed: %v", err)
		}
		if p.Merchant != "First" {
			t.Errorf("Expected First, got %s", p.Merchant)
		}
		break
	}
}

func testAppendSameIDReplaces(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()

	id := mustAppend(t, s, Purchase("Original", date(2024, 1, 1), "1.00"))
	mustAppend(t, s, Purchase("After", date(2024, 1, 2), "2.00"))

	updated := Purchase("Updated", date(2024, 1, 1), "9.00", "bakery")
	updated.ID = id
	if got := mustAppend(t, s, updated); got != id {
		t.Errorf("Append() with existing ID returned %q, want %q", got, id)
	}

	got := merchants(collect(t, s, store.Filter{}))
	want := []string{"Updated", "After"}
	if !equalStrings(got, want) {
		t.Errorf("Query() = %v, want %v", got, want)
	}

	p, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if len(p.Items) != 1 || !p.Total.Equal(decimal.RequireFromString("9.00")) {
		t.Errorf("Content not replaced: %+v", p)
	}
}

func testReplaceAndDelete(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx := context.Background()

	id := mustAppend(t, s, Purchase("Typo Mart", date(2024, 1, 1), "1.00"))
	before, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	fixed := Purchase("Tip Top Mart", date(2024, 1, 1), "1.00")
	if err := s.Replace(ctx, id, fixed); err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}

	after, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if after.Merchant != "Tip Top Mart" {
		t.Errorf("Merchant = %q, want Tip Top Mart", after.Merchant)
	}
	if !after.CreatedAt.Equal(before.CreatedAt) {
		t.Errorf("CreatedAt changed on replace: %v -> %v", before.CreatedAt, after.CreatedAt)
	}

	if err := s.Replace(ctx, "missing", fixed); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Replace(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Delete() twice error = %v, want ErrNotFound", err)
	}
}

func testConcurrentAppend(t *testing.T, newStore Factory) {
	s := open(t, newStore)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Append(context.Background(), Purchase("Concurrent", date(2024, 5, 1), "1.00")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Append() failed: %v", err)
	}
	if got := collect(t, s, store.Filter{}); len(got) != n {
		t.Errorf("Expected %d purchases, got %d", n, len(got))
	}
}
