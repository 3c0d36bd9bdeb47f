package store

import (
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/receipt-assistant/internal/domain"
)

func TestMonthFilter(t *testing.T) {
	tests := []struct {
		year  int
		month time.Month
		last  int
	}{
		{2024, time.January, 31},
		{2024, time.February, 29},
		{2023, time.February, 28},
		{2024, time.December, 31},
	}

	for _, tt := range tests {
		f := MonthFilter(tt.year, tt.month)
		if f.From.Day != 1 || f.From.Month != tt.month {
			t.Errorf("MonthFilter(%d, %s).From = %s", tt.year, tt.month, f.From)
		}
		if f.To.Day != tt.last || f.To.Month != tt.month || f.To.Year != tt.year {
			t.Errorf("MonthFilter(%d, %s).To = %s, want day %d", tt.year, tt.month, f.To, tt.last)
		}
	}
}

func TestFilter_Matches(t *testing.T) {
	jan15 := civil.Date{Year: 2024, Month: time.January, Day: 15}
	p := &domain.Purchase{
		Merchant: "Trader Joe's",
		Date:     &jan15,
		Items:    []domain.PurchaseItem{{Name: "Milk", Category: "Dairy"}},
	}
	undated := &domain.Purchase{Merchant: "Trader Joe's"}

	jan := MonthFilter(2024, time.January)
	feb := MonthFilter(2024, time.February)

	tests := []struct {
		name   string
		filter Filter
		p      *domain.Purchase
		want   bool
	}{
		{"zero filter", Filter{}, p, true},
		{"zero filter undated", Filter{}, undated, true},
		{"in month", jan, p, true},
		{"other month", feb, p, false},
		{"undated never matches date filter", jan, undated, false},
		{"from bound inclusive", Filter{From: &jan15}, p, true},
		{"to bound inclusive", Filter{To: &jan15}, p, true},
		{"merchant substring", Filter{Merchant: "JOE"}, p, true},
		{"merchant exact mismatch", Filter{Merchant: "joe", ExactMerchant: true}, p, false},
		{"merchant exact", Filter{Merchant: "trader joe's", ExactMerchant: true}, p, true},
		{"category", Filter{Category: "dairy"}, p, true},
		{"category missing", Filter{Category: "bakery"}, p, false},
		{"nil purchase", Filter{}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.p); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCollect_StopsAtError(t *testing.T) {
	boom := errors.New("boom")
	seq := func(yield func(*domain.Purchase, error) bool) {
		if !yield(&domain.Purchase{Merchant: "a"}, nil) {
			return
		}
		if !yield(nil, boom) {
			return
		}
		yield(&domain.Purchase{Merchant: "b"}, nil)
	}

	got, err := Collect(seq)
	if !errors.Is(err, boom) {
		t.Errorf("Collect() error = %v, want boom", err)
	}
	if got != nil {
		t.Errorf("Collect() = %v, want nil on error", got)
	}
}
