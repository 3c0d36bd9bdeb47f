package domain

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

func TestPurchase_ItemsTotal(t *testing.T) {
	p := &Purchase{
		Items: []PurchaseItem{
			{Name: "MILK", LineTotal: decimal.RequireFromString("3.99")},
			{Name: "BREAD", LineTotal: decimal.RequireFromString("2.01")},
		},
	}

	if got := p.ItemsTotal(); !got.Equal(decimal.RequireFromString("6.00")) {
		t.Errorf("ItemsTotal() = %s, want 6.00", got)
	}
}

func TestPurchase_FlagForReview(t *testing.T) {
	p := &Purchase{}
	p.FlagForReview("merchant: generic name")

	if !p.NeedsReview {
		t.Error("Expected NeedsReview to be set")
	}
	if len(p.ReviewNotes) != 1 || p.ReviewNotes[0] != "merchant: generic name" {
		t.Errorf("Unexpected review notes: %v", p.ReviewNotes)
	}
}

func TestPurchase_CloneIsDeep(t *testing.T) {
	d := civil.Date{Year: 2024, Month: 1, Day: 15}
	orig := &Purchase{
		Date:        &d,
		Items:       []PurchaseItem{{Name: "MILK"}},
		ReviewNotes: []string{"note"},
	}

	c := orig.Clone()
	c.Items[0].Name = "EGGS"
	c.ReviewNotes[0] = "changed"
	c.Date.Day = 16

	if orig.Items[0].Name != "MILK" {
		t.Error("Clone shares items with original")
	}
	if orig.ReviewNotes[0] != "note" {
		t.Error("Clone shares review notes with original")
	}
	if orig.Date.Day != 15 {
		t.Error("Clone shares date with original")
	}

	var nilPurchase *Purchase
	if nilPurchase.Clone() != nil {
		t.Error("Expected nil clone of nil purchase")
	}
}

func TestPurchase_Correct(t *testing.T) {
	created := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	stored := &Purchase{
		ID:          "p-1",
		Merchant:    "store",
		Currency:    "EUR",
		RawText:     "STORE\nTOTAL 3.99",
		NeedsReview: true,
		ReviewNotes: []string{"merchant: generic"},
		CreatedAt:   created,
	}

	edited := stored.Clone()
	edited.ID = "ignored"
	edited.Merchant = "Target"
	edited.Currency = ""
	edited.RawText = ""
	edited.CreatedAt = time.Time{}

	edited.Correct(stored)

	if edited.ID != "p-1" || !edited.CreatedAt.Equal(created) {
		t.Errorf("identity = %q %v, want p-1 %v", edited.ID, edited.CreatedAt, created)
	}
	if edited.NeedsReview || edited.ReviewNotes != nil {
		t.Errorf("review = %v %v, want cleared", edited.NeedsReview, edited.ReviewNotes)
	}
	if edited.Currency != "EUR" || edited.RawText != stored.RawText {
		t.Errorf("Currency/RawText = %q/%q, want stored values", edited.Currency, edited.RawText)
	}
	if edited.Merchant != "Target" || edited.Items == nil {
		t.Errorf("Merchant = %q, Items = %v", edited.Merchant, edited.Items)
	}
	if !stored.NeedsReview {
		t.Error("Correct modified the stored record")
	}
}
