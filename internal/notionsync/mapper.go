package notionsync

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/receipt-assistant/internal/domain"
)

// Property names of the purchases database.
const (
	PropMerchant      = "Merchant"
	PropPurchaseID    = "Purchase ID"
	PropDate          = "Date"
	PropTotal         = "Total"
	PropCurrency      = "Currency"
	PropCategories    = "Categories"
	PropPaymentMethod = "Payment Method"
	PropNeedsReview   = "Needs Review"
	PropItems         = "Items"
	PropReviewNotes   = "Review Notes"
)

// maxRichText is the Notion limit for a single rich text object.
const maxRichText = 2000

// PurchaseToNotionProperties maps a purchase onto the purchases database schema.
func PurchaseToNotionProperties(p *domain.Purchase) notionapi.Properties {
	merchant := p.Merchant
	if merchant == "" {
		merchant = "Unknown"
	}

	props := notionapi.Properties{
		PropMerchant: notionapi.TitleProperty{
			Title: richText(merchant),
		},
		PropPurchaseID: notionapi.RichTextProperty{
			RichText: richText(p.ID),
		},
		PropTotal: notionapi.NumberProperty{
			Number: p.Total.InexactFloat64(),
		},
		PropNeedsReview: notionapi.CheckboxProperty{
			Checkbox: p.NeedsReview,
		},
		PropCategories: notionapi.MultiSelectProperty{
			MultiSelect: categoryOptions(p.Items),
		},
	}

	if p.Date != nil {
		d := notionapi.Date(p.Date.In(time.UTC))
		props[PropDate] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &d},
		}
	}

	if p.Currency != "" {
		props[PropCurrency] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: p.Currency},
		}
	}

	if p.PaymentMethod != "" {
		props[PropPaymentMethod] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: p.PaymentMethod},
		}
	}

	if len(p.Items) > 0 {
		lines := make([]string, 0, len(p.Items))
		for _, it := range p.Items {
			lines = append(lines, fmt.Sprintf("%s x%s = %s", it.Name, it.Quantity.String(), it.LineTotal.StringFixed(2)))
		}
		props[PropItems] = notionapi.RichTextProperty{
			RichText: richText(strings.Join(lines, "\n")),
		}
	}

	if len(p.ReviewNotes) > 0 {
		props[PropReviewNotes] = notionapi.RichTextProperty{
			RichText: richText(strings.Join(p.ReviewNotes, "; ")),
		}
	}

	return props
}

// categoryOptions returns the distinct item categories, sorted.
func categoryOptions(items []domain.PurchaseItem) []notionapi.Option {
	seen := make(map[string]bool)
	var names []string
	for _, it := range items {
		if it.Category == "" || seen[it.Category] {
			continue
		}
		seen[it.Category] = true
		names = append(names, it.Category)
	}
	sort.Strings(names)

	opts := make([]notionapi.Option, 0, len(names))
	for _, n := range names {
		// Notion rejects commas in select option names.
		opts = append(opts, notionapi.Option{Name: strings.ReplaceAll(n, ",", " ")})
	}
	return opts
}

func richText(s string) []notionapi.RichText {
	if r := []rune(s); len(r) > maxRichText {
		s = string(r[:maxRichText-1]) + "…"
	}
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: s},
		},
	}
}

// PurchaseIDFromPage reads the "Purchase ID" property of a page, or "".
func PurchaseIDFromPage(page notionapi.Page) string {
	prop, ok := page.Properties[PropPurchaseID]
	if !ok {
		return ""
	}

	var texts []notionapi.RichText
	switch p := prop.(type) {
	case *notionapi.RichTextProperty:
		texts = p.RichText
	case notionapi.RichTextProperty:
		texts = p.RichText
	}

	var b strings.Builder
	for _, t := range texts {
		switch {
		case t.PlainText != "":
			b.WriteString(t.PlainText)
		case t.Text != nil:
			b.WriteString(t.Text.Content)
		}
	}
	return strings.TrimSpace(b.String())
}
