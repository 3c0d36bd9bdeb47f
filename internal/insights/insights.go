// Package insights computes deterministic spending aggregates from purchases.
package insights

import (
	"sort"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/receipt-assistant/internal/domain"
)

// DefaultTopN is used when Options.TopN is not positive.
const DefaultTopN = 3

// Options tunes Summarize.
type Options struct {
	TopN int
}

// MerchantSpend is one entry of the top merchants ranking.
type MerchantSpend struct {
	Merchant string          `json:"merchant"`
	Total    decimal.Decimal `json:"total"`
}

// DaySpend is one entry of the top days ranking.
type DaySpend struct {
	Date  civil.Date      `json:"date"`
	Total decimal.Decimal `json:"total"`
}

// Insights is a snapshot of aggregates over a set of purchases.
type Insights struct {
	TotalSpend    decimal.Decimal            `json:"total_spend"`
	PurchaseCount int                        `json:"purchase_count"`
	ByCategory    map[string]decimal.Decimal `json:"by_category"`
	ByMerchant    map[string]decimal.Decimal `json:"by_merchant"`
	TopMerchants  []MerchantSpend            `json:"top_merchants"`
	TopDays       []DaySpend                 `json:"top_days"`
	// PeakDayOfMonth is the day of month (1-31) with the highest spend, 0 when no purchase is dated.
	PeakDayOfMonth int `json:"peak_day_of_month"`
}

// Summarize aggregates purchases. It is a pure function of its input.
//
// ByCategory sums item line totals, so it may differ from TotalSpend when a
// receipt's items do not add up to its total. ByMerchant sums purchase totals.
func Summarize(purchases []*domain.Purchase, opts Options) *Insights {
	topN := opts.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}

	out := &Insights{
		TotalSpend:   decimal.Zero,
		ByCategory:   make(map[string]decimal.Decimal),
		ByMerchant:   make(map[string]decimal.Decimal),
		TopMerchants: []MerchantSpend{},
		TopDays:      []DaySpend{},
	}

	byDate := make(map[civil.Date]decimal.Decimal)
	var (
		byDayOfMonth [32]decimal.Decimal
		seenDay      [32]bool
	)

	for _, p := range purchases {
		if p == nil {
			continue
		}
		out.PurchaseCount++
		out.TotalSpend = out.TotalSpend.Add(p.Total)
		out.ByMerchant[p.Merchant] = out.ByMerchant[p.Merchant].Add(p.Total)

		for _, item := range p.Items {
			category := item.Category
			if category == "" {
				category = domain.DefaultCategory
			}
			out.ByCategory[category] = out.ByCategory[category].Add(item.LineTotal)
		}

		if p.Date != nil {
			seenDay[p.Date.Day] = true
			byDate[*p.Date] = byDate[*p.Date].Add(p.Total)
			byDayOfMonth[p.Date.Day] = byDayOfMonth[p.Date.Day].Add(p.Total)
		}
	}

	for merchant, total := range out.ByMerchant {
		out.TopMerchants = append(out.TopMerchants, MerchantSpend{Merchant: merchant, Total: total})
	}
	sort.Slice(out.TopMerchants, func(i, j int) bool {
		a, b := out.TopMerchants[i], out.TopMerchants[j]
		if !a.Total.Equal(b.Total) {
			return a.Total.GreaterThan(b.Total)
		}
		return a.Merchant < b.Merchant
	})
	if len(out.TopMerchants) > topN {
		out.TopMerchants = out.TopMerchants[:topN]
	}

	for d, total := range byDate {
		out.TopDays = append(out.TopDays, DaySpend{Date: d, Total: total})
	}
	sort.Slice(out.TopDays, func(i, j int) bool {
		a, b := out.TopDays[i], out.TopDays[j]
		if !a.Total.Equal(b.Total) {
			return a.Total.GreaterThan(b.Total)
		}
		return a.Date.Before(b.Date)
	})
	if len(out.TopDays) > topN {
		out.TopDays = out.TopDays[:topN]
	}

	for day := 1; day <= 31; day++ {
		if !seenDay[day] {
			continue
		}
		if out.PeakDayOfMonth == 0 || byDayOfMonth[day].GreaterThan(byDayOfMonth[out.PeakDayOfMonth]) {
			out.PeakDayOfMonth = day
		}
	}

	return out
}
