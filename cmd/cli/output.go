package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dvloznov/receipt-assistant/internal/assistant"
	"github.com/dvloznov/receipt-assistant/internal/domain"
)

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func printResult(w io.Writer, res *assistant.Result) {
	switch {
	case res.Purchase != nil:
		printPurchase(w, res.Purchase)
	case res.Report != nil:
		r := res.Report
		fmt.Fprintf(w, "\n=== %s ===\n", r.Period)
		fmt.Fprintf(w, "Total:     %s over %d purchases\n", r.Insights.TotalSpend.StringFixed(2), r.Insights.PurchaseCount)
		for _, m := range r.Insights.TopMerchants {
			fmt.Fprintf(w, "  %-24s %10s\n", m.Merchant, m.Total.StringFixed(2))
		}
		if r.NeedsReview > 0 {
			fmt.Fprintf(w, "Flagged:   %d purchases need review\n", r.NeedsReview)
		}
		fmt.Fprintf(w, "\n%s\n", r.Narrative)
	case res.Market != nil:
		fmt.Fprintf(w, "\n=== Market, last %d days ===\n", res.Market.Days)
		for _, ind := range res.Market.Indicators {
			fmt.Fprintf(w, "  %-8s %12s  %10s (%s%%)\n", ind.Symbol, ind.Latest.StringFixed(2), ind.Change.StringFixed(2), ind.ChangePct.StringFixed(2))
		}
		if res.Market.Narrative != "" {
			fmt.Fprintf(w, "\n%s\n", res.Market.Narrative)
		}
	case res.Answer != nil:
		fmt.Fprintf(w, "\n%s\n", res.Answer.Text)
	}

	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}

func printPurchase(w io.Writer, p *domain.Purchase) {
	date := "unknown date"
	if p.Date != nil {
		date = p.Date.String()
	}

	fmt.Fprintln(w, "\n=== Purchase ===")
	fmt.Fprintf(w, "ID:       %s\n", p.ID)
	fmt.Fprintf(w, "Merchant: %s\n", p.Merchant)
	fmt.Fprintf(w, "Date:     %s\n", date)
	fmt.Fprintf(w, "Total:    %s %s\n", p.Total.StringFixed(2), p.Currency)
	for i, it := range p.Items {
		fmt.Fprintf(w, "  %d. %s (%s) x%s = %s\n", i+1, it.Name, it.Category, it.Quantity.String(), it.LineTotal.StringFixed(2))
	}
	if p.NeedsReview {
		fmt.Fprintln(w, "Needs review:")
		for _, note := range p.ReviewNotes {
			fmt.Fprintf(w, "  - %s\n", note)
		}
	}
}

func printPurchases(w io.Writer, purchases []*domain.Purchase) {
	fmt.Fprintf(w, "\n=== Purchases (%d) ===\n", len(purchases))
	for _, p := range purchases {
		date := "????-??-??"
		if p.Date != nil {
			date = p.Date.String()
		}
		flag := ""
		if p.NeedsReview {
			flag = " [review]"
		}
		fmt.Fprintf(w, "%s  %-24s %10s %s%s  %s\n", date, p.Merchant, p.Total.StringFixed(2), p.Currency, flag, p.ID)
	}
}
