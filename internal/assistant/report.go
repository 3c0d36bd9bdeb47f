package assistant

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/insights"
	"github.com/dvloznov/receipt-assistant/internal/store"
)

// Reasoner turns structured context into prose.
type Reasoner interface {
	Complete(ctx context.Context, prompt string, data map[string]any) (string, error)
}

// MonthlyReport is the output of the monthly-report task.
type MonthlyReport struct {
	Year     int                `json:"year"`
	Month    time.Month         `json:"month"`
	Period   string             `json:"period"`
	Insights *insights.Insights `json:"insights"`
	// NeedsReview counts purchases in the month still flagged for review.
	NeedsReview int    `json:"needs_review"`
	Narrative   string `json:"narrative"`
}

// ReportHandler builds a spending report for one calendar month.
type ReportHandler struct {
	store    store.PurchaseStore
	reasoner Reasoner
	now      func() time.Time
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(st store.PurchaseStore, reasoner Reasoner) *ReportHandler {
	return &ReportHandler{store: st, reasoner: reasoner, now: time.Now}
}

// Handle implements Handler.
func (h *ReportHandler) Handle(ctx context.Context, req Request) (*Result, error) {
	today := h.now()
	year, month := req.Year, req.Month
	if year == 0 {
		year = today.Year()
	}
	if month == 0 {
		month = today.Month()
	}
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("ReportHandler: month %d: %w", month, domain.ErrInvalidRequest)
	}
	if year < 1 || year > 9999 {
		return nil, fmt.Errorf("ReportHandler: year %d: %w", year, domain.ErrInvalidRequest)
	}

	purchases, err := store.Collect(h.store.Query(ctx, store.MonthFilter(year, month)))
	if err != nil {
		return nil, fmt.Errorf("ReportHandler: %w", err)
	}

	report := &MonthlyReport{
		Year:     year,
		Month:    month,
		Period:   periodName(year, month),
		Insights: insights.Summarize(purchases, insights.Options{TopN: insights.DefaultTopN}),
	}
	result := &Result{Kind: KindMonthlyReport, Report: report}

	if len(purchases) == 0 {
		report.Narrative = fmt.Sprintf("No spending data for %s.", report.Period)
		return result, nil
	}

	for _, p := range purchases {
		if p.NeedsReview {
			report.NeedsReview++
		}
	}

	narrative, err := h.reasoner.Complete(ctx, monthlyReportPrompt(report.Period), map[string]any{
		"period":   report.Period,
		"insights": report.Insights,
		"items":    itemLines(purchases),
	})
	if err != nil {
		result.degrade(fmt.Sprintf("narrative unavailable: %v", err))
		return result, nil
	}
	report.Narrative = narrative
	return result, nil
}

// periodName renders "January 2024".
func periodName(year int, month time.Month) string {
	return fmt.Sprintf("%s %d", month, year)
}

// itemLines lists every purchased item as "name xqty @ price".
func itemLines(purchases []*domain.Purchase) []string {
	var lines []string
	for _, p := range purchases {
		for _, it := range p.Items {
			lines = append(lines, fmt.Sprintf("%s x%s @ %s", it.Name, it.Quantity.String(), it.UnitPrice.StringFixed(2)))
		}
	}
	return lines
}
