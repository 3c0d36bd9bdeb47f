package assistant

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dvloznov/receipt-assistant/internal/market"
)

// MarketSummary is the output of the market-summary task.
type MarketSummary struct {
	Days       int                `json:"days"`
	Indicators []market.Indicator `json:"indicators"`
	Narrative  string             `json:"narrative"`
}

// MarketHandler summarizes recent index performance.
type MarketHandler struct {
	fetcher  market.Fetcher
	reasoner Reasoner
	symbols  []string
	days     int
	now      func() time.Time
}

// NewMarketHandler creates a MarketHandler. Empty symbols or days fall back to the market defaults.
func NewMarketHandler(fetcher market.Fetcher, reasoner Reasoner, symbols []string, days int) *MarketHandler {
	if len(symbols) == 0 {
		symbols = market.DefaultSymbols
	}
	if days <= 0 {
		days = market.DefaultDays
	}
	return &MarketHandler{fetcher: fetcher, reasoner: reasoner, symbols: symbols, days: days, now: time.Now}
}

// Handle implements Handler. It fails only when no symbol could be loaded.
func (h *MarketHandler) Handle(ctx context.Context, req Request) (*Result, error) {
	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = h.symbols
	}
	days := req.Days
	if days <= 0 {
		days = h.days
	}

	series, err := h.fetcher.Fetch(ctx, symbols, days)
	if err != nil && len(series) == 0 {
		return nil, fmt.Errorf("MarketHandler: %w", err)
	}

	summary := &MarketSummary{Days: days, Indicators: []market.Indicator{}}
	result := &Result{Kind: KindMarketSummary, Market: summary}

	failed := market.FailedSymbols(err)
	for _, sym := range symbols {
		if _, bad := failed[sym]; bad {
			continue
		}
		ind, ok := market.Summarize(sym, series[sym])
		if !ok {
			result.degrade(fmt.Sprintf("%s: no closes in the last %d days", sym, days))
			continue
		}
		summary.Indicators = append(summary.Indicators, ind)
	}

	failedSymbols := make([]string, 0, len(failed))
	for sym := range failed {
		failedSymbols = append(failedSymbols, sym)
	}
	sort.Strings(failedSymbols)
	for _, sym := range failedSymbols {
		result.degrade(fmt.Sprintf("%s: %v", sym, failed[sym]))
	}

	if len(summary.Indicators) == 0 {
		result.degrade("narrative skipped: no market data")
		return result, nil
	}

	narrative, err := h.reasoner.Complete(ctx, marketSummaryPrompt(h.now().Format("January 2, 2006")), map[string]any{
		"indicators": summary.Indicators,
	})
	if err != nil {
		result.degrade(fmt.Sprintf("narrative unavailable: %v", err))
		return result, nil
	}
	summary.Narrative = narrative
	return result, nil
}
