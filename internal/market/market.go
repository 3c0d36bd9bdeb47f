// Package market fetches daily closing prices for market indices.
package market

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// DefaultDays is the history window used when a caller passes a non-positive day count.
const DefaultDays = 7

// DefaultSymbols are the three major US indices.
var DefaultSymbols = []string{"^GSPC", "^DJI", "^IXIC"}

// Fetcher returns closing price series keyed by symbol.
//
// Fetch returns every series it could load. When some symbols fail the error is a
// join of *SymbolError values; when all fail it also wraps domain.ErrExternalService.
type Fetcher interface {
	Fetch(ctx context.Context, symbols []string, days int) (map[string]Series, error)
}

// Point is one daily close.
type Point struct {
	Date  civil.Date      `json:"date"`
	Close decimal.Decimal `json:"close"`
}

// Series is a chronologically ordered list of closes.
type Series []Point

// SymbolError records a failure to load a single symbol.
type SymbolError struct {
	Symbol string
	Err    error
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("symbol %s: %v", e.Symbol, e.Err)
}

func (e *SymbolError) Unwrap() error {
	return e.Err
}

// FailedSymbols extracts per-symbol failures from an error returned by Fetch.
func FailedSymbols(err error) map[string]error {
	out := make(map[string]error)
	collectSymbolErrors(err, out)
	return out
}

func collectSymbolErrors(err error, out map[string]error) {
	switch e := err.(type) {
	case nil:
	case *SymbolError:
		out[e.Symbol] = e.Err
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			collectSymbolErrors(inner, out)
		}
	default:
		var se *SymbolError
		if errors.As(err, &se) {
			out[se.Symbol] = se.Err
		}
	}
}

// Indicator summarizes a series over its window.
type Indicator struct {
	Symbol    string          `json:"symbol"`
	From      civil.Date      `json:"from"`
	To        civil.Date      `json:"to"`
	Latest    decimal.Decimal `json:"latest"`
	Change    decimal.Decimal `json:"change"`
	ChangePct decimal.Decimal `json:"change_pct"`
	Points    int             `json:"points"`
}

// Summarize computes the latest close and the change since the first close.
// It returns false for an empty series.
func Summarize(symbol string, s Series) (Indicator, bool) {
	if len(s) == 0 {
		return Indicator{}, false
	}

	sorted := make(Series, len(s))
	copy(sorted, s)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	first, last := sorted[0], sorted[len(sorted)-1]
	ind := Indicator{
		Symbol: symbol,
		From:   first.Date,
		To:     last.Date,
		Latest: last.Close,
		Change: last.Close.Sub(first.Close),
		Points: len(sorted),
	}
	if !first.Close.IsZero() {
		ind.ChangePct = ind.Change.Div(first.Close).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return ind, true
}
