package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/logger"
)

// DefaultYahooBaseURL is the Yahoo Finance chart endpoint.
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart/"

const maxConcurrentFetches = 4

// Ensure YahooFetcher implements Fetcher
var _ Fetcher = (*YahooFetcher)(nil)

// YahooFetcher loads daily closes from the Yahoo Finance chart API.
type YahooFetcher struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewYahooFetcher creates a fetcher whose requests are bounded by timeout.
func NewYahooFetcher(timeout time.Duration) *YahooFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YahooFetcher{
		baseURL: DefaultYahooBaseURL,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// Fetch loads up to days calendar days of closes for each symbol concurrently.
func (f *YahooFetcher) Fetch(ctx context.Context, symbols []string, days int) (map[string]Series, error) {
	log := logger.FromContext(ctx)

	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}
	if days <= 0 {
		days = DefaultDays
	}

	end := f.now()
	start := end.AddDate(0, 0, -days)

	var (
		mu       sync.Mutex
		series   = make(map[string]Series, len(symbols))
		failures []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)

	for _, symbol := range symbols {
		g.Go(func() error {
			s, err := f.fetchSymbol(gctx, symbol, start, end)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("Market data fetch failed")
				failures = append(failures, &SymbolError{Symbol: symbol, Err: err})
				return nil
			}
			series[symbol] = s
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) == 0 {
		return series, nil
	}
	joined := errors.Join(failures...)
	if len(series) == 0 {
		return series, fmt.Errorf("Fetch: no symbol could be loaded: %w: %w", domain.ErrExternalService, joined)
	}
	return series, joined
}

type chartQuote struct {
	Close []*float64 `json:"close"`
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				GMTOffset int `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []chartQuote `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (f *YahooFetcher) fetchSymbol(ctx context.Context, symbol string, start, end time.Time) (Series, error) {
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	q.Set("interval", "1d")
	endpoint := strings.TrimSuffix(f.baseURL, "/") + "/" + url.PathEscape(symbol) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetchSymbol: building request: %w", err)
	}
	req.Header.Set("User-Agent", "receipt-assistant/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetchSymbol: %w: %w", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetchSymbol: status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), domain.ErrExternalService)
	}

	var chart chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return nil, fmt.Errorf("fetchSymbol: decoding response: %w: %w", domain.ErrExternalService, err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("fetchSymbol: %s: %s: %w", chart.Chart.Error.Code, chart.Chart.Error.Description, domain.ErrExternalService)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("fetchSymbol: empty result: %w", domain.ErrExternalService)
	}

	result := chart.Chart.Result[0]
	return toSeries(result.Timestamp, result.Indicators.Quote, result.Meta.GMTOffset), nil
}

func toSeries(timestamps []int64, quotes []chartQuote, gmtOffset int) Series {
	if len(quotes) == 0 {
		return Series{}
	}
	closes := quotes[0].Close
	loc := time.FixedZone("exchange", gmtOffset)

	out := make(Series, 0, len(timestamps))
	for i, ts := range timestamps {
		// Holidays and the in-progress session come back as null closes.
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		out = append(out, Point{
			Date:  civil.DateOf(time.Unix(ts, 0).In(loc)),
			Close: decimal.NewFromFloat(*closes[i]).Round(2),
		})
	}
	return out
}
