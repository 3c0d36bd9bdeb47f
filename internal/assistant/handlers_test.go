package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/receipt-assistant/internal/config"
	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/gemini"
	"github.com/dvloznov/receipt-assistant/internal/market"
	"github.com/dvloznov/receipt-assistant/internal/store/memory"
	"github.com/dvloznov/receipt-assistant/internal/store/storetest"
)

type mockModel struct {
	ExtractReceiptFunc func(ctx context.Context, image []byte, mimeType string) (*gemini.Extraction, error)
	CompleteFunc       func(ctx context.Context, prompt string, data map[string]any) (string, error)
}

func (m *mockModel) ExtractReceipt(ctx context.Context, image []byte, mimeType string) (*gemini.Extraction, error) {
	if m.ExtractReceiptFunc != nil {
		return m.ExtractReceiptFunc(ctx, image, mimeType)
	}
	return nil, errors.New("ExtractReceipt not configured")
}

func (m *mockModel) Complete(ctx context.Context, prompt string, data map[string]any) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt, data)
	}
	return "", errors.New("Complete not configured")
}

type mockFetcher struct {
	FetchFunc func(ctx context.Context, symbols []string, days int) (map[string]market.Series, error)
}

func (m *mockFetcher) Fetch(ctx context.Context, symbols []string, days int) (map[string]market.Series, error) {
	return m.FetchFunc(ctx, symbols, days)
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.StoreBackend = config.BackendMemory
	return cfg
}

func fixedNow() time.Time {
	return time.Date(2024, time.February, 10, 12, 0, 0, 0, time.UTC)
}

func dated(y int, m time.Month, d int) *civil.Date {
	return &civil.Date{Year: y, Month: m, Day: d}
}

func seededStore(t *testing.T, purchases ...*domain.Purchase) *memory.Store {
	t.Helper()
	st := memory.NewStore()
	for _, p := range purchases {
		if _, err := st.Append(context.Background(), p); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	return st
}

func TestReportHandler(t *testing.T) {
	st := seededStore(t,
		storetest.Purchase("Target", dated(2024, time.January, 5), "42.50", "Household"),
		storetest.Purchase("Costco", dated(2024, time.January, 20), "120.00", "Groceries"),
		storetest.Purchase("Walmart", dated(2024, time.February, 1), "9.99", "Groceries"),
	)

	var gotData map[string]any
	model := &mockModel{CompleteFunc: func(ctx context.Context, prompt string, data map[string]any) (string, error) {
		if !strings.Contains(prompt, "January 2024") {
			t.Errorf("prompt %q does not name the period", prompt)
		}
		gotData = data
		return "You spent a lot at Costco.", nil
	}}

	h := NewReportHandler(st, model)
	h.now = fixedNow

	res, err := h.Handle(context.Background(), Request{Kind: KindMonthlyReport, Year: 2024, Month: time.January})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if res.Degraded {
		t.Errorf("Degraded = true, warnings %v", res.Warnings)
	}
	report := res.Report
	if report.Narrative != "You spent a lot at Costco." {
		t.Errorf("Narrative = %q", report.Narrative)
	}
	if report.Insights.PurchaseCount != 2 {
		t.Errorf("PurchaseCount = %d, want 2", report.Insights.PurchaseCount)
	}
	if !report.Insights.TotalSpend.Equal(decimal.RequireFromString("162.50")) {
		t.Errorf("TotalSpend = %s, want 162.50", report.Insights.TotalSpend)
	}
	if gotData["period"] != "January 2024" {
		t.Errorf("data period = %v", gotData["period"])
	}
}

func TestReportHandler_EmptyMonth(t *testing.T) {
	model := &mockModel{CompleteFunc: func(ctx context.Context, prompt string, data map[string]any) (string, error) {
		t.Error("Complete should not be called for an empty month")
		return "", nil
	}}

	h := NewReportHandler(memory.NewStore(), model)
	h.now = fixedNow

	res, err := h.Handle(context.Background(), Request{Kind: KindMonthlyReport, Year: 2024, Month: time.January})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if want := "No spending data for January 2024."; res.Report.Narrative != want {
		t.Errorf("Narrative = %q, want %q", res.Report.Narrative, want)
	}
	if res.Degraded {
		t.Error("Degraded = true for an empty month")
	}
}

func TestReportHandler_DefaultsToCurrentMonth(t *testing.T) {
	h := NewReportHandler(memory.NewStore(), &mockModel{})
	h.now = fixedNow

	res, err := h.Handle(context.Background(), Request{Kind: KindMonthlyReport})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if res.Report.Year != 2024 || res.Report.Month != time.February {
		t.Errorf("period = %d-%d, want 2024-2", res.Report.Year, res.Report.Month)
	}
}

func TestReportHandler_InvalidMonth(t *testing.T) {
	h := NewReportHandler(memory.NewStore(), &mockModel{})

	_, err := h.Handle(context.Background(), Request{Kind: KindMonthlyReport, Year: 2024, Month: 13})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("Handle() error = %v, want ErrInvalidRequest", err)
	}
}

func TestReportHandler_ReasonerFailureDegrades(t *testing.T) {
	st := seededStore(t, storetest.Purchase("Target", dated(2024, time.January, 5), "10.00", "Household"))
	model := &mockModel{CompleteFunc: func(ctx context.Context, prompt string, data map[string]any) (string, error) {
		return "", domain.ErrExternalService
	}}

	res, err := NewReportHandler(st, model).Handle(context.Background(), Request{Year: 2024, Month: time.January})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !res.Degraded || len(res.Warnings) != 1 {
		t.Errorf("Degraded = %v, Warnings = %v", res.Degraded, res.Warnings)
	}
	if res.Report.Insights.PurchaseCount != 1 {
		t.Errorf("insights missing from degraded report")
	}
}

func series(closes ...string) market.Series {
	var s market.Series
	for i, c := range closes {
		s = append(s, market.Point{
			Date:  civil.Date{Year: 2024, Month: time.January, Day: 2 + i},
			Close: decimal.RequireFromString(c),
		})
	}
	return s
}

func TestMarketHandler(t *testing.T) {
	tests := []struct {
		name           string
		fetch          func(ctx context.Context, symbols []string, days int) (map[string]market.Series, error)
		complete       func(ctx context.Context, prompt string, data map[string]any) (string, error)
		wantErr        error
		wantSymbols    []string
		wantDegraded   bool
		wantWarnPrefix string
		wantNarrative  string
	}{
		{
			name: "all symbols",
			fetch: func(ctx context.Context, symbols []string, days int) (map[string]market.Series, error) {
				return map[string]market.Series{
					"^GSPC": series("4700", "4750"),
					"^DJI":  series("37000", "36900"),
					"^IXIC": series("15000", "15100"),
				}, nil
			},
			complete: func(ctx context.Context, prompt string, data map[string]any) (string, error) {
				return "Stocks were mixed.", nil
			},
			wantSymbols:   []string{"^GSPC", "^DJI", "^IXIC"},
			wantNarrative: "Stocks were mixed.",
		},
		{
			name: "one symbol fails",
			fetch: func(ctx context.Context, symbols []string, days int) (map[string]market.Series, error) {
				return map[string]market.Series{
						"^GSPC": series("4700", "4750"),
						"^IXIC": series("15000", "15100"),
					}, errors.Join(&market.SymbolError{Symbol: "^DJI", Err: errors.New("status 500")})
			},
			complete: func(ctx context.Context, prompt string, data map[string]any) (string, error) {
				return "Stocks rose.", nil
			},
			wantSymbols:    []string{"^GSPC", "^IXIC"},
			wantDegraded:   true,
			wantWarnPrefix: "^DJI",
			wantNarrative:  "Stocks rose.",
		},
		{
			name: "narrative fails",
			fetch: func(ctx context.Context, symbols []string, days int) (map[string]market.Series, error) {
				return map[string]market.Series{"^GSPC": series("4700")}, nil
			},
			complete: func(ctx context.Context, prompt string, data map[string]any) (string, error) {
				return "", domain.ErrExternalService
			},
			wantSymbols:    []string{"^GSPC"},
			wantDegraded:   true,
			wantWarnPrefix: "narrative unavailable",
		},
		{
			name: "all symbols fail",
			fetch: func(ctx context.Context, symbols []string, days int) (map[string]market.Series, error) {
				return nil, errors.Join(domain.ErrExternalService, &market.SymbolError{Symbol: "^GSPC", Err: errors.New("timeout")})
			},
			wantErr: domain.ErrExternalService,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMarketHandler(&mockFetcher{FetchFunc: tt.fetch}, &mockModel{CompleteFunc: tt.complete}, nil, 0)
			h.now = fixedNow

			res, err := h.Handle(context.Background(), Request{Kind: KindMarketSummary})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Handle() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			var got []string
			for _, ind := range res.Market.Indicators {
				got = append(got, ind.Symbol)
			}
			if strings.Join(got, ",") != strings.Join(tt.wantSymbols, ",") {
				t.Errorf("symbols = %v, want %v", got, tt.wantSymbols)
			}
			if res.Degraded != tt.wantDegraded {
				t.Errorf("Degraded = %v, want %v (warnings %v)", res.Degraded, tt.wantDegraded, res.Warnings)
			}
			if tt.wantWarnPrefix != "" && (len(res.Warnings) == 0 || !strings.HasPrefix(res.Warnings[0], tt.wantWarnPrefix)) {
				t.Errorf("Warnings = %v, want prefix %q", res.Warnings, tt.wantWarnPrefix)
			}
			if res.Market.Narrative != tt.wantNarrative {
				t.Errorf("Narrative = %q, want %q", res.Market.Narrative, tt.wantNarrative)
			}
		})
	}
}

func TestMarketHandler_RequestOverrides(t *testing.T) {
	var gotSymbols []string
	var gotDays int
	fetcher := &mockFetcher{FetchFunc: func(ctx context.Context, symbols []string, days int) (map[string]market.Series, error) {
		gotSymbols, gotDays = symbols, days
		return map[string]market.Series{"AAPL": series("180")}, nil
	}}
	model := &mockModel{CompleteFunc: func(ctx context.Context, prompt string, data map[string]any) (string, error) {
		return "ok", nil
	}}

	h := NewMarketHandler(fetcher, model, []string{"^GSPC"}, 7)
	if _, err := h.Handle(context.Background(), Request{Symbols: []string{"AAPL"}, Days: 30}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(gotSymbols) != 1 || gotSymbols[0] != "AAPL" || gotDays != 30 {
		t.Errorf("Fetch(%v, %d), want ([AAPL], 30)", gotSymbols, gotDays)
	}
}

func TestQueryHandler(t *testing.T) {
	populated := func(t *testing.T) *memory.Store {
		return seededStore(t, storetest.Purchase("Target", dated(2024, time.January, 5), "42.50", "Household"))
	}

	tests := []struct {
		name         string
		store        func(t *testing.T) *memory.Store
		question     string
		complete     func(ctx context.Context, prompt string, data map[string]any) (string, error)
		wantText     string
		wantDegraded bool
		wantInsights bool
	}{
		{
			name:     "empty question",
			store:    populated,
			question: "   ",
			wantText: emptyQuestionAnswer,
		},
		{
			name:     "empty store",
			store:    func(t *testing.T) *memory.Store { return memory.NewStore() },
			question: "How much at Target?",
			wantText: emptyStoreAnswer,
		},
		{
			name:     "answered",
			store:    populated,
			question: "How much at Target?",
			complete: func(ctx context.Context, prompt string, data map[string]any) (string, error) {
				if !strings.Contains(prompt, "How much at Target?") {
					t.Errorf("prompt %q does not contain the question", prompt)
				}
				if lines, ok := data["purchases"].([]purchaseLine); !ok || len(lines) != 1 {
					t.Errorf("purchases = %#v", data["purchases"])
				}
				return "You spent $42.50 at Target.", nil
			},
			wantText:     "You spent $42.50 at Target.",
			wantInsights: true,
		},
		{
			name:     "reasoner fails",
			store:    populated,
			question: "How much at Target?",
			complete: func(ctx context.Context, prompt string, data map[string]any) (string, error) {
				return "", domain.ErrExternalService
			},
			wantDegraded: true,
			wantInsights: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &mockModel{CompleteFunc: tt.complete}
			res, err := NewQueryHandler(tt.store(t), model).Handle(context.Background(), Request{Kind: KindFreeFormQuery, Question: tt.question})
			if err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if res.Answer.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", res.Answer.Text, tt.wantText)
			}
			if res.Degraded != tt.wantDegraded {
				t.Errorf("Degraded = %v, want %v", res.Degraded, tt.wantDegraded)
			}
			if (res.Answer.Insights != nil) != tt.wantInsights {
				t.Errorf("Insights = %v, want present %v", res.Answer.Insights, tt.wantInsights)
			}
		})
	}
}

func TestRecentLines_KeepsLatest(t *testing.T) {
	var purchases []*domain.Purchase
	for i := 0; i < 5; i++ {
		p := storetest.Purchase("Shop", nil, "1.00")
		p.ID = string(rune('a' + i))
		purchases = append(purchases, p)
	}

	lines := recentLines(purchases, 2)
	if len(lines) != 2 || lines[0].ID != "d" || lines[1].ID != "e" {
		t.Errorf("recentLines() = %+v, want ids d,e", lines)
	}
}

func TestServices_IngestUploadedReceipt(t *testing.T) {
	st := memory.NewStore()
	model := &mockModel{ExtractReceiptFunc: func(ctx context.Context, image []byte, mimeType string) (*gemini.Extraction, error) {
		if mimeType != "image/png" {
			t.Errorf("mimeType = %q, want image/png", mimeType)
		}
		return &gemini.Extraction{
			RawText: "TARGET\n01/05/2024\nSoap 3.50\nTOTAL 3.50",
			Fields: map[string]any{
				"merchant": "Target",
				"date":     "01/05/2024",
				"total":    "3.50",
				"items": []any{
					map[string]any{"name": "Soap", "price": "3.50", "quantity": 1},
				},
			},
		}, nil
	}}

	services := NewServices(testConfig(), WithStore(st), WithModel(model))
	defer services.Close()

	res, err := services.Router().Route(context.Background(), Request{
		Kind:      KindIngestReceipt,
		Image:     []byte("\x89PNG\r\n\x1a\nfake"),
		ImageName: "receipt.png",
		MIMEType:  "image/png",
	})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if res.Purchase == nil || res.Purchase.ID == "" {
		t.Fatalf("Purchase = %+v, want stored purchase", res.Purchase)
	}

	stored, err := st.Get(context.Background(), res.Purchase.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Merchant != "Target" {
		t.Errorf("Merchant = %q, want Target", stored.Merchant)
	}
}

func TestServices_IngestWithoutImage(t *testing.T) {
	services := NewServices(testConfig(), WithStore(memory.NewStore()), WithModel(&mockModel{}))

	_, err := services.Router().Route(context.Background(), Request{Kind: KindIngestReceipt})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("Route() error = %v, want ErrInvalidRequest", err)
	}
}

func TestServices_MissingAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.GeminiAPIKey = ""
	services := NewServices(cfg)

	_, err := services.Router().Route(context.Background(), Request{Kind: KindFreeFormQuery, Question: "hi"})
	if !errors.Is(err, domain.ErrHandlerUnavailable) {
		t.Errorf("Route() error = %v, want ErrHandlerUnavailable", err)
	}
}

func TestServices_MemoryStore(t *testing.T) {
	services := NewServices(testConfig())
	defer services.Close()

	a, err := services.Store(context.Background())
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	b, _ := services.Store(context.Background())
	if a != b {
		t.Error("Store() returned different instances")
	}
}
