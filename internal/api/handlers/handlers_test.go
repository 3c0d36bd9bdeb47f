package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/receipt-assistant/internal/api/middleware"
	"github.com/dvloznov/receipt-assistant/internal/assistant"
	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/jobs/inmemory"
	"github.com/dvloznov/receipt-assistant/internal/logger"
	"github.com/dvloznov/receipt-assistant/internal/store/memory"
)

// MockRouter is a mock implementation of TaskRouter.
type MockRouter struct {
	RouteFunc func(ctx context.Context, req assistant.Request) (*assistant.Result, error)
	Requests  []assistant.Request
}

func (m *MockRouter) Route(ctx context.Context, req assistant.Request) (*assistant.Result, error) {
	m.Requests = append(m.Requests, req)
	if m.RouteFunc != nil {
		return m.RouteFunc(ctx, req)
	}
	return &assistant.Result{Kind: req.Kind}, nil
}

type testServer struct {
	handler  http.Handler
	router   *MockRouter
	store    *memory.Store
	jobStore *inmemory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	router := &MockRouter{}
	st := memory.NewStore()
	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(10, 1, jobStore)
	t.Cleanup(func() { queue.Close() })

	log := logger.Nop()
	mux := NewMux(Deps{
		Router:    router,
		Store:     st,
		Publisher: queue,
		Jobs:      jobStore,
		Log:       log,
	})
	return &testServer{
		handler:  middleware.Chain(log, mux),
		router:   router,
		store:    st,
		jobStore: jobStore,
	}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) seed(t *testing.T, merchant string) string {
	t.Helper()
	id, err := s.store.Append(context.Background(), &domain.Purchase{
		Merchant: merchant,
		Date:     &civil.Date{Year: 2024, Month: time.January, Day: 5},
		Total:    decimal.RequireFromString("12.34"),
		Currency: domain.DefaultCurrency,
		Items: []domain.PurchaseItem{{
			Name:      "Milk",
			Category:  "Groceries",
			UnitPrice: decimal.RequireFromString("12.34"),
			Quantity:  decimal.NewFromInt(1),
			LineTotal: decimal.RequireFromString("12.34"),
		}},
		RawText: merchant + " receipt",
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	return id
}

func multipartBody(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	part.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", domain.ErrUnknownTaskKind), http.StatusBadRequest},
		{fmt.Errorf("x: %w", domain.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("x: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", domain.ErrHandlerUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("x: %w", domain.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("x: %w", domain.ErrExternalService), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestIngest_Multipart(t *testing.T) {
	s := newTestServer(t)
	s.router.RouteFunc = func(ctx context.Context, req assistant.Request) (*assistant.Result, error) {
		return &assistant.Result{Kind: req.Kind, Purchase: &domain.Purchase{ID: "p-1", Merchant: "Target"}}, nil
	}

	body, contentType := multipartBody(t, "receipt.png", []byte("\x89PNG\r\n\x1a\nfake"))
	req := httptest.NewRequest(http.MethodPost, "/receipts", body)
	req.Header.Set("Content-Type", contentType)

	rec := s.do(t, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	got := s.router.Requests[0]
	if got.Kind != assistant.KindIngestReceipt || got.ImageName != "receipt.png" || got.MIMEType != "image/png" {
		t.Errorf("routed request = %+v", got)
	}

	var res assistant.Result
	decodeJSON(t, rec, &res)
	if res.Purchase == nil || res.Purchase.ID != "p-1" {
		t.Errorf("purchase = %+v", res.Purchase)
	}
}

func TestIngest_ImageURI(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/receipts", strings.NewReader(`{"image_uri":"gs://bucket/r/1.jpg"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := s.do(t, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := s.router.Requests[0]; got.ImageRef != "gs://bucket/r/1.jpg" || got.ImageName != "1.jpg" {
		t.Errorf("routed request = %+v", got)
	}
}

func TestIngest_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		routeErr error
		want     int
	}{
		{name: "missing uri", body: `{}`, want: http.StatusBadRequest},
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
		{name: "image not found", body: `{"image_uri":"gs://b/x.jpg"}`, routeErr: domain.ErrNotFound, want: http.StatusNotFound},
		{name: "extraction failed", body: `{"image_uri":"gs://b/x.jpg"}`, routeErr: domain.ErrExternalService, want: http.StatusBadGateway},
		{name: "no api key", body: `{"image_uri":"gs://b/x.jpg"}`, routeErr: domain.ErrHandlerUnavailable, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.router.RouteFunc = func(ctx context.Context, req assistant.Request) (*assistant.Result, error) {
				return nil, fmt.Errorf("Route: %w", tt.routeErr)
			}

			rec := s.do(t, httptest.NewRequest(http.MethodPost, "/receipts", strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestIngest_Async(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/receipts?async=true", strings.NewReader(`{"image_uri":"gs://b/r.jpg"}`))
	rec := s.do(t, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(s.router.Requests) != 0 {
		t.Errorf("router called synchronously for async ingest")
	}

	var body map[string]string
	decodeJSON(t, rec, &body)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/jobs/"+body["job_id"], nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET job status = %d", rec.Code)
	}
	var job map[string]any
	decodeJSON(t, rec, &job)
	if job["image_ref"] != "gs://b/r.jpg" || job["status"] != "pending" {
		t.Errorf("job = %v", job)
	}
}

func TestReceipts_CRUD(t *testing.T) {
	s := newTestServer(t)
	id := s.seed(t, "Target")
	s.seed(t, "Costco")

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/receipts?merchant=targ&from=2024-01-01&to=2024-01-31", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Purchases []domain.Purchase `json:"purchases"`
		Count     int               `json:"count"`
	}
	decodeJSON(t, rec, &list)
	if list.Count != 1 || list.Purchases[0].ID != id {
		t.Errorf("list = %+v", list)
	}

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/receipts/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	update := `{"merchant":"Target","date":"2024-01-06","total":"15.00","currency":"USD","items":[]}`
	rec = s.do(t, httptest.NewRequest(http.MethodPut, "/receipts/"+id, strings.NewReader(update)))
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body)
	}
	stored, err := s.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !stored.Total.Equal(decimal.RequireFromString("15.00")) || stored.Date.Day != 6 {
		t.Errorf("stored after update = %+v", stored)
	}
	if stored.RawText != "Target receipt" {
		t.Errorf("RawText = %q, want kept from stored record", stored.RawText)
	}

	rec = s.do(t, httptest.NewRequest(http.MethodDelete, "/receipts/"+id, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/receipts/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestReceipts_CorrectionClearsReview(t *testing.T) {
	s := newTestServer(t)
	id, err := s.store.Append(context.Background(), &domain.Purchase{
		Merchant:    "store",
		Total:       decimal.RequireFromString("3.99"),
		Currency:    domain.DefaultCurrency,
		Items:       []domain.PurchaseItem{},
		NeedsReview: true,
		ReviewNotes: []string{"merchant: generic"},
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/receipts/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var fetched domain.Purchase
	decodeJSON(t, rec, &fetched)
	if !fetched.NeedsReview {
		t.Fatal("Expected fetched record to be flagged")
	}

	fetched.Merchant = "Target"
	body, err := json.Marshal(&fetched)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	rec = s.do(t, httptest.NewRequest(http.MethodPut, "/receipts/"+id, bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body)
	}

	stored, err := s.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Merchant != "Target" {
		t.Errorf("Merchant = %q, want Target", stored.Merchant)
	}
	if stored.NeedsReview || len(stored.ReviewNotes) != 0 {
		t.Errorf("review = %v %v, want cleared by correction", stored.NeedsReview, stored.ReviewNotes)
	}
}

func TestReceipts_BadRequests(t *testing.T) {
	s := newTestServer(t)
	id := s.seed(t, "Target")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad from date", http.MethodGet, "/receipts?from=01/02/2024", "", http.StatusBadRequest},
		{"update unknown", http.MethodPut, "/receipts/nope", `{"merchant":"X","total":"1"}`, http.StatusNotFound},
		{"update without merchant", http.MethodPut, "/receipts/" + id, `{"total":"1"}`, http.StatusBadRequest},
		{"delete unknown", http.MethodDelete, "/receipts/nope", "", http.StatusNotFound},
		{"wrong method", http.MethodPatch, "/receipts/" + id, "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestTasks_Routing(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		want    int
		wantReq assistant.Request
	}{
		{
			name:    "monthly report",
			method:  http.MethodGet,
			path:    "/reports/2024/1",
			want:    http.StatusOK,
			wantReq: assistant.Request{Kind: assistant.KindMonthlyReport, Year: 2024, Month: time.January},
		},
		{
			name:    "market",
			method:  http.MethodGet,
			path:    "/market?symbols=%5EGSPC,AAPL&days=30",
			want:    http.StatusOK,
			wantReq: assistant.Request{Kind: assistant.KindMarketSummary, Symbols: []string{"^GSPC", "AAPL"}, Days: 30},
		},
		{
			name:    "query",
			method:  http.MethodPost,
			path:    "/query",
			body:    `{"question":"How much on groceries?"}`,
			want:    http.StatusOK,
			wantReq: assistant.Request{Kind: assistant.KindFreeFormQuery, Question: "How much on groceries?"},
		},
		{name: "bad month", method: http.MethodGet, path: "/reports/2024/jan", want: http.StatusBadRequest},
		{name: "bad days", method: http.MethodGet, path: "/market?days=-1", want: http.StatusBadRequest},
		{name: "bad query body", method: http.MethodPost, path: "/query", body: "nope", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(t, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
			if tt.want != http.StatusOK {
				return
			}

			got := s.router.Requests[0]
			if got.Kind != tt.wantReq.Kind || got.Year != tt.wantReq.Year || got.Month != tt.wantReq.Month ||
				got.Question != tt.wantReq.Question || got.Days != tt.wantReq.Days ||
				strings.Join(got.Symbols, ",") != strings.Join(tt.wantReq.Symbols, ",") {
				t.Errorf("routed %+v, want %+v", got, tt.wantReq)
			}
		})
	}
}

func TestTasks_DegradedResultIsOK(t *testing.T) {
	s := newTestServer(t)
	s.router.RouteFunc = func(ctx context.Context, req assistant.Request) (*assistant.Result, error) {
		return &assistant.Result{Kind: req.Kind, Degraded: true, Warnings: []string{"narrative unavailable"}}, nil
	}

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/reports/2024/1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var res assistant.Result
	decodeJSON(t, rec, &res)
	if !res.Degraded {
		t.Error("Degraded = false, want true")
	}
}

func TestJobs_List(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/jobs?status=failed", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Jobs  []any `json:"jobs"`
		Count int   `json:"count"`
	}
	decodeJSON(t, rec, &body)
	if body.Count != 0 || body.Jobs == nil {
		t.Errorf("body = %+v, want empty list", body)
	}

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/jobs/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "receipt_assistant_http_requests_total") {
		t.Error("metrics output does not contain HTTP request counter")
	}
}
