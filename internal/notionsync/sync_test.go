package notionsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/store/memory"
)

// MockNotion is a mock implementation of NotionService.
type MockNotion struct {
	QueryDatabaseFunc func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePageFunc    func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)

	Created  []notionapi.Properties
	Updated  map[string]notionapi.Properties
	Archived []string
}

func (m *MockNotion) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.CreatePageFunc != nil {
		return m.CreatePageFunc(ctx, databaseID, properties)
	}
	m.Created = append(m.Created, properties)
	return &notionapi.Page{ID: notionapi.ObjectID("new-page")}, nil
}

func (m *MockNotion) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.Updated == nil {
		m.Updated = make(map[string]notionapi.Properties)
	}
	m.Updated[pageID] = properties
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func (m *MockNotion) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if m.QueryDatabaseFunc != nil {
		return m.QueryDatabaseFunc(ctx, databaseID, req)
	}
	return &notionapi.DatabaseQueryResponse{}, nil
}

func (m *MockNotion) ArchivePage(ctx context.Context, pageID string) error {
	m.Archived = append(m.Archived, pageID)
	return nil
}

func pageFor(pageID, purchaseID string) notionapi.Page {
	props := notionapi.Properties{}
	if purchaseID != "" {
		props[PropPurchaseID] = &notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{PlainText: purchaseID}},
		}
	}
	return notionapi.Page{ID: notionapi.ObjectID(pageID), Properties: props}
}

func samplePurchase() *domain.Purchase {
	return &domain.Purchase{
		ID:            "p-1",
		Merchant:      "Target",
		Date:          &civil.Date{Year: 2024, Month: time.January, Day: 5},
		Total:         decimal.RequireFromString("12.50"),
		Currency:      "USD",
		PaymentMethod: "VISA",
		Items: []domain.PurchaseItem{
			{Name: "Soap", Category: "Household", Quantity: decimal.NewFromInt(2), LineTotal: decimal.RequireFromString("5.00")},
			{Name: "Milk", Category: "Groceries", Quantity: decimal.NewFromInt(1), LineTotal: decimal.RequireFromString("7.50")},
			{Name: "Bread", Category: "Groceries", Quantity: decimal.NewFromInt(1), LineTotal: decimal.Zero},
		},
		NeedsReview: true,
		ReviewNotes: []string{"total mismatch"},
	}
}

func TestPurchaseToNotionProperties(t *testing.T) {
	props := PurchaseToNotionProperties(samplePurchase())

	title, ok := props[PropMerchant].(notionapi.TitleProperty)
	if !ok || title.Title[0].Text.Content != "Target" {
		t.Errorf("Merchant = %#v", props[PropMerchant])
	}
	if total := props[PropTotal].(notionapi.NumberProperty); total.Number != 12.5 {
		t.Errorf("Total = %v, want 12.5", total.Number)
	}
	date := props[PropDate].(notionapi.DateProperty)
	if got := time.Time(*date.Date.Start).Format("2006-01-02"); got != "2024-01-05" {
		t.Errorf("Date = %s, want 2024-01-05", got)
	}
	cats := props[PropCategories].(notionapi.MultiSelectProperty)
	if len(cats.MultiSelect) != 2 || cats.MultiSelect[0].Name != "Groceries" || cats.MultiSelect[1].Name != "Household" {
		t.Errorf("Categories = %+v, want [Groceries Household]", cats.MultiSelect)
	}
	if review := props[PropNeedsReview].(notionapi.CheckboxProperty); !review.Checkbox {
		t.Error("Needs Review = false, want true")
	}
	if _, ok := props[PropReviewNotes]; !ok {
		t.Error("Review Notes missing")
	}
}

func TestPurchaseToNotionProperties_Minimal(t *testing.T) {
	props := PurchaseToNotionProperties(&domain.Purchase{ID: "p-2"})

	if title := props[PropMerchant].(notionapi.TitleProperty); title.Title[0].Text.Content != "Unknown" {
		t.Errorf("Merchant = %q, want Unknown", title.Title[0].Text.Content)
	}
	for _, key := range []string{PropDate, PropCurrency, PropPaymentMethod, PropItems, PropReviewNotes} {
		if _, ok := props[key]; ok {
			t.Errorf("property %q set for empty purchase", key)
		}
	}
}

func TestRichText_Truncates(t *testing.T) {
	long := make([]rune, maxRichText+50)
	for i := range long {
		long[i] = 'a'
	}
	got := []rune(richText(string(long))[0].Text.Content)
	if len(got) != maxRichText {
		t.Errorf("len = %d, want %d", len(got), maxRichText)
	}
}

func TestPurchaseIDFromPage(t *testing.T) {
	tests := []struct {
		name string
		page notionapi.Page
		want string
	}{
		{"plain text", pageFor("a", "p-1"), "p-1"},
		{"missing", pageFor("a", ""), ""},
		{
			"text content",
			notionapi.Page{Properties: notionapi.Properties{
				PropPurchaseID: notionapi.RichTextProperty{RichText: richText("p-9")},
			}},
			"p-9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PurchaseIDFromPage(tt.page); got != tt.want {
				t.Errorf("PurchaseIDFromPage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func seed(t *testing.T, merchants ...string) (*memory.Store, []string) {
	t.Helper()
	st := memory.NewStore()
	var ids []string
	for _, m := range merchants {
		id, err := st.Append(context.Background(), &domain.Purchase{Merchant: m, Total: decimal.NewFromInt(1)})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		ids = append(ids, id)
	}
	return st, ids
}

func TestSyncPurchases_CreatesAndUpdates(t *testing.T) {
	st, ids := seed(t, "Target", "Costco")

	var cursors []notionapi.Cursor
	mock := &MockNotion{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			cursors = append(cursors, req.StartCursor)
			if req.StartCursor == "" {
				return &notionapi.DatabaseQueryResponse{
					Results:    []notionapi.Page{pageFor("page-target", ids[0])},
					HasMore:    true,
					NextCursor: "next",
				}, nil
			}
			return &notionapi.DatabaseQueryResponse{
				Results: []notionapi.Page{pageFor("page-orphan", "deleted-id")},
			}, nil
		},
	}

	stats, err := SyncPurchases(context.Background(), st, mock, "db", Options{})
	if err != nil {
		t.Fatalf("SyncPurchases() error = %v", err)
	}

	if len(cursors) != 2 || cursors[1] != "next" {
		t.Errorf("query cursors = %v, want pagination", cursors)
	}
	if stats.Created != 1 || stats.Updated != 1 || stats.Archived != 0 {
		t.Errorf("stats = %+v, want 1 created, 1 updated", stats)
	}
	if _, ok := mock.Updated["page-target"]; !ok {
		t.Errorf("page-target not updated: %v", mock.Updated)
	}
	if len(mock.Archived) != 0 {
		t.Errorf("archived without prune: %v", mock.Archived)
	}
}

func TestSyncPurchases_Prune(t *testing.T) {
	st, ids := seed(t, "Target")
	mock := &MockNotion{
		QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return &notionapi.DatabaseQueryResponse{Results: []notionapi.Page{
				pageFor("keep", ids[0]),
				pageFor("gone", "deleted-id"),
				pageFor("untagged", ""),
			}}, nil
		},
	}

	stats, err := SyncPurchases(context.Background(), st, mock, "db", Options{Prune: true})
	if err != nil {
		t.Fatalf("SyncPurchases() error = %v", err)
	}
	if stats.Archived != 2 || len(mock.Archived) != 2 || mock.Archived[0] != "gone" || mock.Archived[1] != "untagged" {
		t.Errorf("archived = %v, stats %+v", mock.Archived, stats)
	}
}

func TestSyncPurchases_DryRun(t *testing.T) {
	st, _ := seed(t, "Target", "Costco")
	mock := &MockNotion{}

	stats, err := SyncPurchases(context.Background(), st, mock, "db", Options{DryRun: true, Prune: true})
	if err != nil {
		t.Fatalf("SyncPurchases() error = %v", err)
	}
	if stats.Created != 2 {
		t.Errorf("Created = %d, want 2", stats.Created)
	}
	if len(mock.Created) != 0 || len(mock.Updated) != 0 || len(mock.Archived) != 0 {
		t.Error("dry run wrote to Notion")
	}
}

func TestSyncPurchases_Failures(t *testing.T) {
	st, _ := seed(t, "Target", "Costco")

	t.Run("create failures are counted", func(t *testing.T) {
		mock := &MockNotion{
			CreatePageFunc: func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
				return nil, domain.ErrExternalService
			},
		}
		stats, err := SyncPurchases(context.Background(), st, mock, "db", Options{})
		if err != nil {
			t.Fatalf("SyncPurchases() error = %v", err)
		}
		if stats.Failed != 2 || stats.Created != 0 {
			t.Errorf("stats = %+v, want 2 failed", stats)
		}
	})

	t.Run("query failure aborts", func(t *testing.T) {
		mock := &MockNotion{
			QueryDatabaseFunc: func(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
				return nil, domain.ErrExternalService
			},
		}
		_, err := SyncPurchases(context.Background(), st, mock, "db", Options{})
		if !errors.Is(err, domain.ErrExternalService) {
			t.Errorf("SyncPurchases() error = %v, want ErrExternalService", err)
		}
	})
}
