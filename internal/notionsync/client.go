package notionsync

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/receipt-assistant/internal/domain"
)

// DefaultTimeout bounds each Notion API call.
const DefaultTimeout = 30 * time.Second

// NotionClient implements NotionService with the Notion SDK.
// Every failure wraps domain.ErrExternalService.
type NotionClient struct {
	client  *notionapi.Client
	timeout time.Duration
}

// NewNotionClient creates a client for the given integration token.
func NewNotionClient(token string, timeout time.Duration) *NotionClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &NotionClient{
		client:  notionapi.NewClient(notionapi.Token(token)),
		timeout: timeout,
	}
}

// CreatePage creates a page in a database.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	page, err := n.client.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	})
	if err != nil {
		return nil, fmt.Errorf("CreatePage: %w: %w", domain.ErrExternalService, err)
	}
	return page, nil
}

// UpdatePage overwrites the given properties of a page.
func (n *NotionClient) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	page, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{
		Properties: properties,
	})
	if err != nil {
		return nil, fmt.Errorf("UpdatePage: %w: %w", domain.ErrExternalService, err)
	}
	return page, nil
}

// QueryDatabase returns one page of database results.
func (n *NotionClient) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	resp, err := n.client.Database.Query(ctx, notionapi.DatabaseID(databaseID), req)
	if err != nil {
		return nil, fmt.Errorf("QueryDatabase: %w: %w", domain.ErrExternalService, err)
	}
	return resp, nil
}

// ArchivePage moves a page to the Notion trash.
func (n *NotionClient) ArchivePage(ctx context.Context, pageID string) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	_, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{
		Archived: true,
	})
	if err != nil {
		return fmt.Errorf("ArchivePage: %w: %w", domain.ErrExternalService, err)
	}
	return nil
}
