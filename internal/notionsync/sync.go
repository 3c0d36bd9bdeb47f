// Package notionsync exports stored purchases to a Notion database.
package notionsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/logger"
	"github.com/dvloznov/receipt-assistant/internal/store"
)

// pageSize is the Notion maximum for database queries.
const pageSize = 100

// Options control a sync run.
type Options struct {
	// Filter selects the purchases to export.
	Filter store.Filter

	// Prune archives pages whose purchase no longer exists in the store.
	Prune bool

	DryRun bool
}

// Stats summarizes a sync run. In dry-run mode the counts are what would have happened.
type Stats struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Archived int `json:"archived"`
	Failed   int `json:"failed"`
}

// SyncPurchases pushes purchases to a Notion database. Pages are matched to
// purchases by the "Purchase ID" property: matching pages are updated in place,
// missing ones are created. Per-purchase failures are logged and counted; only
// failures to read the store or list the database abort the run.
func SyncPurchases(ctx context.Context, st store.PurchaseStore, notion NotionService, databaseID string, opts Options) (Stats, error) {
	log := logger.FromContext(ctx)
	var stats Stats

	log.Info().
		Str("database_id", databaseID).
		Bool("dry_run", opts.DryRun).
		Bool("prune", opts.Prune).
		Msg("Starting purchase sync to Notion")

	pages, err := queryAllNotionPages(ctx, notion, databaseID)
	if err != nil {
		return stats, fmt.Errorf("SyncPurchases: %w", err)
	}

	pageIDs := make(map[string]string, len(pages))
	for _, page := range pages {
		if id := PurchaseIDFromPage(page); id != "" {
			pageIDs[id] = string(page.ID)
		}
	}
	log.Info().Int("notion_page_count", len(pages)).Msg("Retrieved existing Notion pages")

	purchases, err := store.Collect(st.Query(ctx, opts.Filter))
	if err != nil {
		return stats, fmt.Errorf("SyncPurchases: reading purchases: %w", err)
	}

	for _, p := range purchases {
		pLog := log.With().Str("purchase_id", p.ID).Str("merchant", p.Merchant).Logger()
		pageID, exists := pageIDs[p.ID]

		if opts.DryRun {
			if exists {
				pLog.Info().Str("page_id", pageID).Msg("[DRY RUN] Would update Notion page")
				stats.Updated++
			} else {
				pLog.Info().Msg("[DRY RUN] Would create Notion page")
				stats.Created++
			}
			continue
		}

		props := PurchaseToNotionProperties(p)
		if exists {
			if _, err := notion.UpdatePage(ctx, pageID, props); err != nil {
				pLog.Warn().Err(err).Str("page_id", pageID).Msg("Failed to update Notion page")
				stats.Failed++
				continue
			}
			stats.Updated++
			continue
		}

		page, err := notion.CreatePage(ctx, databaseID, props)
		if err != nil {
			pLog.Warn().Err(err).Msg("Failed to create Notion page")
			stats.Failed++
			continue
		}
		pageIDs[p.ID] = string(page.ID)
		pLog.Debug().Str("page_id", string(page.ID)).Msg("Created Notion page")
		stats.Created++
	}

	if opts.Prune {
		if err := prune(ctx, st, notion, pages, opts.DryRun, &stats); err != nil {
			return stats, fmt.Errorf("SyncPurchases: %w", err)
		}
	}

	log.Info().
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("archived", stats.Archived).
		Int("failed", stats.Failed).
		Msg("Purchase sync completed")

	return stats, nil
}

// prune archives pages without a Purchase ID or whose purchase was deleted.
func prune(ctx context.Context, st store.PurchaseStore, notion NotionService, pages []notionapi.Page, dryRun bool, stats *Stats) error {
	log := logger.FromContext(ctx)

	for _, page := range pages {
		id := PurchaseIDFromPage(page)
		if id != "" {
			_, err := st.Get(ctx, id)
			if err == nil {
				continue
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("checking purchase %s: %w", id, err)
			}
		}

		pLog := log.With().Str("purchase_id", id).Str("page_id", string(page.ID)).Logger()
		if dryRun {
			pLog.Info().Msg("[DRY RUN] Would archive stale Notion page")
			stats.Archived++
			continue
		}
		if err := notion.ArchivePage(ctx, string(page.ID)); err != nil {
			pLog.Warn().Err(err).Msg("Failed to archive stale Notion page")
			stats.Failed++
			continue
		}
		pLog.Info().Msg("Archived stale Notion page")
		stats.Archived++
	}
	return nil
}

// queryAllNotionPages follows the pagination cursor until every page is read.
func queryAllNotionPages(ctx context.Context, notion NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: pageSize}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notion.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
