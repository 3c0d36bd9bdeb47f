package bigquery

import (
	"context"
	"fmt"
	"iter"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/store"
)

// Ensure PurchaseRepository implements store.PurchaseStore
var _ store.PurchaseStore = (*PurchaseRepository)(nil)

// PurchaseRepository is the BigQuery implementation of store.PurchaseStore.
// It holds a shared client to avoid creating a connection per operation.
type PurchaseRepository struct {
	client *bigquery.Client
	table  Table
	now    func() time.Time
}

// NewPurchaseRepository creates a repository and makes sure the purchases table exists.
// Failures wrap domain.ErrStoreUnavailable.
func NewPurchaseRepository(ctx context.Context, projectID, datasetID string) (*PurchaseRepository, error) {
	if projectID == "" {
		return nil, fmt.Errorf("NewPurchaseRepository: project ID is required: %w", domain.ErrStoreUnavailable)
	}

	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewPurchaseRepository: creating client: %w: %w", domain.ErrStoreUnavailable, err)
	}

	table := Table{ProjectID: projectID, DatasetID: datasetID}
	if err := EnsurePurchasesTableWithClient(ctx, client, table); err != nil {
		client.Close()
		return nil, fmt.Errorf("NewPurchaseRepository: %w: %w", domain.ErrStoreUnavailable, err)
	}

	return &PurchaseRepository{client: client, table: table, now: time.Now}, nil
}

// Close closes the BigQuery client connection.
func (r *PurchaseRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Append implements store.PurchaseStore.
func (r *PurchaseRepository) Append(ctx context.Context, p *domain.Purchase) (string, error) {
	if p == nil {
		return "", fmt.Errorf("Append: purchase is nil")
	}

	stored := p.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now().UTC()
	}

	if err := UpsertPurchaseWithClient(ctx, r.client, r.table, PurchaseToRow(stored)); err != nil {
		return "", fmt.Errorf("Append: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return stored.ID, nil
}

// Query implements store.PurchaseStore. Rows are pulled page by page as the caller ranges.
func (r *PurchaseRepository) Query(ctx context.Context, f store.Filter) iter.Seq2[*domain.Purchase, error] {
	return func(yield func(*domain.Purchase, error) bool) {
		it, err := QueryPurchasesWithClient(ctx, r.client, r.table, f)
		if err != nil {
			yield(nil, fmt.Errorf("Query: %w: %w", domain.ErrStoreUnavailable, err))
			return
		}

		for {
			var row PurchaseRow
			err := it.Next(&row)
			if err == iterator.Done {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("Query: iterating: %w: %w", domain.ErrStoreUnavailable, err))
				return
			}

			p, err := PurchaseFromRow(&row)
			if err != nil {
				yield(nil, fmt.Errorf("Query: %w", err))
				return
			}
			if !f.Matches(p) {
				continue
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

// Get implements store.PurchaseStore.
func (r *PurchaseRepository) Get(ctx context.Context, id string) (*domain.Purchase, error) {
	row, err := GetPurchaseWithClient(ctx, r.client, r.table, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w: %w", domain.ErrStoreUnavailable, err)
	}
	if row == nil {
		return nil, fmt.Errorf("Get: purchase %s: %w", id, domain.ErrNotFound)
	}
	return PurchaseFromRow(row)
}

// Replace implements store.PurchaseStore.
func (r *PurchaseRepository) Replace(ctx context.Context, id string, p *domain.Purchase) error {
	if p == nil {
		return fmt.Errorf("Replace: purchase is nil")
	}

	stored := p.Clone()
	stored.ID = id

	found, err := UpdatePurchaseWithClient(ctx, r.client, r.table, PurchaseToRow(stored))
	if err != nil {
		return fmt.Errorf("Replace: %w: %w", domain.ErrStoreUnavailable, err)
	}
	if !found {
		return fmt.Errorf("Replace: purchase %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Delete implements store.PurchaseStore.
func (r *PurchaseRepository) Delete(ctx context.Context, id string) error {
	found, err := DeletePurchaseWithClient(ctx, r.client, r.table, id)
	if err != nil {
		return fmt.Errorf("Delete: %w: %w", domain.ErrStoreUnavailable, err)
	}
	if !found {
		return fmt.Errorf("Delete: purchase %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
