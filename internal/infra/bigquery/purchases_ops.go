package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/receipt-assistant/internal/store"
)

const (
	defaultDatasetID = "finance"
	purchasesTable   = "purchases"
)

// Table identifies the purchases table.
type Table struct {
	ProjectID string
	DatasetID string
}

func (t Table) ref() string {
	dataset := t.DatasetID
	if dataset == "" {
		dataset = defaultDatasetID
	}
	return "`" + t.ProjectID + "." + dataset + "." + purchasesTable + "`"
}

const purchaseColumns = `
	purchase_id, merchant, purchase_date, total, currency,
	payment_method, raw_text, needs_review, review_notes, items, created_ts`

// UpsertPurchaseWithClient writes row with a MERGE keyed on purchase_id. An existing
// row keeps its created_ts, so it keeps its position in insertion order.
// Uses DML rather than streaming inserts so rows can be updated and deleted immediately.
func UpsertPurchaseWithClient(ctx context.Context, client *bigquery.Client, table Table, row *PurchaseRow) error {
	q := client.Query(`
		MERGE ` + table.ref() + ` T
		USING (SELECT @purchase_id AS purchase_id) S
		ON T.purchase_id = S.purchase_id
		WHEN MATCHED THEN UPDATE SET
			merchant = @merchant,
			purchase_date = @purchase_date,
			total = @total,
			currency = @currency,
			payment_method = @payment_method,
			raw_text = @raw_text,
			needs_review = @needs_review,
			review_notes = @review_notes,
			items = @items
		WHEN NOT MATCHED THEN INSERT (` + purchaseColumns + `)
		VALUES (
			@purchase_id, @merchant, @purchase_date, @total, @currency,
			@payment_method, @raw_text, @needs_review, @review_notes, @items, @created_ts
		)
	`)
	q.Parameters = purchaseParameters(row)

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("UpsertPurchase: %w", err)
	}
	return nil
}

// UpdatePurchaseWithClient overwrites an existing row and reports whether it existed.
func UpdatePurchaseWithClient(ctx context.Context, client *bigquery.Client, table Table, row *PurchaseRow) (bool, error) {
	q := client.Query(`
		UPDATE ` + table.ref() + ` SET
			merchant = @merchant,
			purchase_date = @purchase_date,
			total = @total,
			currency = @currency,
			payment_method = @payment_method,
			raw_text = @raw_text,
			needs_review = @needs_review,
			review_notes = @review_notes,
			items = @items
		WHERE purchase_id = @purchase_id
	`)
	q.Parameters = purchaseParameters(row)

	affected, err := runDML(ctx, q)
	if err != nil {
		return false, fmt.Errorf("UpdatePurchase: %w", err)
	}
	return affected > 0, nil
}

// DeletePurchaseWithClient removes a row and reports whether it existed.
func DeletePurchaseWithClient(ctx context.Context, client *bigquery.Client, table Table, purchaseID string) (bool, error) {
	q := client.Query(`
		DELETE FROM ` + table.ref() + `
		WHERE purchase_id = @purchase_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "purchase_id", Value: purchaseID},
	}

	affected, err := runDML(ctx, q)
	if err != nil {
		return false, fmt.Errorf("DeletePurchase: %w", err)
	}
	return affected > 0, nil
}

// GetPurchaseWithClient returns the row with the given ID, or nil if none exists.
func GetPurchaseWithClient(ctx context.Context, client *bigquery.Client, table Table, purchaseID string) (*PurchaseRow, error) {
	q := client.Query(`
		SELECT ` + purchaseColumns + `
		FROM ` + table.ref() + `
		WHERE purchase_id = @purchase_id
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "purchase_id", Value: purchaseID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetPurchase: reading query: %w", err)
	}

	var row PurchaseRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetPurchase: iterating: %w", err)
	}
	return &row, nil
}

// QueryPurchasesWithClient starts a query for rows within the filter's date bounds,
// ordered by insertion. Merchant and category criteria are left to the caller.
func QueryPurchasesWithClient(ctx context.Context, client *bigquery.Client, table Table, f store.Filter) (*bigquery.RowIterator, error) {
	var (
		where  []string
		params []bigquery.QueryParameter
	)
	if f.DateBounded() {
		where = append(where, "purchase_date IS NOT NULL")
	}
	if f.From != nil {
		where = append(where, "purchase_date >= @from_date")
		params = append(params, bigquery.QueryParameter{Name: "from_date", Value: *f.From})
	}
	if f.To != nil {
		where = append(where, "purchase_date <= @to_date")
		params = append(params, bigquery.QueryParameter{Name: "to_date", Value: *f.To})
	}

	query := `SELECT ` + purchaseColumns + ` FROM ` + table.ref()
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_ts, purchase_id"

	q := client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryPurchases: reading query: %w", err)
	}
	return it, nil
}

// EnsurePurchasesTableWithClient creates the purchases table if it does not exist.
func EnsurePurchasesTableWithClient(ctx context.Context, client *bigquery.Client, table Table) error {
	q := client.Query(`
		CREATE TABLE IF NOT EXISTS ` + table.ref() + ` (
			purchase_id    STRING NOT NULL,
			merchant       STRING NOT NULL,
			purchase_date  DATE,
			total          NUMERIC NOT NULL,
			currency       STRING NOT NULL,
			payment_method STRING,
			raw_text       STRING,
			needs_review   BOOL NOT NULL,
			review_notes   ARRAY<STRING>,
			items          ARRAY<STRUCT<
				line_index INT64,
				name       STRING,
				category   STRING,
				unit_price NUMERIC,
				quantity   NUMERIC,
				line_total NUMERIC
			>>,
			created_ts     TIMESTAMP NOT NULL
		)
	`)

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("EnsurePurchasesTable: %w", err)
	}
	return nil
}

func purchaseParameters(row *PurchaseRow) []bigquery.QueryParameter {
	notes := row.ReviewNotes
	if notes == nil {
		notes = []string{}
	}
	items := row.Items
	if items == nil {
		items = []PurchaseItemRow{}
	}
	return []bigquery.QueryParameter{
		{Name: "purchase_id", Value: row.PurchaseID},
		{Name: "merchant", Value: row.Merchant},
		{Name: "purchase_date", Value: row.PurchaseDate},
		{Name: "total", Value: row.Total},
		{Name: "currency", Value: row.Currency},
		{Name: "payment_method", Value: row.PaymentMethod},
		{Name: "raw_text", Value: row.RawText},
		{Name: "needs_review", Value: row.NeedsReview},
		{Name: "review_notes", Value: notes},
		{Name: "items", Value: items},
		{Name: "created_ts", Value: row.CreatedTS},
	}
}

// runDML runs a statement, waits for it and returns the number of affected rows.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}
