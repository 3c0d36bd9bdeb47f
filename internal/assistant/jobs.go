package assistant

import (
	"context"
	"fmt"

	"github.com/dvloznov/receipt-assistant/internal/jobs"
)

// IngestJobHandler runs queued ingest jobs through the router and records the
// stored purchase on the job.
func (r *Router) IngestJobHandler() jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		ingest, ok := job.(*jobs.IngestReceiptJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		res, err := r.Route(ctx, Request{
			Kind:      KindIngestReceipt,
			ImageRef:  ingest.ImageRef,
			Image:     ingest.Image,
			ImageName: ingest.ImageName,
			MIMEType:  ingest.MIMEType,
		})
		if err != nil {
			return err
		}

		if res.Purchase != nil {
			ingest.PurchaseID = res.Purchase.ID
			ingest.NeedsReview = res.Purchase.NeedsReview
		}
		return nil
	}
}
