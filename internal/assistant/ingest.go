package assistant

import (
	"context"
	"fmt"

	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/pipeline"
)

// IngestHandler runs the receipt ingestion pipeline.
type IngestHandler struct {
	pipeline *pipeline.Pipeline
}

// NewIngestHandler creates an IngestHandler.
func NewIngestHandler(p *pipeline.Pipeline) *IngestHandler {
	return &IngestHandler{pipeline: p}
}

// Handle implements Handler. The stored purchase is returned even when flagged for review.
func (h *IngestHandler) Handle(ctx context.Context, req Request) (*Result, error) {
	if req.ImageRef == "" && len(req.Image) == 0 {
		return nil, fmt.Errorf("IngestHandler: no image: %w", domain.ErrInvalidRequest)
	}

	state := &pipeline.PipelineState{
		ImageRef:  req.ImageRef,
		ImageName: req.ImageName,
		Image:     req.Image,
		MIMEType:  req.MIMEType,
	}
	if err := h.pipeline.Execute(ctx, state); err != nil {
		return nil, fmt.Errorf("IngestHandler: %w", err)
	}

	return &Result{Kind: KindIngestReceipt, Purchase: state.Purchase}, nil
}
