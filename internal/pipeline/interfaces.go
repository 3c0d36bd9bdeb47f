package pipeline

import (
	"context"

	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/gemini"
	"github.com/dvloznov/receipt-assistant/internal/imagesource"
	"github.com/dvloznov/receipt-assistant/internal/normalize"
)

// ImageLoader resolves a receipt image reference into bytes.
type ImageLoader interface {
	Load(ctx context.Context, ref string) (*imagesource.Image, error)
}

// Extractor provides an interface for AI-powered receipt extraction.
// This interface enables mocking and testing of the vision model call.
type Extractor interface {
	// ExtractReceipt sends image bytes to a model and returns its transcription and raw fields.
	ExtractReceipt(ctx context.Context, image []byte, mimeType string) (*gemini.Extraction, error)
}

// Normalizer turns raw extracted fields into a canonical purchase.
type Normalizer interface {
	Normalize(fields normalize.RawFields, rawText string) *domain.Purchase
}

// PurchaseAppender is the subset of store.PurchaseStore used by the pipeline.
type PurchaseAppender interface {
	Append(ctx context.Context, p *domain.Purchase) (string, error)
}
