package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/receipt-assistant/internal/imagesource"
	"github.com/dvloznov/receipt-assistant/internal/logger"
	"github.com/dvloznov/receipt-assistant/internal/metrics"
	"github.com/dvloznov/receipt-assistant/internal/normalize"
)

// Step 1: LoadImageStep fetches the image bytes unless the caller supplied them.
type LoadImageStep struct {
	Images ImageLoader
}

func (s *LoadImageStep) Name() string { return "load-image" }

func (s *LoadImageStep) Execute(ctx context.Context, state *PipelineState) error {
	if len(state.Image) > 0 {
		if state.MIMEType == "" {
			state.MIMEType = imagesource.DetectMIMEType(state.ImageName, state.Image)
		}
		return nil
	}
	if state.ImageRef == "" {
		return fmt.Errorf("LoadImageStep: no image or image reference")
	}
	if s.Images == nil {
		return fmt.Errorf("LoadImageStep: no image loader configured")
	}

	img, err := s.Images.Load(ctx, state.ImageRef)
	if err != nil {
		return err
	}
	state.Image = img.Data
	state.MIMEType = img.MIMEType
	state.ImageName = img.Name
	return nil
}

// Step 2: ExtractStep calls the vision model with the image.
type ExtractStep struct {
	Extractor Extractor
}

func (s *ExtractStep) Name() string { return "extract" }

func (s *ExtractStep) Execute(ctx context.Context, state *PipelineState) error {
	extraction, err := s.Extractor.ExtractReceipt(ctx, state.Image, state.MIMEType)
	if err != nil {
		return err
	}
	state.Extraction = extraction
	return nil
}

// Step 3: NormalizeStep validates and repairs the extracted fields.
type NormalizeStep struct {
	Normalizer Normalizer
}

func (s *NormalizeStep) Name() string { return "normalize" }

func (s *NormalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Extraction == nil {
		return fmt.Errorf("NormalizeStep: no extraction result")
	}

	p := s.Normalizer.Normalize(normalize.RawFields(state.Extraction.Fields), state.Extraction.RawText)
	if p.NeedsReview {
		log := logger.FromContext(ctx)
		log.Info().
			Str("merchant", p.Merchant).
			Strs("review_notes", p.ReviewNotes).
			Msg("Receipt flagged for review")
	}
	state.Purchase = p
	return nil
}

// Step 4: StoreStep appends the purchase to the record store.
type StoreStep struct {
	Store PurchaseAppender
}

func (s *StoreStep) Name() string { return "store" }

func (s *StoreStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Purchase == nil {
		return fmt.Errorf("StoreStep: no purchase to store")
	}

	if state.Purchase.CreatedAt.IsZero() {
		state.Purchase.CreatedAt = time.Now().UTC()
	}

	id, err := s.Store.Append(ctx, state.Purchase)
	if err != nil {
		return err
	}
	state.Purchase.ID = id
	metrics.ObserveReceipt(state.Purchase.NeedsReview)
	return nil
}
