// Package pipeline runs the receipt ingest steps: load, extract, normalize, store.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/gemini"
	"github.com/dvloznov/receipt-assistant/internal/logger"
)

// PipelineStep represents a single step in the ingestion pipeline.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	// ImageRef is a gs:// URI or local path. Ignored when Image is already set.
	ImageRef  string
	ImageName string
	Image     []byte
	MIMEType  string

	Extraction *gemini.Extraction
	Purchase   *domain.Purchase
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially and stops at the first failure.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)

	for i, step := range p.steps {
		start := time.Now()
		if err := step.Execute(ctx, state); err != nil {
			log.Error().Err(err).Str("step", step.Name()).Msg("Pipeline step failed")
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
		log.Debug().
			Str("step", step.Name()).
			Dur("elapsed", time.Since(start)).
			Msg("Pipeline step completed")
	}
	return nil
}

// Deps are the collaborators of the receipt ingestion pipeline.
type Deps struct {
	Images     ImageLoader
	Extractor  Extractor
	Normalizer Normalizer
	Store      PurchaseAppender
}

// NewReceiptIngestionPipeline creates the standard 4-step pipeline for ingesting a receipt.
func NewReceiptIngestionPipeline(deps Deps) *Pipeline {
	return NewPipeline(
		&LoadImageStep{Images: deps.Images},
		&ExtractStep{Extractor: deps.Extractor},
		&NormalizeStep{Normalizer: deps.Normalizer},
		&StoreStep{Store: deps.Store},
	)
}
