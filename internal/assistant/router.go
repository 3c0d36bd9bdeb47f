// Package assistant routes user tasks to lazily constructed handlers.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/logger"
	"github.com/dvloznov/receipt-assistant/internal/metrics"
)

// Kind tags a request with the task it asks for.
type Kind string

const (
	KindIngestReceipt Kind = "ingest-receipt"
	KindMonthlyReport Kind = "monthly-report"
	KindMarketSummary Kind = "market-summary"
	KindFreeFormQuery Kind = "free-form-query"
)

// Kinds lists every kind the assistant understands.
var Kinds = []Kind{KindIngestReceipt, KindMonthlyReport, KindMarketSummary, KindFreeFormQuery}

// Request carries a kind tag plus the payload fields that kind reads.
type Request struct {
	Kind Kind `json:"kind"`

	// ingest-receipt: either a gs:// URI / local path or uploaded bytes.
	ImageRef  string `json:"image_ref,omitempty"`
	Image     []byte `json:"-"`
	ImageName string `json:"image_name,omitempty"`
	MIMEType  string `json:"mime_type,omitempty"`

	// monthly-report: zero values default to the current year and month.
	Year  int        `json:"year,omitempty"`
	Month time.Month `json:"month,omitempty"`

	// free-form-query
	Question string `json:"question,omitempty"`

	// market-summary: empty values use the configured defaults.
	Symbols []string `json:"symbols,omitempty"`
	Days    int      `json:"days,omitempty"`
}

// Result is the union of handler outputs. Exactly one payload field is set.
type Result struct {
	Kind     Kind             `json:"kind"`
	Purchase *domain.Purchase `json:"purchase,omitempty"`
	Report   *MonthlyReport   `json:"report,omitempty"`
	Market   *MarketSummary   `json:"market,omitempty"`
	Answer   *Answer          `json:"answer,omitempty"`

	// Degraded is set when an external call failed but a partial result could still be built.
	Degraded bool     `json:"degraded"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *Result) degrade(warning string) {
	r.Degraded = true
	r.Warnings = append(r.Warnings, warning)
}

// Handler serves one kind of request.
type Handler interface {
	Handle(ctx context.Context, req Request) (*Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (*Result, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// Factory builds a handler. It runs at most once successfully per kind.
type Factory func(ctx context.Context) (Handler, error)

type slot struct {
	mu      sync.Mutex
	factory Factory
	handler Handler
}

// Router dispatches requests to handlers built on first use.
type Router struct {
	slots map[Kind]*slot
}

// NewRouter creates a router. Kinds missing from factories are reported as unknown.
func NewRouter(factories map[Kind]Factory) *Router {
	r := &Router{slots: make(map[Kind]*slot, len(factories))}
	for kind, f := range factories {
		if f != nil {
			r.slots[kind] = &slot{factory: f}
		}
	}
	return r
}

// Kinds returns the kinds this router can serve, sorted.
func (r *Router) Kinds() []Kind {
	out := make([]Kind, 0, len(r.slots))
	for k := range r.slots {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Route looks up the handler for req.Kind, building it if needed, and returns its result unchanged.
func (r *Router) Route(ctx context.Context, req Request) (*Result, error) {
	log := logger.FromContext(ctx).With().Str("kind", string(req.Kind)).Logger()
	start := time.Now()

	h, err := r.handler(ctx, req.Kind)
	if err != nil {
		log.Error().Err(err).Msg("No handler for task")
		metrics.ObserveTask(string(req.Kind), metrics.OutcomeError, time.Since(start))
		return nil, err
	}

	res, err := h.Handle(logger.WithContext(ctx, log), req)
	elapsed := time.Since(start)
	switch {
	case err != nil:
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("Task failed")
		metrics.ObserveTask(string(req.Kind), metrics.OutcomeError, elapsed)
	case res != nil && res.Degraded:
		log.Warn().Strs("warnings", res.Warnings).Dur("elapsed", elapsed).Msg("Task completed with degraded result")
		metrics.ObserveTask(string(req.Kind), metrics.OutcomeDegraded, elapsed)
	default:
		log.Info().Dur("elapsed", elapsed).Msg("Task completed")
		metrics.ObserveTask(string(req.Kind), metrics.OutcomeOK, elapsed)
	}
	return res, err
}

func (r *Router) handler(ctx context.Context, kind Kind) (Handler, error) {
	s, ok := r.slots[kind]
	if !ok {
		return nil, fmt.Errorf("Route: %q: %w", kind, domain.ErrUnknownTaskKind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handler != nil {
		return s.handler, nil
	}

	h, err := s.factory(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrHandlerUnavailable) {
			return nil, fmt.Errorf("Route: building %s handler: %w", kind, err)
		}
		return nil, fmt.Errorf("Route: building %s handler: %w: %w", kind, domain.ErrHandlerUnavailable, err)
	}
	if h == nil {
		return nil, fmt.Errorf("Route: %s factory returned no handler: %w", kind, domain.ErrHandlerUnavailable)
	}
	s.handler = h
	return h, nil
}
