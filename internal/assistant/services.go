package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dvloznov/receipt-assistant/internal/config"
	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/gemini"
	"github.com/dvloznov/receipt-assistant/internal/imagesource"
	bqinfra "github.com/dvloznov/receipt-assistant/internal/infra/bigquery"
	"github.com/dvloznov/receipt-assistant/internal/market"
	"github.com/dvloznov/receipt-assistant/internal/normalize"
	"github.com/dvloznov/receipt-assistant/internal/pipeline"
	"github.com/dvloznov/receipt-assistant/internal/store"
	"github.com/dvloznov/receipt-assistant/internal/store/memory"
	"github.com/dvloznov/receipt-assistant/internal/store/sqlite"
)

// Model is the union of the extraction and reasoning calls served by one LLM client.
type Model interface {
	pipeline.Extractor
	Reasoner
}

// Services owns the collaborators shared by all handlers. Each one is
// created on first use and reused afterwards.
type Services struct {
	cfg config.Config

	mu         sync.Mutex
	store      store.PurchaseStore
	model      Model
	fetcher    market.Fetcher
	normalizer *normalize.Normalizer
	objects    *imagesource.GCSObjectStore
	images     *imagesource.Source
}

// Option overrides a collaborator of Services.
type Option func(*Services)

// WithStore makes Services use st instead of opening the configured backend.
func WithStore(st store.PurchaseStore) Option {
	return func(s *Services) { s.store = st }
}

// WithModel makes Services use m instead of a Gemini client.
func WithModel(m Model) Option {
	return func(s *Services) { s.model = m }
}

// WithFetcher makes Services use f instead of Yahoo Finance.
func WithFetcher(f market.Fetcher) Option {
	return func(s *Services) { s.fetcher = f }
}

// WithImages makes Services use src to resolve image references.
func WithImages(src *imagesource.Source) Option {
	return func(s *Services) { s.images = src }
}

// NewServices creates Services for cfg. Nothing is opened until first use.
func NewServices(cfg config.Config, opts ...Option) *Services {
	s := &Services{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the configuration the services were built from.
func (s *Services) Config() config.Config {
	return s.cfg
}

// Store returns the shared purchase store, opening it on first call.
func (s *Services) Store(ctx context.Context) (store.PurchaseStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		return s.store, nil
	}

	var (
		st  store.PurchaseStore
		err error
	)
	switch s.cfg.StoreBackend {
	case config.BackendMemory:
		st = memory.NewStore()
	case config.BackendSQLite, "":
		st, err = sqlite.New(s.cfg.DBPath)
	case config.BackendBigQuery:
		st, err = bqinfra.NewPurchaseRepository(ctx, s.cfg.BQProject, s.cfg.BQDataset)
	default:
		err = fmt.Errorf("unknown store backend %q: %w", s.cfg.StoreBackend, domain.ErrStoreUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("Services.Store: %w", err)
	}
	s.store = st
	return st, nil
}

// Model returns the shared LLM client. A missing API key wraps domain.ErrHandlerUnavailable.
func (s *Services) Model(ctx context.Context) (Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.model != nil {
		return s.model, nil
	}

	client, err := gemini.New(ctx, gemini.Config{
		APIKey:  s.cfg.GeminiAPIKey,
		Model:   s.cfg.GeminiModel,
		Timeout: s.cfg.ExternalTimeout,
	})
	if errors.Is(err, gemini.ErrMissingAPIKey) {
		return nil, fmt.Errorf("Services.Model: %w: %w", domain.ErrHandlerUnavailable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("Services.Model: %w", err)
	}
	s.model = client
	return client, nil
}

// Images returns the image source backed by Cloud Storage.
func (s *Services) Images() *imagesource.Source {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.images == nil {
		s.objects = imagesource.NewGCSObjectStore(0)
		s.images = imagesource.New(s.objects)
	}
	return s.images
}

func (s *Services) normalizerInstance() (*normalize.Normalizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.normalizer != nil {
		return s.normalizer, nil
	}

	rules := normalize.DefaultRules()
	if s.cfg.RulesPath != "" {
		loaded, err := normalize.LoadRules(s.cfg.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("Services.normalizer: %w", err)
		}
		rules = loaded
	}
	n, err := normalize.New(rules)
	if err != nil {
		return nil, fmt.Errorf("Services.normalizer: %w", err)
	}
	s.normalizer = n
	return n, nil
}

func (s *Services) marketFetcher() market.Fetcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fetcher == nil {
		s.fetcher = market.NewYahooFetcher(s.cfg.ExternalTimeout)
	}
	return s.fetcher
}

// Factories returns a handler factory for every kind.
func (s *Services) Factories() map[Kind]Factory {
	return map[Kind]Factory{
		KindIngestReceipt: s.newIngestHandler,
		KindMonthlyReport: s.newReportHandler,
		KindMarketSummary: s.newMarketHandler,
		KindFreeFormQuery: s.newQueryHandler,
	}
}

// Router returns a router over Factories.
func (s *Services) Router() *Router {
	return NewRouter(s.Factories())
}

func (s *Services) newIngestHandler(ctx context.Context) (Handler, error) {
	st, err := s.Store(ctx)
	if err != nil {
		return nil, err
	}
	model, err := s.Model(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.normalizerInstance()
	if err != nil {
		return nil, err
	}

	p := pipeline.NewReceiptIngestionPipeline(pipeline.Deps{
		Images:     s.Images(),
		Extractor:  model,
		Normalizer: n,
		Store:      st,
	})
	return NewIngestHandler(p), nil
}

func (s *Services) newReportHandler(ctx context.Context) (Handler, error) {
	st, err := s.Store(ctx)
	if err != nil {
		return nil, err
	}
	model, err := s.Model(ctx)
	if err != nil {
		return nil, err
	}
	return NewReportHandler(st, model), nil
}

func (s *Services) newMarketHandler(ctx context.Context) (Handler, error) {
	model, err := s.Model(ctx)
	if err != nil {
		return nil, err
	}
	return NewMarketHandler(s.marketFetcher(), model, s.cfg.MarketSymbols, s.cfg.MarketDays), nil
}

func (s *Services) newQueryHandler(ctx context.Context) (Handler, error) {
	st, err := s.Store(ctx)
	if err != nil {
		return nil, err
	}
	model, err := s.Model(ctx)
	if err != nil {
		return nil, err
	}
	return NewQueryHandler(st, model), nil
}

// Close releases the store and the Cloud Storage client.
func (s *Services) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
		s.store = nil
	}
	if s.objects != nil {
		errs = append(errs, s.objects.Close())
		s.objects = nil
	}
	return errors.Join(errs...)
}
