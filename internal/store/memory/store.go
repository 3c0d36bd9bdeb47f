// Package memory is an in-memory PurchaseStore, used in tests and with STORE_BACKEND=memory.
package memory

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/store"
)

// Store keeps purchases in insertion order and is safe for concurrent use.
// Data is lost on restart.
type Store struct {
	mu        sync.RWMutex
	order     []string
	purchases map[string]*domain.Purchase
	now       func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		purchases: make(map[string]*domain.Purchase),
		now:       time.Now,
	}
}

// Append implements store.PurchaseStore.
func (s *Store) Append(ctx context.Context, p *domain.Purchase) (string, error) {
	if p == nil {
		return "", fmt.Errorf("Append: purchase is nil")
	}

	// Store a copy so callers cannot mutate stored state
	stored := p.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.purchases[stored.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		s.order = append(s.order, stored.ID)
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	s.purchases[stored.ID] = stored

	return stored.ID, nil
}

// Query implements store.PurchaseStore. The snapshot is taken when ranging starts.
func (s *Store) Query(ctx context.Context, f store.Filter) iter.Seq2[*domain.Purchase, error] {
	return func(yield func(*domain.Purchase, error) bool) {
		s.mu.RLock()
		matched := make([]*domain.Purchase, 0, len(s.order))
		for _, id := range s.order {
			if p := s.purchases[id]; f.Matches(p) {
				matched = append(matched, p.Clone())
			}
		}
		s.mu.RUnlock()

		for _, p := range matched {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

// Get implements store.PurchaseStore.
func (s *Store) Get(ctx context.Context, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.purchases[id]
	if !ok {
		return nil, fmt.Errorf("Get: purchase %s: %w", id, domain.ErrNotFound)
	}
	return p.Clone(), nil
}

// Replace implements store.PurchaseStore.
func (s *Store) Replace(ctx context.Context, id string, p *domain.Purchase) error {
	if p == nil {
		return fmt.Errorf("Replace: purchase is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.purchases[id]
	if !ok {
		return fmt.Errorf("Replace: purchase %s: %w", id, domain.ErrNotFound)
	}

	stored := p.Clone()
	stored.ID = id
	stored.CreatedAt = existing.CreatedAt
	s.purchases[id] = stored
	return nil
}

// Delete implements store.PurchaseStore.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.purchases[id]; !ok {
		return fmt.Errorf("Delete: purchase %s: %w", id, domain.ErrNotFound)
	}
	delete(s.purchases, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Ensure Store implements PurchaseStore interface.
var _ store.PurchaseStore = (*Store)(nil)
