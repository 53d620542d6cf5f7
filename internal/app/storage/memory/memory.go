// Package memory provides an in-memory OrderStore. It is safe for
// concurrent use and is primarily intended for tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dappfactory/orderflow/internal/app/domain/order"
	"github.com/dappfactory/orderflow/internal/app/storage"
)

// Store keeps order records in process memory. A single mutex guards the
// maps; Mutate runs its whole load-apply-save cycle under it, which gives
// the per-order exclusion the OrderStore contract requires.
type Store struct {
	mu            sync.RWMutex
	orders        map[string]order.Order
	ordersByToken map[string]string
	creationOrder []string
}

var _ storage.OrderStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		orders:        make(map[string]order.Order),
		ordersByToken: make(map[string]string),
	}
}

func (s *Store) CreateOrder(_ context.Context, o order.Order) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if _, exists := s.orders[o.ID]; exists {
		return order.Order{}, order.ErrConflict
	}

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	s.orders[o.ID] = cloneOrder(o)
	s.creationOrder = append(s.creationOrder, o.ID)
	return o, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) GetOrderByToken(_ context.Context, token string) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.ordersByToken[token]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) ListOrders(_ context.Context, filter storage.ListFilter) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]order.Order, 0, len(s.orders))
	for _, id := range s.creationOrder {
		o, ok := s.orders[id]
		if !ok {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.PayerRef != "" && o.PayerRef != filter.PayerRef {
			continue
		}
		result = append(result, cloneOrder(o))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ListRefundCandidates(_ context.Context, createdBefore time.Time) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []order.Order
	for _, id := range s.creationOrder {
		o, ok := s.orders[id]
		if !ok {
			continue
		}
		if o.Status == order.StatusFailed &&
			o.Payment.Status == order.PaymentConfirmed &&
			o.CreatedAt.Before(createdBefore) {
			result = append(result, cloneOrder(o))
		}
	}
	return result, nil
}

func (s *Store) Mutate(_ context.Context, id string, fn func(*order.Order) error) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}

	working := cloneOrder(o)
	if err := fn(&working); err != nil {
		return order.Order{}, err
	}

	working.ID = o.ID
	working.CreatedAt = o.CreatedAt
	working.UpdatedAt = time.Now().UTC()

	s.orders[id] = cloneOrder(working)
	if working.Download != nil && working.Download.Token != "" {
		s.ordersByToken[working.Download.Token] = id
	}
	return working, nil
}

func cloneOrder(o order.Order) order.Order {
	out := o
	if o.Artifact != nil {
		artifact := *o.Artifact
		artifact.Files = append([]order.ArtifactFile(nil), o.Artifact.Files...)
		out.Artifact = &artifact
	}
	if o.Download != nil {
		dl := *o.Download
		out.Download = &dl
	}
	out.Compliance.Flags = append([]order.Flag(nil), o.Compliance.Flags...)
	out.Audit = append([]order.AuditEntry(nil), o.Audit...)
	return out
}
