// Package storage defines persistence contracts for the order lifecycle.
package storage

import (
	"context"
	"time"

	"github.com/dappfactory/orderflow/internal/app/domain/order"
)

// ListFilter narrows order listings. Zero values match everything.
type ListFilter struct {
	Status   order.LifecycleStatus
	PayerRef string
	Limit    int
}

// OrderStore persists order records. Implementations must guarantee that
// Mutate applies its function under per-order mutual exclusion: two racing
// Mutate calls against the same order observe each other's writes, so
// exactly one of two conflicting transitions takes effect.
type OrderStore interface {
	CreateOrder(ctx context.Context, o order.Order) (order.Order, error)
	GetOrder(ctx context.Context, id string) (order.Order, error)

	// GetOrderByToken resolves an order by its download token.
	GetOrderByToken(ctx context.Context, token string) (order.Order, error)

	ListOrders(ctx context.Context, filter ListFilter) ([]order.Order, error)

	// ListRefundCandidates returns orders that failed with a confirmed
	// payment and were created before the cutoff.
	ListRefundCandidates(ctx context.Context, createdBefore time.Time) ([]order.Order, error)

	// Mutate loads the order, applies fn while holding the per-order lock,
	// and persists the result. When fn returns an error nothing is written
	// and the error is returned unchanged.
	Mutate(ctx context.Context, id string, fn func(*order.Order) error) (order.Order, error)
}
