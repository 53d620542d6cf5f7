// Package orders handles order intake and queries.
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/dappfactory/orderflow/internal/app/domain/order"
	"github.com/dappfactory/orderflow/internal/app/metrics"
	"github.com/dappfactory/orderflow/internal/app/storage"
	"github.com/dappfactory/orderflow/pkg/logger"
)

// Service creates and looks up orders.
type Service struct {
	store storage.OrderStore
	log   *logger.Logger
}

// New constructs the order service.
func New(store storage.OrderStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("orders")
	}
	return &Service{store: store, log: log}
}

// Create registers a new order in pending_payment. The price is fixed at
// creation from the product/tier table and never renegotiated.
func (s *Service) Create(ctx context.Context, payerRef string, spec order.ProjectSpec) (order.Order, error) {
	if payerRef == "" {
		return order.Order{}, fmt.Errorf("%w: payer reference is required", order.ErrValidation)
	}
	if err := spec.Validate(); err != nil {
		return order.Order{}, err
	}

	price, err := order.ExpectedPrice(spec)
	if err != nil {
		return order.Order{}, err
	}

	now := time.Now().UTC()
	created, err := s.store.CreateOrder(ctx, order.Order{
		PayerRef: payerRef,
		Spec:     spec,
		Status:   order.StatusPendingPayment,
		Payment: order.Payment{
			Amount:   price,
			Currency: "SOL",
			Status:   order.PaymentPending,
		},
		Compliance: order.Compliance{},
		Timestamps: order.Timestamps{Created: now},
	})
	if err != nil {
		return order.Order{}, err
	}

	metrics.RecordOrderCreated()
	s.log.WithField("order_id", created.ID).
		WithField("product", string(spec.ProductType)).
		WithField("tier", string(spec.Tier)).
		WithField("price_lamports", price).
		Info("order created")
	return created, nil
}

// Get returns one order by ID.
func (s *Service) Get(ctx context.Context, id string) (order.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// ListByPayer returns a customer's orders.
func (s *Service) ListByPayer(ctx context.Context, payerRef string, limit int) ([]order.Order, error) {
	return s.store.ListOrders(ctx, storage.ListFilter{PayerRef: payerRef, Limit: limit})
}

// List returns orders matching the filter. Admin surface.
func (s *Service) List(ctx context.Context, filter storage.ListFilter) ([]order.Order, error) {
	return s.store.ListOrders(ctx, filter)
}

// ListPendingReviews returns orders awaiting manual compliance review.
func (s *Service) ListPendingReviews(ctx context.Context) ([]order.Order, error) {
	return s.store.ListOrders(ctx, storage.ListFilter{Status: order.StatusReviewRequired})
}
