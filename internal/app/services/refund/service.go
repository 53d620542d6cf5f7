// Package refund returns confirmed payments for failed or rejected orders.
package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dappfactory/orderflow/internal/app/domain/order"
	"github.com/dappfactory/orderflow/internal/app/metrics"
	"github.com/dappfactory/orderflow/internal/app/storage"
	"github.com/dappfactory/orderflow/pkg/logger"
)

// AutoRefundAge is how long a failed order with a confirmed payment may
// sit before the sweep refunds it.
const AutoRefundAge = 24 * time.Hour

// ErrNotRefundable is returned for orders whose payment was never
// confirmed or whose state forbids refunding.
var ErrNotRefundable = errors.New("order not refundable")

// Issuer moves funds back to the payer. chain.TreasurySigner implements
// it for on-chain payments.
type Issuer interface {
	IssueRefund(ctx context.Context, recipient string, lamports int64, memo string) (string, error)
}

// Service issues refunds and marks the order refunded only after the
// transfer succeeds.
type Service struct {
	store  storage.OrderStore
	issuer Issuer
	log    *logger.Logger
}

// New constructs a refund service.
func New(store storage.OrderStore, issuer Issuer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("refund")
	}
	return &Service{store: store, issuer: issuer, log: log}
}

// Refund returns the payment for an order. Calling it on an
// already-refunded order is a no-op success. The transfer happens before
// the state change; if the transfer fails the order is left untouched so
// the operation can be retried.
func (s *Service) Refund(ctx context.Context, orderID, reason, notes string) (order.Order, error) {
	current, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if current.Payment.Status == order.PaymentRefunded {
		return current, nil
	}
	if current.Payment.Status != order.PaymentConfirmed {
		return order.Order{}, fmt.Errorf("%w: payment status %s", ErrNotRefundable, current.Payment.Status)
	}
	if !order.CanTransition(current.Status, order.StatusRefunded) {
		return order.Order{}, fmt.Errorf("%w: lifecycle status %s", ErrNotRefundable, current.Status)
	}
	if s.issuer == nil {
		return order.Order{}, errors.New("no refund issuer configured")
	}

	memo := "refund " + orderID
	if reason != "" {
		memo += ": " + reason
	}
	signature, err := s.issuer.IssueRefund(ctx, current.PayerRef, current.Payment.Amount, memo)
	if err != nil {
		metrics.RecordRefund("failed")
		return order.Order{}, fmt.Errorf("issue refund: %w", err)
	}

	updated, err := s.store.Mutate(ctx, orderID, func(o *order.Order) error {
		if o.Payment.Status == order.PaymentRefunded {
			return nil
		}
		now := time.Now().UTC()
		o.Payment.Status = order.PaymentRefunded
		o.Status = order.StatusRefunded
		message := "refunded (" + reason + "): tx " + signature
		if notes != "" {
			message += "; " + notes
		}
		o.AppendAudit("refund", message, now)
		return nil
	})
	if err != nil {
		return order.Order{}, err
	}

	metrics.RecordRefund("issued")
	s.log.WithField("order_id", orderID).
		WithField("signature", signature).
		WithField("lamports", current.Payment.Amount).
		Info("refund issued")
	return updated, nil
}

// ProcessAutoRefunds refunds every order that failed with a confirmed
// payment more than AutoRefundAge ago. Individual failures are logged and
// the sweep continues.
func (s *Service) ProcessAutoRefunds(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-AutoRefundAge)
	candidates, err := s.store.ListRefundCandidates(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list refund candidates: %w", err)
	}

	issued := 0
	for _, o := range candidates {
		if _, err := s.Refund(ctx, o.ID, "automatic refund after failure", ""); err != nil {
			s.log.WithError(err).WithField("order_id", o.ID).Error("automatic refund failed")
			continue
		}
		issued++
	}
	if issued > 0 {
		s.log.WithField("count", issued).Info("automatic refunds issued")
	}
	return issued, nil
}
