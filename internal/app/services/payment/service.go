// Package payment confirms inbound payments against order expectations.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dappfactory/orderflow/internal/app/domain/order"
	"github.com/dappfactory/orderflow/internal/app/metrics"
	"github.com/dappfactory/orderflow/internal/app/storage"
	"github.com/dappfactory/orderflow/internal/chain"
	"github.com/dappfactory/orderflow/pkg/logger"
)

// Verification errors. The order stays in pending_payment when any of
// these are returned.
var (
	ErrNotFound          = errors.New("payment transaction not found")
	ErrTransactionFailed = errors.New("transaction failed on chain")
	ErrSenderMismatch    = errors.New("transaction sender does not match payer")
	ErrAmountMismatch    = errors.New("transferred amount below expected price")
	ErrSessionUnpaid     = errors.New("checkout session not paid")
)

// errAlreadyConfirmed short-circuits the conditional write when a racing
// or repeated verification finds the payment already confirmed.
var errAlreadyConfirmed = errors.New("payment already confirmed")

// TransactionLookup resolves an on-chain transfer by signature.
type TransactionLookup interface {
	LookupTransaction(ctx context.Context, reference string) (chain.TransferInfo, error)
}

// Enqueuer hands a paid order to the generation pipeline.
type Enqueuer interface {
	Enqueue(orderID string) bool
}

// Notifier sends the payment-confirmation email. Failures are logged and
// never surfaced to the verification caller.
type Notifier interface {
	SendPaymentConfirmation(ctx context.Context, o order.Order) error
}

// CardSession is a processor-confirmed checkout session. The processor's
// webhook is trusted; no independent amount recheck is performed.
type CardSession struct {
	SessionID   string
	CustomerRef string
	AmountTotal int64
	Currency    string
	Paid        bool
}

// Confirmation is the successful verification result.
type Confirmation struct {
	OrderID          string `json:"order_id"`
	Reference        string `json:"reference"`
	Confirmations    int64  `json:"confirmations"`
	AlreadyConfirmed bool   `json:"already_confirmed"`
}

// Service verifies payments and advances orders to payment_confirmed.
type Service struct {
	store    storage.OrderStore
	lookup   TransactionLookup
	enqueuer Enqueuer
	notifier Notifier
	log      *logger.Logger
}

// New constructs a payment verifier.
func New(store storage.OrderStore, lookup TransactionLookup, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("payment")
	}
	return &Service{store: store, lookup: lookup, log: log}
}

// AttachEnqueuer sets the generation pipeline. Call before serving.
func (s *Service) AttachEnqueuer(e Enqueuer) { s.enqueuer = e }

// AttachNotifier sets the confirmation mailer.
func (s *Service) AttachNotifier(n Notifier) { s.notifier = n }

// VerifyOnChain confirms an order against an on-chain transfer signature.
// Repeated calls for an already-confirmed order are no-ops returning
// success. Underpayment is rejected; overpayment is accepted as-is.
func (s *Service) VerifyOnChain(ctx context.Context, orderID, signature string) (Confirmation, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return Confirmation{}, fmt.Errorf("%w: transaction signature is required", order.ErrValidation)
	}

	existing, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return Confirmation{}, err
	}
	if existing.Payment.Status == order.PaymentConfirmed {
		return s.confirmedResult(existing), nil
	}

	info, err := s.lookup.LookupTransaction(ctx, signature)
	if err != nil {
		if errors.Is(err, chain.ErrTransactionNotFound) {
			return Confirmation{}, ErrNotFound
		}
		return Confirmation{}, fmt.Errorf("lookup transaction: %w", err)
	}
	if info.Failed {
		return Confirmation{}, fmt.Errorf("%w: %s", ErrTransactionFailed, info.FailureReason)
	}
	if info.Sender != existing.PayerRef {
		return Confirmation{}, fmt.Errorf("%w: paid by %s", ErrSenderMismatch, info.Sender)
	}
	if info.AmountToTreasury < existing.Payment.Amount {
		return Confirmation{}, fmt.Errorf("%w: got %d lamports, expected %d",
			ErrAmountMismatch, info.AmountToTreasury, existing.Payment.Amount)
	}

	confirmations := info.Confirmations
	if confirmations < 1 {
		confirmations = 1
	}
	return s.confirm(ctx, orderID, signature, confirmations)
}

// VerifyCard confirms an order from a processor-confirmed card session.
func (s *Service) VerifyCard(ctx context.Context, orderID string, session CardSession) (Confirmation, error) {
	if strings.TrimSpace(session.SessionID) == "" {
		return Confirmation{}, fmt.Errorf("%w: session id is required", order.ErrValidation)
	}
	if !session.Paid {
		return Confirmation{}, ErrSessionUnpaid
	}
	return s.confirm(ctx, orderID, session.SessionID, 1)
}

// confirm applies the payment_confirmed transition under the per-order
// lock. Exactly one of any set of racing confirmations takes effect; the
// rest observe the already-applied result.
func (s *Service) confirm(ctx context.Context, orderID, reference string, confirmations int64) (Confirmation, error) {
	updated, err := s.store.Mutate(ctx, orderID, func(o *order.Order) error {
		if o.Payment.Status == order.PaymentConfirmed {
			return errAlreadyConfirmed
		}
		if !order.CanTransition(o.Status, order.StatusPaymentConfirmed) {
			return fmt.Errorf("%w: cannot confirm payment in status %s", order.ErrConflict, o.Status)
		}
		now := time.Now().UTC()
		o.Payment.Status = order.PaymentConfirmed
		o.Payment.ExternalReference = reference
		o.Payment.Confirmations = confirmations
		o.Status = order.StatusPaymentConfirmed
		o.Timestamps.StampPaymentConfirmed(now)
		return nil
	})
	if errors.Is(err, errAlreadyConfirmed) {
		existing, getErr := s.store.GetOrder(ctx, orderID)
		if getErr != nil {
			return Confirmation{}, getErr
		}
		return s.confirmedResult(existing), nil
	}
	if err != nil {
		return Confirmation{}, err
	}

	s.log.WithField("order_id", orderID).
		WithField("reference", reference).
		Info("payment confirmed")
	metrics.RecordPaymentConfirmed()

	if s.enqueuer != nil {
		if !s.enqueuer.Enqueue(orderID) {
			s.log.WithField("order_id", orderID).Warn("generation queue full; order awaits requeue")
		}
	}
	if s.notifier != nil {
		if err := s.notifier.SendPaymentConfirmation(ctx, updated); err != nil {
			s.log.WithError(err).WithField("order_id", orderID).Warn("payment confirmation email failed")
		}
	}

	return Confirmation{
		OrderID:       updated.ID,
		Reference:     reference,
		Confirmations: confirmations,
	}, nil
}

func (s *Service) confirmedResult(o order.Order) Confirmation {
	return Confirmation{
		OrderID:          o.ID,
		Reference:        o.Payment.ExternalReference,
		Confirmations:    o.Payment.Confirmations,
		AlreadyConfirmed: true,
	}
}
