// Package app assembles the order lifecycle services.
package app

import (
	"context"
	"fmt"

	"github.com/dappfactory/orderflow/internal/app/services/download"
	"github.com/dappfactory/orderflow/internal/app/services/generation"
	"github.com/dappfactory/orderflow/internal/app/services/orders"
	"github.com/dappfactory/orderflow/internal/app/services/payment"
	"github.com/dappfactory/orderflow/internal/app/services/refund"
	"github.com/dappfactory/orderflow/internal/app/storage"
	"github.com/dappfactory/orderflow/internal/app/storage/memory"
	"github.com/dappfactory/orderflow/internal/app/system"
	"github.com/dappfactory/orderflow/pkg/logger"
)

// Stores are the persistence backends. A nil OrderStore gets the
// in-memory implementation, which keeps tests and local runs free of
// external dependencies.
type Stores struct {
	Orders storage.OrderStore
}

// Collaborators are the external systems the lifecycle talks to.
type Collaborators struct {
	TransactionLookup payment.TransactionLookup
	Generator         generation.Generator
	Scorer            generation.Scorer
	Packager          download.Packager
	RefundIssuer      refund.Issuer
	PaymentNotifier   payment.Notifier
	CompletionMailer  generation.Notifier
}

// Options tune background processing.
type Options struct {
	GeneratorWorkers   int
	RefundSweepEnabled bool
	RefundSweepCron    string
}

// Application is the assembled service graph.
type Application struct {
	Stores Stores

	Orders     *orders.Service
	Payments   *payment.Service
	Generation *generation.Service
	Downloads  *download.Service
	Refunds    *refund.Service
	Dispatcher *generation.Dispatcher

	manager *system.Manager
	log     *logger.Logger
}

// New wires the services together. The dispatcher is registered as the
// payment enqueuer, so confirming a payment starts generation in the
// background.
func New(stores Stores, collab Collaborators, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if stores.Orders == nil {
		stores.Orders = memory.New()
	}
	if collab.Generator == nil {
		return nil, fmt.Errorf("generator collaborator is required")
	}
	if collab.Scorer == nil {
		return nil, fmt.Errorf("scorer collaborator is required")
	}
	if collab.Packager == nil {
		return nil, fmt.Errorf("packager collaborator is required")
	}

	downloads := download.New(stores.Orders, collab.Packager, log.WithField("component", "download"))
	generationSvc := generation.New(stores.Orders, collab.Generator, collab.Scorer, downloads,
		log.WithField("component", "generation"))
	if collab.CompletionMailer != nil {
		generationSvc.AttachNotifier(collab.CompletionMailer)
	}

	dispatcher := generation.NewDispatcher(generationSvc, opts.GeneratorWorkers,
		log.WithField("component", "dispatcher"))

	payments := payment.New(stores.Orders, collab.TransactionLookup, log.WithField("component", "payment"))
	payments.AttachEnqueuer(dispatcher)
	if collab.PaymentNotifier != nil {
		payments.AttachNotifier(collab.PaymentNotifier)
	}

	refunds := refund.New(stores.Orders, collab.RefundIssuer, log.WithField("component", "refund"))

	manager := system.NewManager()
	if err := manager.Register(dispatcher); err != nil {
		return nil, err
	}
	if opts.RefundSweepEnabled {
		sweeper := refund.NewSweeper(refunds, opts.RefundSweepCron, log.WithField("component", "sweeper"))
		if err := manager.Register(sweeper); err != nil {
			return nil, err
		}
	}

	return &Application{
		Stores:     stores,
		Orders:     orders.New(stores.Orders, log.WithField("component", "orders")),
		Payments:   payments,
		Generation: generationSvc,
		Downloads:  downloads,
		Refunds:    refunds,
		Dispatcher: dispatcher,
		manager:    manager,
		log:        log,
	}, nil
}

// Start launches background services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop shuts background services down in reverse registration order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
