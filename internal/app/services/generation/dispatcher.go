package generation

import (
	"context"
	"sync"

	"github.com/dappfactory/orderflow/pkg/logger"
)

const (
	defaultWorkers  = 4
	defaultQueueCap = 64
)

// Dispatcher runs generation pipelines on a bounded worker pool. Payment
// confirmation enqueues order IDs; Enqueue never blocks the confirming
// request, it reports false when the queue is full so the caller can fall
// back to on-demand triggering.
type Dispatcher struct {
	svc     *Service
	log     *logger.Logger
	workers int

	queue chan string

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher builds a dispatcher over svc. workers <= 0 selects the
// default pool size.
func NewDispatcher(svc *Service, workers int, log *logger.Logger) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if log == nil {
		log = logger.NewDefault("generation-dispatcher")
	}
	return &Dispatcher{
		svc:     svc,
		log:     log,
		workers: workers,
		queue:   make(chan string, defaultQueueCap),
	}
}

// Name implements system.Service.
func (d *Dispatcher) Name() string { return "generation-dispatcher" }

// Start launches the worker pool.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.started = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(runCtx)
	}
	d.log.WithField("workers", d.workers).Info("dispatcher started")
	return nil
}

// Stop drains the pool. Queued but unstarted orders stay in
// payment_confirmed and are picked up by an explicit generate call.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}
	d.cancel()
	d.wg.Wait()
	d.started = false
	d.log.Info("dispatcher stopped")
	return nil
}

// Enqueue implements payment.Enqueuer.
func (d *Dispatcher) Enqueue(orderID string) bool {
	select {
	case d.queue <- orderID:
		return true
	default:
		d.log.WithField("order_id", orderID).Warn("generation queue full")
		return false
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case orderID := <-d.queue:
			if _, err := d.svc.Generate(ctx, orderID); err != nil {
				d.log.WithError(err).WithField("order_id", orderID).Error("background generation failed")
			}
		}
	}
}
