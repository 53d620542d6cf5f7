package refund

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/dappfactory/orderflow/pkg/logger"
)

// DefaultSweepSchedule runs the automatic refund sweep hourly.
const DefaultSweepSchedule = "@every 1h"

// Sweeper periodically refunds stale failed orders.
type Sweeper struct {
	svc      *Service
	log      *logger.Logger
	schedule string
	cron     *cron.Cron
}

// NewSweeper builds a sweeper over svc. An empty schedule selects the
// default.
func NewSweeper(svc *Service, schedule string, log *logger.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if log == nil {
		log = logger.NewDefault("refund-sweeper")
	}
	return &Sweeper{svc: svc, log: log, schedule: schedule}
}

// Name implements system.Service.
func (s *Sweeper) Name() string { return "refund-sweeper" }

// Start schedules the sweep.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("schedule refund sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.log.WithField("schedule", s.schedule).Info("refund sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.cron = nil
	return nil
}

func (s *Sweeper) run() {
	if _, err := s.svc.ProcessAutoRefunds(context.Background()); err != nil {
		s.log.WithError(err).Error("refund sweep failed")
	}
}
