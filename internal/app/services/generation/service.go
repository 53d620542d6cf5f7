// Package generation drives orders through the generate/score/approve
// branch of the lifecycle.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dappfactory/orderflow/internal/app/domain/order"
	"github.com/dappfactory/orderflow/internal/app/metrics"
	"github.com/dappfactory/orderflow/internal/app/services/download"
	"github.com/dappfactory/orderflow/internal/app/storage"
	"github.com/dappfactory/orderflow/internal/compliance"
	"github.com/dappfactory/orderflow/internal/generator"
	"github.com/dappfactory/orderflow/pkg/logger"
)

// CallTimeout bounds one generator invocation. A timeout is recorded as a
// generation failure, never retried automatically.
const CallTimeout = 20 * time.Minute

// ErrGenerationFailed wraps generator and scorer failures. The order is
// moved to failed and the cause audit-logged.
var ErrGenerationFailed = errors.New("generation failed")

// Generator produces a project from a spec.
type Generator interface {
	Generate(ctx context.Context, spec order.ProjectSpec) (generator.Result, error)
}

// Scorer runs the compliance pass over generated files.
type Scorer interface {
	Analyze(ctx context.Context, files []generator.File) (compliance.Report, error)
}

// Notifier sends the completion email. Failures are logged, never
// propagated.
type Notifier interface {
	SendCompletion(ctx context.Context, o order.Order) error
}

// Service orchestrates generation, scoring, and review resolution.
type Service struct {
	store       storage.OrderStore
	gen         Generator
	scorer      Scorer
	downloads   *download.Service
	notifier    Notifier
	log         *logger.Logger
	callTimeout time.Duration
}

// New constructs the orchestrator.
func New(store storage.OrderStore, gen Generator, scorer Scorer, downloads *download.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("generation")
	}
	return &Service{
		store:       store,
		gen:         gen,
		scorer:      scorer,
		downloads:   downloads,
		log:         log,
		callTimeout: CallTimeout,
	}
}

// AttachNotifier sets the completion mailer.
func (s *Service) AttachNotifier(n Notifier) { s.notifier = n }

// Generate runs the full pipeline for a paid order. The entry transition
// payment_confirmed -> generating is a conditional write, so calling
// Generate on an order already generating or beyond fails with a conflict
// and the pipeline runs at most once per order.
func (s *Service) Generate(ctx context.Context, orderID string) (order.Order, error) {
	started := time.Now()

	claimed, err := s.store.Mutate(ctx, orderID, func(o *order.Order) error {
		if o.Payment.Status != order.PaymentConfirmed {
			return fmt.Errorf("%w: payment not confirmed", order.ErrConflict)
		}
		if o.Status != order.StatusPaymentConfirmed {
			return fmt.Errorf("%w: cannot generate in status %s", order.ErrConflict, o.Status)
		}
		o.Status = order.StatusGenerating
		o.Timestamps.StampGenerationStarted(time.Now().UTC())
		return nil
	})
	if err != nil {
		return order.Order{}, err
	}

	s.log.WithField("order_id", orderID).
		WithField("project", claimed.Spec.Name).
		Info("generation started")

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	result, err := s.gen.Generate(callCtx, claimed.Spec)
	if err != nil {
		message := err.Error()
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			message = "timeout"
		}
		return s.fail(ctx, orderID, "generation", message, started)
	}

	report, err := s.scorer.Analyze(ctx, result.Files)
	if err != nil {
		return s.fail(ctx, orderID, "compliance", err.Error(), started)
	}

	// Spool the archive now so a later review approval can complete the
	// order without re-running the generator.
	if _, err := s.downloads.Spool(ctx, claimed, result.Files, result.PackageManifest); err != nil {
		return s.fail(ctx, orderID, "packaging", err.Error(), started)
	}

	artifact := buildArtifact(result)
	needsReview := order.Compliance{RiskScore: report.RiskScore, Flags: report.Flags}.NeedsReview()

	updated, err := s.store.Mutate(ctx, orderID, func(o *order.Order) error {
		if o.Status != order.StatusGenerating {
			return fmt.Errorf("%w: order left generating state", order.ErrConflict)
		}
		now := time.Now().UTC()
		o.Artifact = &artifact
		o.Compliance.RiskScore = report.RiskScore
		o.Compliance.Flags = report.Flags
		o.Timestamps.StampGenerationCompleted(now)
		if needsReview {
			o.Status = order.StatusReviewRequired
			o.Compliance.WhitelistStatus = order.WhitelistPending
			o.AppendAudit("compliance", compliance.Summarize(report.Flags), now)
		} else {
			o.Status = order.StatusApproved
			o.Compliance.WhitelistStatus = order.WhitelistApproved
			o.Timestamps.StampApproved(now)
		}
		return nil
	})
	if err != nil {
		return order.Order{}, err
	}

	if needsReview {
		metrics.RecordGeneration("review_required", time.Since(started))
		s.log.WithField("order_id", orderID).
			WithField("risk_score", report.RiskScore).
			Warn("generation held for review")
		return updated, nil
	}

	return s.finish(ctx, orderID, started)
}

// ResolveReview applies a manual review decision to an order held in
// review_required. Approve completes the order; reject fails it and the
// caller refunds synchronously.
func (s *Service) ResolveReview(ctx context.Context, orderID, decision, reviewer, notes string) (order.Order, error) {
	decision = strings.ToLower(strings.TrimSpace(decision))
	if decision != "approve" && decision != "reject" {
		return order.Order{}, fmt.Errorf("%w: decision must be approve or reject", order.ErrValidation)
	}

	approve := decision == "approve"
	_, err := s.store.Mutate(ctx, orderID, func(o *order.Order) error {
		if o.Status != order.StatusReviewRequired {
			return fmt.Errorf("%w: order is not awaiting review", order.ErrConflict)
		}
		now := time.Now().UTC()
		o.Compliance.Reviewer = reviewer
		o.Compliance.ReviewNotes = notes
		o.Compliance.ReviewedAt = now
		if approve {
			o.Status = order.StatusApproved
			o.Compliance.WhitelistStatus = order.WhitelistApproved
			o.Timestamps.StampApproved(now)
		} else {
			o.Status = order.StatusFailed
			o.Compliance.WhitelistStatus = order.WhitelistRejected
			o.AppendAudit("review", "rejected: "+notes, now)
		}
		return nil
	})
	if err != nil {
		return order.Order{}, err
	}

	s.log.WithField("order_id", orderID).
		WithField("decision", decision).
		WithField("reviewer", reviewer).
		Info("review resolved")

	if approve {
		return s.finish(ctx, orderID, time.Now())
	}
	return s.store.GetOrder(ctx, orderID)
}

// finish completes an approved order: issue the download token and send
// the completion email.
func (s *Service) finish(ctx context.Context, orderID string, started time.Time) (order.Order, error) {
	completed, err := s.downloads.Complete(ctx, orderID)
	if err != nil {
		return s.fail(ctx, orderID, "packaging", err.Error(), started)
	}

	metrics.RecordGeneration("completed", time.Since(started))
	if s.notifier != nil {
		if err := s.notifier.SendCompletion(ctx, completed); err != nil {
			s.log.WithError(err).WithField("order_id", orderID).Warn("completion email failed")
		}
	}
	return completed, nil
}

// fail moves the order to failed with an audit entry. Failure is terminal
// until support intervention or the automatic refund sweep.
func (s *Service) fail(ctx context.Context, orderID, stage, message string, started time.Time) (order.Order, error) {
	updated, err := s.store.Mutate(ctx, orderID, func(o *order.Order) error {
		if o.Status.Terminal() {
			return fmt.Errorf("%w: order already terminal", order.ErrConflict)
		}
		o.Status = order.StatusFailed
		o.AppendAudit(stage, message, time.Now().UTC())
		return nil
	})
	if err != nil {
		return order.Order{}, err
	}

	metrics.RecordGeneration("failed", time.Since(started))
	s.log.WithField("order_id", orderID).
		WithField("stage", stage).
		WithField("message", message).
		Error("generation failed")
	return updated, fmt.Errorf("%w: %s: %s", ErrGenerationFailed, stage, message)
}

func buildArtifact(result generator.Result) order.Artifact {
	artifact := order.Artifact{
		Manifest:   result.PackageManifest,
		Readme:     result.Readme,
		TotalFiles: result.TotalFiles,
		TotalLines: result.TotalLines,
		TokensUsed: result.TokensUsed,
	}
	for _, f := range result.Files {
		artifact.Files = append(artifact.Files, order.ArtifactFile{
			Path:     f.Path,
			Language: f.Language,
			Lines:    strings.Count(f.Content, "\n") + 1,
		})
	}
	return artifact
}
