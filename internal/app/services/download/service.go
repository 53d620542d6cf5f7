// Package download packages approved orders and gates archive access
// behind an expiring, use-limited token.
package download

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dappfactory/orderflow/internal/app/domain/order"
	"github.com/dappfactory/orderflow/internal/app/metrics"
	"github.com/dappfactory/orderflow/internal/app/storage"
	"github.com/dappfactory/orderflow/internal/generator"
	"github.com/dappfactory/orderflow/pkg/logger"
)

// Download errors, distinguished for user messaging.
var (
	ErrExpired      = errors.New("download link expired")
	ErrLimitReached = errors.New("download limit reached")
	ErrNotFound     = errors.New("download not found")
)

// Packager writes and reads packaged archives.
type Packager interface {
	Package(ctx context.Context, orderID, projectName string, files []generator.File, manifest string) (location string, size int64, err error)
	Locate(orderID string) (location string, err error)
	Read(ctx context.Context, location string) ([]byte, error)
}

// Service implements packaging and the download gate.
type Service struct {
	store    storage.OrderStore
	packager Packager
	log      *logger.Logger
}

// New constructs the download service.
func New(store storage.OrderStore, packager Packager, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("download")
	}
	return &Service{store: store, packager: packager, log: log}
}

// Spool writes the archive for a generated file set without issuing a
// token. Generation calls this for every successful run so a later review
// approval can complete the order without re-running the generator.
func (s *Service) Spool(ctx context.Context, o order.Order, files []generator.File, manifest string) (string, error) {
	location, size, err := s.packager.Package(ctx, o.ID, o.Spec.Name, files, manifest)
	if err != nil {
		return "", fmt.Errorf("package files: %w", err)
	}
	s.log.WithField("order_id", o.ID).
		WithField("bytes", size).
		Info("archive spooled")
	return location, nil
}

// Complete transitions an approved order to completed and issues the
// download token. The token is stable for the life of the order.
func (s *Service) Complete(ctx context.Context, orderID string) (order.Order, error) {
	location, err := s.packager.Locate(orderID)
	if err != nil {
		return order.Order{}, fmt.Errorf("no archive for order %s: %w", orderID, err)
	}

	token, err := mintToken()
	if err != nil {
		return order.Order{}, fmt.Errorf("mint token: %w", err)
	}

	updated, err := s.store.Mutate(ctx, orderID, func(o *order.Order) error {
		if o.Download != nil && o.Download.Token != "" {
			// Token already issued; completion is idempotent.
			return nil
		}
		if !order.CanTransition(o.Status, order.StatusCompleted) {
			return fmt.Errorf("%w: cannot complete order in status %s", order.ErrConflict, o.Status)
		}
		o.Status = order.StatusCompleted
		o.Download = &order.Download{
			Token:        token,
			Location:     location,
			ExpiresAt:    time.Now().UTC().Add(order.DownloadTokenTTL),
			MaxDownloads: order.DefaultMaxDownloads,
		}
		return nil
	})
	if err != nil {
		return order.Order{}, err
	}

	s.log.WithField("order_id", orderID).
		WithField("expires_at", updated.Download.ExpiresAt).
		Info("order completed, download token issued")
	return updated, nil
}

// CanDownload is the pure gate predicate: a download is permitted iff the
// download record exists, the count is under the limit, and the token has
// not expired. No side effects.
func (s *Service) CanDownload(o order.Order) bool {
	return o.Status == order.StatusCompleted && o.Download.Usable(time.Now().UTC())
}

// ConsumeDownload resolves an order by token, performs the
// check-and-increment as a single atomic unit against the persisted
// record, audits the event, and returns the packaged bytes. The count
// never exceeds the limit even under concurrent requests.
func (s *Service) ConsumeDownload(ctx context.Context, token, requesterIP string) ([]byte, order.Order, error) {
	found, err := s.store.GetOrderByToken(ctx, token)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			metrics.RecordDownload("not_found")
			return nil, order.Order{}, ErrNotFound
		}
		return nil, order.Order{}, err
	}

	updated, err := s.store.Mutate(ctx, found.ID, func(o *order.Order) error {
		if o.Download == nil || o.Download.Token != token {
			return ErrNotFound
		}
		now := time.Now().UTC()
		if !now.Before(o.Download.ExpiresAt) {
			return ErrExpired
		}
		if o.Download.DownloadCount >= o.Download.MaxDownloads {
			return ErrLimitReached
		}
		o.Download.DownloadCount++
		message := fmt.Sprintf("download %d/%d", o.Download.DownloadCount, o.Download.MaxDownloads)
		if requesterIP != "" {
			message += " from " + requesterIP
		}
		o.AppendAudit("download", message, now)
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrExpired):
			metrics.RecordDownload("expired")
		case errors.Is(err, ErrLimitReached):
			metrics.RecordDownload("limit_reached")
		case errors.Is(err, ErrNotFound):
			metrics.RecordDownload("not_found")
		}
		return nil, order.Order{}, err
	}

	data, err := s.packager.Read(ctx, updated.Download.Location)
	if err != nil {
		return nil, order.Order{}, fmt.Errorf("read archive: %w", err)
	}

	metrics.RecordDownload("ok")
	s.log.WithField("order_id", updated.ID).
		WithField("count", updated.Download.DownloadCount).
		Info("download served")
	return data, updated, nil
}

// mintToken returns 32 bytes of hex-encoded randomness.
func mintToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
