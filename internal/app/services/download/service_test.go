package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dappfactory/orderflow/internal/app/domain/order"
	"github.com/dappfactory/orderflow/internal/app/storage/memory"
	"github.com/dappfactory/orderflow/internal/generator"
)

type stubPackager struct {
	mu        sync.Mutex
	locations map[string]string
	archive   []byte
}

func newStubPackager() *stubPackager {
	return &stubPackager{
		locations: make(map[string]string),
		archive:   []byte("zip-bytes"),
	}
}

func (s *stubPackager) Package(_ context.Context, orderID, _ string, _ []generator.File, _ string) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := "/spool/" + orderID + ".zip"
	s.locations[orderID] = loc
	return loc, int64(len(s.archive)), nil
}

func (s *stubPackager) Locate(orderID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[orderID]
	if !ok {
		return "", fmt.Errorf("no archive for %s", orderID)
	}
	return loc, nil
}

func (s *stubPackager) Read(context.Context, string) ([]byte, error) {
	return s.archive, nil
}

func seedApproved(t *testing.T, store *memory.Store) order.Order {
	t.Helper()
	created, err := store.CreateOrder(context.Background(), order.Order{
		PayerRef: "payer-wallet",
		Spec: order.ProjectSpec{
			Name:        "demo",
			ProductType: order.ProductAppOnly,
			Tier:        order.TierStarter,
		},
		Status:  order.StatusApproved,
		Payment: order.Payment{Amount: 100_000_000, Status: order.PaymentConfirmed},
	})
	if err != nil {
		t.Fatal(err)
	}
	return created
}

func completeOrder(t *testing.T, svc *Service, pack *stubPackager, o order.Order) order.Order {
	t.Helper()
	if _, err := svc.Spool(context.Background(), o, []generator.File{{Path: "a.txt", Content: "x"}}, "{}"); err != nil {
		t.Fatal(err)
	}
	done, err := svc.Complete(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}
	return done
}

func TestCompleteIssuesToken(t *testing.T) {
	store := memory.New()
	pack := newStubPackager()
	svc := New(store, pack, nil)
	o := seedApproved(t, store)

	done := completeOrder(t, svc, pack, o)
	if done.Status != order.StatusCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}
	if done.Download == nil || len(done.Download.Token) != 64 {
		t.Fatal("expected 64-char hex download token")
	}
	ttl := time.Until(done.Download.ExpiresAt)
	if ttl < 71*time.Hour || ttl > 73*time.Hour {
		t.Errorf("token TTL = %v, want about 72h", ttl)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	store := memory.New()
	pack := newStubPackager()
	svc := New(store, pack, nil)
	o := seedApproved(t, store)

	first := completeOrder(t, svc, pack, o)
	second, err := svc.Complete(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second.Download.Token != first.Download.Token {
		t.Error("repeat completion must keep the original token")
	}
}

func TestCompleteRequiresArchive(t *testing.T) {
	store := memory.New()
	svc := New(store, newStubPackager(), nil)
	o := seedApproved(t, store)

	if _, err := svc.Complete(context.Background(), o.ID); err == nil {
		t.Fatal("completion without a spooled archive must fail")
	}
}

func TestConsumeDownload(t *testing.T) {
	store := memory.New()
	pack := newStubPackager()
	svc := New(store, pack, nil)
	done := completeOrder(t, svc, pack, seedApproved(t, store))

	data, got, err := svc.ConsumeDownload(context.Background(), done.Download.Token, "203.0.113.7")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "zip-bytes" {
		t.Errorf("archive bytes = %q", data)
	}
	if got.Download.DownloadCount != 1 {
		t.Errorf("count = %d, want 1", got.Download.DownloadCount)
	}
	if len(got.Audit) == 0 || got.Audit[len(got.Audit)-1].Stage != "download" {
		t.Error("download must be audit-logged")
	}
}

func TestConsumeDownloadUnknownToken(t *testing.T) {
	store := memory.New()
	svc := New(store, newStubPackager(), nil)

	if _, _, err := svc.ConsumeDownload(context.Background(), "bogus", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestConsumeDownloadLimit(t *testing.T) {
	store := memory.New()
	pack := newStubPackager()
	svc := New(store, pack, nil)
	done := completeOrder(t, svc, pack, seedApproved(t, store))

	for i := 0; i < order.DefaultMaxDownloads; i++ {
		if _, _, err := svc.ConsumeDownload(context.Background(), done.Download.Token, ""); err != nil {
			t.Fatalf("download %d failed: %v", i+1, err)
		}
	}
	if _, _, err := svc.ConsumeDownload(context.Background(), done.Download.Token, ""); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("want ErrLimitReached on download %d, got %v", order.DefaultMaxDownloads+1, err)
	}
}

func TestConsumeDownloadConcurrentNeverExceedsLimit(t *testing.T) {
	store := memory.New()
	pack := newStubPackager()
	svc := New(store, pack, nil)
	done := completeOrder(t, svc, pack, seedApproved(t, store))

	var served, rejected int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.ConsumeDownload(context.Background(), done.Download.Token, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				served++
			case errors.Is(err, ErrLimitReached):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if served != order.DefaultMaxDownloads {
		t.Errorf("served %d downloads, want exactly %d", served, order.DefaultMaxDownloads)
	}
	if rejected != 20-order.DefaultMaxDownloads {
		t.Errorf("rejected %d downloads, want %d", rejected, 20-order.DefaultMaxDownloads)
	}

	got, _ := store.GetOrderByToken(context.Background(), done.Download.Token)
	if got.Download.DownloadCount != order.DefaultMaxDownloads {
		t.Errorf("persisted count = %d, must never exceed %d", got.Download.DownloadCount, order.DefaultMaxDownloads)
	}
}

func TestConsumeDownloadExpired(t *testing.T) {
	store := memory.New()
	pack := newStubPackager()
	svc := New(store, pack, nil)
	done := completeOrder(t, svc, pack, seedApproved(t, store))

	if _, err := store.Mutate(context.Background(), done.ID, func(o *order.Order) error {
		o.Download.ExpiresAt = time.Now().UTC().Add(-time.Minute)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if _, _, err := svc.ConsumeDownload(context.Background(), done.Download.Token, ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
}

func TestCanDownload(t *testing.T) {
	store := memory.New()
	pack := newStubPackager()
	svc := New(store, pack, nil)
	done := completeOrder(t, svc, pack, seedApproved(t, store))

	if !svc.CanDownload(done) {
		t.Error("fresh completed order should be downloadable")
	}
	done.Download.DownloadCount = done.Download.MaxDownloads
	if svc.CanDownload(done) {
		t.Error("exhausted order should not be downloadable")
	}
}
