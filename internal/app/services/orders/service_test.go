package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/dappfactory/orderflow/internal/app/domain/order"
	"github.com/dappfactory/orderflow/internal/app/storage"
	"github.com/dappfactory/orderflow/internal/app/storage/memory"
)

func validSpec() order.ProjectSpec {
	return order.ProjectSpec{
		Name:        "demo",
		Description: "a demo project",
		ProductType: order.ProductAppOnly,
		Tier:        order.TierStarter,
	}
}

func TestCreate(t *testing.T) {
	svc := New(memory.New(), nil)

	created, err := svc.Create(context.Background(), "wallet-1", validSpec())
	if err != nil {
		t.Fatal(err)
	}
	if created.Status != order.StatusPendingPayment {
		t.Errorf("status = %s, want pending_payment", created.Status)
	}
	if created.Payment.Status != order.PaymentPending {
		t.Errorf("payment status = %s, want pending", created.Payment.Status)
	}
	if created.Payment.Amount != 100_000_000 {
		t.Errorf("price = %d lamports, want 100000000 for starter app", created.Payment.Amount)
	}
	if created.Payment.Currency != "SOL" {
		t.Errorf("currency = %q, want SOL", created.Payment.Currency)
	}
	if created.Timestamps.Created.IsZero() {
		t.Error("creation timestamp not stamped")
	}
}

func TestCreateValidation(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "", validSpec()); !errors.Is(err, order.ErrValidation) {
		t.Errorf("missing payer: want ErrValidation, got %v", err)
	}

	spec := validSpec()
	spec.Name = ""
	if _, err := svc.Create(ctx, "wallet-1", spec); !errors.Is(err, order.ErrValidation) {
		t.Errorf("missing name: want ErrValidation, got %v", err)
	}

	spec = validSpec()
	spec.Tier = "platinum"
	if _, err := svc.Create(ctx, "wallet-1", spec); !errors.Is(err, order.ErrValidation) {
		t.Errorf("unknown tier: want ErrValidation, got %v", err)
	}
}

func TestListByPayer(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Create(ctx, "wallet-a", validSpec()); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.Create(ctx, "wallet-b", validSpec()); err != nil {
		t.Fatal(err)
	}

	list, err := svc.ListByPayer(ctx, "wallet-a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("listed %d orders for wallet-a, want 2", len(list))
	}
}

func TestListPendingReviews(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, "wallet-a", validSpec())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Mutate(ctx, created.ID, func(o *order.Order) error {
		o.Status = order.StatusReviewRequired
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, "wallet-b", validSpec()); err != nil {
		t.Fatal(err)
	}

	reviews, err := svc.ListPendingReviews(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(reviews) != 1 || reviews[0].ID != created.ID {
		t.Fatalf("pending reviews = %d, want exactly the held order", len(reviews))
	}

	all, err := svc.List(ctx, storage.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("unfiltered list = %d, want 2", len(all))
	}
}
