package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"marketplace/internal/domain"
	"marketplace/internal/inventory"
)

type fakeOrderStore struct {
	orders    map[string]*domain.Order
	createErr error

	// beforeCancel runs between the status read and the conditional update,
	// standing in for a concurrent writer.
	beforeCancel func()
}

func newFakeOrderStore(orders ...*domain.Order) *fakeOrderStore {
	s := &fakeOrderStore{orders: make(map[string]*domain.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeOrderStore) Create(_ context.Context, order *domain.Order) error {
	if s.createErr != nil {
		return s.createErr
	}
	if order.ID == "" {
		order.ID = fmt.Sprintf("order-%d", len(s.orders)+1)
	}
	s.orders[order.ID] = order
	return nil
}

func (s *fakeOrderStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	copied := *order
	return &copied, nil
}

func (s *fakeOrderStore) ListByBuyer(_ context.Context, buyerID string) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.orders {
		if o.BuyerID == buyerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeOrderStore) CancelIfPending(_ context.Context, id, reason string) (bool, error) {
	if s.beforeCancel != nil {
		s.beforeCancel()
	}
	order, ok := s.orders[id]
	if !ok || order.Status != domain.OrderStatusPending {
		return false, nil
	}
	order.Status = domain.OrderStatusCancelled
	order.CancellationReason = reason
	return true, nil
}

type fakePaymentStore struct {
	failed  map[string]string
	failErr error
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{failed: make(map[string]string)}
}

func (s *fakePaymentStore) FailPending(_ context.Context, orderID, reason string) (int64, error) {
	if s.failErr != nil {
		return 0, s.failErr
	}
	s.failed[orderID] = reason
	return 1, nil
}

type fakeCatalog struct {
	prices map[string]int64
}

func (c *fakeCatalog) PricesByIDs(_ context.Context, ids []string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, id := range ids {
		if price, ok := c.prices[id]; ok {
			out[id] = price
		}
	}
	return out, nil
}

type fakeInventory struct {
	stock map[string]int
}

func (i *fakeInventory) Reserve(_ context.Context, productID string, quantity int) error {
	if i.stock[productID] < quantity {
		return inventory.ErrInsufficientStock
	}
	i.stock[productID] -= quantity
	return nil
}

func (i *fakeInventory) Restock(_ context.Context, productID string, quantity int) error {
	i.stock[productID] += quantity
	return nil
}

type fakeCoupons struct {
	coupon   *domain.Coupon
	err      error
	redeemed int
}

func (c *fakeCoupons) Verify(_ context.Context, _ string) (*domain.Coupon, error) {
	return c.coupon, c.err
}

func (c *fakeCoupons) Redeem(_ context.Context, _ string) (*domain.Coupon, error) {
	if c.err == nil {
		c.redeemed++
	}
	return c.coupon, c.err
}

type fakePublisher struct {
	events []domain.OrderEvent
}

func (p *fakePublisher) PublishOrderEvent(_ context.Context, event domain.OrderEvent) error {
	p.events = append(p.events, event)
	return nil
}

type serviceFixture struct {
	svc       *Service
	orders    *fakeOrderStore
	payments  *fakePaymentStore
	inventory *fakeInventory
	published *fakePublisher
}

func newFixture(now time.Time, orders ...*domain.Order) *serviceFixture {
	f := &serviceFixture{
		orders:    newFakeOrderStore(orders...),
		payments:  newFakePaymentStore(),
		inventory: &fakeInventory{stock: map[string]int{"prod-1": 10, "prod-2": 5}},
		published: &fakePublisher{},
	}
	catalog := &fakeCatalog{prices: map[string]int64{"prod-1": 1000, "prod-2": 2500}}
	coupons := &fakeCoupons{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f.svc = NewService(f.orders, f.payments, catalog, f.inventory, coupons, f.published, 30*time.Minute, logger)
	f.svc.now = func() time.Time { return now }
	return f
}

func pendingOrder(id, buyerID string, due time.Time) *domain.Order {
	return &domain.Order{
		ID:             id,
		BuyerID:        buyerID,
		Total:          1000,
		Status:         domain.OrderStatusPending,
		PaymentDueDate: due,
		CreatedAt:      due.Add(-30 * time.Minute),
	}
}

func TestService_Create(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("prices items and sets the payment due date", func(t *testing.T) {
		f := newFixture(now)

		order, err := f.svc.Create(ctx, "buyer-1", "addr-1", []CheckoutItem{
			{ProductID: "prod-1", Quantity: 2},
			{ProductID: "prod-2", Quantity: 1},
		}, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if order.Total != 4500 {
			t.Errorf("expected total 4500, got %d", order.Total)
		}
		if order.Status != domain.OrderStatusPending {
			t.Errorf("expected pending status, got %s", order.Status)
		}
		if want := now.Add(30 * time.Minute); !order.PaymentDueDate.Equal(want) {
			t.Errorf("expected due date %v, got %v", want, order.PaymentDueDate)
		}
		if f.inventory.stock["prod-1"] != 8 || f.inventory.stock["prod-2"] != 4 {
			t.Errorf("stock not reserved: %v", f.inventory.stock)
		}
		if len(f.published.events) != 1 || f.published.events[0].Type != domain.EventOrderCreated {
			t.Errorf("expected one order_created event, got %v", f.published.events)
		}
	})

	t.Run("applies a percent coupon to the total", func(t *testing.T) {
		f := newFixture(now)
		f.svc.coupons = &fakeCoupons{coupon: &domain.Coupon{Code: "SAVE10", DiscountPercent: 10}}

		order, err := f.svc.Create(ctx, "buyer-1", "addr-1", []CheckoutItem{
			{ProductID: "prod-1", Quantity: 1},
		}, "SAVE10")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.Total != 900 {
			t.Errorf("expected discounted total 900, got %d", order.Total)
		}
	})

	t.Run("product-bound coupon discounts only matching lines", func(t *testing.T) {
		f := newFixture(now)
		f.svc.coupons = &fakeCoupons{coupon: &domain.Coupon{Code: "PROD20", DiscountPercent: 20, ProductID: "prod-2"}}

		order, err := f.svc.Create(ctx, "buyer-1", "addr-1", []CheckoutItem{
			{ProductID: "prod-1", Quantity: 2},
			{ProductID: "prod-2", Quantity: 1},
		}, "PROD20")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// 2000 + 2500, minus 20% of the prod-2 line only.
		if order.Total != 4000 {
			t.Errorf("expected total 4000, got %d", order.Total)
		}
	})

	t.Run("rejects a coupon bound to a product not in the order", func(t *testing.T) {
		f := newFixture(now)
		coupons := &fakeCoupons{coupon: &domain.Coupon{Code: "PROD20", DiscountPercent: 20, ProductID: "prod-9"}}
		f.svc.coupons = coupons

		_, err := f.svc.Create(ctx, "buyer-1", "addr-1", []CheckoutItem{
			{ProductID: "prod-1", Quantity: 1},
		}, "PROD20")
		if !errors.Is(err, ErrCouponNotApplicable) {
			t.Fatalf("expected ErrCouponNotApplicable, got %v", err)
		}
		if coupons.redeemed != 0 {
			t.Errorf("expected no use consumed, got %d", coupons.redeemed)
		}
		if f.inventory.stock["prod-1"] != 10 {
			t.Errorf("expected stock untouched, got %d", f.inventory.stock["prod-1"])
		}
	})

	t.Run("releases reserved stock when a later item cannot be reserved", func(t *testing.T) {
		f := newFixture(now)

		_, err := f.svc.Create(ctx, "buyer-1", "addr-1", []CheckoutItem{
			{ProductID: "prod-1", Quantity: 2},
			{ProductID: "prod-2", Quantity: 50},
		}, "")
		if !errors.Is(err, inventory.ErrInsufficientStock) {
			t.Fatalf("expected insufficient stock error, got %v", err)
		}
		if f.inventory.stock["prod-1"] != 10 {
			t.Errorf("expected prod-1 stock restored to 10, got %d", f.inventory.stock["prod-1"])
		}
	})

	t.Run("rejects an order with no items", func(t *testing.T) {
		f := newFixture(now)

		_, err := f.svc.Create(ctx, "buyer-1", "addr-1", nil, "")
		if !errors.Is(err, ErrEmptyOrder) {
			t.Errorf("expected ErrEmptyOrder, got %v", err)
		}
	})

	t.Run("rejects an unknown product", func(t *testing.T) {
		f := newFixture(now)

		_, err := f.svc.Create(ctx, "buyer-1", "addr-1", []CheckoutItem{
			{ProductID: "missing", Quantity: 1},
		}, "")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestService_CheckExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(now)

		_, err := f.svc.CheckExpiry(ctx, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("paid order is left untouched", func(t *testing.T) {
		order := pendingOrder("order-1", "buyer-1", now.Add(-time.Hour))
		order.Status = domain.OrderStatusPaid
		f := newFixture(now, order)

		result, err := f.svc.CheckExpiry(ctx, "order-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Expired {
			t.Error("expected not expired")
		}
		if f.orders.orders["order-1"].Status != domain.OrderStatusPaid {
			t.Errorf("status changed to %s", f.orders.orders["order-1"].Status)
		}
		if len(f.payments.failed) != 0 {
			t.Errorf("payments touched: %v", f.payments.failed)
		}
	})

	t.Run("pending order inside the window reports remaining minutes", func(t *testing.T) {
		f := newFixture(now, pendingOrder("order-1", "buyer-1", now.Add(4*time.Minute+30*time.Second)))

		result, err := f.svc.CheckExpiry(ctx, "order-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Expired {
			t.Error("expected not expired")
		}
		if result.RemainingMinutes != 5 {
			t.Errorf("expected 5 remaining minutes, got %d", result.RemainingMinutes)
		}
	})

	t.Run("exact whole minutes are not rounded up", func(t *testing.T) {
		f := newFixture(now, pendingOrder("order-1", "buyer-1", now.Add(6*time.Minute)))

		result, err := f.svc.CheckExpiry(ctx, "order-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.RemainingMinutes != 6 {
			t.Errorf("expected 6 remaining minutes, got %d", result.RemainingMinutes)
		}
	})

	t.Run("lapsed order is cancelled with its payments", func(t *testing.T) {
		f := newFixture(now, pendingOrder("order-1", "buyer-1", now.Add(-time.Minute)))

		result, err := f.svc.CheckExpiry(ctx, "order-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Expired {
			t.Fatal("expected expired")
		}
		if result.Order.Status != domain.OrderStatusCancelled {
			t.Errorf("expected cancelled, got %s", result.Order.Status)
		}
		if result.Order.CancellationReason != "Payment timeout" {
			t.Errorf("unexpected reason %q", result.Order.CancellationReason)
		}
		if f.payments.failed["order-1"] != "Payment timeout" {
			t.Errorf("pending payments not invalidated: %v", f.payments.failed)
		}
		if len(f.published.events) != 1 || f.published.events[0].Type != domain.EventOrderCancelled {
			t.Errorf("expected one order_cancelled event, got %v", f.published.events)
		}
	})

	t.Run("missing due date falls back to creation time plus window", func(t *testing.T) {
		order := &domain.Order{
			ID:        "order-1",
			BuyerID:   "buyer-1",
			Status:    domain.OrderStatusPending,
			CreatedAt: now.Add(-31 * time.Minute),
		}
		f := newFixture(now, order)

		result, err := f.svc.CheckExpiry(ctx, "order-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Expired {
			t.Error("expected expired via created_at fallback")
		}
	})

	t.Run("losing the cancellation race reports fresh state", func(t *testing.T) {
		f := newFixture(now, pendingOrder("order-1", "buyer-1", now.Add(-time.Minute)))
		// Another writer pays the order between the read and the update.
		f.orders.beforeCancel = func() {
			f.orders.orders["order-1"].Status = domain.OrderStatusPaid
		}

		result, err := f.svc.CheckExpiry(ctx, "order-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Expired {
			t.Error("expected not expired after losing the race")
		}
		if result.Order.Status != domain.OrderStatusPaid {
			t.Errorf("expected fresh paid state, got %s", result.Order.Status)
		}
		if len(f.payments.failed) != 0 {
			t.Errorf("payments touched after losing the race: %v", f.payments.failed)
		}
	})
}

func TestService_Cancel(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("buyer cancels own pending order", func(t *testing.T) {
		f := newFixture(now, pendingOrder("order-1", "buyer-1", now.Add(10*time.Minute)))

		order, err := f.svc.Cancel(ctx, "order-1", "buyer-1", "buyer", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.Status != domain.OrderStatusCancelled {
			t.Errorf("expected cancelled, got %s", order.Status)
		}
		if order.CancellationReason != "Cancelled by user" {
			t.Errorf("unexpected default reason %q", order.CancellationReason)
		}
		if f.payments.failed["order-1"] != "Order cancelled" {
			t.Errorf("pending payments not invalidated: %v", f.payments.failed)
		}
	})

	t.Run("admin cancels any order", func(t *testing.T) {
		f := newFixture(now, pendingOrder("order-1", "buyer-1", now.Add(10*time.Minute)))

		order, err := f.svc.Cancel(ctx, "order-1", "admin-1", domain.RoleAdmin, "fraud review")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.CancellationReason != "fraud review" {
			t.Errorf("unexpected reason %q", order.CancellationReason)
		}
	})

	t.Run("another buyer is forbidden", func(t *testing.T) {
		f := newFixture(now, pendingOrder("order-1", "buyer-1", now.Add(10*time.Minute)))

		_, err := f.svc.Cancel(ctx, "order-1", "buyer-2", "buyer", "")
		if !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
		if f.orders.orders["order-1"].Status != domain.OrderStatusPending {
			t.Error("order mutated by forbidden cancel")
		}
	})

	t.Run("cancelling twice fails with invalid state", func(t *testing.T) {
		f := newFixture(now, pendingOrder("order-1", "buyer-1", now.Add(10*time.Minute)))

		if _, err := f.svc.Cancel(ctx, "order-1", "buyer-1", "buyer", ""); err != nil {
			t.Fatalf("first cancel failed: %v", err)
		}
		_, err := f.svc.Cancel(ctx, "order-1", "buyer-1", "buyer", "")
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("shipped order cannot be cancelled", func(t *testing.T) {
		order := pendingOrder("order-1", "buyer-1", now.Add(10*time.Minute))
		order.Status = domain.OrderStatusShipped
		f := newFixture(now, order)

		_, err := f.svc.Cancel(ctx, "order-1", "buyer-1", "buyer", "")
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
	})
}

func TestService_CancelExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("cancels a pending order", func(t *testing.T) {
		f := newFixture(now, pendingOrder("order-1", "buyer-1", now.Add(-time.Minute)))

		ok, err := f.svc.CancelExpired(ctx, "order-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatal("expected cancellation")
		}
		if f.payments.failed["order-1"] != "Payment timeout" {
			t.Errorf("pending payments not invalidated: %v", f.payments.failed)
		}
	})

	t.Run("reports false for a non-pending order", func(t *testing.T) {
		order := pendingOrder("order-1", "buyer-1", now.Add(-time.Minute))
		order.Status = domain.OrderStatusPaid
		f := newFixture(now, order)

		ok, err := f.svc.CancelExpired(ctx, "order-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Error("expected no cancellation")
		}
		if len(f.payments.failed) != 0 {
			t.Errorf("payments touched: %v", f.payments.failed)
		}
	})
}
