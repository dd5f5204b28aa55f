package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketplace/internal/domain"
)

const (
	reasonPaymentTimeout  = "Payment timeout"
	reasonCancelledByUser = "Cancelled by user"
	reasonOrderCancelled  = "Order cancelled"
)

var (
	ErrNotFound            = errors.New("order not found")
	ErrInvalidState        = errors.New("invalid order state")
	ErrForbidden           = errors.New("not authorized to cancel this order")
	ErrEmptyOrder          = errors.New("order has no items")
	ErrCouponNotApplicable = errors.New("coupon does not apply to any item in this order")
)

// OrderStore is the persistence surface the lifecycle service needs.
type OrderStore interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error)
	CancelIfPending(ctx context.Context, id, reason string) (bool, error)
}

type PaymentStore interface {
	FailPending(ctx context.Context, orderID, reason string) (int64, error)
}

type CatalogStore interface {
	PricesByIDs(ctx context.Context, ids []string) (map[string]int64, error)
}

type InventoryStore interface {
	Reserve(ctx context.Context, productID string, quantity int) error
	Restock(ctx context.Context, productID string, quantity int) error
}

type CouponStore interface {
	Verify(ctx context.Context, code string) (*domain.Coupon, error)
	Redeem(ctx context.Context, code string) (*domain.Coupon, error)
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error
}

// Service owns order status transitions. Whatever triggers a cancellation
// (manual cancel, expiry check on read, or the scheduled sweep calling
// CancelExpired), the order transition and the invalidation of its pending
// payments always travel together, so the two never diverge.
type Service struct {
	orders    OrderStore
	payments  PaymentStore
	catalog   CatalogStore
	inventory InventoryStore
	coupons   CouponStore
	events    EventPublisher
	window    time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(orders OrderStore, payments PaymentStore, catalog CatalogStore, inventory InventoryStore, coupons CouponStore, events EventPublisher, window time.Duration, logger *slog.Logger) *Service {
	return &Service{
		orders:    orders,
		payments:  payments,
		catalog:   catalog,
		inventory: inventory,
		coupons:   coupons,
		events:    events,
		window:    window,
		logger:    logger,
		now:       time.Now,
	}
}

type CheckoutItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Create places an order: prices the items, applies an optional coupon,
// reserves stock and persists the order with its payment due date. Reserved
// stock is returned if a later item cannot be reserved.
func (s *Service) Create(ctx context.Context, buyerID, addressID string, items []CheckoutItem, couponCode string) (*domain.Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("invalid quantity %d for product %s", item.Quantity, item.ProductID)
		}
		ids = append(ids, item.ProductID)
	}

	prices, err := s.catalog.PricesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load product prices: %w", err)
	}

	var total int64
	orderItems := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		price, ok := prices[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", ErrNotFound, item.ProductID)
		}
		total += int64(item.Quantity) * price
		orderItems = append(orderItems, domain.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}

	if couponCode != "" {
		discount, err := s.applyCoupon(ctx, couponCode, orderItems, total)
		if err != nil {
			return nil, err
		}
		total -= discount
	}

	var reserved []domain.OrderItem
	for _, item := range orderItems {
		if err := s.inventory.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
			s.releaseReserved(ctx, reserved)
			return nil, err
		}
		reserved = append(reserved, item)
	}

	now := s.now().UTC()
	order := &domain.Order{
		BuyerID:        buyerID,
		AddressID:      addressID,
		Items:          orderItems,
		Total:          total,
		Status:         domain.OrderStatusPending,
		PaymentDueDate: now.Add(s.window),
		CreatedAt:      now,
	}

	if err := s.orders.Create(ctx, order); err != nil {
		s.releaseReserved(ctx, reserved)
		return nil, fmt.Errorf("persist order: %w", err)
	}

	s.publish(ctx, domain.OrderEvent{
		Type:      domain.EventOrderCreated,
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		Total:     order.Total,
		Timestamp: now,
	})

	return order, nil
}

// applyCoupon computes the discount a coupon grants over the order's items.
// A coupon bound to a product discounts only that product's lines; applicability
// is checked before a use is consumed, so an inapplicable code costs nothing.
func (s *Service) applyCoupon(ctx context.Context, code string, items []domain.OrderItem, total int64) (int64, error) {
	coupon, err := s.coupons.Verify(ctx, code)
	if err != nil {
		return 0, err
	}

	discountable := total
	if coupon.ProductID != "" {
		discountable = 0
		for _, item := range items {
			if item.ProductID == coupon.ProductID {
				discountable += int64(item.Quantity) * item.UnitPrice
			}
		}
		if discountable == 0 {
			return 0, ErrCouponNotApplicable
		}
	}

	if _, err := s.coupons.Redeem(ctx, code); err != nil {
		return 0, err
	}

	return discountable * int64(coupon.DiscountPercent) / 100, nil
}

func (s *Service) releaseReserved(ctx context.Context, items []domain.OrderItem) {
	for _, item := range items {
		if err := s.inventory.Restock(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("failed to release reserved stock", "error", err, "product_id", item.ProductID)
		}
	}
}

func (s *Service) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrNotFound
	}
	return order, nil
}

func (s *Service) ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	return s.orders.ListByBuyer(ctx, buyerID)
}

type ExpiryResult struct {
	Expired          bool
	RemainingMinutes int
	Order            *domain.Order
}

// CheckExpiry reports whether the order's payment window has lapsed and, if
// it has, cancels the order and invalidates its pending payments. Orders in
// any non-pending status are left untouched.
func (s *Service) CheckExpiry(ctx context.Context, orderID string) (*ExpiryResult, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrNotFound
	}

	if order.Status != domain.OrderStatusPending {
		return &ExpiryResult{Expired: false, Order: order}, nil
	}

	due := order.PaymentDueDate
	if due.IsZero() {
		due = order.CreatedAt.Add(s.window)
	}

	now := s.now()
	if !now.After(due) {
		remaining := due.Sub(now)
		minutes := int((remaining + time.Minute - 1) / time.Minute)
		return &ExpiryResult{Expired: false, RemainingMinutes: minutes, Order: order}, nil
	}

	ok, err := s.cancelWithPayments(ctx, order.ID, reasonPaymentTimeout, reasonPaymentTimeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race to another canceller; the order is no longer
		// pending, so report the fresh state without further mutation.
		fresh, err := s.orders.GetByID(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		return &ExpiryResult{Expired: false, Order: fresh}, nil
	}

	order.Status = domain.OrderStatusCancelled
	order.CancellationReason = reasonPaymentTimeout

	s.publish(ctx, domain.OrderEvent{
		Type:      domain.EventOrderCancelled,
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		Total:     order.Total,
		Reason:    reasonPaymentTimeout,
		Timestamp: now.UTC(),
	})

	return &ExpiryResult{Expired: true, Order: order}, nil
}

// Cancel performs a manual cancellation on behalf of an actor. Only the
// order's buyer or an admin may cancel, and only while the order is pending.
func (s *Service) Cancel(ctx context.Context, orderID, actorID, actorRole, reason string) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrNotFound
	}

	if order.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("%w: cannot cancel order in '%s' status", ErrInvalidState, order.Status)
	}

	if actorRole != domain.RoleAdmin && order.BuyerID != actorID {
		return nil, ErrForbidden
	}

	if reason == "" {
		reason = reasonCancelledByUser
	}

	ok, err := s.cancelWithPayments(ctx, order.ID, reason, reasonOrderCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: order already left pending status", ErrInvalidState)
	}

	order.Status = domain.OrderStatusCancelled
	order.CancellationReason = reason

	s.publish(ctx, domain.OrderEvent{
		Type:      domain.EventOrderCancelled,
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		Total:     order.Total,
		Reason:    reason,
		Timestamp: s.now().UTC(),
	})

	return order, nil
}

// CancelExpired is the sweep's entry point: cancel one expired order and
// invalidate its pending payments. Returns false when another writer got
// there first.
func (s *Service) CancelExpired(ctx context.Context, orderID string) (bool, error) {
	return s.cancelWithPayments(ctx, orderID, reasonPaymentTimeout, reasonPaymentTimeout)
}

// cancelWithPayments is the single compensating pair every cancellation
// path funnels through: transition the order, then fail its pending
// payments. Payments in any other status are never touched.
func (s *Service) cancelWithPayments(ctx context.Context, orderID, cancelReason, paymentReason string) (bool, error) {
	ok, err := s.orders.CancelIfPending(ctx, orderID, cancelReason)
	if err != nil {
		return false, fmt.Errorf("cancel order: %w", err)
	}
	if !ok {
		return false, nil
	}

	if _, err := s.payments.FailPending(ctx, orderID, paymentReason); err != nil {
		return true, fmt.Errorf("invalidate pending payments: %w", err)
	}

	return true, nil
}

func (s *Service) publish(ctx context.Context, event domain.OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger.Error("failed to publish order event", "error", err, "type", event.Type, "order_id", event.OrderID)
	}
}
