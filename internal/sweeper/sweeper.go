package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"marketplace/internal/domain"
)

var tracer = otel.Tracer("sweeper")

type OrderSource interface {
	ExpiredPending(ctx context.Context, asOf time.Time) ([]domain.Order, error)
	ItemsByOrder(ctx context.Context, orderID string) ([]domain.OrderItem, error)
}

type Canceller interface {
	CancelExpired(ctx context.Context, orderID string) (bool, error)
}

type Stock interface {
	Restock(ctx context.Context, productID string, quantity int) error
}

type Pusher interface {
	Push(userID string, n domain.Notification) bool
}

type Publisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error
}

// Sweeper periodically cancels pending orders whose payment window has
// lapsed. Each order is handled independently: a failure on one order is
// logged and the sweep moves on to the next.
type Sweeper struct {
	orders    OrderSource
	canceller Canceller
	stock     Stock
	pusher    Pusher
	events    Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func New(orders OrderSource, canceller Canceller, stock Stock, pusher Pusher, events Publisher, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		orders:    orders,
		canceller: canceller,
		stock:     stock,
		pusher:    pusher,
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

// Start schedules the sweep on the given cron expression and runs it until
// Stop is called.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	s.cron = c
	c.Start()
	s.logger.Info("expiry sweep scheduled", "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep cancels every pending order whose payment due date has passed.
// If a previous sweep is still running the tick is skipped.
func (s *Sweeper) Sweep(ctx context.Context) {
	if !s.mu.TryLock() {
		s.logger.Warn("previous sweep still running, skipping tick")
		return
	}
	defer s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "sweep expired orders", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	expired, err := s.orders.ExpiredPending(ctx, s.now())
	if err != nil {
		s.logger.Error("failed to list expired orders", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if len(expired) == 0 {
		return
	}

	s.logger.Info("sweeping expired orders", "count", len(expired))

	cancelled := 0
	for _, order := range expired {
		if s.sweepOne(ctx, order) {
			cancelled++
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.expired", len(expired)),
		attribute.Int("sweep.cancelled", cancelled),
	)
	s.logger.Info("sweep finished", "expired", len(expired), "cancelled", cancelled)
}

func (s *Sweeper) sweepOne(ctx context.Context, order domain.Order) bool {
	ok, err := s.canceller.CancelExpired(ctx, order.ID)
	if err != nil {
		s.logger.Error("failed to cancel expired order", "error", err, "order_id", order.ID)
		return false
	}
	if !ok {
		// Paid or cancelled between the query and the update.
		return false
	}

	s.logger.Info("order cancelled by expiry sweep", "order_id", order.ID, "buyer_id", order.BuyerID)

	s.notify(ctx, order)
	s.restock(ctx, order)
	return true
}

// notify delivers the cancellation to the buyer over whatever channels are
// wired. Both are best effort: the order is already cancelled and a delivery
// failure must not undo or stall the sweep.
func (s *Sweeper) notify(ctx context.Context, order domain.Order) {
	if s.pusher != nil {
		s.pusher.Push(order.BuyerID, domain.Notification{
			Type:      domain.EventOrderCancelled,
			Message:   "Your order was cancelled because payment was not received in time.",
			OrderID:   order.ID,
			Timestamp: s.now().UTC(),
		})
	}

	if s.events != nil {
		event := domain.OrderEvent{
			Type:      domain.EventOrderCancelled,
			OrderID:   order.ID,
			BuyerID:   order.BuyerID,
			Total:     order.Total,
			Reason:    "Payment timeout",
			Timestamp: s.now().UTC(),
		}
		if err := s.events.PublishOrderEvent(ctx, event); err != nil {
			s.logger.Error("failed to publish cancellation event", "error", err, "order_id", order.ID)
		}
	}
}

// restock returns the cancelled order's quantities to inventory. Failures
// are logged per item and do not abort the rest of the order.
func (s *Sweeper) restock(ctx context.Context, order domain.Order) {
	items := order.Items
	if len(items) == 0 {
		loaded, err := s.orders.ItemsByOrder(ctx, order.ID)
		if err != nil {
			s.logger.Error("failed to load items for restock", "error", err, "order_id", order.ID)
			return
		}
		items = loaded
	}

	for _, item := range items {
		if err := s.stock.Restock(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("failed to restore stock", "error", err,
				"order_id", order.ID, "product_id", item.ProductID, "quantity", item.Quantity)
		}
	}
}
