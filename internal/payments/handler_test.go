package payments

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"marketplace/internal/domain"
	"marketplace/internal/mw"
)

type fakePayments struct {
	byOrder map[string]*domain.Payment
}

func (f *fakePayments) Create(_ context.Context, payment *domain.Payment) error {
	payment.ID = "pay-" + payment.OrderID
	payment.Status = domain.PaymentStatusPending
	payment.CreatedAt = time.Now()
	f.byOrder[payment.OrderID] = payment
	return nil
}

func (f *fakePayments) MarkPaid(_ context.Context, orderID, transactionID string) (bool, error) {
	p, ok := f.byOrder[orderID]
	if !ok || p.Status != domain.PaymentStatusPending {
		return false, nil
	}
	p.Status = domain.PaymentStatusPaid
	p.TransactionID = transactionID
	return true, nil
}

func (f *fakePayments) GetByOrder(_ context.Context, orderID, buyerID string) (*domain.Payment, error) {
	p, ok := f.byOrder[orderID]
	if !ok || p.BuyerID != buyerID {
		return nil, nil
	}
	return p, nil
}

type fakeOrders struct {
	orders map[string]*domain.Order
}

func (f *fakeOrders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	return f.orders[id], nil
}

func (f *fakeOrders) MarkPaidIfPending(_ context.Context, id string) (bool, error) {
	order, ok := f.orders[id]
	if !ok || order.Status != domain.OrderStatusPending {
		return false, nil
	}
	order.Status = domain.OrderStatusPaid
	return true, nil
}

type fakePublisher struct {
	events []domain.OrderEvent
}

func (p *fakePublisher) PublishOrderEvent(_ context.Context, event domain.OrderEvent) error {
	p.events = append(p.events, event)
	return nil
}

type handlerFixture struct {
	payments  *fakePayments
	orders    *fakeOrders
	published *fakePublisher
	router    chi.Router
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		payments:  &fakePayments{byOrder: map[string]*domain.Payment{}},
		orders:    &fakeOrders{orders: map[string]*domain.Order{}},
		published: &fakePublisher{},
	}
	handler := NewHandler(f.payments, f.orders, f.published, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.router = chi.NewRouter()
	handler.Routes(f.router)
	return f
}

func authed(req *http.Request, userID string) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), mw.UserCtxKey, userID))
}

func TestHandler_HandleCapture(t *testing.T) {
	t.Run("marks the payment and order paid and publishes a paid event", func(t *testing.T) {
		f := newHandlerFixture()
		f.orders.orders["order-1"] = &domain.Order{ID: "order-1", BuyerID: "buyer-1", Total: 4500, Status: domain.OrderStatusPending}
		f.payments.byOrder["order-1"] = &domain.Payment{ID: "pay-order-1", OrderID: "order-1", BuyerID: "buyer-1", Amount: 4500, Status: domain.PaymentStatusPending}

		body := `{"order_id": "order-1", "transaction_id": "tx-99"}`
		req := authed(httptest.NewRequest(http.MethodPost, "/payments/capture", strings.NewReader(body)), "buyer-1")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp domain.Payment
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Status != domain.PaymentStatusPaid || resp.TransactionID != "tx-99" {
			t.Errorf("expected paid payment with tx-99, got %+v", resp)
		}
		if f.orders.orders["order-1"].Status != domain.OrderStatusPaid {
			t.Errorf("expected order paid, got %s", f.orders.orders["order-1"].Status)
		}

		if len(f.published.events) != 1 {
			t.Fatalf("expected one event, got %d", len(f.published.events))
		}
		event := f.published.events[0]
		if event.Type != domain.EventOrderPaid {
			t.Errorf("expected %s event, got %s", domain.EventOrderPaid, event.Type)
		}
		if event.OrderID != "order-1" || event.BuyerID != "buyer-1" || event.Total != 4500 {
			t.Errorf("unexpected event payload: %+v", event)
		}
	})

	t.Run("returns 404 without a pending payment and publishes nothing", func(t *testing.T) {
		f := newHandlerFixture()
		f.orders.orders["order-1"] = &domain.Order{ID: "order-1", BuyerID: "buyer-1", Total: 4500, Status: domain.OrderStatusPending}

		body := `{"order_id": "order-1", "transaction_id": "tx-99"}`
		req := authed(httptest.NewRequest(http.MethodPost, "/payments/capture", strings.NewReader(body)), "buyer-1")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
		if len(f.published.events) != 0 {
			t.Errorf("expected no events, got %v", f.published.events)
		}
	})

	t.Run("a second capture of the same order is a 404", func(t *testing.T) {
		f := newHandlerFixture()
		f.orders.orders["order-1"] = &domain.Order{ID: "order-1", BuyerID: "buyer-1", Total: 4500, Status: domain.OrderStatusPending}
		f.payments.byOrder["order-1"] = &domain.Payment{ID: "pay-order-1", OrderID: "order-1", BuyerID: "buyer-1", Amount: 4500, Status: domain.PaymentStatusPending}

		body := `{"order_id": "order-1", "transaction_id": "tx-99"}`
		for i, want := range []int{http.StatusOK, http.StatusNotFound} {
			req := authed(httptest.NewRequest(http.MethodPost, "/payments/capture", strings.NewReader(body)), "buyer-1")
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)
			if rec.Code != want {
				t.Errorf("capture %d: expected status %d, got %d", i+1, want, rec.Code)
			}
		}

		if len(f.published.events) != 1 {
			t.Errorf("expected exactly one paid event, got %d", len(f.published.events))
		}
	})
}

func TestHandler_HandleCreate(t *testing.T) {
	t.Run("creates a pending payment for the buyer's order", func(t *testing.T) {
		f := newHandlerFixture()
		f.orders.orders["order-1"] = &domain.Order{ID: "order-1", BuyerID: "buyer-1", Total: 4500, Status: domain.OrderStatusPending}

		body := `{"order_id": "order-1", "method": "card"}`
		req := authed(httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(body)), "buyer-1")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp domain.Payment
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Status != domain.PaymentStatusPending || resp.Amount != 4500 {
			t.Errorf("unexpected payment: %+v", resp)
		}
	})

	t.Run("hides another buyer's order", func(t *testing.T) {
		f := newHandlerFixture()
		f.orders.orders["order-1"] = &domain.Order{ID: "order-1", BuyerID: "buyer-1", Total: 4500, Status: domain.OrderStatusPending}

		body := `{"order_id": "order-1", "method": "card"}`
		req := authed(httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(body)), "buyer-2")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("rejects a payment for a non-pending order", func(t *testing.T) {
		f := newHandlerFixture()
		f.orders.orders["order-1"] = &domain.Order{ID: "order-1", BuyerID: "buyer-1", Total: 4500, Status: domain.OrderStatusCancelled}

		body := `{"order_id": "order-1", "method": "card"}`
		req := authed(httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(body)), "buyer-1")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rec.Code)
		}
	})
}
