package payments

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"marketplace/internal/domain"
	"marketplace/internal/mw"
)

// PaymentStore is the persistence surface the handler needs.
type PaymentStore interface {
	Create(ctx context.Context, payment *domain.Payment) error
	MarkPaid(ctx context.Context, orderID, transactionID string) (bool, error)
	GetByOrder(ctx context.Context, orderID, buyerID string) (*domain.Payment, error)
}

// OrderLookup is what the payment handler needs from the order side:
// existence/ownership checks and the pending -> paid transition.
type OrderLookup interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	MarkPaidIfPending(ctx context.Context, id string) (bool, error)
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error
}

type Handler struct {
	repo   PaymentStore
	orders OrderLookup
	events EventPublisher
	logger *slog.Logger
}

func NewHandler(repo PaymentStore, orderLookup OrderLookup, events EventPublisher, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, orders: orderLookup, events: events, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/payments", h.HandleCreate)
	r.Post("/payments/capture", h.HandleCapture)
	r.Get("/orders/{id}/payment", h.HandleGetByOrder)
}

type createPaymentRequest struct {
	OrderID string `json:"order_id"`
	Method  string `json:"method"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	buyerID := mw.UserID(r.Context())

	order, err := h.orders.GetByID(r.Context(), req.OrderID)
	if err != nil {
		h.logger.Error("failed to load order", "error", err, "order_id", req.OrderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil || order.BuyerID != buyerID {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if order.Status != domain.OrderStatusPending {
		h.writeError(w, http.StatusConflict, "order is not awaiting payment")
		return
	}

	payment := &domain.Payment{
		OrderID: order.ID,
		BuyerID: buyerID,
		Amount:  order.Total,
		Method:  req.Method,
	}

	if err := h.repo.Create(r.Context(), payment); err != nil {
		h.logger.Error("failed to create payment", "error", err, "order_id", order.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("payment created", "payment_id", payment.ID, "order_id", order.ID, "method", payment.Method)
	h.writeJSON(w, http.StatusCreated, payment)
}

type captureRequest struct {
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
}

// HandleCapture records a capture outcome reported by the external payment
// processor: the pending payment becomes paid, then the order follows.
func (h *Handler) HandleCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ok, err := h.repo.MarkPaid(r.Context(), req.OrderID, req.TransactionID)
	if err != nil {
		h.logger.Error("failed to record capture", "error", err, "order_id", req.OrderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "no pending payment for this order")
		return
	}

	if _, err := h.orders.MarkPaidIfPending(r.Context(), req.OrderID); err != nil {
		h.logger.Error("failed to mark order paid", "error", err, "order_id", req.OrderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	buyerID := mw.UserID(r.Context())
	payment, err := h.repo.GetByOrder(r.Context(), req.OrderID, buyerID)
	if err != nil {
		h.logger.Error("failed to load payment", "error", err, "order_id", req.OrderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if payment == nil {
		h.writeError(w, http.StatusNotFound, "payment not found")
		return
	}

	h.publish(r.Context(), domain.OrderEvent{
		Type:      domain.EventOrderPaid,
		OrderID:   req.OrderID,
		BuyerID:   payment.BuyerID,
		Total:     payment.Amount,
		Timestamp: time.Now().UTC(),
	})

	h.logger.Info("payment captured", "order_id", req.OrderID, "transaction_id", req.TransactionID)
	h.writeJSON(w, http.StatusOK, payment)
}

func (h *Handler) publish(ctx context.Context, event domain.OrderEvent) {
	if h.events == nil {
		return
	}
	if err := h.events.PublishOrderEvent(ctx, event); err != nil {
		h.logger.Error("failed to publish order event", "error", err, "type", event.Type, "order_id", event.OrderID)
	}
}

func (h *Handler) HandleGetByOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	buyerID := mw.UserID(r.Context())

	payment, err := h.repo.GetByOrder(r.Context(), orderID, buyerID)
	if err != nil {
		h.logger.Error("failed to get payment", "error", err, "order_id", orderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if payment == nil {
		h.writeError(w, http.StatusNotFound, "payment not found")
		return
	}

	h.writeJSON(w, http.StatusOK, payment)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
