package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"marketplace/internal/coupons"
	"marketplace/internal/domain"
	"marketplace/internal/inventory"
	"marketplace/internal/mw"
)

// CartClearer empties a buyer's cart once its contents became an order.
type CartClearer interface {
	Clear(ctx context.Context, userID string) error
}

type Handler struct {
	svc    *Service
	carts  CartClearer
	logger *slog.Logger
}

func NewHandler(svc *Service, carts CartClearer, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, carts: carts, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/orders", h.HandleCreate)
	r.Get("/orders", h.HandleList)
	r.Get("/orders/{id}", h.HandleGet)
	r.Get("/orders/{id}/expiry", h.HandleCheckExpiry)
	r.Post("/orders/{id}/cancel", h.HandleCancel)
}

type createOrderRequest struct {
	AddressID  string         `json:"address_id"`
	Items      []CheckoutItem `json:"items"`
	CouponCode string         `json:"coupon_code,omitempty"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	buyerID := mw.UserID(r.Context())

	order, err := h.svc.Create(r.Context(), buyerID, req.AddressID, req.Items, req.CouponCode)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyOrder):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrNotFound):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, inventory.ErrInsufficientStock):
			h.writeError(w, http.StatusConflict, "insufficient stock")
		case errors.Is(err, coupons.ErrNotFound),
			errors.Is(err, coupons.ErrNotStarted),
			errors.Is(err, coupons.ErrExpired),
			errors.Is(err, coupons.ErrExhausted),
			errors.Is(err, ErrCouponNotApplicable):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("failed to create order", "error", err)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	if h.carts != nil {
		if err := h.carts.Clear(r.Context(), buyerID); err != nil {
			h.logger.Error("failed to clear cart after checkout", "error", err, "buyer_id", buyerID)
		}
	}

	h.logger.Info("order created", "order_id", order.ID, "buyer_id", order.BuyerID, "total", order.Total)
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	order, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if mw.Role(r.Context()) != domain.RoleAdmin && order.BuyerID != mw.UserID(r.Context()) {
		h.writeError(w, http.StatusForbidden, "not your order")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	buyerID := mw.UserID(r.Context())

	list, err := h.svc.ListByBuyer(r.Context(), buyerID)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "buyer_id", buyerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, list)
}

type expiryResponse struct {
	IsExpired        bool          `json:"is_expired"`
	RemainingMinutes int           `json:"remaining_minutes,omitempty"`
	Order            *domain.Order `json:"order"`
}

func (h *Handler) HandleCheckExpiry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.svc.CheckExpiry(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("failed to check order expiry", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if result.Expired {
		h.logger.Info("order expired on check", "order_id", id)
	}

	h.writeJSON(w, http.StatusOK, expiryResponse{
		IsExpired:        result.Expired,
		RemainingMinutes: result.RemainingMinutes,
		Order:            result.Order,
	})
}

type cancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req cancelOrderRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	order, err := h.svc.Cancel(r.Context(), id, mw.UserID(r.Context()), mw.Role(r.Context()), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			h.writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, ErrInvalidState):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrForbidden):
			h.writeError(w, http.StatusForbidden, "not authorized to cancel this order")
		default:
			h.logger.Error("failed to cancel order", "error", err, "id", id)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.logger.Info("order cancelled", "order_id", order.ID, "reason", order.CancellationReason)
	h.writeJSON(w, http.StatusOK, order)
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
