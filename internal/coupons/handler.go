package coupons

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"marketplace/internal/domain"
	"marketplace/internal/mw"
)

type Handler struct {
	repo   *CouponRepository
	logger *slog.Logger
}

func NewHandler(repo *CouponRepository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/coupons", h.HandleList)
	r.Post("/coupons", h.HandleCreate)
	r.Delete("/coupons/{id}", h.HandleDelete)
	r.Get("/coupons/{code}/verify", h.HandleVerify)
}

type couponRequest struct {
	Code            string    `json:"code"`
	DiscountPercent int       `json:"discount_percent"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	MaxUsage        int       `json:"max_usage"`
	ProductID       string    `json:"product_id"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if mw.Role(r.Context()) != domain.RoleAdmin {
		h.writeError(w, http.StatusForbidden, "admin only")
		return
	}

	var req couponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" || req.DiscountPercent <= 0 || req.DiscountPercent > 100 {
		h.writeError(w, http.StatusBadRequest, "code and a discount between 1 and 100 are required")
		return
	}

	coupon := &domain.Coupon{
		Code:            req.Code,
		DiscountPercent: req.DiscountPercent,
		StartsAt:        req.StartsAt,
		EndsAt:          req.EndsAt,
		MaxUsage:        req.MaxUsage,
		ProductID:       req.ProductID,
	}

	if err := h.repo.Create(r.Context(), coupon); err != nil {
		h.logger.Error("failed to create coupon", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("coupon created", "code", coupon.Code, "discount_percent", coupon.DiscountPercent)
	h.writeJSON(w, http.StatusCreated, coupon)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list coupons", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, coupons)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if mw.Role(r.Context()) != domain.RoleAdmin {
		h.writeError(w, http.StatusForbidden, "admin only")
		return
	}

	id := chi.URLParam(r, "id")

	ok, err := h.repo.Delete(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to delete coupon", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "coupon not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	coupon, err := h.repo.Verify(r.Context(), code)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			h.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrNotStarted), errors.Is(err, ErrExpired), errors.Is(err, ErrExhausted):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("failed to verify coupon", "error", err, "code", code)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, coupon)
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
