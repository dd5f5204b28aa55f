package cart

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"marketplace/internal/mw"
)

type Handler struct {
	repo   *CartRepository
	logger *slog.Logger
}

func NewHandler(repo *CartRepository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/cart", h.HandleGet)
	r.Post("/cart/items", h.HandleAddItem)
	r.Put("/cart/items/{productId}", h.HandleUpdateItem)
	r.Delete("/cart/items/{productId}", h.HandleRemoveItem)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	cart, err := h.repo.Get(r.Context(), mw.UserID(r.Context()))
	if err != nil {
		h.logger.Error("failed to get cart", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, cart)
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" || req.Quantity <= 0 {
		h.writeError(w, http.StatusBadRequest, "product_id and a positive quantity are required")
		return
	}

	userID := mw.UserID(r.Context())
	if err := h.repo.AddItem(r.Context(), userID, req.ProductID, req.Quantity); err != nil {
		h.logger.Error("failed to add cart item", "error", err, "product_id", req.ProductID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	cart, err := h.repo.Get(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get cart", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, cart)
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleUpdateItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity <= 0 {
		h.writeError(w, http.StatusBadRequest, "a positive quantity is required")
		return
	}

	userID := mw.UserID(r.Context())
	ok, err := h.repo.SetQuantity(r.Context(), userID, productID, req.Quantity)
	if err != nil {
		h.logger.Error("failed to update cart item", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "product not in cart")
		return
	}

	cart, err := h.repo.Get(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get cart", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	userID := mw.UserID(r.Context())

	if err := h.repo.RemoveItem(r.Context(), userID, productID); err != nil {
		h.logger.Error("failed to remove cart item", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	cart, err := h.repo.Get(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get cart", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, cart)
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
