package inventory

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"marketplace/internal/domain"
	"marketplace/internal/mw"
)

type Handler struct {
	repo   *InventoryRepository
	logger *slog.Logger
}

func NewHandler(repo *InventoryRepository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/inventory", h.HandleList)
	r.Get("/inventory/{productId}", h.HandleGet)
	r.Post("/inventory/{productId}/restock", h.HandleRestock)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list stock", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	stock, err := h.repo.GetStock(r.Context(), productID)
	if err != nil {
		h.logger.Error("failed to get stock", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if stock == nil {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}

	h.writeJSON(w, http.StatusOK, stock)
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleRestock(w http.ResponseWriter, r *http.Request) {
	if mw.Role(r.Context()) != domain.RoleAdmin {
		h.writeError(w, http.StatusForbidden, "admin only")
		return
	}

	productID := chi.URLParam(r, "productId")

	var req restockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.repo.Restock(r.Context(), productID, req.Quantity); err != nil {
		h.logger.Error("failed to restock", "error", err, "product_id", productID, "quantity", req.Quantity)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	stock, err := h.repo.GetStock(r.Context(), productID)
	if err != nil {
		h.logger.Error("failed to get updated stock", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("stock restocked", "product_id", productID, "quantity", req.Quantity)
	h.writeJSON(w, http.StatusOK, stock)
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
