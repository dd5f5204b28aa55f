package catalog

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"marketplace/internal/domain"
	"marketplace/internal/mw"
)

type Handler struct {
	repo   *ProductRepository
	logger *slog.Logger
}

func NewHandler(repo *ProductRepository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/products", h.HandleList)
	r.Post("/products", h.HandleCreate)
	r.Get("/products/{id}", h.HandleGet)
	r.Put("/products/{id}", h.HandleUpdate)
	r.Delete("/products/{id}", h.HandleDelete)
	r.Get("/sellers/{sellerId}/products", h.HandleListBySeller)
}

type productRequest struct {
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	ImageURL    string `json:"image_url"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.Price <= 0 {
		h.writeError(w, http.StatusBadRequest, "title and a positive price are required")
		return
	}

	product := &domain.Product{
		SellerID:    mw.UserID(r.Context()),
		Category:    req.Category,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		ImageURL:    req.ImageURL,
	}

	if err := h.repo.Create(r.Context(), product); err != nil {
		h.logger.Error("failed to create product", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("product created", "product_id", product.ID, "seller_id", product.SellerID)
	h.writeJSON(w, http.StatusCreated, product)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	product, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if product == nil {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}

	h.writeJSON(w, http.StatusOK, product)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	products, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) HandleListBySeller(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "sellerId")

	products, err := h.repo.ListBySeller(r.Context(), sellerID)
	if err != nil {
		h.logger.Error("failed to list seller products", "error", err, "seller_id", sellerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if existing == nil {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if mw.Role(r.Context()) != domain.RoleAdmin && existing.SellerID != mw.UserID(r.Context()) {
		h.writeError(w, http.StatusForbidden, "not your product")
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	existing.Category = req.Category
	existing.Title = req.Title
	existing.Description = req.Description
	existing.Price = req.Price
	existing.ImageURL = req.ImageURL

	ok, err := h.repo.Update(r.Context(), existing)
	if err != nil {
		h.logger.Error("failed to update product", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}

	h.writeJSON(w, http.StatusOK, existing)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if existing == nil {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if mw.Role(r.Context()) != domain.RoleAdmin && existing.SellerID != mw.UserID(r.Context()) {
		h.writeError(w, http.StatusForbidden, "not your product")
		return
	}

	if _, err := h.repo.Delete(r.Context(), id); err != nil {
		h.logger.Error("failed to delete product", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("product deleted", "product_id", id)
	w.WriteHeader(http.StatusNoContent)
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
