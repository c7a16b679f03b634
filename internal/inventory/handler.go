package inventory

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-logistics/internal/platform/httpx"
)

// Handler exposes read endpoints for items, serial numbers and stock entries.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items/{code}", h.getItem)
	r.Get("/serial-nos/{name}", h.getSerialNo)
	r.Get("/stock-entries/{name}", h.getStockEntry)
	r.Post("/stock-entries/{name}/cancel", h.cancelStockEntry)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetItem(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) getSerialNo(w http.ResponseWriter, r *http.Request) {
	serial, err := h.service.GetSerialNo(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, serial)
}

func (h *Handler) getStockEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.GetStockEntry(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) cancelStockEntry(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.service.CancelStockEntry(r.Context(), name); err != nil {
		h.logger.Warn("cancel stock entry", slog.String("name", name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"name": name, "status": "Cancelled"})
}
