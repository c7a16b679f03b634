package loadreceipt

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-logistics/internal/platform/httpx"
)

// Handler exposes load receipt endpoints.
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

// MountRoutes registers load receipt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/load-receipts", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{name}", h.get)
		r.Post("/{name}/submit", h.submit)
		r.Post("/{name}/cancel", h.cancel)
	})
}

type createRequest struct {
	LoadDispatch string `json:"load_dispatch" validate:"required"`
	ReceiptDate  string `json:"receipt_date"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := httpx.ParseDate("receipt_date", req.ReceiptDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lr, err := h.service.Create(r.Context(), CreateInput{LoadDispatch: req.LoadDispatch, ReceiptDate: date})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lr)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	dispatch := r.URL.Query().Get("load_dispatch")
	if dispatch == "" {
		httpx.JSON(w, http.StatusOK, []LoadReceipt{})
		return
	}
	out, err := h.service.ListByDispatch(r.Context(), dispatch)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	lr, err := h.service.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lr)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	lr, err := h.service.Submit(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lr)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	lr, err := h.service.Cancel(r.Context(), name)
	if err != nil {
		h.logger.Warn("cancel load receipt", slog.String("name", name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lr)
}
