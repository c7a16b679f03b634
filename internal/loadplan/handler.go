package loadplan

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-logistics/internal/platform/httpx"
)

// Handler exposes load plan endpoints.
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

// MountRoutes registers load plan routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/load-plans", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{name}", h.get)
		r.Post("/{name}/submit", h.submit)
		r.Post("/{name}/cancel", h.cancel)
	})
}

type itemRequest struct {
	Model    string `json:"model" validate:"required"`
	Variant  string `json:"variant"`
	Color    string `json:"color"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type createRequest struct {
	ReferenceNo      string        `json:"load_reference_no" validate:"required"`
	DispatchPlanDate string        `json:"dispatch_plan_date"`
	Items            []itemRequest `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	planDate, err := httpx.ParseDatePtr("dispatch_plan_date", req.DispatchPlanDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items := make([]Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = Item{Model: it.Model, Variant: it.Variant, Color: it.Color, Quantity: it.Quantity}
	}
	plan, err := h.service.Create(r.Context(), CreateInput{ReferenceNo: req.ReferenceNo, DispatchPlanDate: planDate, Items: items})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, plan)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Status: Status(r.URL.Query().Get("status"))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		filter.Limit, _ = strconv.Atoi(raw)
	}
	plans, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, plans)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	plan, err := h.service.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	plan, err := h.service.Submit(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	plan, err := h.service.Cancel(r.Context(), name)
	if err != nil {
		h.logger.Warn("cancel load plan", slog.String("name", name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan)
}
