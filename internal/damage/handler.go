package damage

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-logistics/internal/platform/httpx"
)

// Handler exposes damage assessment endpoints.
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

// MountRoutes registers damage assessment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/damage-assessments", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/{name}", h.get)
		r.Post("/{name}/submit", h.submit)
		r.Post("/{name}/cancel", h.cancel)
	})
}

type itemRequest struct {
	FrameNo       string          `json:"frame_no" validate:"required"`
	Status        string          `json:"status" validate:"omitempty,oneof=OK 'Not OK'"`
	DamageType    string          `json:"damage_type"`
	Remarks       string          `json:"remarks"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
}

type createRequest struct {
	LoadReceipt      string        `json:"load_receipt" validate:"required"`
	SourceWarehouse  string        `json:"source_warehouse"`
	DamageWarehouse  string        `json:"damage_warehouse"`
	CreateStockEntry bool          `json:"create_stock_entry"`
	Items            []itemRequest `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	items := make([]Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = Item{FrameNo: it.FrameNo, Status: RowStatus(it.Status), DamageType: it.DamageType, Remarks: it.Remarks, EstimatedCost: it.EstimatedCost}
	}
	a, err := h.service.Create(r.Context(), CreateInput{
		LoadReceipt:      req.LoadReceipt,
		SourceWarehouse:  req.SourceWarehouse,
		DamageWarehouse:  req.DamageWarehouse,
		CreateStockEntry: req.CreateStockEntry,
		Items:            items,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	a, err := h.service.Submit(r.Context(), name)
	if err != nil {
		h.logger.Warn("submit damage assessment", slog.String("name", name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Cancel(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}
