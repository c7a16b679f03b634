package dispatch

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-logistics/internal/platform/httpx"
)

// Handler exposes load dispatch endpoints.
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

// MountRoutes registers load dispatch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/load-dispatches", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/{name}", h.get)
		r.Put("/{name}", h.update)
		r.Post("/{name}/submit", h.submit)
		r.Post("/{name}/cancel", h.cancel)
		r.Post("/{name}/items", h.importItems)
		r.Post("/{name}/reconcile", h.reconcile)
		r.Post("/{name}/purchase-receipt", h.createPurchaseReceipt)
	})
}

type itemRequest struct {
	ModelSerialNo   string          `json:"model_serial_no"`
	ModelName       string          `json:"model_name"`
	ModelVariant    string          `json:"model_variant"`
	ColorCode       string          `json:"color_code"`
	FrameNo         string          `json:"frame_no"`
	MotorNo         string          `json:"motor_no"`
	KeyNo           string          `json:"key_no"`
	BatterySerialNo string          `json:"battery_serial_no"`
	PriceUnit       decimal.Decimal `json:"price_unit"`
	ItemCode        string          `json:"item_code"`
}

func (it itemRequest) toItem() Item {
	return Item{
		ModelSerialNo:   it.ModelSerialNo,
		ModelName:       it.ModelName,
		ModelVariant:    it.ModelVariant,
		ColorCode:       it.ColorCode,
		FrameNo:         it.FrameNo,
		MotorNo:         it.MotorNo,
		KeyNo:           it.KeyNo,
		BatterySerialNo: it.BatterySerialNo,
		PriceUnit:       it.PriceUnit,
		ItemCode:        it.ItemCode,
	}
}

func toItems(rows []itemRequest) []Item {
	items := make([]Item, len(rows))
	for i, row := range rows {
		items[i] = row.toItem()
	}
	return items
}

type dispatchRequest struct {
	LoadReferenceNo string        `json:"load_reference_no" validate:"required"`
	DispatchDate    string        `json:"dispatch_date"`
	InvoiceNo       string        `json:"invoice_no"`
	Items           []itemRequest `json:"items"`
}

type importRequest struct {
	Rows []itemRequest `json:"rows" validate:"required,min=1"`
}

type receiptRequest struct {
	Supplier              string            `json:"supplier"`
	Warehouse             string            `json:"warehouse"`
	FrameWarehouseMapping map[string]string `json:"frame_warehouse_mapping"`
}

func (h *Handler) decodeInput(r *http.Request) (Input, error) {
	var req dispatchRequest
	if err := httpx.Bind(r, &req); err != nil {
		return Input{}, err
	}
	date, err := httpx.ParseDatePtr("dispatch_date", req.DispatchDate)
	if err != nil {
		return Input{}, err
	}
	return Input{LoadReferenceNo: req.LoadReferenceNo, DispatchDate: date, InvoiceNo: req.InvoiceNo, Items: toItems(req.Items)}, nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	input, err := h.decodeInput(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	input, err := h.decodeInput(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.Update(r.Context(), chi.URLParam(r, "name"), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	d, err := h.service.Submit(r.Context(), name)
	if err != nil {
		h.logger.Warn("submit load dispatch", slog.String("name", name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Cancel(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) importItems(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.ImportItems(r.Context(), chi.URLParam(r, "name"), toItems(req.Rows))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	totals, err := h.service.Reconcile(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, totals)
}

func (h *Handler) createPurchaseReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if r.ContentLength != 0 {
		if err := httpx.Bind(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	pr, err := h.service.CreatePurchaseReceipt(r.Context(), ReceiptInput{
		SourceName:      chi.URLParam(r, "name"),
		Supplier:        req.Supplier,
		Warehouse:       req.Warehouse,
		FrameWarehouses: req.FrameWarehouseMapping,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pr)
}
