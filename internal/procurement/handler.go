package procurement

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-logistics/internal/platform/httpx"
)

// Handler exposes purchase receipt and invoice endpoints.
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

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchase-receipts", func(r chi.Router) {
		r.Post("/", h.createReceipt)
		r.Get("/{name}", h.getReceipt)
		r.Post("/{name}/submit", h.submitReceipt)
		r.Post("/{name}/cancel", h.cancelReceipt)
	})
	r.Route("/purchase-invoices", func(r chi.Router) {
		r.Post("/", h.createInvoice)
		r.Get("/{name}", h.getInvoice)
		r.Post("/{name}/submit", h.submitInvoice)
		r.Post("/{name}/cancel", h.cancelInvoice)
	})
}

type receiptItemRequest struct {
	ItemCode  string          `json:"item_code" validate:"required"`
	SerialNo  string          `json:"serial_no"`
	Qty       int             `json:"qty" validate:"gte=0"`
	Rate      decimal.Decimal `json:"rate"`
	Warehouse string          `json:"warehouse"`
}

type receiptRequest struct {
	Supplier     string               `json:"supplier" validate:"required"`
	PostingDate  string               `json:"posting_date"`
	SetWarehouse string               `json:"set_warehouse"`
	LoadDispatch string               `json:"custom_load_dispatch"`
	Items        []receiptItemRequest `json:"items" validate:"required,min=1,dive"`
}

type invoiceItemRequest struct {
	ItemCode        string          `json:"item_code" validate:"required"`
	SerialNo        string          `json:"serial_no"`
	Qty             int             `json:"qty" validate:"gte=0"`
	Rate            decimal.Decimal `json:"rate"`
	PurchaseReceipt string          `json:"purchase_receipt"`
}

type invoiceRequest struct {
	Supplier     string               `json:"supplier" validate:"required"`
	PostingDate  string               `json:"posting_date"`
	UpdateStock  bool                 `json:"update_stock"`
	LoadDispatch string               `json:"custom_load_dispatch"`
	Items        []invoiceItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	posting, err := httpx.ParseDate("posting_date", req.PostingDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items := make([]ReceiptItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = ReceiptItem{ItemCode: it.ItemCode, SerialNo: it.SerialNo, Qty: it.Qty, Rate: it.Rate, Warehouse: it.Warehouse}
	}
	pr, err := h.service.CreateReceipt(r.Context(), ReceiptInput{
		Supplier:     req.Supplier,
		PostingDate:  posting,
		SetWarehouse: req.SetWarehouse,
		LoadDispatch: req.LoadDispatch,
		Items:        items,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pr)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	pr, err := h.service.GetReceipt(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) submitReceipt(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	pr, err := h.service.SubmitReceipt(r.Context(), name)
	if err != nil {
		h.logger.Warn("submit purchase receipt", slog.String("name", name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) cancelReceipt(w http.ResponseWriter, r *http.Request) {
	pr, err := h.service.CancelReceipt(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	posting, err := httpx.ParseDate("posting_date", req.PostingDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items := make([]InvoiceItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = InvoiceItem{ItemCode: it.ItemCode, SerialNo: it.SerialNo, Qty: it.Qty, Rate: it.Rate, PurchaseReceipt: it.PurchaseReceipt}
	}
	inv, err := h.service.CreateInvoice(r.Context(), InvoiceInput{
		Supplier:     req.Supplier,
		PostingDate:  posting,
		UpdateStock:  req.UpdateStock,
		LoadDispatch: req.LoadDispatch,
		Items:        items,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.GetInvoice(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) submitInvoice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	inv, err := h.service.SubmitInvoice(r.Context(), name)
	if err != nil {
		h.logger.Warn("submit purchase invoice", slog.String("name", name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.CancelInvoice(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}
