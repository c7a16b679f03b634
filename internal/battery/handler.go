package battery

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-logistics/internal/platform/httpx"
)

// Handler exposes battery HTTP endpoints.
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

// MountRoutes registers battery routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/batteries", func(r chi.Router) {
		r.Post("/", h.createBattery)
		r.Get("/expiring", h.listExpiring)
		r.Get("/{serial}", h.getBattery)
	})
	r.Route("/battery-transactions", func(r chi.Router) {
		r.Post("/", h.createTransaction)
		r.Get("/{name}", h.getTransaction)
		r.Post("/{name}/submit", h.submitTransaction)
		r.Post("/{name}/cancel", h.cancelTransaction)
	})
}

type createBatteryRequest struct {
	SerialNo     string `json:"battery_serial_no" validate:"required"`
	Brand        string `json:"brand"`
	BatteryType  string `json:"battery_type"`
	ChargingDate string `json:"charging_date"`
}

type createTransactionRequest struct {
	BatterySerialNo string `json:"battery_serial_no" validate:"required"`
	Type            string `json:"transaction_type" validate:"required,oneof=In Out"`
	FrameNo         string `json:"frame_no"`
	PostingDate     string `json:"posting_date"`
}

func (h *Handler) createBattery(w http.ResponseWriter, r *http.Request) {
	var req createBatteryRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	charging, err := httpx.ParseDatePtr("charging_date", req.ChargingDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	b, err := h.service.CreateBattery(r.Context(), CreateInput{
		SerialNo:     req.SerialNo,
		Brand:        req.Brand,
		BatteryType:  req.BatteryType,
		ChargingDate: charging,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *Handler) getBattery(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.GetBattery(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) listExpiring(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "days must be a non-negative integer")
			return
		}
		days = n
	}
	list, err := h.service.ListExpiring(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	posting, err := httpx.ParseDate("posting_date", req.PostingDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.CreateTransaction(r.Context(), TransactionInput{
		BatterySerialNo: req.BatterySerialNo,
		Type:            TransactionType(req.Type),
		FrameNo:         req.FrameNo,
		PostingDate:     posting,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.GetTransaction(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) submitTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.SubmitTransaction(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.logger.Warn("submit battery transaction", slog.String("name", chi.URLParam(r, "name")), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) cancelTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.CancelTransaction(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}
