package framebundle

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-logistics/internal/platform/httpx"
)

// Handler exposes frame bundle and battery swapping endpoints.
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

// MountRoutes registers frame bundle routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/frame-bundles", func(r chi.Router) {
		r.Post("/", h.create)
		r.Post("/swap", h.swap)
		r.Post("/refresh-aging", h.refreshAging)
		r.Get("/{name}", h.get)
		r.Put("/{name}", h.save)
		r.Post("/{name}/submit", h.submit)
		r.Post("/{name}/cancel", h.cancel)
		r.Post("/{name}/expire", h.expire)
	})
	r.Route("/battery-swappings", func(r chi.Router) {
		r.Post("/", h.createSwapping)
		r.Get("/{name}", h.getSwapping)
		r.Post("/{name}/submit", h.submitSwapping)
	})
}

type createRequest struct {
	FrameNo         string `json:"frame_no" validate:"required"`
	BatterySerialNo string `json:"battery_serial_no"`
	KeyNo           string `json:"key_no"`
}

type swapRequest struct {
	CurrentFrame string `json:"current_frame" validate:"required"`
	TargetFrame  string `json:"target_frame" validate:"required,nefield=CurrentFrame"`
}

type expireRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	b, err := h.service.Create(r.Context(), CreateInput{FrameNo: req.FrameNo, BatterySerialNo: req.BatterySerialNo, KeyNo: req.KeyNo})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

// save decodes the body over the stored bundle so omitted fields keep their
// current values.
func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	b, err := h.service.Get(r.Context(), name)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.DecodeJSON(r, &b); err != nil {
		httpx.RespondError(w, err)
		return
	}
	b.Name = name
	saved, err := h.service.Save(r.Context(), b)
	if err != nil {
		h.logger.Warn("save frame bundle", slog.String("name", name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Submit(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Cancel(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) swap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.SwapBatteries(r.Context(), req.CurrentFrame, req.TargetFrame)
	if err != nil {
		h.logger.Warn("swap batteries", slog.String("current_frame", req.CurrentFrame), slog.String("target_frame", req.TargetFrame), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) expire(w http.ResponseWriter, r *http.Request) {
	var req expireRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	b, err := h.service.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	b, err = h.service.MarkBatteryExpired(r.Context(), b.FrameNo, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) refreshAging(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.RefreshAging(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *Handler) createSwapping(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sw, err := h.service.CreateSwapping(r.Context(), req.CurrentFrame, req.TargetFrame)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sw)
}

func (h *Handler) getSwapping(w http.ResponseWriter, r *http.Request) {
	sw, err := h.service.GetSwapping(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sw)
}

func (h *Handler) submitSwapping(w http.ResponseWriter, r *http.Request) {
	sw, err := h.service.SubmitSwapping(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sw)
}
