package uploads

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-logistics/internal/filestore"
	"github.com/odyssey-erp/odyssey-logistics/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

const (
	defaultRateLimit = 20
	rateWindow       = time.Minute
)

// Handler exposes upload endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rateLimit int
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rateLimit: defaultRateLimit}
}

// WithRateLimit overrides the per-minute request limit on processing routes.
func (h *Handler) WithRateLimit(n int) *Handler {
	if n > 0 {
		h.rateLimit = n
	}
	return h
}

// MountRoutes registers upload routes. Processing endpoints are rate limited
// per client address.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(h.rateLimit, rateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "upload rate limit exceeded")
		}),
	)
	r.Route("/uploads", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{name}", h.get)
		r.Group(func(r chi.Router) {
			r.Use(limiter)
			r.Post("/{name}/process", h.process)
			r.Post("/{kind}", h.upload)
		})
	})
}

type createRequest struct {
	FileRef string `json:"file_ref" validate:"required"`
	Parent  string `json:"parent"`
}

// upload accepts either a multipart form with a "file" part or a JSON body
// naming a file already in the store.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	kind := Kind(chi.URLParam(r, "kind"))
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		h.uploadMultipart(w, r, kind)
		return
	}
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	u, err := h.service.Create(r.Context(), CreateInput{Kind: kind, FileRef: req.FileRef, Parent: req.Parent})
	h.respond(w, u, err)
}

func (h *Handler) uploadMultipart(w http.ResponseWriter, r *http.Request, kind Kind) {
	r.Body = http.MaxBytesReader(w, r.Body, filestore.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.RespondError(w, ErrFileRequired)
		return
	}
	defer file.Close()
	parent := shared.Coalesce(r.FormValue("parent"), r.URL.Query().Get("parent"))
	u, err := h.service.Upload(r.Context(), kind, parent, header.Filename, file)
	h.respond(w, u, err)
}

func (h *Handler) respond(w http.ResponseWriter, u Upload, err error) {
	if err != nil {
		if !errors.Is(err, shared.ErrValidation) {
			h.logger.Warn("upload", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, u)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Process(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, shared.NewValidationError(map[string]string{"limit": "must be a number"}))
			return
		}
		limit = n
	}
	out, err := h.service.List(r.Context(), Kind(r.URL.Query().Get("kind")), limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}
