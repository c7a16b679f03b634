package audit

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-logistics/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

const (
	exportRateLimit  = 10
	exportRateWindow = time.Minute
)

// Handler exposes the audit trail.
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

// MountRoutes registers the timeline and its CSV export.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "audit export rate limit exceeded")
		}),
	)
	r.Get("/audit-logs", h.timeline)
	r.With(limiter).Get("/audit-logs/export.csv", h.export)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit export", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-timeline.csv"`)
	if err := WriteCSV(w, rows); err != nil {
		h.logger.Warn("write audit csv", slog.Any("error", err))
	}
}

// WriteCSV writes entries with meta serialised as JSON.
func WriteCSV(w io.Writer, rows []TimelineRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"at", "actor", "action", "entity", "entity_id", "meta"}); err != nil {
		return err
	}
	for _, row := range rows {
		meta := ""
		if len(row.Meta) > 0 {
			raw, err := json.Marshal(row.Meta)
			if err != nil {
				return err
			}
			meta = string(raw)
		}
		if err := writer.Write([]string{row.At.UTC().Format(time.RFC3339), row.Actor, row.Action, row.Entity, row.EntityID, meta}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	var f TimelineFilters
	var err error
	if f.From, err = httpx.ParseDatePtr("from", q.Get("from")); err != nil {
		return TimelineFilters{}, err
	}
	if f.To, err = httpx.ParseDatePtr("to", q.Get("to")); err != nil {
		return TimelineFilters{}, err
	}
	f.Actor = q.Get("actor")
	f.Entity = q.Get("entity")
	f.EntityID = q.Get("entity_id")
	f.Action = q.Get("action")
	if raw := q.Get("page"); raw != "" {
		if f.Page, err = strconv.Atoi(raw); err != nil {
			return TimelineFilters{}, shared.Invalid("page", "must be a number")
		}
	}
	if raw := q.Get("page_size"); raw != "" {
		if f.PageSize, err = strconv.Atoi(raw); err != nil {
			return TimelineFilters{}, shared.Invalid("page_size", "must be a number")
		}
	}
	return f, nil
}
