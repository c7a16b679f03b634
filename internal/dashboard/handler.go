package dashboard

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-logistics/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

const requestTimeout = 5 * time.Second

// PDFRenderer converts an HTML document to PDF.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html []byte) ([]byte, error)
}

// Handler exposes dashboard endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	pdf     PDFRenderer
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// WithPDF enables format=pdf.
func (h *Handler) WithPDF(renderer PDFRenderer) *Handler {
	h.pdf = renderer
	return h
}

// MountRoutes registers dashboard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/dashboards/{dashboard}", h.get)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	switch format {
	case "", "json", "csv", "xlsx":
	case "pdf":
		if h.pdf == nil {
			httpx.Problem(w, http.StatusNotImplemented, http.StatusText(http.StatusNotImplemented), "pdf export is not configured")
			return
		}
	default:
		httpx.RespondError(w, shared.Invalid("format", "must be json, csv, xlsx or pdf"))
		return
	}
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	name := Name(chi.URLParam(r, "dashboard"))
	data, err := h.service.GetDashboardData(ctx, name, filters)
	if err != nil {
		h.logger.Warn("dashboard", slog.String("dashboard", string(name)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	switch format {
	case "csv":
		h.export(w, name, "text/csv; charset=utf-8", "csv", data, WriteCSV)
	case "xlsx":
		h.export(w, name, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx", data, WriteXLSX)
	case "pdf":
		h.export(w, name, "application/pdf", "pdf", data, func(out io.Writer, data Data) error {
			var html bytes.Buffer
			if err := WriteHTML(&html, data); err != nil {
				return err
			}
			pdf, err := h.pdf.RenderHTML(ctx, html.Bytes())
			if err != nil {
				return err
			}
			_, err = out.Write(pdf)
			return err
		})
	default:
		httpx.JSON(w, http.StatusOK, data)
	}
}

func (h *Handler) export(w http.ResponseWriter, name Name, contentType, ext string, data Data, write func(io.Writer, Data) error) {
	var buf bytes.Buffer
	if err := write(&buf, data); err != nil {
		h.logger.Error("dashboard export", slog.String("dashboard", string(name)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-dashboard-%s.%s", name, data.GeneratedAt.Format("20060102"), ext))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	var f Filters
	var err error
	if f.From, err = httpx.ParseDatePtr("from", q.Get("from")); err != nil {
		return Filters{}, err
	}
	if f.To, err = httpx.ParseDatePtr("to", q.Get("to")); err != nil {
		return Filters{}, err
	}
	f.LoadReferenceNo = q.Get("load_reference_no")
	if raw := q.Get("expiring_within_days"); raw != "" {
		if f.ExpiringWithinDays, err = strconv.Atoi(raw); err != nil {
			return Filters{}, shared.Invalid("expiring_within_days", "must be a number")
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if f.Limit, err = strconv.Atoi(raw); err != nil {
			return Filters{}, shared.Invalid("limit", "must be a number")
		}
	}
	return f, nil
}
