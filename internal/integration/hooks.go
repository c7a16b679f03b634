// Package integration propagates procurement changes to the dispatch and
// load receipt documents that mirror them.
package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-logistics/internal/dispatch"
	"github.com/odyssey-erp/odyssey-logistics/internal/procurement"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// DispatchReconciler recomputes dispatch totals from procurement documents.
type DispatchReconciler interface {
	Reconcile(ctx context.Context, name string) (dispatch.Totals, error)
}

// ReceiptReconciler copies dispatch totals onto load receipts.
type ReceiptReconciler interface {
	ApplyTotals(ctx context.Context, dispatchName string, totals dispatch.Totals) (int64, error)
}

// NotifierPort delivers best-effort notifications.
type NotifierPort interface {
	Notify(ctx context.Context, subject, body string)
}

// Hooks wires procurement events into dispatch and load receipt totals.
type Hooks struct {
	dispatches DispatchReconciler
	receipts   ReceiptReconciler
	notifier   NotifierPort
	cache      shared.Invalidator
	logger     *slog.Logger
}

// NewHooks constructs integration hooks. Receipts, notifier and cache are
// optional.
func NewHooks(dispatches DispatchReconciler, receipts ReceiptReconciler, notifier NotifierPort, cache shared.Invalidator, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{dispatches: dispatches, receipts: receipts, notifier: notifier, cache: cache, logger: logger}
}

var _ procurement.IntegrationHandler = (*Hooks)(nil)

// HandleReceiptChanged reconciles the dispatch a purchase receipt points to.
func (h *Hooks) HandleReceiptChanged(ctx context.Context, evt procurement.ReceiptEvent) error {
	return h.reconcile(ctx, "purchase receipt", evt.Name, evt.LoadDispatch, evt.Action)
}

// HandleInvoiceChanged reconciles the dispatch a purchase invoice points to.
func (h *Hooks) HandleInvoiceChanged(ctx context.Context, evt procurement.InvoiceEvent) error {
	return h.reconcile(ctx, "purchase invoice", evt.Name, evt.LoadDispatch, evt.Action)
}

func (h *Hooks) reconcile(ctx context.Context, doctype, source, dispatchName string, action procurement.Action) error {
	if h == nil || h.dispatches == nil || dispatchName == "" {
		return nil
	}
	totals, err := h.dispatches.Reconcile(ctx, dispatchName)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			h.logger.Warn("reconcile unknown load dispatch", slog.String("source", source), slog.String("load_dispatch", dispatchName))
			return nil
		}
		return fmt.Errorf("reconcile %s: %w", dispatchName, err)
	}

	// The dispatch is already consistent; receipt totals follow best-effort.
	if h.receipts != nil {
		if _, err := h.receipts.ApplyTotals(ctx, dispatchName, totals); err != nil {
			h.logger.Warn("apply totals to load receipts", slog.String("load_dispatch", dispatchName), slog.Any("error", err))
		}
	}
	shared.Invalidate(ctx, h.cache, h.logger)

	h.logger.Info("load dispatch reconciled",
		slog.String("source_type", doctype),
		slog.String("source", source),
		slog.String("action", string(action)),
		slog.String("load_dispatch", dispatchName),
		slog.Int("received", totals.Received),
		slog.Int("billed", totals.Billed),
		slog.String("status", string(totals.Status)),
	)
	if h.notifier != nil && action == procurement.ActionSubmitted && totals.Status == dispatch.StatusReceived && totals.Received == totals.Dispatched {
		h.notifier.Notify(ctx, fmt.Sprintf("Load Dispatch %s fully received", dispatchName),
			fmt.Sprintf("%s %s completed receipt of %d vehicles on load dispatch %s.", doctype, source, totals.Received, dispatchName))
	}
	return nil
}
