// Package dispatch manages Load Dispatches and reconciles their received and
// billed quantities against purchase receipts and invoices.
package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-logistics/internal/ingest"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// Status is the receiving progress of a dispatch.
type Status string

const (
	StatusInTransit Status = "In-Transit"
	StatusReceived  Status = "Received"
)

var (
	ErrNotFound        = fmt.Errorf("dispatch: %w", shared.ErrNotFound)
	ErrInvalidState    = fmt.Errorf("dispatch: %w", shared.ErrInvalidState)
	ErrEmptyDispatch   = fmt.Errorf("dispatch: no frames to dispatch: %w", shared.ErrValidation)
	ErrFrameDispatched = fmt.Errorf("dispatch: frame already on a submitted dispatch: %w", shared.ErrInvalidState)
	ErrHasReceipts     = fmt.Errorf("dispatch: submitted purchase receipts reference this dispatch: %w", shared.ErrInvalidState)
	ErrFullyReceived   = fmt.Errorf("dispatch: every frame is already received: %w", shared.ErrInvalidState)
)

// LoadDispatch is a batch of frames leaving the origin against a load plan.
type LoadDispatch struct {
	shared.Meta
	LoadReferenceNo       string     `json:"load_reference_no"`
	DispatchDate          *time.Time `json:"dispatch_date,omitempty"`
	InvoiceNo             string     `json:"invoice_no,omitempty"`
	Items                 []Item     `json:"items"`
	TotalDispatchQuantity int        `json:"total_dispatch_quantity"`
	TotalReceivedQuantity int        `json:"total_received_quantity"`
	TotalBilledQuantity   int        `json:"total_billed_quantity"`
	Status                Status     `json:"status"`
}

// Item is one dispatched vehicle.
type Item struct {
	ModelSerialNo   string          `json:"model_serial_no,omitempty"`
	ModelName       string          `json:"model_name,omitempty"`
	ModelVariant    string          `json:"model_variant,omitempty"`
	ColorCode       string          `json:"color_code,omitempty"`
	FrameNo         string          `json:"frame_no,omitempty"`
	MotorNo         string          `json:"motor_no,omitempty"`
	KeyNo           string          `json:"key_no,omitempty"`
	BatterySerialNo string          `json:"battery_serial_no,omitempty"`
	PriceUnit       decimal.Decimal `json:"price_unit"`
	ItemCode        string          `json:"item_code,omitempty"`
}

// Totals holds the reconciled quantities of a dispatch.
type Totals struct {
	Dispatched int    `json:"total_dispatch_quantity"`
	Received   int    `json:"total_received_quantity"`
	Billed     int    `json:"total_billed_quantity"`
	Status     Status `json:"status"`
}

// Input describes a draft dispatch.
type Input struct {
	LoadReferenceNo string
	DispatchDate    *time.Time
	InvoiceNo       string
	Items           []Item
}

// ImportResult summarises an item import.
type ImportResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Total   int `json:"total_dispatch_quantity"`
}

// ReceiptInput describes a purchase receipt derived from a dispatch.
type ReceiptInput struct {
	SourceName      string
	Supplier        string
	Warehouse       string
	FrameWarehouses map[string]string
}

// Frames returns the non-empty frame numbers in row order.
func (d LoadDispatch) Frames() []string {
	out := make([]string, 0, len(d.Items))
	for _, it := range d.Items {
		if it.FrameNo != "" {
			out = append(out, it.FrameNo)
		}
	}
	return out
}

// normalize cleans the spreadsheet-style identifiers on a row in place.
func (it *Item) normalize() {
	it.FrameNo = ingest.CleanIdentifier(it.FrameNo)
	it.MotorNo = ingest.CleanIdentifier(it.MotorNo)
	it.KeyNo = ingest.CleanIdentifier(it.KeyNo)
	it.BatterySerialNo = ingest.CleanIdentifier(it.BatterySerialNo)
	it.ModelSerialNo = ingest.CleanIdentifier(it.ModelSerialNo)
}

// Validate normalises identifiers, rejects frames repeated within the
// document and recomputes total_dispatch_quantity.
func (d *LoadDispatch) Validate() error {
	details := map[string]string{}
	if strings.TrimSpace(d.LoadReferenceNo) == "" {
		details["load_reference_no"] = "required"
	}
	seen := map[string]int{}
	total := 0
	for i := range d.Items {
		it := &d.Items[i]
		it.normalize()
		if it.FrameNo == "" {
			continue
		}
		if prev, ok := seen[it.FrameNo]; ok {
			details[fmt.Sprintf("items[%d].frame_no", i)] = fmt.Sprintf("%s repeats row %d", it.FrameNo, prev+1)
			continue
		}
		seen[it.FrameNo] = i
		total++
	}
	d.TotalDispatchQuantity = total
	if len(details) > 0 {
		return shared.NewValidationError(details)
	}
	return nil
}

// DocQty is the quantity carried by one linked receipt.
type DocQty struct {
	Name string
	Qty  int
}

// InvoiceQty is the quantity carried by one linked invoice and the receipts it bills.
type InvoiceQty struct {
	Name     string
	Qty      int
	Receipts []string
}

// ComputeTotals aggregates submitted receipts and invoices. When any invoice
// carries forward a receipt of the same dispatch, received is set equal to
// billed. The dispatch is Received once received reaches dispatched.
func ComputeTotals(dispatched int, receipts []DocQty, invoices []InvoiceQty) Totals {
	t := Totals{Dispatched: dispatched}
	own := make(map[string]bool, len(receipts))
	for _, r := range receipts {
		t.Received += r.Qty
		own[r.Name] = true
	}
	linked := false
	for _, inv := range invoices {
		t.Billed += inv.Qty
		for _, ref := range inv.Receipts {
			if own[ref] {
				linked = true
			}
		}
	}
	if linked {
		t.Received = t.Billed
	}
	t.Status = StatusInTransit
	if dispatched > 0 && t.Received >= dispatched {
		t.Status = StatusReceived
	}
	return t
}
