// Package procurement holds Purchase Receipts and Purchase Invoices raised against load dispatches.
package procurement

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

var (
	ErrNotFound      = fmt.Errorf("procurement: %w", shared.ErrNotFound)
	ErrInvalidState  = fmt.Errorf("procurement: %w", shared.ErrInvalidState)
	ErrUnknownSerial = fmt.Errorf("procurement: serial number not registered: %w", shared.ErrInvalidState)
)

// PurchaseReceipt records frames received into a warehouse.
type PurchaseReceipt struct {
	shared.Meta
	Supplier     string        `json:"supplier"`
	PostingDate  time.Time     `json:"posting_date"`
	SetWarehouse string        `json:"set_warehouse,omitempty"`
	LoadDispatch string        `json:"custom_load_dispatch,omitempty"`
	TotalQty     int           `json:"total_qty"`
	Items        []ReceiptItem `json:"items"`
}

// ReceiptItem is one received line; SerialNo carries the frame number.
type ReceiptItem struct {
	ItemCode  string          `json:"item_code"`
	SerialNo  string          `json:"serial_no,omitempty"`
	Qty       int             `json:"qty"`
	Rate      decimal.Decimal `json:"rate"`
	Warehouse string          `json:"warehouse,omitempty"`
}

// PurchaseInvoice bills frames of a dispatch.
type PurchaseInvoice struct {
	shared.Meta
	Supplier     string        `json:"supplier"`
	PostingDate  time.Time     `json:"posting_date"`
	UpdateStock  bool          `json:"update_stock"`
	LoadDispatch string        `json:"custom_load_dispatch,omitempty"`
	TotalQty     int           `json:"total_qty"`
	Items        []InvoiceItem `json:"items"`
}

// InvoiceItem is one billed line. PurchaseReceipt carries forward the receipt it bills.
type InvoiceItem struct {
	ItemCode        string          `json:"item_code"`
	SerialNo        string          `json:"serial_no,omitempty"`
	Qty             int             `json:"qty"`
	Rate            decimal.Decimal `json:"rate"`
	PurchaseReceipt string          `json:"purchase_receipt,omitempty"`
}

// ReceiptInput describes a draft purchase receipt.
type ReceiptInput struct {
	Supplier     string
	PostingDate  time.Time
	SetWarehouse string
	LoadDispatch string
	Items        []ReceiptItem
}

// InvoiceInput describes a draft purchase invoice.
type InvoiceInput struct {
	Supplier     string
	PostingDate  time.Time
	UpdateStock  bool
	LoadDispatch string
	Items        []InvoiceItem
}

// Validate normalises receipt rows and returns the derived total quantity.
func (in *ReceiptInput) Validate() (int, error) {
	details := map[string]string{}
	if strings.TrimSpace(in.Supplier) == "" {
		details["supplier"] = "required"
	}
	if len(in.Items) == 0 {
		details["items"] = "at least one row required"
	}
	seen := map[string]int{}
	total := 0
	for i := range in.Items {
		it := &in.Items[i]
		it.SerialNo = strings.TrimSpace(it.SerialNo)
		if it.ItemCode == "" {
			details[fmt.Sprintf("items[%d].item_code", i)] = "required"
		}
		if it.Qty <= 0 {
			it.Qty = 1
		}
		if it.Warehouse == "" {
			it.Warehouse = in.SetWarehouse
		}
		if it.SerialNo != "" {
			if prev, ok := seen[it.SerialNo]; ok {
				details[fmt.Sprintf("items[%d].serial_no", i)] = fmt.Sprintf("duplicate of row %d", prev+1)
			}
			seen[it.SerialNo] = i
		}
		total += it.Qty
	}
	if len(details) > 0 {
		return 0, shared.NewValidationError(details)
	}
	return total, nil
}

// Validate normalises invoice rows and returns the derived total quantity.
func (in *InvoiceInput) Validate() (int, error) {
	details := map[string]string{}
	if strings.TrimSpace(in.Supplier) == "" {
		details["supplier"] = "required"
	}
	if len(in.Items) == 0 {
		details["items"] = "at least one row required"
	}
	total := 0
	for i := range in.Items {
		it := &in.Items[i]
		if it.ItemCode == "" {
			details[fmt.Sprintf("items[%d].item_code", i)] = "required"
		}
		if it.Qty <= 0 {
			it.Qty = 1
		}
		total += it.Qty
	}
	if len(details) > 0 {
		return 0, shared.NewValidationError(details)
	}
	return total, nil
}

// Frames returns the serial numbers on the receipt.
func (r PurchaseReceipt) Frames() []string {
	out := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		if it.SerialNo != "" {
			out = append(out, it.SerialNo)
		}
	}
	return out
}

// DispatchReceiptKey is the idempotency key held while a receipt drafted from
// a load dispatch covers frames. Cancelling that receipt releases it.
func DispatchReceiptKey(dispatch string, frames []string) string {
	sorted := append([]string(nil), frames...)
	sort.Strings(sorted)
	return "dispatch.receipt:" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(dispatch+"|"+strings.Join(sorted, ","))).String()
}

// ReceiptRefs returns the distinct receipts the invoice carries forward.
func (inv PurchaseInvoice) ReceiptRefs() []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range inv.Items {
		if it.PurchaseReceipt != "" && !seen[it.PurchaseReceipt] {
			seen[it.PurchaseReceipt] = true
			out = append(out, it.PurchaseReceipt)
		}
	}
	return out
}
