package loadreceipt

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/dispatch"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

var (
	ErrNotFound       = fmt.Errorf("loadreceipt: %w", shared.ErrNotFound)
	ErrInvalidState   = fmt.Errorf("loadreceipt: %w", shared.ErrInvalidState)
	ErrReceiptExists  = fmt.Errorf("loadreceipt: dispatch already has an active load receipt: %w", shared.ErrDuplicate)
	ErrHasAssessments = fmt.Errorf("loadreceipt: submitted damage assessments reference this receipt: %w", shared.ErrInvalidState)
)

// LoadReceipt mirrors the receiving side of a load dispatch.
type LoadReceipt struct {
	shared.Meta
	LoadDispatch          string          `json:"load_dispatch"`
	LoadReferenceNo       string          `json:"load_reference_no"`
	ReceiptDate           time.Time       `json:"receipt_date"`
	TotalDispatchQuantity int             `json:"total_dispatch_quantity"`
	TotalReceivedQuantity int             `json:"total_received_quantity"`
	TotalBilledQuantity   int             `json:"total_billed_quantity"`
	OKQuantity            int             `json:"ok_quantity"`
	NotOKQuantity         int             `json:"not_ok_quantity"`
	Status                dispatch.Status `json:"status"`
}

// CreateInput describes a new load receipt.
type CreateInput struct {
	LoadDispatch string
	ReceiptDate  time.Time
}

// DamageCounts holds the OK and Not OK frame counts across submitted assessments.
type DamageCounts struct {
	OK    int `json:"ok"`
	NotOK int `json:"not_ok"`
}

// apply copies dispatch totals onto the receipt.
func (lr *LoadReceipt) apply(t dispatch.Totals) {
	lr.TotalDispatchQuantity = t.Dispatched
	lr.TotalReceivedQuantity = t.Received
	lr.TotalBilledQuantity = t.Billed
	lr.Status = t.Status
}

func totalsOf(d dispatch.LoadDispatch) dispatch.Totals {
	return dispatch.Totals{
		Dispatched: d.TotalDispatchQuantity,
		Received:   d.TotalReceivedQuantity,
		Billed:     d.TotalBilledQuantity,
		Status:     d.Status,
	}
}
