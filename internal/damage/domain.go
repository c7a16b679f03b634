package damage

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-logistics/internal/ingest"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// RowStatus is the verdict recorded for one frame.
type RowStatus string

const (
	RowOK    RowStatus = "OK"
	RowNotOK RowStatus = "Not OK"
)

var (
	ErrNotFound            = fmt.Errorf("damage: %w", shared.ErrNotFound)
	ErrInvalidState        = fmt.Errorf("damage: %w", shared.ErrInvalidState)
	ErrReceiptNotSubmitted = fmt.Errorf("damage: load receipt is not submitted: %w", shared.ErrInvalidState)
)

// Assessment records the condition of frames received on a load receipt.
type Assessment struct {
	shared.Meta
	LoadReceipt      string `json:"load_receipt"`
	LoadDispatch     string `json:"load_dispatch"`
	SourceWarehouse  string `json:"source_warehouse,omitempty"`
	DamageWarehouse  string `json:"damage_warehouse,omitempty"`
	CreateStockEntry bool   `json:"create_stock_entry"`
	StockEntry       string `json:"stock_entry,omitempty"`
	Items            []Item `json:"items"`
	OKCount          int    `json:"ok_count"`
	NotOKCount       int    `json:"not_ok_count"`
}

// Item is the verdict for one frame.
type Item struct {
	FrameNo       string          `json:"frame_no"`
	Status        RowStatus       `json:"status"`
	DamageType    string          `json:"damage_type,omitempty"`
	Remarks       string          `json:"remarks,omitempty"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
}

// CreateInput describes a new assessment.
type CreateInput struct {
	LoadReceipt      string
	SourceWarehouse  string
	DamageWarehouse  string
	CreateStockEntry bool
	Items            []Item
}

// Validate checks rows against the frames of the dispatch and recounts the
// OK and Not OK totals.
func (a *Assessment) Validate(dispatchFrames map[string]bool) error {
	details := map[string]string{}
	if len(a.Items) == 0 {
		details["items"] = "at least one frame required"
	}
	seen := map[string]int{}
	a.OKCount, a.NotOKCount = 0, 0
	for i := range a.Items {
		it := &a.Items[i]
		field := fmt.Sprintf("items[%d]", i)
		it.FrameNo = ingest.CleanIdentifier(it.FrameNo)
		it.DamageType = strings.TrimSpace(it.DamageType)
		if it.Status == "" {
			it.Status = RowOK
		}
		switch {
		case it.FrameNo == "":
			details[field+".frame_no"] = "required"
			continue
		case !dispatchFrames[it.FrameNo]:
			details[field+".frame_no"] = fmt.Sprintf("%s is not on load dispatch %s", it.FrameNo, a.LoadDispatch)
			continue
		}
		if prev, ok := seen[it.FrameNo]; ok {
			details[field+".frame_no"] = fmt.Sprintf("%s repeats row %d", it.FrameNo, prev+1)
			continue
		}
		seen[it.FrameNo] = i
		switch it.Status {
		case RowOK:
			a.OKCount++
		case RowNotOK:
			a.NotOKCount++
		default:
			details[field+".status"] = fmt.Sprintf("unknown status %q", it.Status)
		}
		if it.EstimatedCost.IsNegative() {
			details[field+".estimated_cost"] = "must not be negative"
		}
	}
	if a.CreateStockEntry && a.NotOKCount > 0 {
		if a.SourceWarehouse == "" {
			details["source_warehouse"] = "required to create a stock entry"
		}
		if a.DamageWarehouse == "" {
			details["damage_warehouse"] = "required to create a stock entry"
		}
	}
	if len(details) > 0 {
		return shared.NewValidationError(details)
	}
	return nil
}

// DamagedFrames returns frames marked Not OK.
func (a Assessment) DamagedFrames() []string {
	var out []string
	for _, it := range a.Items {
		if it.Status == RowNotOK {
			out = append(out, it.FrameNo)
		}
	}
	return out
}

// EstimatedCost sums the estimated repair cost of every row.
func (a Assessment) EstimatedCost() decimal.Decimal {
	total := decimal.Zero
	for _, it := range a.Items {
		total = total.Add(it.EstimatedCost)
	}
	return total
}
