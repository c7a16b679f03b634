// Package loadplan maintains Load Plans: dispatch targets per model keyed by reference number.
package loadplan

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// Status is the derived progress of a load plan.
type Status string

const (
	StatusDraft             Status = "Draft"
	StatusSubmitted         Status = "Submitted"
	StatusPartialDispatched Status = "Partial Dispatched"
	StatusInTransit         Status = "In-Transit"
	StatusDispatched        Status = "Dispatched"
	StatusCancelled         Status = "Cancelled"
)

var (
	ErrNotFound       = fmt.Errorf("loadplan: %w", shared.ErrNotFound)
	ErrInvalidState   = fmt.Errorf("loadplan: %w", shared.ErrInvalidState)
	ErrHasDispatches  = fmt.Errorf("loadplan: submitted load dispatches exist: %w", shared.ErrInvalidState)
	ErrNotSubmitted   = fmt.Errorf("loadplan: plan is not submitted: %w", shared.ErrInvalidState)
	ErrExceedsPlanned = fmt.Errorf("loadplan: dispatch quantity exceeds plan: %w", shared.ErrInvalidState)
)

// LoadPlan is the planned dispatch quantity for one reference number.
type LoadPlan struct {
	shared.Meta
	ReferenceNo          string     `json:"load_reference_no"`
	DispatchPlanDate     *time.Time `json:"dispatch_plan_date,omitempty"`
	Items                []Item     `json:"items"`
	TotalQuantity        int        `json:"total_quantity"`
	LoadDispatchQuantity int        `json:"load_dispatch_quantity"`
	Status               Status     `json:"status"`
}

// Remaining returns the quantity still open for dispatch.
func (p LoadPlan) Remaining() int {
	if r := p.TotalQuantity - p.LoadDispatchQuantity; r > 0 {
		return r
	}
	return 0
}

// Item is a planned model/variant/color quantity.
type Item struct {
	Model    string `json:"model"`
	Variant  string `json:"variant,omitempty"`
	Color    string `json:"color,omitempty"`
	Quantity int    `json:"quantity"`
}

// CreateInput describes a new load plan.
type CreateInput struct {
	ReferenceNo      string
	DispatchPlanDate *time.Time
	Items            []Item
}

// ListFilter narrows plan listings.
type ListFilter struct {
	Status Status
	Limit  int
}

// DispatchSummary aggregates the submitted dispatches of a plan.
type DispatchSummary struct {
	Quantity    int
	Dispatches  int
	NotReceived int
}

// Validate checks the input and returns the plan total.
func (in CreateInput) Validate() (int, error) {
	details := map[string]string{}
	if strings.TrimSpace(in.ReferenceNo) == "" {
		details["load_reference_no"] = "required"
	}
	if len(in.Items) == 0 {
		details["items"] = "at least one row required"
	}
	total := 0
	for i, it := range in.Items {
		if strings.TrimSpace(it.Model) == "" {
			details[fmt.Sprintf("items[%d].model", i)] = "required"
		}
		if it.Quantity <= 0 {
			details[fmt.Sprintf("items[%d].quantity", i)] = "must be positive"
		}
		total += it.Quantity
	}
	if len(details) > 0 {
		return 0, shared.NewValidationError(details)
	}
	return total, nil
}

// DeriveStatus computes the submitted plan's status from the dispatched
// quantity and the receipt state of its dispatches.
func DeriveStatus(target int, summary DispatchSummary) Status {
	switch {
	case summary.Quantity <= 0:
		return StatusSubmitted
	case summary.Quantity < target:
		return StatusPartialDispatched
	case summary.NotReceived > 0:
		return StatusInTransit
	default:
		return StatusDispatched
	}
}
