// Package uploads turns spreadsheet files into logistics documents and keeps
// a log of every run.
package uploads

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/ingest"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// Kind selects the processor applied to an uploaded file.
type Kind string

const (
	KindBattery      Kind = "battery"
	KindBatteryKey   Kind = "battery_key"
	KindLoadPlan     Kind = "load_plan"
	KindLoadDispatch Kind = "load_dispatch"
)

// Valid reports whether k names a known processor.
func (k Kind) Valid() bool {
	switch k {
	case KindBattery, KindBatteryKey, KindLoadPlan, KindLoadDispatch:
		return true
	}
	return false
}

// NeedsParent reports whether the upload targets an existing document.
func (k Kind) NeedsParent() bool {
	return k == KindLoadDispatch
}

// Status tracks an upload through processing.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusPartial    Status = "Partial"
	StatusFailed     Status = "Failed"
)

// Final reports whether the upload has already been processed.
func (s Status) Final() bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}

// StatusFor derives the final status from a batch result.
func StatusFor(res ingest.Result) Status {
	switch {
	case res.Failed == 0:
		return StatusCompleted
	case res.Success > 0 || res.Skipped > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}

var (
	ErrNotFound         = fmt.Errorf("upload not found: %w", shared.ErrNotFound)
	ErrUnknownKind      = fmt.Errorf("unknown upload kind: %w", shared.ErrValidation)
	ErrParentRequired   = fmt.Errorf("upload requires a parent document: %w", shared.ErrValidation)
	ErrFileRequired     = fmt.Errorf("upload requires a file: %w", shared.ErrValidation)
	ErrAlreadyProcessed = fmt.Errorf("upload already processed: %w", shared.ErrInvalidState)
	errFrameUnknown     = errors.New("frame has no serial number")
)

// Upload is the persisted log of one ingestion run.
type Upload struct {
	Name      string            `json:"name"`
	Kind      Kind              `json:"kind"`
	FileRef   string            `json:"file_ref"`
	Parent    string            `json:"parent,omitempty"`
	Status    Status            `json:"status"`
	Total     int               `json:"total"`
	Success   int               `json:"success"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Errors    []ingest.RowError `json:"errors"`
	Owner     string            `json:"owner"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Result returns the batch counters stored on the upload.
func (u Upload) Result() ingest.Result {
	return ingest.Result{Total: u.Total, Success: u.Success, Failed: u.Failed, Skipped: u.Skipped, Errors: u.Errors}
}

// CreateInput describes a file already placed in the file store.
type CreateInput struct {
	Kind    Kind
	FileRef string
	Parent  string
}

// Validate checks kind, file and parent requirements.
func (in CreateInput) Validate() error {
	if !in.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, in.Kind)
	}
	if in.FileRef == "" {
		return ErrFileRequired
	}
	if in.Kind.NeedsParent() && in.Parent == "" {
		return ErrParentRequired
	}
	return nil
}

// Field specifications per upload kind. Aliases cover the column captions
// used by suppliers and by the exported templates.
var (
	batteryFields = []ingest.FieldSpec{
		{Name: "battery_serial_no", Aliases: []string{"battery serial", "battery no", "battery number", "serial no", "serial number"}, Required: true},
		{Name: "brand", Aliases: []string{"battery brand", "make"}},
		{Name: "battery_type", Aliases: []string{"type", "battery model"}},
		{Name: "charging_date", Aliases: []string{"charge date", "charged on", "last charged"}},
		{Name: "frame_no", Aliases: []string{"frame", "frame number", "chassis no", "vin"}},
	}
	batteryKeyFields = []ingest.FieldSpec{
		{Name: "frame_no", Aliases: []string{"frame", "frame number", "chassis no", "vin"}, Required: true},
		{Name: "key_no", Aliases: []string{"key", "key number"}},
		{Name: "battery_serial_no", Aliases: []string{"battery serial", "battery no", "battery number"}},
	}
	loadPlanFields = []ingest.FieldSpec{
		{Name: "load_reference_no", Aliases: []string{"load reference", "reference no", "load ref", "load no"}, Required: true},
		{Name: "dispatch_plan_date", Aliases: []string{"plan date", "dispatch date"}},
		{Name: "model", Aliases: []string{"model name"}},
		{Name: "variant", Aliases: []string{"model variant"}},
		{Name: "color", Aliases: []string{"colour", "color code"}},
		{Name: "quantity", Aliases: []string{"qty", "planned quantity"}},
	}
	dispatchFields = []ingest.FieldSpec{
		{Name: "frame_no", Aliases: []string{"frame", "frame number", "chassis no", "vin"}},
		{Name: "model_serial_no", Aliases: []string{"model serial", "model serial number"}},
		{Name: "model_name", Aliases: []string{"model"}},
		{Name: "model_variant", Aliases: []string{"variant"}},
		{Name: "color_code", Aliases: []string{"color", "colour"}},
		{Name: "motor_no", Aliases: []string{"motor", "motor number"}},
		{Name: "key_no", Aliases: []string{"key", "key number"}},
		{Name: "battery_serial_no", Aliases: []string{"battery serial", "battery no"}},
		{Name: "price_unit", Aliases: []string{"price", "unit price", "rate"}},
		{Name: "item_code", Aliases: []string{"item"}},
	}
)

// FieldsFor returns the columns understood by a kind.
func FieldsFor(kind Kind) []ingest.FieldSpec {
	switch kind {
	case KindBattery:
		return batteryFields
	case KindBatteryKey:
		return batteryKeyFields
	case KindLoadPlan:
		return loadPlanFields
	case KindLoadDispatch:
		return dispatchFields
	}
	return nil
}
