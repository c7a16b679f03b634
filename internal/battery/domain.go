package battery

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// Status is the lifecycle state of a battery unit.
type Status string

const (
	StatusInStock   Status = "In Stock"
	StatusOut       Status = "Out"
	StatusDiscarded Status = "Discarded"
)

// TransactionType enumerates battery movements.
type TransactionType string

const (
	TransactionIn  TransactionType = "In"
	TransactionOut TransactionType = "Out"
)

// DefaultExpiryDays is the charging-to-expiry offset when none is configured.
const DefaultExpiryDays = 60

var (
	ErrNotFound          = fmt.Errorf("battery: %w", shared.ErrNotFound)
	ErrInvalidTransition = fmt.Errorf("battery: %w", shared.ErrInvalidState)
	ErrInvalidState      = fmt.Errorf("battery: document %w", shared.ErrInvalidState)
	ErrSerialRequired    = errors.New("battery: serial number required")
	ErrHeldByBundle      = fmt.Errorf("battery: held by frame bundle: %w", shared.ErrInvalidState)
)

// Battery is a battery unit tracked by serial number.
type Battery struct {
	SerialNo     string     `json:"battery_serial_no"`
	Brand        string     `json:"brand,omitempty"`
	BatteryType  string     `json:"battery_type,omitempty"`
	ChargingDate *time.Time `json:"charging_date,omitempty"`
	ExpiryDate   *time.Time `json:"battery_expiry_date,omitempty"`
	Status       Status     `json:"status"`
	FrameNo      string     `json:"frame_no,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Expired reports whether the battery is past its expiry date on asOf.
func (b Battery) Expired(asOf time.Time) bool {
	return b.ExpiryDate != nil && !asOf.Before(b.ExpiryDate.AddDate(0, 0, 1))
}

// Transaction records a battery leaving or returning to stock.
type Transaction struct {
	shared.Meta
	BatterySerialNo string          `json:"battery_serial_no"`
	Type            TransactionType `json:"transaction_type"`
	FrameNo         string          `json:"frame_no,omitempty"`
	PreviousStatus  Status          `json:"previous_status,omitempty"`
	PostingDate     time.Time       `json:"posting_date"`
}

// CreateInput describes a new battery.
type CreateInput struct {
	SerialNo     string
	Brand        string
	BatteryType  string
	ChargingDate *time.Time
}

// TransactionInput describes a draft battery transaction.
type TransactionInput struct {
	BatterySerialNo string
	Type            TransactionType
	FrameNo         string
	PostingDate     time.Time
}

// ExpiryFor returns charging date plus the expiry offset.
func ExpiryFor(charging *time.Time, days int) *time.Time {
	if charging == nil {
		return nil
	}
	if days <= 0 {
		days = DefaultExpiryDays
	}
	expiry := charging.AddDate(0, 0, days)
	return &expiry
}

// CheckTransition validates a status change. Out may only become Discarded
// when the holding frame's battery is discarded.
func CheckTransition(from, to Status, viaFrameDiscard bool) error {
	switch {
	case from == StatusInStock && to == StatusOut,
		from == StatusOut && to == StatusInStock,
		from == StatusInStock && to == StatusDiscarded,
		from == StatusOut && to == StatusDiscarded && viaFrameDiscard:
		return nil
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

// CanTransition reports whether a direct status change is allowed.
func CanTransition(from, to Status) bool {
	return CheckTransition(from, to, false) == nil
}

// TargetStatus returns the status a transaction type moves a battery into.
func (t TransactionType) TargetStatus() (Status, error) {
	switch t {
	case TransactionOut:
		return StatusOut, nil
	case TransactionIn:
		return StatusInStock, nil
	}
	return "", shared.Invalid("transaction_type", fmt.Sprintf("unknown type %q", t))
}
