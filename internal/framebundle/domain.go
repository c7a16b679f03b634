package framebundle

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

var (
	ErrNotFound         = fmt.Errorf("framebundle: %w", shared.ErrNotFound)
	ErrInvalidState     = fmt.Errorf("framebundle: %w", shared.ErrInvalidState)
	ErrBundleExists     = fmt.Errorf("framebundle: frame already has an active bundle: %w", shared.ErrDuplicate)
	ErrAlreadyDiscarded = fmt.Errorf("framebundle: battery already discarded: %w", shared.ErrInvalidState)
	ErrHistoryTampered  = fmt.Errorf("framebundle: swap and discard history can only change through battery operations: %w", shared.ErrValidation)
	ErrNoBattery        = fmt.Errorf("framebundle: neither frame holds a battery: %w", shared.ErrInvalidState)
	ErrBatteryMismatch  = fmt.Errorf("framebundle: frame already holds a different battery: %w", shared.ErrInvalidState)
)

// Bundle ties a frame to its battery and key and keeps the append-only
// battery ledger for that frame.
type Bundle struct {
	shared.Meta
	FrameNo          string         `json:"frame_no"`
	BatterySerialNo  string         `json:"battery_serial_no,omitempty"`
	KeyNo            string         `json:"key_no,omitempty"`
	IsBatteryExpired bool           `json:"is_battery_expired"`
	BatteryAgingDays int            `json:"battery_aging_days"`
	SwapHistory      []SwapEntry    `json:"swap_history"`
	DiscardHistory   []DiscardEntry `json:"discard_history"`
	HistoryDigest    []byte         `json:"-"`
}

// SwapEntry records one battery exchange seen from this frame.
type SwapEntry struct {
	SwapDate         time.Time `json:"swap_date"`
	CounterpartFrame string    `json:"counterpart_frame"`
	SwappedBy        string    `json:"swapped_by"`
	OldBattery       string    `json:"old_battery,omitempty"`
	NewBattery       string    `json:"new_battery,omitempty"`
}

// DiscardEntry records the battery of this frame being discarded.
type DiscardEntry struct {
	DiscardDate     time.Time `json:"discard_date"`
	BatterySerialNo string    `json:"battery_serial_no,omitempty"`
	DiscardedBy     string    `json:"discarded_by"`
	Reason          string    `json:"reason,omitempty"`
}

// Discarded reports whether the frame's battery has been discarded. Only the
// discard ledger counts; is_battery_expired is also set by the aging refresh.
func (b Bundle) Discarded() bool {
	return len(b.DiscardHistory) > 0
}

// Swapping is the document that requests a battery exchange between two frames.
type Swapping struct {
	shared.Meta
	CurrentFrame string     `json:"current_frame"`
	TargetFrame  string     `json:"target_frame"`
	SwappedAt    *time.Time `json:"swapped_at,omitempty"`
}

// CreateInput describes a new bundle.
type CreateInput struct {
	FrameNo         string
	BatterySerialNo string
	KeyNo           string
}

// AttachInput links a battery and key to a frame, creating a submitted bundle
// when the frame has none.
type AttachInput struct {
	FrameNo         string
	BatterySerialNo string
	KeyNo           string
}

// AttachResult reports what Attach did.
type AttachResult struct {
	Bundle  string `json:"bundle"`
	Created bool   `json:"created"`
	Changed bool   `json:"changed"`
}

// SwapResult holds both bundles after a swap.
type SwapResult struct {
	Current Bundle `json:"current"`
	Target  Bundle `json:"target"`
}

// AgingDays returns whole days elapsed since created.
func AgingDays(created, now time.Time) int {
	if now.Before(created) {
		return 0
	}
	return int(now.Sub(created).Hours() / 24)
}

// ledgerTime normalises a timestamp to the precision PostgreSQL stores so the
// digest survives a round trip.
func ledgerTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
