package inventory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

var (
	// ErrNotFound indicates a missing item, serial number or stock entry.
	ErrNotFound = fmt.Errorf("inventory: %w", shared.ErrNotFound)
	// ErrSerialInUse is returned when a frame is already linked to another dispatch.
	ErrSerialInUse = fmt.Errorf("inventory: serial number linked to another load dispatch: %w", shared.ErrInvalidState)
	// ErrInvalidState indicates a stock entry lifecycle violation.
	ErrInvalidState = fmt.Errorf("inventory: %w", shared.ErrInvalidState)
	// ErrNoSerials is returned for stock entries without rows.
	ErrNoSerials = errors.New("inventory: stock entry requires at least one serial number")
)

// Serial number statuses.
const (
	SerialInactive  = "Inactive"
	SerialActive    = "Active"
	SerialDelivered = "Delivered"
)

// PurposeMaterialTransfer moves serials between warehouses.
const PurposeMaterialTransfer = "Material Transfer"

// Item is a stock item; vehicles are serialised by frame number.
type Item struct {
	ItemCode     string          `json:"item_code"`
	ItemName     string          `json:"item_name"`
	ItemGroup    string          `json:"item_group"`
	Model        string          `json:"model,omitempty"`
	Variant      string          `json:"variant,omitempty"`
	ColorCode    string          `json:"color_code,omitempty"`
	StandardRate decimal.Decimal `json:"standard_rate"`
}

// SerialNo tracks one physical frame. Its name is the frame number.
type SerialNo struct {
	Name            string `json:"name"`
	ItemCode        string `json:"item_code"`
	LoadDispatch    string `json:"load_dispatch,omitempty"`
	Warehouse       string `json:"warehouse,omitempty"`
	Status          string `json:"status"`
	MotorNo         string `json:"motor_no,omitempty"`
	KeyNo           string `json:"key_no,omitempty"`
	BatterySerialNo string `json:"battery_serial_no,omitempty"`
}

// StockEntry moves serialised stock between warehouses.
type StockEntry struct {
	shared.Meta
	Purpose          string           `json:"purpose"`
	FromWarehouse    string           `json:"from_warehouse"`
	ToWarehouse      string           `json:"to_warehouse"`
	ReferenceDoctype string           `json:"reference_doctype,omitempty"`
	ReferenceName    string           `json:"reference_name,omitempty"`
	Items            []StockEntryItem `json:"items"`
}

// StockEntryItem is one serial moved by a stock entry.
type StockEntryItem struct {
	ItemCode string `json:"item_code"`
	SerialNo string `json:"serial_no"`
	Qty      int    `json:"qty"`
}

// SerialNames returns the serial numbers moved by the entry.
func (e StockEntry) SerialNames() []string {
	out := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		out = append(out, it.SerialNo)
	}
	return out
}

// ItemInput describes an item to create lazily from a dispatch row.
type ItemInput struct {
	ItemCode  string
	ModelName string
	Variant   string
	ColorCode string
	Rate      decimal.Decimal
}

// SerialInput describes a frame to register from a dispatch row.
type SerialInput struct {
	FrameNo         string
	ItemCode        string
	LoadDispatch    string
	MotorNo         string
	KeyNo           string
	BatterySerialNo string
}

// StockEntryInput describes a material transfer.
type StockEntryInput struct {
	FromWarehouse    string
	ToWarehouse      string
	ReferenceDoctype string
	ReferenceName    string
	Items            []StockEntryItem
}

// ItemCodeFor derives the item code for a model, variant and colour
// combination, e.g. "EV-ZIP-STD-RED".
func ItemCodeFor(model, variant, color string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{model, variant, color} {
		p = strings.Join(strings.Fields(strings.ToUpper(p)), "-")
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "-")
}
