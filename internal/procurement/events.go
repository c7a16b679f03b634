package procurement

import (
	"context"
	"time"
)

// Action names the lifecycle transition carried by an event.
type Action string

const (
	ActionSubmitted Action = "submitted"
	ActionCancelled Action = "cancelled"
)

// ReceiptEvent is emitted after a purchase receipt is submitted or cancelled.
type ReceiptEvent struct {
	Name         string
	LoadDispatch string
	Action       Action
	TotalQty     int
	At           time.Time
}

// InvoiceEvent is emitted after a purchase invoice is submitted or cancelled.
type InvoiceEvent struct {
	Name         string
	LoadDispatch string
	Action       Action
	TotalQty     int
	At           time.Time
}

// IntegrationHandler receives procurement events for cross-document reconciliation.
type IntegrationHandler interface {
	HandleReceiptChanged(ctx context.Context, evt ReceiptEvent) error
	HandleInvoiceChanged(ctx context.Context, evt InvoiceEvent) error
}
