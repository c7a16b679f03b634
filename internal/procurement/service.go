package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/inventory"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReceipt(ctx context.Context, name string) (PurchaseReceipt, error)
	GetInvoice(ctx context.Context, name string) (PurchaseInvoice, error)
	ListReceiptNames(ctx context.Context, dispatch string, status shared.DocStatus) ([]string, error)
	ListInvoiceNames(ctx context.Context, dispatch string, status shared.DocStatus) ([]string, error)
	ReceivedFramesForDispatch(ctx context.Context, dispatch string) ([]string, error)
}

// InventoryPort exposes required inventory integration.
type InventoryPort interface {
	SerialNoExists(ctx context.Context, frameNo string) (bool, error)
	ReceiveSerialNos(ctx context.Context, moves []inventory.SerialMove) error
	ReleaseSerialNos(ctx context.Context, frames []string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards submit side effects against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service orchestrates purchase receipt and invoice flows.
type Service struct {
	repo        RepositoryPort
	inventory   InventoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	integration IntegrationHandler
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, inventory InventoryPort, audit AuditPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, inventory: inventory, audit: audit, idempotency: idem, logger: logger, now: time.Now}
}

// SetIntegrationHandler injects the reconciliation hooks.
func (s *Service) SetIntegrationHandler(handler IntegrationHandler) {
	s.integration = handler
}

// CreateReceipt stores a draft purchase receipt.
func (s *Service) CreateReceipt(ctx context.Context, input ReceiptInput) (PurchaseReceipt, error) {
	total, err := input.Validate()
	if err != nil {
		return PurchaseReceipt{}, err
	}
	now := s.now()
	pr := PurchaseReceipt{
		Meta:         s.newMeta(ctx, "PR", now),
		Supplier:     strings.TrimSpace(input.Supplier),
		PostingDate:  defaultTime(input.PostingDate, now),
		SetWarehouse: input.SetWarehouse,
		LoadDispatch: input.LoadDispatch,
		TotalQty:     total,
		Items:        input.Items,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertReceipt(ctx, pr)
	})
	if err != nil {
		return PurchaseReceipt{}, err
	}
	s.recordAudit(ctx, "PURCHASE_RECEIPT_CREATE", pr.Name, map[string]any{"load_dispatch": pr.LoadDispatch, "total_qty": total})
	return pr, nil
}

// SubmitReceipt submits a draft receipt. Every frame row must be a known
// serial number not received on another submitted receipt; frames move to
// the row warehouse and become Active.
func (s *Service) SubmitReceipt(ctx context.Context, name string) (PurchaseReceipt, error) {
	pr, err := s.repo.GetReceipt(ctx, name)
	if err != nil {
		return PurchaseReceipt{}, err
	}
	if pr.DocStatus != shared.DocDraft {
		return PurchaseReceipt{}, fmt.Errorf("%w: receipt %s is %s", ErrInvalidState, name, pr.DocStatus)
	}
	if err := s.requireSerials(ctx, pr.Frames()); err != nil {
		return PurchaseReceipt{}, err
	}
	key := "purchase_receipt.submit:" + name
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "procurement.receipt"); err != nil {
			return PurchaseReceipt{}, err
		}
		inserted = true
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetReceiptForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if locked.DocStatus != shared.DocDraft {
			return fmt.Errorf("%w: receipt %s is %s", ErrInvalidState, name, locked.DocStatus)
		}
		taken, err := tx.ReceivedFrames(ctx, locked.Frames(), name)
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			return fmt.Errorf("%w: frames already received: %s", ErrInvalidState, strings.Join(taken, ", "))
		}
		if s.inventory != nil {
			moves := make([]inventory.SerialMove, 0, len(locked.Items))
			for _, it := range locked.Items {
				if it.SerialNo != "" {
					moves = append(moves, inventory.SerialMove{FrameNo: it.SerialNo, Warehouse: shared.Coalesce(it.Warehouse, locked.SetWarehouse)})
				}
			}
			if err := s.inventory.ReceiveSerialNos(ctx, moves); err != nil {
				return err
			}
		}
		return tx.UpdateReceiptStatus(ctx, name, shared.DocSubmitted)
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return PurchaseReceipt{}, err
	}
	pr.DocStatus = shared.DocSubmitted
	s.recordAudit(ctx, "PURCHASE_RECEIPT_SUBMIT", name, map[string]any{"load_dispatch": pr.LoadDispatch})
	s.emitReceipt(ctx, pr, ActionSubmitted)
	return pr, nil
}

// CancelReceipt cancels a submitted receipt and releases its frames.
func (s *Service) CancelReceipt(ctx context.Context, name string) (PurchaseReceipt, error) {
	var pr PurchaseReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pr, err = tx.GetReceiptForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if pr.DocStatus != shared.DocSubmitted {
			return fmt.Errorf("%w: receipt %s is %s", ErrInvalidState, name, pr.DocStatus)
		}
		if s.inventory != nil {
			if err := s.inventory.ReleaseSerialNos(ctx, pr.Frames()); err != nil {
				return err
			}
		}
		return tx.UpdateReceiptStatus(ctx, name, shared.DocCancelled)
	})
	if err != nil {
		return PurchaseReceipt{}, err
	}
	pr.DocStatus = shared.DocCancelled
	if s.idempotency != nil {
		_ = s.idempotency.Delete(ctx, "purchase_receipt.submit:"+name)
		if pr.LoadDispatch != "" {
			if err := s.idempotency.Delete(ctx, DispatchReceiptKey(pr.LoadDispatch, pr.Frames())); err != nil {
				s.logger.Warn("release dispatch receipt key", slog.String("receipt", name), slog.Any("error", err))
			}
		}
	}
	s.recordAudit(ctx, "PURCHASE_RECEIPT_CANCEL", name, map[string]any{"load_dispatch": pr.LoadDispatch})
	s.emitReceipt(ctx, pr, ActionCancelled)
	return pr, nil
}

// GetReceipt returns a purchase receipt.
func (s *Service) GetReceipt(ctx context.Context, name string) (PurchaseReceipt, error) {
	return s.repo.GetReceipt(ctx, name)
}

// CreateInvoice stores a draft purchase invoice.
func (s *Service) CreateInvoice(ctx context.Context, input InvoiceInput) (PurchaseInvoice, error) {
	total, err := input.Validate()
	if err != nil {
		return PurchaseInvoice{}, err
	}
	now := s.now()
	inv := PurchaseInvoice{
		Meta:         s.newMeta(ctx, "PINV", now),
		Supplier:     strings.TrimSpace(input.Supplier),
		PostingDate:  defaultTime(input.PostingDate, now),
		UpdateStock:  input.UpdateStock,
		LoadDispatch: input.LoadDispatch,
		TotalQty:     total,
		Items:        input.Items,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertInvoice(ctx, inv)
	})
	if err != nil {
		return PurchaseInvoice{}, err
	}
	s.recordAudit(ctx, "PURCHASE_INVOICE_CREATE", inv.Name, map[string]any{"load_dispatch": inv.LoadDispatch, "total_qty": total})
	return inv, nil
}

// SubmitInvoice submits a draft invoice. Carried-forward receipts must be submitted.
func (s *Service) SubmitInvoice(ctx context.Context, name string) (PurchaseInvoice, error) {
	inv, err := s.repo.GetInvoice(ctx, name)
	if err != nil {
		return PurchaseInvoice{}, err
	}
	if inv.DocStatus != shared.DocDraft {
		return PurchaseInvoice{}, fmt.Errorf("%w: invoice %s is %s", ErrInvalidState, name, inv.DocStatus)
	}
	for _, ref := range inv.ReceiptRefs() {
		pr, err := s.repo.GetReceipt(ctx, ref)
		if err != nil {
			return PurchaseInvoice{}, err
		}
		if pr.DocStatus != shared.DocSubmitted {
			return PurchaseInvoice{}, fmt.Errorf("%w: receipt %s is %s", ErrInvalidState, ref, pr.DocStatus)
		}
	}
	if inv.UpdateStock {
		frames := make([]string, 0, len(inv.Items))
		for _, it := range inv.Items {
			if it.SerialNo != "" {
				frames = append(frames, it.SerialNo)
			}
		}
		if err := s.requireSerials(ctx, frames); err != nil {
			return PurchaseInvoice{}, err
		}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetInvoiceForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if locked.DocStatus != shared.DocDraft {
			return fmt.Errorf("%w: invoice %s is %s", ErrInvalidState, name, locked.DocStatus)
		}
		return tx.UpdateInvoiceStatus(ctx, name, shared.DocSubmitted)
	})
	if err != nil {
		return PurchaseInvoice{}, err
	}
	inv.DocStatus = shared.DocSubmitted
	s.recordAudit(ctx, "PURCHASE_INVOICE_SUBMIT", name, map[string]any{"load_dispatch": inv.LoadDispatch})
	s.emitInvoice(ctx, inv, ActionSubmitted)
	return inv, nil
}

// CancelInvoice cancels a submitted invoice.
func (s *Service) CancelInvoice(ctx context.Context, name string) (PurchaseInvoice, error) {
	var inv PurchaseInvoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetInvoiceForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if inv.DocStatus != shared.DocSubmitted {
			return fmt.Errorf("%w: invoice %s is %s", ErrInvalidState, name, inv.DocStatus)
		}
		return tx.UpdateInvoiceStatus(ctx, name, shared.DocCancelled)
	})
	if err != nil {
		return PurchaseInvoice{}, err
	}
	inv.DocStatus = shared.DocCancelled
	s.recordAudit(ctx, "PURCHASE_INVOICE_CANCEL", name, map[string]any{"load_dispatch": inv.LoadDispatch})
	s.emitInvoice(ctx, inv, ActionCancelled)
	return inv, nil
}

// GetInvoice returns a purchase invoice.
func (s *Service) GetInvoice(ctx context.Context, name string) (PurchaseInvoice, error) {
	return s.repo.GetInvoice(ctx, name)
}

// SubmittedReceiptNames lists submitted receipts of a dispatch.
func (s *Service) SubmittedReceiptNames(ctx context.Context, dispatch string) ([]string, error) {
	return s.repo.ListReceiptNames(ctx, dispatch, shared.DocSubmitted)
}

// SubmittedInvoiceNames lists submitted invoices of a dispatch.
func (s *Service) SubmittedInvoiceNames(ctx context.Context, dispatch string) ([]string, error) {
	return s.repo.ListInvoiceNames(ctx, dispatch, shared.DocSubmitted)
}

// ReceivedFrames returns frames already on submitted receipts of a dispatch.
func (s *Service) ReceivedFrames(ctx context.Context, dispatch string) ([]string, error) {
	return s.repo.ReceivedFramesForDispatch(ctx, dispatch)
}

func (s *Service) requireSerials(ctx context.Context, frames []string) error {
	if s.inventory == nil {
		return nil
	}
	var missing []string
	for _, frame := range frames {
		ok, err := s.inventory.SerialNoExists(ctx, frame)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, frame)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSerial, strings.Join(missing, ", "))
	}
	return nil
}

func (s *Service) emitReceipt(ctx context.Context, pr PurchaseReceipt, action Action) {
	if s.integration == nil || pr.LoadDispatch == "" {
		return
	}
	evt := ReceiptEvent{Name: pr.Name, LoadDispatch: pr.LoadDispatch, Action: action, TotalQty: pr.TotalQty, At: s.now()}
	if err := s.integration.HandleReceiptChanged(ctx, evt); err != nil {
		s.logger.Warn("receipt reconciliation failed", slog.String("receipt", pr.Name), slog.String("load_dispatch", pr.LoadDispatch), slog.Any("error", err))
	}
}

func (s *Service) emitInvoice(ctx context.Context, inv PurchaseInvoice, action Action) {
	if s.integration == nil || inv.LoadDispatch == "" {
		return
	}
	evt := InvoiceEvent{Name: inv.Name, LoadDispatch: inv.LoadDispatch, Action: action, TotalQty: inv.TotalQty, At: s.now()}
	if err := s.integration.HandleInvoiceChanged(ctx, evt); err != nil {
		s.logger.Warn("invoice reconciliation failed", slog.String("invoice", inv.Name), slog.String("load_dispatch", inv.LoadDispatch), slog.Any("error", err))
	}
}

func (s *Service) newMeta(ctx context.Context, prefix string, now time.Time) shared.Meta {
	return shared.Meta{
		Name:      shared.NewDocName(prefix, now),
		Owner:     shared.ActorFromContext(ctx),
		DocStatus: shared.DocDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Service) recordAudit(ctx context.Context, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "procurement", EntityID: entityID, Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func defaultTime(value, fallback time.Time) time.Time {
	if value.IsZero() {
		return fallback
	}
	return value
}
