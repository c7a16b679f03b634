package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/inventory"
	"github.com/odyssey-erp/odyssey-logistics/internal/loadplan"
	"github.com/odyssey-erp/odyssey-logistics/internal/procurement"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDispatch(ctx context.Context, name string) (LoadDispatch, error)
}

// PlanPort exposes the load plan operations a dispatch depends on.
type PlanPort interface {
	Exists(ctx context.Context, referenceNo string) (bool, error)
	CheckCapacity(ctx context.Context, referenceNo string, qty int) error
	RefreshDispatchQuantity(ctx context.Context, referenceNo string) (loadplan.LoadPlan, error)
}

// ProcurementPort exposes receipt and invoice lookups for reconciliation.
type ProcurementPort interface {
	SubmittedReceiptNames(ctx context.Context, dispatch string) ([]string, error)
	SubmittedInvoiceNames(ctx context.Context, dispatch string) ([]string, error)
	GetReceipt(ctx context.Context, name string) (procurement.PurchaseReceipt, error)
	GetInvoice(ctx context.Context, name string) (procurement.PurchaseInvoice, error)
	ReceivedFrames(ctx context.Context, dispatch string) ([]string, error)
	CreateReceipt(ctx context.Context, input procurement.ReceiptInput) (procurement.PurchaseReceipt, error)
}

// InventoryPort creates items and serial numbers for dispatched frames.
type InventoryPort interface {
	EnsureItem(ctx context.Context, input inventory.ItemInput) (string, error)
	EnsureSerialNo(ctx context.Context, input inventory.SerialInput) (bool, error)
	UnlinkDispatch(ctx context.Context, dispatch string) (int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// NotifierPort delivers best-effort notifications.
type NotifierPort interface {
	Notify(ctx context.Context, subject, body string)
}

// LockerPort serialises work on a key.
type LockerPort interface {
	Do(ctx context.Context, key string, fn func(context.Context) error) error
}

// IdempotencyPort guards derived document creation against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Config carries defaults applied when requests omit them.
type Config struct {
	DefaultWarehouse string
	DefaultSupplier  string
}

// Deps groups the collaborators of Service. Only Repo, Plans, Procurement and
// Inventory are required.
type Deps struct {
	Repo        RepositoryPort
	Plans       PlanPort
	Procurement ProcurementPort
	Inventory   InventoryPort
	Audit       AuditPort
	Notifier    NotifierPort
	Locker      LockerPort
	Idempotency IdempotencyPort
	Cache       shared.Invalidator
	Logger      *slog.Logger
}

// Service orchestrates load dispatch workflows.
type Service struct {
	repo        RepositoryPort
	plans       PlanPort
	procurement ProcurementPort
	inventory   InventoryPort
	audit       AuditPort
	notifier    NotifierPort
	locker      LockerPort
	idempotency IdempotencyPort
	cache       shared.Invalidator
	logger      *slog.Logger
	cfg         Config
	now         func() time.Time
}

// NewService constructs the dispatch service.
func NewService(deps Deps, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        deps.Repo,
		plans:       deps.Plans,
		procurement: deps.Procurement,
		inventory:   deps.Inventory,
		audit:       deps.Audit,
		notifier:    deps.Notifier,
		locker:      deps.Locker,
		idempotency: deps.Idempotency,
		cache:       deps.Cache,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Create stores a draft dispatch against an existing load plan.
func (s *Service) Create(ctx context.Context, input Input) (LoadDispatch, error) {
	now := s.now()
	d := LoadDispatch{
		Meta: shared.Meta{
			Name:      shared.NewDocName("LD", now),
			Owner:     shared.ActorFromContext(ctx),
			DocStatus: shared.DocDraft,
			CreatedAt: now,
			UpdatedAt: now,
		},
		LoadReferenceNo: strings.TrimSpace(input.LoadReferenceNo),
		DispatchDate:    input.DispatchDate,
		InvoiceNo:       input.InvoiceNo,
		Items:           input.Items,
		Status:          StatusInTransit,
	}
	if err := d.Validate(); err != nil {
		return LoadDispatch{}, err
	}
	if err := s.requirePlan(ctx, d.LoadReferenceNo); err != nil {
		return LoadDispatch{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertDispatch(ctx, d)
	})
	if err != nil {
		return LoadDispatch{}, err
	}
	s.recordAudit(ctx, "LOAD_DISPATCH_CREATE", d.Name, map[string]any{"load_reference_no": d.LoadReferenceNo, "total": d.TotalDispatchQuantity})
	return d, nil
}

// Update replaces the header and rows of a draft dispatch.
func (s *Service) Update(ctx context.Context, name string, input Input) (LoadDispatch, error) {
	var d LoadDispatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		d, err = tx.GetDispatchForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if err := shared.RequireDraft(d.DocStatus, fmt.Errorf("%w: %s is %s", ErrInvalidState, name, d.DocStatus)); err != nil {
			return err
		}
		d.LoadReferenceNo = strings.TrimSpace(input.LoadReferenceNo)
		d.DispatchDate = input.DispatchDate
		d.InvoiceNo = input.InvoiceNo
		d.Items = input.Items
		if err := d.Validate(); err != nil {
			return err
		}
		if err := s.requirePlan(ctx, d.LoadReferenceNo); err != nil {
			return err
		}
		if err := tx.UpdateHeader(ctx, d); err != nil {
			return err
		}
		return tx.ReplaceItems(ctx, name, d.Items, d.TotalDispatchQuantity)
	})
	if err != nil {
		return LoadDispatch{}, err
	}
	return d, nil
}

// Get returns a dispatch with its rows.
func (s *Service) Get(ctx context.Context, name string) (LoadDispatch, error) {
	return s.repo.GetDispatch(ctx, name)
}

// ImportItems appends rows to a draft dispatch. Rows whose frame is already
// present, and rows carrying neither frame nor model, are skipped.
func (s *Service) ImportItems(ctx context.Context, parent string, rows []Item) (ImportResult, error) {
	var res ImportResult
	err := s.withLock(ctx, shared.DispatchLockKey(parent), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			d, err := tx.GetDispatchForUpdate(ctx, parent)
			if err != nil {
				return err
			}
			if d.DocStatus != shared.DocDraft {
				return fmt.Errorf("%w: %s is %s", ErrInvalidState, parent, d.DocStatus)
			}
			present := make(map[string]bool, len(d.Items))
			for _, f := range d.Frames() {
				present[f] = true
			}
			for _, row := range rows {
				row.normalize()
				if (row.FrameNo == "" && row.ModelName == "") || (row.FrameNo != "" && present[row.FrameNo]) {
					res.Skipped++
					continue
				}
				if row.FrameNo != "" {
					present[row.FrameNo] = true
				}
				d.Items = append(d.Items, row)
				res.Added++
			}
			if err := d.Validate(); err != nil {
				return err
			}
			res.Total = d.TotalDispatchQuantity
			if res.Added == 0 {
				return nil
			}
			return tx.ReplaceItems(ctx, parent, d.Items, d.TotalDispatchQuantity)
		})
	})
	if err != nil {
		return ImportResult{}, err
	}
	s.logger.Info("load dispatch items imported", slog.String("load_dispatch", parent), slog.Int("added", res.Added), slog.Int("skipped", res.Skipped))
	return res, nil
}

// Submit validates the dispatch against its plan, registers items and serial
// numbers for every frame, and refreshes the plan quantities. The plan lock is
// held until commit so concurrent submits cannot both pass the capacity check.
func (s *Service) Submit(ctx context.Context, name string) (LoadDispatch, error) {
	current, err := s.repo.GetDispatch(ctx, name)
	if err != nil {
		return LoadDispatch{}, err
	}
	ref := current.LoadReferenceNo
	var d LoadDispatch
	err = s.withLock(ctx, shared.PlanLockKey(ref), func(ctx context.Context) error {
		return s.withLock(ctx, shared.DispatchLockKey(name), func(ctx context.Context) error {
			return s.submitLocked(ctx, name, ref, &d)
		})
	})
	if err != nil {
		return LoadDispatch{}, err
	}
	s.refreshPlan(ctx, d.LoadReferenceNo)
	s.recordAudit(ctx, "LOAD_DISPATCH_SUBMIT", name, map[string]any{"load_reference_no": d.LoadReferenceNo, "total": d.TotalDispatchQuantity})
	shared.Invalidate(ctx, s.cache, s.logger)
	if s.notifier != nil {
		s.notifier.Notify(ctx,
			fmt.Sprintf("Load Dispatch %s submitted", name),
			fmt.Sprintf("Load Dispatch %s for plan %s left the origin with %d frames (invoice %s).",
				name, d.LoadReferenceNo, d.TotalDispatchQuantity, shared.Coalesce(d.InvoiceNo, "n/a")))
	}
	return d, nil
}

func (s *Service) submitLocked(ctx context.Context, name, ref string, d *LoadDispatch) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		*d, err = tx.GetDispatchForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if d.DocStatus != shared.DocDraft {
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, name, d.DocStatus)
		}
		if d.LoadReferenceNo != ref {
			return fmt.Errorf("%w: %s moved to plan %s", ErrInvalidState, name, d.LoadReferenceNo)
		}
		if err := d.Validate(); err != nil {
			return err
		}
		if d.TotalDispatchQuantity == 0 {
			return ErrEmptyDispatch
		}
		if err := s.plans.CheckCapacity(ctx, d.LoadReferenceNo, d.TotalDispatchQuantity); err != nil {
			return err
		}
		taken, err := tx.FramesOnOtherDispatches(ctx, d.Frames(), name)
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			return fmt.Errorf("%w: %s", ErrFrameDispatched, strings.Join(taken, ", "))
		}
		if err := s.registerFrames(ctx, d); err != nil {
			return err
		}
		if err := tx.ReplaceItems(ctx, name, d.Items, d.TotalDispatchQuantity); err != nil {
			return err
		}
		d.DocStatus = shared.DocSubmitted
		d.Status = StatusInTransit
		return tx.UpdateStatus(ctx, name, d.DocStatus, d.Status)
	})
}

func (s *Service) registerFrames(ctx context.Context, d *LoadDispatch) error {
	for i := range d.Items {
		it := &d.Items[i]
		if it.FrameNo == "" {
			continue
		}
		code, err := s.inventory.EnsureItem(ctx, inventory.ItemInput{
			ItemCode:  it.ItemCode,
			ModelName: it.ModelName,
			Variant:   it.ModelVariant,
			ColorCode: it.ColorCode,
			Rate:      it.PriceUnit,
		})
		if err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
		it.ItemCode = code
		if _, err := s.inventory.EnsureSerialNo(ctx, inventory.SerialInput{
			FrameNo:         it.FrameNo,
			ItemCode:        code,
			LoadDispatch:    d.Name,
			MotorNo:         it.MotorNo,
			KeyNo:           it.KeyNo,
			BatterySerialNo: it.BatterySerialNo,
		}); err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
	}
	return nil
}

// Cancel cancels a submitted dispatch with no submitted receipts, unlinking
// its serial numbers and refreshing the plan.
func (s *Service) Cancel(ctx context.Context, name string) (LoadDispatch, error) {
	receipts, err := s.procurement.SubmittedReceiptNames(ctx, name)
	if err != nil {
		return LoadDispatch{}, err
	}
	if len(receipts) > 0 {
		return LoadDispatch{}, fmt.Errorf("%w: %s", ErrHasReceipts, strings.Join(receipts, ", "))
	}
	var d LoadDispatch
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		d, err = tx.GetDispatchForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if d.DocStatus != shared.DocSubmitted {
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, name, d.DocStatus)
		}
		if _, err := s.inventory.UnlinkDispatch(ctx, name); err != nil {
			return err
		}
		d.DocStatus = shared.DocCancelled
		return tx.UpdateStatus(ctx, name, d.DocStatus, d.Status)
	})
	if err != nil {
		return LoadDispatch{}, err
	}
	s.refreshPlan(ctx, d.LoadReferenceNo)
	s.recordAudit(ctx, "LOAD_DISPATCH_CANCEL", name, map[string]any{"load_reference_no": d.LoadReferenceNo})
	shared.Invalidate(ctx, s.cache, s.logger)
	return d, nil
}

// Reconcile recomputes received and billed quantities from the submitted
// receipts and invoices of the dispatch. A linked document that cannot be
// loaded is logged and left out of the totals.
func (s *Service) Reconcile(ctx context.Context, name string) (Totals, error) {
	d, err := s.repo.GetDispatch(ctx, name)
	if err != nil {
		return Totals{}, err
	}
	receiptNames, err := s.procurement.SubmittedReceiptNames(ctx, name)
	if err != nil {
		return Totals{}, err
	}
	receipts := make([]DocQty, 0, len(receiptNames))
	for _, rn := range receiptNames {
		pr, err := s.procurement.GetReceipt(ctx, rn)
		if err != nil {
			s.logger.Warn("skip purchase receipt in reconciliation", slog.String("load_dispatch", name), slog.String("receipt", rn), slog.Any("error", err))
			continue
		}
		if pr.DocStatus != shared.DocSubmitted || pr.LoadDispatch != name {
			continue
		}
		receipts = append(receipts, DocQty{Name: pr.Name, Qty: pr.TotalQty})
	}
	invoiceNames, err := s.procurement.SubmittedInvoiceNames(ctx, name)
	if err != nil {
		return Totals{}, err
	}
	invoices := make([]InvoiceQty, 0, len(invoiceNames))
	for _, in := range invoiceNames {
		inv, err := s.procurement.GetInvoice(ctx, in)
		if err != nil {
			s.logger.Warn("skip purchase invoice in reconciliation", slog.String("load_dispatch", name), slog.String("invoice", in), slog.Any("error", err))
			continue
		}
		if inv.DocStatus != shared.DocSubmitted || inv.LoadDispatch != name {
			continue
		}
		invoices = append(invoices, InvoiceQty{Name: inv.Name, Qty: inv.TotalQty, Receipts: inv.ReceiptRefs()})
	}
	totals := ComputeTotals(d.TotalDispatchQuantity, receipts, invoices)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateTotals(ctx, name, totals)
	})
	if err != nil {
		return Totals{}, err
	}
	if d.DocStatus == shared.DocSubmitted {
		s.refreshPlan(ctx, d.LoadReferenceNo)
	}
	s.logger.Info("load dispatch reconciled", slog.String("load_dispatch", name),
		slog.Int("received", totals.Received), slog.Int("billed", totals.Billed), slog.String("status", string(totals.Status)))
	return totals, nil
}

// CreatePurchaseReceipt drafts a receipt with one row per frame of the
// dispatch not yet on a submitted receipt. Row warehouses come from
// FrameWarehouses, falling back to Warehouse and then the configured default.
func (s *Service) CreatePurchaseReceipt(ctx context.Context, input ReceiptInput) (procurement.PurchaseReceipt, error) {
	d, err := s.repo.GetDispatch(ctx, input.SourceName)
	if err != nil {
		return procurement.PurchaseReceipt{}, err
	}
	if d.DocStatus != shared.DocSubmitted {
		return procurement.PurchaseReceipt{}, fmt.Errorf("%w: %s is %s", ErrInvalidState, d.Name, d.DocStatus)
	}
	received, err := s.procurement.ReceivedFrames(ctx, d.Name)
	if err != nil {
		return procurement.PurchaseReceipt{}, err
	}
	done := make(map[string]bool, len(received))
	for _, f := range received {
		done[f] = true
	}
	warehouse := shared.Coalesce(input.Warehouse, s.cfg.DefaultWarehouse)
	var items []procurement.ReceiptItem
	var frames []string
	for _, it := range d.Items {
		if it.FrameNo == "" || done[it.FrameNo] {
			continue
		}
		code := shared.Coalesce(it.ItemCode, inventory.ItemCodeFor(it.ModelName, it.ModelVariant, it.ColorCode))
		items = append(items, procurement.ReceiptItem{
			ItemCode:  code,
			SerialNo:  it.FrameNo,
			Qty:       1,
			Rate:      it.PriceUnit,
			Warehouse: shared.Coalesce(input.FrameWarehouses[it.FrameNo], warehouse),
		})
		frames = append(frames, it.FrameNo)
	}
	if len(items) == 0 {
		return procurement.PurchaseReceipt{}, fmt.Errorf("%w: %s", ErrFullyReceived, d.Name)
	}
	key := procurement.DispatchReceiptKey(d.Name, frames)
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "dispatch.purchase_receipt"); err != nil {
			return procurement.PurchaseReceipt{}, err
		}
	}
	pr, err := s.procurement.CreateReceipt(ctx, procurement.ReceiptInput{
		Supplier:     shared.Coalesce(input.Supplier, s.cfg.DefaultSupplier),
		PostingDate:  s.now(),
		SetWarehouse: warehouse,
		LoadDispatch: d.Name,
		Items:        items,
	})
	if err != nil {
		if s.idempotency != nil {
			_ = s.idempotency.Delete(ctx, key)
		}
		return procurement.PurchaseReceipt{}, err
	}
	return pr, nil
}

func (s *Service) requirePlan(ctx context.Context, ref string) error {
	ok, err := s.plans.Exists(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return shared.Invalid("load_reference_no", fmt.Sprintf("load plan %s not found", ref))
	}
	return nil
}

func (s *Service) refreshPlan(ctx context.Context, ref string) {
	if _, err := s.plans.RefreshDispatchQuantity(ctx, ref); err != nil {
		s.logger.Warn("load plan refresh failed", slog.String("load_plan", ref), slog.Any("error", err))
	}
}

func (s *Service) withLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.Do(ctx, key, fn)
}

func (s *Service) recordAudit(ctx context.Context, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "load_dispatch", EntityID: entityID, Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
