package damage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/dispatch"
	"github.com/odyssey-erp/odyssey-logistics/internal/inventory"
	"github.com/odyssey-erp/odyssey-logistics/internal/loadreceipt"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAssessment(ctx context.Context, name string) (Assessment, error)
}

// ReceiptPort reads load receipts and stores their damage counts.
type ReceiptPort interface {
	Get(ctx context.Context, name string) (loadreceipt.LoadReceipt, error)
	ApplyDamageCounts(ctx context.Context, name string, counts loadreceipt.DamageCounts) error
}

// DispatchPort reads the dispatch whose frames are assessed.
type DispatchPort interface {
	Get(ctx context.Context, name string) (dispatch.LoadDispatch, error)
}

// StockPort moves damaged frames between warehouses.
type StockPort interface {
	CreateStockEntry(ctx context.Context, input inventory.StockEntryInput) (inventory.StockEntry, error)
	CancelStockEntry(ctx context.Context, name string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages damage assessments.
type Service struct {
	repo       RepositoryPort
	receipts   ReceiptPort
	dispatches DispatchPort
	stock      StockPort
	audit      AuditPort
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs the damage assessment service.
func NewService(repo RepositoryPort, receipts ReceiptPort, dispatches DispatchPort, stock StockPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, receipts: receipts, dispatches: dispatches, stock: stock, audit: audit, logger: logger, now: time.Now}
}

// Create validates rows against the receipt's dispatch and stores a draft.
func (s *Service) Create(ctx context.Context, input CreateInput) (Assessment, error) {
	lr, err := s.receipts.Get(ctx, input.LoadReceipt)
	if err != nil {
		return Assessment{}, err
	}
	if lr.DocStatus == shared.DocCancelled {
		return Assessment{}, fmt.Errorf("%w: load receipt %s is cancelled", ErrInvalidState, lr.Name)
	}
	d, err := s.dispatches.Get(ctx, lr.LoadDispatch)
	if err != nil {
		return Assessment{}, err
	}
	now := s.now()
	a := Assessment{
		Meta: shared.Meta{
			Name:      shared.NewDocName("DA", now),
			Owner:     shared.ActorFromContext(ctx),
			DocStatus: shared.DocDraft,
			CreatedAt: now,
			UpdatedAt: now,
		},
		LoadReceipt:      lr.Name,
		LoadDispatch:     lr.LoadDispatch,
		SourceWarehouse:  input.SourceWarehouse,
		DamageWarehouse:  input.DamageWarehouse,
		CreateStockEntry: input.CreateStockEntry,
		Items:            input.Items,
	}
	if err := a.Validate(frameSet(d)); err != nil {
		return Assessment{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertAssessment(ctx, a)
	})
	if err != nil {
		return Assessment{}, err
	}
	s.recordAudit(ctx, "DAMAGE_ASSESSMENT_CREATE", a.Name, map[string]any{"load_receipt": a.LoadReceipt, "not_ok": a.NotOKCount})
	return a, nil
}

// Get returns an assessment with its rows.
func (s *Service) Get(ctx context.Context, name string) (Assessment, error) {
	return s.repo.GetAssessment(ctx, name)
}

// Submit re-validates the assessment, optionally moves Not OK frames to the
// damage warehouse and recomputes the receipt's OK and Not OK quantities.
func (s *Service) Submit(ctx context.Context, name string) (Assessment, error) {
	var a Assessment
	var counts loadreceipt.DamageCounts
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		a, err = tx.GetAssessmentForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if a.DocStatus != shared.DocDraft {
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, name, a.DocStatus)
		}
		lr, err := s.receipts.Get(ctx, a.LoadReceipt)
		if err != nil {
			return err
		}
		if lr.DocStatus != shared.DocSubmitted {
			return fmt.Errorf("%w: %s", ErrReceiptNotSubmitted, lr.Name)
		}
		d, err := s.dispatches.Get(ctx, a.LoadDispatch)
		if err != nil {
			return err
		}
		if err := a.Validate(frameSet(d)); err != nil {
			return err
		}
		a.DocStatus = shared.DocSubmitted
		if err := tx.UpdateStatus(ctx, name, a.DocStatus); err != nil {
			return err
		}
		if a.CreateStockEntry && len(a.DamagedFrames()) > 0 {
			entry, err := s.stock.CreateStockEntry(ctx, stockEntryFor(a, d))
			if err != nil {
				return fmt.Errorf("damage stock entry: %w", err)
			}
			a.StockEntry = entry.Name
			if err := tx.SetStockEntry(ctx, name, entry.Name); err != nil {
				return err
			}
		}
		counts, err = tx.SumCounts(ctx, a.LoadReceipt)
		return err
	})
	if err != nil {
		return Assessment{}, err
	}
	s.applyCounts(ctx, a.LoadReceipt, counts)
	s.recordAudit(ctx, "DAMAGE_ASSESSMENT_SUBMIT", name, map[string]any{
		"load_receipt":   a.LoadReceipt,
		"ok":             a.OKCount,
		"not_ok":         a.NotOKCount,
		"estimated_cost": a.EstimatedCost().StringFixed(2),
		"stock_entry":    a.StockEntry,
	})
	return a, nil
}

// Cancel reverses the stock entry of a submitted assessment and recomputes
// the receipt counts.
func (s *Service) Cancel(ctx context.Context, name string) (Assessment, error) {
	var a Assessment
	var counts loadreceipt.DamageCounts
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		a, err = tx.GetAssessmentForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if a.DocStatus != shared.DocSubmitted {
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, name, a.DocStatus)
		}
		a.DocStatus = shared.DocCancelled
		if err := tx.UpdateStatus(ctx, name, a.DocStatus); err != nil {
			return err
		}
		if a.StockEntry != "" {
			if err := s.stock.CancelStockEntry(ctx, a.StockEntry); err != nil {
				return fmt.Errorf("damage stock entry: %w", err)
			}
		}
		counts, err = tx.SumCounts(ctx, a.LoadReceipt)
		return err
	})
	if err != nil {
		return Assessment{}, err
	}
	s.applyCounts(ctx, a.LoadReceipt, counts)
	s.recordAudit(ctx, "DAMAGE_ASSESSMENT_CANCEL", name, map[string]any{"load_receipt": a.LoadReceipt, "stock_entry": a.StockEntry})
	return a, nil
}

func (s *Service) applyCounts(ctx context.Context, receipt string, counts loadreceipt.DamageCounts) {
	if err := s.receipts.ApplyDamageCounts(ctx, receipt, counts); err != nil {
		s.logger.Warn("apply damage counts", slog.String("load_receipt", receipt), slog.Any("error", err))
	}
}

func frameSet(d dispatch.LoadDispatch) map[string]bool {
	out := make(map[string]bool, len(d.Items))
	for _, f := range d.Frames() {
		out[f] = true
	}
	return out
}

func stockEntryFor(a Assessment, d dispatch.LoadDispatch) inventory.StockEntryInput {
	codes := make(map[string]string, len(d.Items))
	for _, it := range d.Items {
		codes[it.FrameNo] = shared.Coalesce(it.ItemCode, inventory.ItemCodeFor(it.ModelName, it.ModelVariant, it.ColorCode))
	}
	input := inventory.StockEntryInput{
		FromWarehouse:    a.SourceWarehouse,
		ToWarehouse:      a.DamageWarehouse,
		ReferenceDoctype: "Damage Assessment",
		ReferenceName:    a.Name,
	}
	for _, frame := range a.DamagedFrames() {
		input.Items = append(input.Items, inventory.StockEntryItem{ItemCode: codes[frame], SerialNo: frame, Qty: 1})
	}
	return input
}

func (s *Service) recordAudit(ctx context.Context, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "damage_assessment", EntityID: entityID, Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
