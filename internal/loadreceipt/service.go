package loadreceipt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/dispatch"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReceipt(ctx context.Context, name string) (LoadReceipt, error)
	ListByDispatch(ctx context.Context, dispatch string) ([]LoadReceipt, error)
}

// DispatchPort reads the dispatch a receipt mirrors.
type DispatchPort interface {
	Get(ctx context.Context, name string) (dispatch.LoadDispatch, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages load receipts.
type Service struct {
	repo       RepositoryPort
	dispatches DispatchPort
	audit      AuditPort
	cache      shared.Invalidator
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs the load receipt service.
func NewService(repo RepositoryPort, dispatches DispatchPort, audit AuditPort, cache shared.Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, dispatches: dispatches, audit: audit, cache: cache, logger: logger, now: time.Now}
}

// Create drafts a receipt for a submitted dispatch, copying its quantities.
func (s *Service) Create(ctx context.Context, input CreateInput) (LoadReceipt, error) {
	if input.LoadDispatch == "" {
		return LoadReceipt{}, shared.Invalid("load_dispatch", "required")
	}
	d, err := s.dispatches.Get(ctx, input.LoadDispatch)
	if err != nil {
		return LoadReceipt{}, err
	}
	if d.DocStatus != shared.DocSubmitted {
		return LoadReceipt{}, fmt.Errorf("%w: load dispatch %s is %s", ErrInvalidState, d.Name, d.DocStatus)
	}
	now := s.now()
	lr := LoadReceipt{
		Meta: shared.Meta{
			Name:      shared.NewDocName("LR", now),
			Owner:     shared.ActorFromContext(ctx),
			DocStatus: shared.DocDraft,
			CreatedAt: now,
			UpdatedAt: now,
		},
		LoadDispatch:    d.Name,
		LoadReferenceNo: d.LoadReferenceNo,
		ReceiptDate:     input.ReceiptDate,
	}
	if lr.ReceiptDate.IsZero() {
		lr.ReceiptDate = now.UTC().Truncate(24 * time.Hour)
	}
	lr.apply(totalsOf(d))
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.ActiveReceiptFor(ctx, d.Name)
		if err != nil {
			return err
		}
		if existing != "" {
			return fmt.Errorf("%w: %s", ErrReceiptExists, existing)
		}
		return tx.InsertReceipt(ctx, lr)
	})
	if err != nil {
		return LoadReceipt{}, err
	}
	s.recordAudit(ctx, "LOAD_RECEIPT_CREATE", lr.Name, map[string]any{"load_dispatch": lr.LoadDispatch})
	return lr, nil
}

// Get returns one receipt.
func (s *Service) Get(ctx context.Context, name string) (LoadReceipt, error) {
	return s.repo.GetReceipt(ctx, name)
}

// ListByDispatch returns the receipts of a dispatch.
func (s *Service) ListByDispatch(ctx context.Context, dispatch string) ([]LoadReceipt, error) {
	return s.repo.ListByDispatch(ctx, dispatch)
}

// Submit refreshes totals from the dispatch and submits the receipt.
func (s *Service) Submit(ctx context.Context, name string) (LoadReceipt, error) {
	var lr LoadReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		lr, err = tx.GetReceiptForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if lr.DocStatus != shared.DocDraft {
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, name, lr.DocStatus)
		}
		d, err := s.dispatches.Get(ctx, lr.LoadDispatch)
		if err != nil {
			return err
		}
		if d.DocStatus != shared.DocSubmitted {
			return fmt.Errorf("%w: load dispatch %s is %s", ErrInvalidState, d.Name, d.DocStatus)
		}
		lr.apply(totalsOf(d))
		if err := tx.UpdateTotals(ctx, name, totalsOf(d)); err != nil {
			return err
		}
		lr.DocStatus = shared.DocSubmitted
		return tx.UpdateStatus(ctx, name, lr.DocStatus)
	})
	if err != nil {
		return LoadReceipt{}, err
	}
	s.recordAudit(ctx, "LOAD_RECEIPT_SUBMIT", name, map[string]any{"load_dispatch": lr.LoadDispatch, "received": lr.TotalReceivedQuantity})
	shared.Invalidate(ctx, s.cache, s.logger)
	return lr, nil
}

// Cancel cancels a submitted receipt with no submitted damage assessments.
func (s *Service) Cancel(ctx context.Context, name string) (LoadReceipt, error) {
	var lr LoadReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		lr, err = tx.GetReceiptForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if lr.DocStatus != shared.DocSubmitted {
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, name, lr.DocStatus)
		}
		n, err := tx.SubmittedAssessments(ctx, name)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %d assessments", ErrHasAssessments, n)
		}
		lr.DocStatus = shared.DocCancelled
		return tx.UpdateStatus(ctx, name, lr.DocStatus)
	})
	if err != nil {
		return LoadReceipt{}, err
	}
	s.recordAudit(ctx, "LOAD_RECEIPT_CANCEL", name, map[string]any{"load_dispatch": lr.LoadDispatch})
	shared.Invalidate(ctx, s.cache, s.logger)
	return lr, nil
}

// ApplyTotals writes reconciled dispatch totals onto every active receipt of
// the dispatch and returns how many receipts were updated.
func (s *Service) ApplyTotals(ctx context.Context, dispatchName string, totals dispatch.Totals) (int64, error) {
	var n int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		n, err = tx.ApplyTotals(ctx, dispatchName, totals)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("load receipts reconciled", slog.String("load_dispatch", dispatchName), slog.Int64("receipts", n),
			slog.Int("received", totals.Received), slog.Int("billed", totals.Billed))
	}
	return n, nil
}

// Reconcile re-reads the dispatch totals and applies them to its receipts.
func (s *Service) Reconcile(ctx context.Context, dispatchName string) (dispatch.Totals, error) {
	d, err := s.dispatches.Get(ctx, dispatchName)
	if err != nil {
		return dispatch.Totals{}, err
	}
	totals := totalsOf(d)
	if _, err := s.ApplyTotals(ctx, dispatchName, totals); err != nil {
		return dispatch.Totals{}, err
	}
	return totals, nil
}

// ApplyDamageCounts stores the OK and Not OK totals computed from submitted
// damage assessments.
func (s *Service) ApplyDamageCounts(ctx context.Context, name string, counts DamageCounts) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateDamageCounts(ctx, name, counts)
	})
	if err != nil {
		return err
	}
	shared.Invalidate(ctx, s.cache, s.logger)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "load_receipt", EntityID: entityID, Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
