package loadplan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPlan(ctx context.Context, name string) (LoadPlan, error)
	PlanExists(ctx context.Context, name string) (bool, error)
	SummarizeDispatches(ctx context.Context, name string) (DispatchSummary, error)
	ListPlans(ctx context.Context, filter ListFilter) ([]LoadPlan, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates load plan workflows.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	cache  shared.Invalidator
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a load plan service. cache may be nil.
func NewService(repo RepositoryPort, audit AuditPort, cache shared.Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, cache: cache, logger: logger, now: time.Now}
}

// Create stores a draft plan named after its reference number.
func (s *Service) Create(ctx context.Context, input CreateInput) (LoadPlan, error) {
	input.ReferenceNo = strings.TrimSpace(input.ReferenceNo)
	total, err := input.Validate()
	if err != nil {
		return LoadPlan{}, err
	}
	now := s.now()
	plan := LoadPlan{
		Meta: shared.Meta{
			Name:      input.ReferenceNo,
			Owner:     shared.ActorFromContext(ctx),
			DocStatus: shared.DocDraft,
			CreatedAt: now,
			UpdatedAt: now,
		},
		ReferenceNo:      input.ReferenceNo,
		DispatchPlanDate: input.DispatchPlanDate,
		Items:            input.Items,
		TotalQuantity:    total,
		Status:           StatusDraft,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertPlan(ctx, plan)
	})
	if err != nil {
		return LoadPlan{}, err
	}
	s.recordAudit(ctx, "LOAD_PLAN_CREATE", plan.Name, map[string]any{"total_quantity": total})
	return plan, nil
}

// Exists reports whether a plan with the reference number exists.
func (s *Service) Exists(ctx context.Context, referenceNo string) (bool, error) {
	return s.repo.PlanExists(ctx, referenceNo)
}

// Submit moves a draft plan to Submitted, deriving status from any
// dispatches already linked.
func (s *Service) Submit(ctx context.Context, name string) (LoadPlan, error) {
	var plan LoadPlan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		plan, err = tx.GetPlanForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if plan.DocStatus != shared.DocDraft {
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, name, plan.DocStatus)
		}
		summary, err := tx.SummarizeDispatches(ctx, name)
		if err != nil {
			return err
		}
		plan.DocStatus = shared.DocSubmitted
		plan.LoadDispatchQuantity = summary.Quantity
		plan.Status = DeriveStatus(plan.TotalQuantity, summary)
		if err := tx.UpdateStatus(ctx, name, plan.DocStatus, plan.Status); err != nil {
			return err
		}
		return tx.UpdateDispatchQuantity(ctx, name, summary.Quantity, plan.Status)
	})
	if err != nil {
		return LoadPlan{}, err
	}
	s.recordAudit(ctx, "LOAD_PLAN_SUBMIT", name, nil)
	shared.Invalidate(ctx, s.cache, s.logger)
	return plan, nil
}

// Cancel cancels a plan. Plans with submitted dispatches cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, name string) (LoadPlan, error) {
	var plan LoadPlan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		plan, err = tx.GetPlanForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if plan.DocStatus == shared.DocCancelled {
			return fmt.Errorf("%w: %s already cancelled", ErrInvalidState, name)
		}
		summary, err := tx.SummarizeDispatches(ctx, name)
		if err != nil {
			return err
		}
		if summary.Dispatches > 0 {
			return ErrHasDispatches
		}
		plan.DocStatus = shared.DocCancelled
		plan.Status = StatusCancelled
		return tx.UpdateStatus(ctx, name, plan.DocStatus, plan.Status)
	})
	if err != nil {
		return LoadPlan{}, err
	}
	s.recordAudit(ctx, "LOAD_PLAN_CANCEL", name, nil)
	shared.Invalidate(ctx, s.cache, s.logger)
	return plan, nil
}

// Get returns a plan with its rows.
func (s *Service) Get(ctx context.Context, name string) (LoadPlan, error) {
	return s.repo.GetPlan(ctx, name)
}

// List returns plan headers.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]LoadPlan, error) {
	return s.repo.ListPlans(ctx, filter)
}

// CheckCapacity verifies that qty more frames may be dispatched against the
// submitted plan.
func (s *Service) CheckCapacity(ctx context.Context, name string, qty int) error {
	plan, err := s.repo.GetPlan(ctx, name)
	if err != nil {
		return err
	}
	if plan.DocStatus != shared.DocSubmitted {
		return fmt.Errorf("%w: %s", ErrNotSubmitted, name)
	}
	summary, err := s.repo.SummarizeDispatches(ctx, name)
	if err != nil {
		return err
	}
	plan.LoadDispatchQuantity = summary.Quantity
	if qty > plan.Remaining() {
		return fmt.Errorf("%w: %s has %d of %d dispatched, requested %d", ErrExceedsPlanned, name, summary.Quantity, plan.TotalQuantity, qty)
	}
	return nil
}

// RefreshDispatchQuantity recomputes load_dispatch_quantity and status from
// the submitted dispatches of the plan.
func (s *Service) RefreshDispatchQuantity(ctx context.Context, name string) (LoadPlan, error) {
	var plan LoadPlan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		plan, err = tx.GetPlanForUpdate(ctx, name)
		if err != nil {
			return err
		}
		summary, err := tx.SummarizeDispatches(ctx, name)
		if err != nil {
			return err
		}
		plan.LoadDispatchQuantity = summary.Quantity
		if plan.DocStatus == shared.DocSubmitted {
			plan.Status = DeriveStatus(plan.TotalQuantity, summary)
		}
		return tx.UpdateDispatchQuantity(ctx, name, plan.LoadDispatchQuantity, plan.Status)
	})
	if err != nil {
		return LoadPlan{}, err
	}
	s.logger.Debug("load plan refreshed", slog.String("plan", name), slog.Int("dispatched", plan.LoadDispatchQuantity), slog.String("status", string(plan.Status)))
	return plan, nil
}

func (s *Service) recordAudit(ctx context.Context, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "load_plan", EntityID: entityID, Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
