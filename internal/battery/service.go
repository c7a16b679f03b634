package battery

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
	GetBattery(ctx context.Context, serial string) (Battery, error)
	ListExpiring(ctx context.Context, cutoff time.Time) ([]Battery, error)
	GetTransaction(ctx context.Context, name string) (Transaction, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config tunes the battery service.
type Config struct {
	ExpiryDays int
}

// Service manages battery records and transactions.
type Service struct {
	repo       RepositoryPort
	audit      AuditPort
	cache      shared.Invalidator
	logger     *slog.Logger
	expiryDays int
	now        func() time.Time
}

// NewService constructs the battery service. cache may be nil.
func NewService(repo RepositoryPort, audit AuditPort, cache shared.Invalidator, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ExpiryDays <= 0 {
		cfg.ExpiryDays = DefaultExpiryDays
	}
	return &Service{repo: repo, audit: audit, cache: cache, logger: logger, expiryDays: cfg.ExpiryDays, now: time.Now}
}

// ExpiryDays returns the configured charging-to-expiry offset.
func (s *Service) ExpiryDays() int {
	return s.expiryDays
}

// EnsureBattery creates the battery unless the serial already exists and
// reports whether it was created.
func (s *Service) EnsureBattery(ctx context.Context, input CreateInput) (bool, error) {
	input.SerialNo = strings.TrimSpace(input.SerialNo)
	if input.SerialNo == "" {
		return false, fmt.Errorf("%w: %w", shared.ErrValidation, ErrSerialRequired)
	}
	now := s.now()
	b := Battery{
		SerialNo:     input.SerialNo,
		Brand:        input.Brand,
		BatteryType:  input.BatteryType,
		ChargingDate: input.ChargingDate,
		ExpiryDate:   ExpiryFor(input.ChargingDate, s.expiryDays),
		Status:       StatusInStock,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	var created bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertBattery(ctx, b)
		return err
	})
	if err != nil {
		return false, err
	}
	if created {
		s.recordAudit(ctx, "BATTERY_CREATE", b.SerialNo, map[string]any{"brand": b.Brand})
		shared.Invalidate(ctx, s.cache, s.logger)
	}
	return created, nil
}

// CreateBattery creates a battery and fails when the serial is taken.
func (s *Service) CreateBattery(ctx context.Context, input CreateInput) (Battery, error) {
	created, err := s.EnsureBattery(ctx, input)
	if err != nil {
		return Battery{}, err
	}
	if !created {
		return Battery{}, fmt.Errorf("battery: %s: %w", input.SerialNo, shared.ErrDuplicate)
	}
	return s.repo.GetBattery(ctx, strings.TrimSpace(input.SerialNo))
}

// GetBattery returns a battery by serial number.
func (s *Service) GetBattery(ctx context.Context, serial string) (Battery, error) {
	return s.repo.GetBattery(ctx, serial)
}

// ListExpiring returns active batteries expiring within the given window.
func (s *Service) ListExpiring(ctx context.Context, within time.Duration) ([]Battery, error) {
	return s.repo.ListExpiring(ctx, s.now().Add(within))
}

// CreateTransaction stores a draft transaction.
func (s *Service) CreateTransaction(ctx context.Context, input TransactionInput) (Transaction, error) {
	if input.BatterySerialNo == "" {
		return Transaction{}, fmt.Errorf("%w: %w", shared.ErrValidation, ErrSerialRequired)
	}
	if _, err := input.Type.TargetStatus(); err != nil {
		return Transaction{}, err
	}
	if input.Type == TransactionOut && input.FrameNo == "" {
		return Transaction{}, shared.Invalid("frame_no", "required for Out transactions")
	}
	if _, err := s.repo.GetBattery(ctx, input.BatterySerialNo); err != nil {
		return Transaction{}, err
	}
	now := s.now()
	t := Transaction{
		Meta: shared.Meta{
			Name:      shared.NewDocName("BT", now),
			Owner:     shared.ActorFromContext(ctx),
			DocStatus: shared.DocDraft,
			CreatedAt: now,
			UpdatedAt: now,
		},
		BatterySerialNo: input.BatterySerialNo,
		Type:            input.Type,
		FrameNo:         input.FrameNo,
		PostingDate:     input.PostingDate,
	}
	if t.PostingDate.IsZero() {
		t.PostingDate = now
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertTransaction(ctx, t)
	})
	if err != nil {
		return Transaction{}, err
	}
	return t, nil
}

// SubmitTransaction applies the status change. An Out transaction requires the
// battery to be In Stock; an In transaction requires it to be Out. Batteries
// held by an active frame bundle move only through the bundle.
func (s *Service) SubmitTransaction(ctx context.Context, name string) (Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, name)
	if err != nil {
		return Transaction{}, err
	}
	if t.DocStatus != shared.DocDraft {
		return Transaction{}, fmt.Errorf("%w: %s is %s", ErrInvalidState, name, t.DocStatus)
	}
	target, err := t.Type.TargetStatus()
	if err != nil {
		return Transaction{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBatteryForUpdate(ctx, t.BatterySerialNo)
		if err != nil {
			return err
		}
		if err := CheckTransition(b.Status, target, false); err != nil {
			return err
		}
		if err := requireUnbundled(ctx, tx, b.SerialNo); err != nil {
			return err
		}
		holder := ""
		if target == StatusOut {
			holder = t.FrameNo
		} else if t.FrameNo == "" {
			t.FrameNo = b.FrameNo
		}
		if err := tx.UpdateBatteryState(ctx, b.SerialNo, target, holder); err != nil {
			return err
		}
		t.PreviousStatus = b.Status
		t.DocStatus = shared.DocSubmitted
		return tx.UpdateTransaction(ctx, t)
	})
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, "BATTERY_TX_SUBMIT", t.Name, map[string]any{"battery": t.BatterySerialNo, "type": string(t.Type)})
	shared.Invalidate(ctx, s.cache, s.logger)
	return t, nil
}

// CancelTransaction restores the battery to the status it had before submit.
func (s *Service) CancelTransaction(ctx context.Context, name string) (Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, name)
	if err != nil {
		return Transaction{}, err
	}
	if t.DocStatus != shared.DocSubmitted {
		return Transaction{}, fmt.Errorf("%w: %s is %s", ErrInvalidState, name, t.DocStatus)
	}
	applied, err := t.Type.TargetStatus()
	if err != nil {
		return Transaction{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBatteryForUpdate(ctx, t.BatterySerialNo)
		if err != nil {
			return err
		}
		if b.Status != applied {
			return fmt.Errorf("%w: battery %s moved on to %s", ErrInvalidTransition, b.SerialNo, b.Status)
		}
		if err := CheckTransition(b.Status, t.PreviousStatus, false); err != nil {
			return err
		}
		if err := requireUnbundled(ctx, tx, b.SerialNo); err != nil {
			return err
		}
		holder := ""
		if t.PreviousStatus == StatusOut {
			holder = t.FrameNo
		}
		if err := tx.UpdateBatteryState(ctx, b.SerialNo, t.PreviousStatus, holder); err != nil {
			return err
		}
		t.DocStatus = shared.DocCancelled
		return tx.UpdateTransaction(ctx, t)
	})
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, "BATTERY_TX_CANCEL", t.Name, map[string]any{"battery": t.BatterySerialNo})
	shared.Invalidate(ctx, s.cache, s.logger)
	return t, nil
}

func requireUnbundled(ctx context.Context, tx TxRepository, serial string) error {
	frame, err := tx.BundleFrameFor(ctx, serial)
	if err != nil {
		return err
	}
	if frame != "" {
		return fmt.Errorf("%w: %s is on frame %s", ErrHeldByBundle, serial, frame)
	}
	return nil
}

// GetTransaction returns a battery transaction.
func (s *Service) GetTransaction(ctx context.Context, name string) (Transaction, error) {
	return s.repo.GetTransaction(ctx, name)
}

func (s *Service) recordAudit(ctx context.Context, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "battery", EntityID: entityID, Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
