package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, code string) (Item, error)
	GetSerialNo(ctx context.Context, name string) (SerialNo, error)
	ListSerialNosByDispatch(ctx context.Context, dispatch string) ([]SerialNo, error)
	GetStockEntry(ctx context.Context, name string) (StockEntry, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates item, serial number and stock entry operations.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// EnsureItem creates the item unless it exists and returns its code.
func (s *Service) EnsureItem(ctx context.Context, input ItemInput) (string, error) {
	code := input.ItemCode
	if code == "" {
		code = ItemCodeFor(input.ModelName, input.Variant, input.ColorCode)
	}
	if code == "" {
		return "", shared.Invalid("item_code", "model name or item code required")
	}
	name := input.ModelName
	if name == "" {
		name = code
	}
	if input.Variant != "" {
		name += " " + input.Variant
	}
	item := Item{
		ItemCode:     code,
		ItemName:     name,
		ItemGroup:    "Vehicles",
		Model:        input.ModelName,
		Variant:      input.Variant,
		ColorCode:    input.ColorCode,
		StandardRate: input.Rate,
	}
	var created bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertItem(ctx, item)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("inventory: ensure item %s: %w", code, err)
	}
	if created {
		s.logger.Debug("item created", slog.String("item_code", code))
	}
	return code, nil
}

// EnsureSerialNo registers a frame for a dispatch. Existing serial numbers
// are re-linked when free; a frame held by another dispatch is rejected.
// It reports whether a new serial number was created.
func (s *Service) EnsureSerialNo(ctx context.Context, input SerialInput) (bool, error) {
	if input.FrameNo == "" || input.ItemCode == "" {
		return false, shared.Invalid("frame_no", "frame number and item code required")
	}
	created := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetSerialNoForUpdate(ctx, input.FrameNo)
		if errors.Is(err, ErrNotFound) {
			created = true
			return tx.InsertSerialNo(ctx, SerialNo{
				Name:            input.FrameNo,
				ItemCode:        input.ItemCode,
				LoadDispatch:    input.LoadDispatch,
				Status:          SerialInactive,
				MotorNo:         input.MotorNo,
				KeyNo:           input.KeyNo,
				BatterySerialNo: input.BatterySerialNo,
			})
		}
		if err != nil {
			return err
		}
		if existing.LoadDispatch != "" && existing.LoadDispatch != input.LoadDispatch {
			return fmt.Errorf("%w: %s on %s", ErrSerialInUse, input.FrameNo, existing.LoadDispatch)
		}
		existing.LoadDispatch = input.LoadDispatch
		existing.MotorNo = shared.Coalesce(existing.MotorNo, input.MotorNo)
		existing.KeyNo = shared.Coalesce(input.KeyNo, existing.KeyNo)
		existing.BatterySerialNo = shared.Coalesce(input.BatterySerialNo, existing.BatterySerialNo)
		return tx.UpdateSerialNo(ctx, existing)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// UnlinkDispatch clears the dispatch reference of every frame registered by it.
func (s *Service) UnlinkDispatch(ctx context.Context, dispatch string) (int64, error) {
	var n int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		n, err = tx.ClearDispatchLink(ctx, dispatch)
		return err
	})
	return n, err
}

// SerialNoExists reports whether the frame has a serial number.
func (s *Service) SerialNoExists(ctx context.Context, frameNo string) (bool, error) {
	_, err := s.repo.GetSerialNo(ctx, frameNo)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetSerialNo returns the serial number for a frame.
func (s *Service) GetSerialNo(ctx context.Context, frameNo string) (SerialNo, error) {
	return s.repo.GetSerialNo(ctx, frameNo)
}

// GetItem returns an item by code.
func (s *Service) GetItem(ctx context.Context, code string) (Item, error) {
	return s.repo.GetItem(ctx, code)
}

// SetKeyAndBattery records key and battery numbers on an existing frame.
func (s *Service) SetKeyAndBattery(ctx context.Context, frameNo, keyNo, batterySerial string) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		serial, err := tx.GetSerialNoForUpdate(ctx, frameNo)
		if err != nil {
			return err
		}
		serial.KeyNo = shared.Coalesce(keyNo, serial.KeyNo)
		serial.BatterySerialNo = shared.Coalesce(batterySerial, serial.BatterySerialNo)
		return tx.UpdateSerialNo(ctx, serial)
	})
}

// SerialMove places a received frame in a warehouse.
type SerialMove struct {
	FrameNo   string
	Warehouse string
}

// ReceiveSerialNos marks frames as received into their warehouses.
func (s *Service) ReceiveSerialNos(ctx context.Context, moves []SerialMove) error {
	byWarehouse := map[string][]string{}
	for _, m := range moves {
		if m.FrameNo == "" {
			continue
		}
		byWarehouse[m.Warehouse] = append(byWarehouse[m.Warehouse], m.FrameNo)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for warehouse, names := range byWarehouse {
			if err := tx.MoveSerialNos(ctx, names, warehouse, SerialActive); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReleaseSerialNos reverts frames to not-received.
func (s *Service) ReleaseSerialNos(ctx context.Context, frames []string) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.MoveSerialNos(ctx, frames, "", SerialInactive)
	})
}

// CreateStockEntry creates and submits a material transfer, moving every
// serial to the target warehouse.
func (s *Service) CreateStockEntry(ctx context.Context, input StockEntryInput) (StockEntry, error) {
	if input.FromWarehouse == "" || input.ToWarehouse == "" {
		return StockEntry{}, shared.Invalid("warehouse", "source and target warehouse required")
	}
	if input.FromWarehouse == input.ToWarehouse {
		return StockEntry{}, shared.Invalid("warehouse", "source and target warehouse must differ")
	}
	if len(input.Items) == 0 {
		return StockEntry{}, ErrNoSerials
	}
	now := s.now()
	entry := StockEntry{
		Meta: shared.Meta{
			Name:      shared.NewDocName("STE", now),
			Owner:     shared.ActorFromContext(ctx),
			DocStatus: shared.DocSubmitted,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Purpose:          PurposeMaterialTransfer,
		FromWarehouse:    input.FromWarehouse,
		ToWarehouse:      input.ToWarehouse,
		ReferenceDoctype: input.ReferenceDoctype,
		ReferenceName:    input.ReferenceName,
	}
	for _, it := range input.Items {
		if it.Qty <= 0 {
			it.Qty = 1
		}
		entry.Items = append(entry.Items, it)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertStockEntry(ctx, entry); err != nil {
			return err
		}
		return tx.MoveSerialNos(ctx, entry.SerialNames(), entry.ToWarehouse, SerialActive)
	})
	if err != nil {
		return StockEntry{}, err
	}
	s.recordAudit(ctx, "STOCK_ENTRY_SUBMIT", entry.Name, map[string]any{"reference": entry.ReferenceName, "serials": len(entry.Items)})
	return entry, nil
}

// CancelStockEntry cancels a submitted entry and moves serials back.
func (s *Service) CancelStockEntry(ctx context.Context, name string) error {
	entry, err := s.repo.GetStockEntry(ctx, name)
	if err != nil {
		return err
	}
	if entry.DocStatus != shared.DocSubmitted {
		return fmt.Errorf("%w: stock entry %s is %s", ErrInvalidState, name, entry.DocStatus)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStockEntryStatus(ctx, name, shared.DocCancelled); err != nil {
			return err
		}
		return tx.MoveSerialNos(ctx, entry.SerialNames(), entry.FromWarehouse, SerialActive)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "STOCK_ENTRY_CANCEL", name, nil)
	return nil
}

// GetStockEntry returns a stock entry.
func (s *Service) GetStockEntry(ctx context.Context, name string) (StockEntry, error) {
	return s.repo.GetStockEntry(ctx, name)
}

func (s *Service) recordAudit(ctx context.Context, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "inventory", EntityID: entityID, Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
