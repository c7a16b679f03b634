package framebundle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/battery"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBundle(ctx context.Context, name string) (Bundle, error)
	GetActiveByFrame(ctx context.Context, frameNo string) (Bundle, error)
	GetSwapping(ctx context.Context, name string) (Swapping, error)
	RefreshAging(ctx context.Context, asOf time.Time) (int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// NotifierPort delivers best-effort notifications.
type NotifierPort interface {
	Notify(ctx context.Context, subject, body string)
}

// Service maintains frame bundles and their battery ledger.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	notifier NotifierPort
	cache    shared.Invalidator
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the frame bundle service.
func NewService(repo RepositoryPort, audit AuditPort, notifier NotifierPort, cache shared.Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, notifier: notifier, cache: cache, logger: logger, now: time.Now}
}

// Create stores a draft bundle. The battery, when given, must be In Stock and
// the frame must not already have an active bundle.
func (s *Service) Create(ctx context.Context, input CreateInput) (Bundle, error) {
	b, err := s.newBundle(ctx, input.FrameNo, input.BatterySerialNo, input.KeyNo)
	if err != nil {
		return Bundle{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.insert(ctx, tx, &b, false)
	})
	if err != nil {
		return Bundle{}, err
	}
	s.recordAudit(ctx, "FRAME_BUNDLE_CREATE", b.Name, map[string]any{"frame_no": b.FrameNo, "battery": b.BatterySerialNo})
	return b, nil
}

func (s *Service) newBundle(ctx context.Context, frame, serial, key string) (Bundle, error) {
	frame = strings.TrimSpace(frame)
	if frame == "" {
		return Bundle{}, shared.Invalid("frame_no", "required")
	}
	now := s.now()
	return Bundle{
		Meta: shared.Meta{
			Owner:     shared.ActorFromContext(ctx),
			DocStatus: shared.DocDraft,
			CreatedAt: now,
			UpdatedAt: now,
		},
		FrameNo:         frame,
		BatterySerialNo: strings.TrimSpace(serial),
		KeyNo:           strings.TrimSpace(key),
		HistoryDigest:   Digest(nil, nil),
	}, nil
}

func (s *Service) insert(ctx context.Context, tx TxRepository, b *Bundle, submit bool) error {
	active, err := tx.LockActiveByFrames(ctx, []string{b.FrameNo})
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return fmt.Errorf("%w: %s (%s)", ErrBundleExists, b.FrameNo, active[0].Name)
	}
	if b.BatterySerialNo != "" {
		bat, err := tx.Batteries().GetBatteryForUpdate(ctx, b.BatterySerialNo)
		if err != nil {
			return err
		}
		if bat.Status != battery.StatusInStock {
			return fmt.Errorf("%w: battery %s is %s", ErrInvalidState, bat.SerialNo, bat.Status)
		}
		if err := requireFreeBattery(ctx, tx, bat.SerialNo); err != nil {
			return err
		}
	}
	b.Name, err = tx.NextName(ctx, b.FrameNo)
	if err != nil {
		return err
	}
	if err := tx.InsertBundle(ctx, *b); err != nil {
		return err
	}
	if !submit {
		return nil
	}
	return s.submitInTx(ctx, tx, b)
}

// requireFreeBattery rejects a battery another draft or submitted bundle
// already references.
func requireFreeBattery(ctx context.Context, tx TxRepository, serial string) error {
	frame, err := tx.Batteries().BundleFrameFor(ctx, serial)
	if err != nil {
		return err
	}
	if frame != "" {
		return fmt.Errorf("%w: %s is on frame %s", battery.ErrHeldByBundle, serial, frame)
	}
	return nil
}

// Get returns a bundle with its ledger.
func (s *Service) Get(ctx context.Context, name string) (Bundle, error) {
	return s.repo.GetBundle(ctx, name)
}

// GetByFrame returns the active bundle of a frame.
func (s *Service) GetByFrame(ctx context.Context, frameNo string) (Bundle, error) {
	return s.repo.GetActiveByFrame(ctx, frameNo)
}

// Save applies a normal edit. Key number may always change; the battery only
// while the bundle is a draft. Any difference between the submitted history
// rows and the stored ledger is rejected.
func (s *Service) Save(ctx context.Context, b Bundle) (Bundle, error) {
	var saved Bundle
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetBundleForUpdate(ctx, b.Name)
		if err != nil {
			return err
		}
		if current.DocStatus == shared.DocCancelled {
			return fmt.Errorf("%w: %s is cancelled", ErrInvalidState, current.Name)
		}
		b.HistoryDigest = current.HistoryDigest
		if !HistoryIntact(b) {
			return ErrHistoryTampered
		}
		serial := strings.TrimSpace(b.BatterySerialNo)
		if serial != current.BatterySerialNo {
			if current.DocStatus != shared.DocDraft {
				return fmt.Errorf("%w: battery of submitted bundle %s changes only through a swap", ErrInvalidState, current.Name)
			}
			if serial != "" {
				bat, err := tx.Batteries().GetBatteryForUpdate(ctx, serial)
				if err != nil {
					return err
				}
				if bat.Status != battery.StatusInStock {
					return fmt.Errorf("%w: battery %s is %s", ErrInvalidState, serial, bat.Status)
				}
				if err := requireFreeBattery(ctx, tx, serial); err != nil {
					return err
				}
			}
		}
		current.BatterySerialNo = serial
		current.KeyNo = strings.TrimSpace(b.KeyNo)
		if err := tx.UpdateBundle(ctx, current); err != nil {
			return err
		}
		saved = current
		return nil
	})
	if err != nil {
		return Bundle{}, err
	}
	return saved, nil
}

// Submit moves the bundle's battery from In Stock to Out, held by the frame.
func (s *Service) Submit(ctx context.Context, name string) (Bundle, error) {
	var b Bundle
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		b, err = tx.GetBundleForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if b.DocStatus != shared.DocDraft {
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, name, b.DocStatus)
		}
		return s.submitInTx(ctx, tx, &b)
	})
	if err != nil {
		return Bundle{}, err
	}
	s.recordAudit(ctx, "FRAME_BUNDLE_SUBMIT", name, map[string]any{"frame_no": b.FrameNo, "battery": b.BatterySerialNo})
	shared.Invalidate(ctx, s.cache, s.logger)
	return b, nil
}

func (s *Service) submitInTx(ctx context.Context, tx TxRepository, b *Bundle) error {
	if b.BatterySerialNo != "" {
		if err := moveBattery(ctx, tx, b.BatterySerialNo, battery.StatusOut, b.FrameNo, false); err != nil {
			return err
		}
	}
	b.DocStatus = shared.DocSubmitted
	return tx.UpdateStatus(ctx, b.Name, b.DocStatus)
}

// Cancel returns a held battery to stock and cancels the bundle. A discarded
// battery stays discarded.
func (s *Service) Cancel(ctx context.Context, name string) (Bundle, error) {
	var b Bundle
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		b, err = tx.GetBundleForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if b.DocStatus != shared.DocSubmitted {
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, name, b.DocStatus)
		}
		if b.BatterySerialNo != "" && !b.Discarded() {
			bat, err := tx.Batteries().GetBatteryForUpdate(ctx, b.BatterySerialNo)
			if err != nil {
				return err
			}
			if bat.Status == battery.StatusOut && bat.FrameNo == b.FrameNo {
				if err := tx.Batteries().UpdateBatteryState(ctx, bat.SerialNo, battery.StatusInStock, ""); err != nil {
					return err
				}
			}
		}
		b.DocStatus = shared.DocCancelled
		return tx.UpdateStatus(ctx, name, b.DocStatus)
	})
	if err != nil {
		return Bundle{}, err
	}
	s.recordAudit(ctx, "FRAME_BUNDLE_CANCEL", name, map[string]any{"frame_no": b.FrameNo})
	shared.Invalidate(ctx, s.cache, s.logger)
	return b, nil
}

// SwapBatteries exchanges the batteries of two submitted frames. Both bundles
// and both batteries are locked in one transaction; each bundle gains one
// swap_history row.
func (s *Service) SwapBatteries(ctx context.Context, currentFrame, targetFrame string) (SwapResult, error) {
	var res SwapResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		res, err = s.swapInTx(ctx, tx, currentFrame, targetFrame)
		return err
	})
	if err != nil {
		return SwapResult{}, err
	}
	s.afterSwap(ctx, res)
	return res, nil
}

func (s *Service) swapInTx(ctx context.Context, tx TxRepository, currentFrame, targetFrame string) (SwapResult, error) {
	currentFrame, targetFrame = strings.TrimSpace(currentFrame), strings.TrimSpace(targetFrame)
	if currentFrame == "" || targetFrame == "" {
		return SwapResult{}, shared.Invalid("frame", "current and target frame required")
	}
	if currentFrame == targetFrame {
		return SwapResult{}, shared.Invalid("target_frame", "must differ from current frame")
	}
	locked, err := tx.LockActiveByFrames(ctx, []string{currentFrame, targetFrame})
	if err != nil {
		return SwapResult{}, err
	}
	byFrame := make(map[string]Bundle, len(locked))
	for _, b := range locked {
		byFrame[b.FrameNo] = b
	}
	cur, ok := byFrame[currentFrame]
	if !ok {
		return SwapResult{}, fmt.Errorf("%w: no active bundle for frame %s", ErrNotFound, currentFrame)
	}
	tgt, ok := byFrame[targetFrame]
	if !ok {
		return SwapResult{}, fmt.Errorf("%w: no active bundle for frame %s", ErrNotFound, targetFrame)
	}
	for _, b := range []Bundle{cur, tgt} {
		if b.DocStatus != shared.DocSubmitted {
			return SwapResult{}, fmt.Errorf("%w: bundle %s is %s", ErrInvalidState, b.Name, b.DocStatus)
		}
		if b.Discarded() {
			return SwapResult{}, fmt.Errorf("%w: frame %s", ErrAlreadyDiscarded, b.FrameNo)
		}
		if !HistoryIntact(b) {
			return SwapResult{}, fmt.Errorf("%w: bundle %s", ErrHistoryTampered, b.Name)
		}
	}
	if cur.BatterySerialNo == "" && tgt.BatterySerialNo == "" {
		return SwapResult{}, ErrNoBattery
	}

	serials := make([]string, 0, 2)
	for _, serial := range []string{cur.BatterySerialNo, tgt.BatterySerialNo} {
		if serial != "" {
			serials = append(serials, serial)
		}
	}
	sort.Strings(serials)
	for _, serial := range serials {
		bat, err := tx.Batteries().GetBatteryForUpdate(ctx, serial)
		if err != nil {
			return SwapResult{}, err
		}
		if bat.Status != battery.StatusOut {
			return SwapResult{}, fmt.Errorf("%w: battery %s is %s", ErrInvalidState, serial, bat.Status)
		}
	}

	at := ledgerTime(s.now())
	actor := shared.ActorFromContext(ctx)
	curOld, tgtOld := cur.BatterySerialNo, tgt.BatterySerialNo
	cur.SwapHistory = append(cur.SwapHistory, SwapEntry{SwapDate: at, CounterpartFrame: tgt.FrameNo, SwappedBy: actor, OldBattery: curOld, NewBattery: tgtOld})
	tgt.SwapHistory = append(tgt.SwapHistory, SwapEntry{SwapDate: at, CounterpartFrame: cur.FrameNo, SwappedBy: actor, OldBattery: tgtOld, NewBattery: curOld})
	cur.BatterySerialNo, tgt.BatterySerialNo = tgtOld, curOld

	for _, b := range []*Bundle{&cur, &tgt} {
		b.HistoryDigest = Digest(b.SwapHistory, b.DiscardHistory)
		if err := tx.AppendSwap(ctx, b.Name, b.SwapHistory[len(b.SwapHistory)-1], b.HistoryDigest); err != nil {
			return SwapResult{}, err
		}
		if err := tx.UpdateBundle(ctx, *b); err != nil {
			return SwapResult{}, err
		}
		if b.BatterySerialNo != "" {
			if err := tx.Batteries().UpdateBatteryState(ctx, b.BatterySerialNo, battery.StatusOut, b.FrameNo); err != nil {
				return SwapResult{}, err
			}
		}
	}
	return SwapResult{Current: cur, Target: tgt}, nil
}

func (s *Service) afterSwap(ctx context.Context, res SwapResult) {
	s.logger.Info("batteries swapped", slog.String("current_frame", res.Current.FrameNo), slog.String("target_frame", res.Target.FrameNo))
	s.recordAudit(ctx, "FRAME_BUNDLE_SWAP", res.Current.Name, map[string]any{
		"target":          res.Target.Name,
		"current_battery": res.Current.BatterySerialNo,
		"target_battery":  res.Target.BatterySerialNo,
	})
	shared.Invalidate(ctx, s.cache, s.logger)
}

// MarkBatteryExpired discards the battery of a frame: the bundle is flagged,
// one discard_history row is appended and the battery becomes Discarded.
func (s *Service) MarkBatteryExpired(ctx context.Context, frameNo, reason string) (Bundle, error) {
	frameNo = strings.TrimSpace(frameNo)
	var b Bundle
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockActiveByFrames(ctx, []string{frameNo})
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			return fmt.Errorf("%w: no active bundle for frame %s", ErrNotFound, frameNo)
		}
		b = locked[0]
		if b.Discarded() {
			return fmt.Errorf("%w: frame %s", ErrAlreadyDiscarded, frameNo)
		}
		if b.DocStatus != shared.DocSubmitted {
			return fmt.Errorf("%w: bundle %s is %s", ErrInvalidState, b.Name, b.DocStatus)
		}
		if !HistoryIntact(b) {
			return fmt.Errorf("%w: bundle %s", ErrHistoryTampered, b.Name)
		}
		entry := DiscardEntry{
			DiscardDate:     ledgerTime(s.now()),
			BatterySerialNo: b.BatterySerialNo,
			DiscardedBy:     shared.ActorFromContext(ctx),
			Reason:          strings.TrimSpace(reason),
		}
		b.DiscardHistory = append(b.DiscardHistory, entry)
		b.IsBatteryExpired = true
		b.HistoryDigest = Digest(b.SwapHistory, b.DiscardHistory)
		if err := tx.AppendDiscard(ctx, b.Name, entry, b.HistoryDigest); err != nil {
			return err
		}
		if err := tx.UpdateBundle(ctx, b); err != nil {
			return err
		}
		if b.BatterySerialNo == "" {
			return nil
		}
		return moveBattery(ctx, tx, b.BatterySerialNo, battery.StatusDiscarded, b.FrameNo, true)
	})
	if err != nil {
		return Bundle{}, err
	}
	s.recordAudit(ctx, "FRAME_BUNDLE_DISCARD", b.Name, map[string]any{"frame_no": b.FrameNo, "battery": b.BatterySerialNo, "reason": reason})
	shared.Invalidate(ctx, s.cache, s.logger)
	if s.notifier != nil {
		s.notifier.Notify(ctx,
			fmt.Sprintf("Battery discarded on frame %s", b.FrameNo),
			fmt.Sprintf("Battery %s on frame %s was marked expired by %s. Reason: %s",
				shared.Coalesce(b.BatterySerialNo, "(none)"), b.FrameNo, shared.ActorFromContext(ctx), shared.Coalesce(reason, "n/a")))
	}
	return b, nil
}

// Attach links a battery and key to a frame. An existing bundle without a
// battery receives it; a frame without a bundle gets a submitted one.
func (s *Service) Attach(ctx context.Context, input AttachInput) (AttachResult, error) {
	input.FrameNo = strings.TrimSpace(input.FrameNo)
	input.BatterySerialNo = strings.TrimSpace(input.BatterySerialNo)
	input.KeyNo = strings.TrimSpace(input.KeyNo)
	var res AttachResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockActiveByFrames(ctx, []string{input.FrameNo})
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			b, err := s.newBundle(ctx, input.FrameNo, input.BatterySerialNo, input.KeyNo)
			if err != nil {
				return err
			}
			if err := s.insert(ctx, tx, &b, true); err != nil {
				return err
			}
			res = AttachResult{Bundle: b.Name, Created: true, Changed: true}
			return nil
		}
		b := locked[0]
		res.Bundle = b.Name
		if input.KeyNo != "" && input.KeyNo != b.KeyNo {
			b.KeyNo = input.KeyNo
			res.Changed = true
		}
		if input.BatterySerialNo != "" && input.BatterySerialNo != b.BatterySerialNo {
			if b.BatterySerialNo != "" {
				return fmt.Errorf("%w: %s holds %s", ErrBatteryMismatch, b.FrameNo, b.BatterySerialNo)
			}
			if b.Discarded() {
				return fmt.Errorf("%w: frame %s", ErrAlreadyDiscarded, b.FrameNo)
			}
			if err := requireFreeBattery(ctx, tx, input.BatterySerialNo); err != nil {
				return err
			}
			if b.DocStatus == shared.DocSubmitted {
				if err := moveBattery(ctx, tx, input.BatterySerialNo, battery.StatusOut, b.FrameNo, false); err != nil {
					return err
				}
			} else {
				bat, err := tx.Batteries().GetBatteryForUpdate(ctx, input.BatterySerialNo)
				if err != nil {
					return err
				}
				if bat.Status != battery.StatusInStock {
					return fmt.Errorf("%w: battery %s is %s", ErrInvalidState, bat.SerialNo, bat.Status)
				}
			}
			b.BatterySerialNo = input.BatterySerialNo
			res.Changed = true
		}
		if !res.Changed {
			return nil
		}
		return tx.UpdateBundle(ctx, b)
	})
	if err != nil {
		return AttachResult{}, err
	}
	if res.Changed {
		s.recordAudit(ctx, "FRAME_BUNDLE_ATTACH", res.Bundle, map[string]any{"frame_no": input.FrameNo, "battery": input.BatterySerialNo, "created": res.Created})
	}
	return res, nil
}

// RefreshAging recomputes battery_aging_days for every submitted bundle.
func (s *Service) RefreshAging(ctx context.Context) (int64, error) {
	n, err := s.repo.RefreshAging(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.logger.Info("battery aging refreshed", slog.Int64("bundles", n))
	shared.Invalidate(ctx, s.cache, s.logger)
	return n, nil
}

// CreateSwapping drafts a battery swapping document.
func (s *Service) CreateSwapping(ctx context.Context, currentFrame, targetFrame string) (Swapping, error) {
	currentFrame, targetFrame = strings.TrimSpace(currentFrame), strings.TrimSpace(targetFrame)
	details := map[string]string{}
	if currentFrame == "" {
		details["current_frame"] = "required"
	}
	if targetFrame == "" {
		details["target_frame"] = "required"
	}
	if currentFrame != "" && currentFrame == targetFrame {
		details["target_frame"] = "must differ from current frame"
	}
	if len(details) > 0 {
		return Swapping{}, shared.NewValidationError(details)
	}
	now := s.now()
	sw := Swapping{
		Meta: shared.Meta{
			Name:      shared.NewDocName("BSW", now),
			Owner:     shared.ActorFromContext(ctx),
			DocStatus: shared.DocDraft,
			CreatedAt: now,
			UpdatedAt: now,
		},
		CurrentFrame: currentFrame,
		TargetFrame:  targetFrame,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertSwapping(ctx, sw)
	})
	if err != nil {
		return Swapping{}, err
	}
	return sw, nil
}

// GetSwapping returns a battery swapping document.
func (s *Service) GetSwapping(ctx context.Context, name string) (Swapping, error) {
	return s.repo.GetSwapping(ctx, name)
}

// SubmitSwapping performs the swap described by a draft swapping document in
// the same transaction that submits it.
func (s *Service) SubmitSwapping(ctx context.Context, name string) (Swapping, error) {
	var sw Swapping
	var res SwapResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sw, err = tx.GetSwappingForUpdate(ctx, name)
		if err != nil {
			return err
		}
		if sw.DocStatus != shared.DocDraft {
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, name, sw.DocStatus)
		}
		res, err = s.swapInTx(ctx, tx, sw.CurrentFrame, sw.TargetFrame)
		if err != nil {
			return err
		}
		at := ledgerTime(s.now())
		sw.SwappedAt = &at
		sw.DocStatus = shared.DocSubmitted
		return tx.MarkSwapped(ctx, name, at)
	})
	if err != nil {
		return Swapping{}, err
	}
	s.afterSwap(ctx, res)
	return sw, nil
}

func moveBattery(ctx context.Context, tx TxRepository, serial string, to battery.Status, frame string, viaFrameDiscard bool) error {
	bat, err := tx.Batteries().GetBatteryForUpdate(ctx, serial)
	if err != nil {
		return err
	}
	if err := battery.CheckTransition(bat.Status, to, viaFrameDiscard); err != nil {
		return fmt.Errorf("battery %s: %w", serial, err)
	}
	return tx.Batteries().UpdateBatteryState(ctx, serial, to, frame)
}

func (s *Service) recordAudit(ctx context.Context, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "frame_bundle", EntityID: entityID, Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
