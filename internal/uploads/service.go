package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/filestore"
	"github.com/odyssey-erp/odyssey-logistics/internal/ingest"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// RepositoryPort describes the upload log operations used by Service.
type RepositoryPort interface {
	Insert(ctx context.Context, u Upload) error
	Get(ctx context.Context, name string) (Upload, error)
	List(ctx context.Context, kind Kind, limit int) ([]Upload, error)
	MarkProcessing(ctx context.Context, name string, at time.Time) (bool, error)
	SaveResult(ctx context.Context, name string, status Status, res ingest.Result, at time.Time) error
}

// LockerPort serialises processing of one upload.
type LockerPort interface {
	Do(ctx context.Context, key string, fn func(context.Context) error) error
}

// IdempotencyPort records applied uploads.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsPort records upload outcomes.
type MetricsPort interface {
	ObserveUpload(kind, status string, success, failed, skipped int, seconds float64)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Deps groups the collaborators of Service. Locker, Idempotency, Metrics,
// Audit and Cache are optional.
type Deps struct {
	Repo        RepositoryPort
	Files       filestore.Store
	Batteries   BatteryPort
	Bundles     BundlePort
	Inventory   InventoryPort
	Plans       PlanPort
	Dispatches  DispatchPort
	Locker      LockerPort
	Idempotency IdempotencyPort
	Metrics     MetricsPort
	Audit       AuditPort
	Cache       shared.Invalidator
	Logger      *slog.Logger
}

// Service stores uploaded files and applies them to logistics documents.
type Service struct {
	repo        RepositoryPort
	files       filestore.Store
	batteries   BatteryPort
	bundles     BundlePort
	inventory   InventoryPort
	plans       PlanPort
	dispatches  DispatchPort
	locker      LockerPort
	idempotency IdempotencyPort
	metrics     MetricsPort
	audit       AuditPort
	cache       shared.Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// NewService wires the upload pipeline.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        deps.Repo,
		files:       deps.Files,
		batteries:   deps.Batteries,
		bundles:     deps.Bundles,
		inventory:   deps.Inventory,
		plans:       deps.Plans,
		dispatches:  deps.Dispatches,
		locker:      deps.Locker,
		idempotency: deps.Idempotency,
		metrics:     deps.Metrics,
		audit:       deps.Audit,
		cache:       deps.Cache,
		logger:      logger,
		now:         time.Now,
	}
}

// Upload stores the file and processes it straight away.
func (s *Service) Upload(ctx context.Context, kind Kind, parent, filename string, r io.Reader) (Upload, error) {
	if !kind.Valid() {
		return Upload{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if kind.NeedsParent() && strings.TrimSpace(parent) == "" {
		return Upload{}, ErrParentRequired
	}
	switch strings.ToLower(path.Ext(filename)) {
	case ".csv", ".xlsx", ".xlsm":
	default:
		return Upload{}, fmt.Errorf("%w: unsupported file type %q", shared.ErrValidation, filename)
	}
	ref, err := s.files.Save(ctx, filename, r)
	if err != nil {
		return Upload{}, fmt.Errorf("store upload: %w", err)
	}
	return s.Create(ctx, CreateInput{Kind: kind, FileRef: ref, Parent: parent})
}

// Create logs an upload for a file already in the store and processes it.
func (s *Service) Create(ctx context.Context, input CreateInput) (Upload, error) {
	input.Parent = strings.TrimSpace(input.Parent)
	input.FileRef = strings.TrimSpace(input.FileRef)
	if err := input.Validate(); err != nil {
		return Upload{}, err
	}
	now := s.now()
	u := Upload{
		Name:      shared.NewDocName("UPL", now),
		Kind:      input.Kind,
		FileRef:   input.FileRef,
		Parent:    input.Parent,
		Status:    StatusPending,
		Errors:    []ingest.RowError{},
		Owner:     shared.ActorFromContext(ctx),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, u); err != nil {
		return Upload{}, err
	}
	s.recordAudit(ctx, "UPLOAD_CREATE", u.Name, map[string]any{"kind": string(u.Kind), "file_ref": u.FileRef})
	return s.Process(ctx, u.Name)
}

// Get returns an upload log.
func (s *Service) Get(ctx context.Context, name string) (Upload, error) {
	return s.repo.Get(ctx, name)
}

// List returns recent uploads.
func (s *Service) List(ctx context.Context, kind Kind, limit int) ([]Upload, error) {
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return s.repo.List(ctx, kind, limit)
}

// Process applies a pending upload once. Concurrent calls for the same upload
// are rejected while one holds the lock.
func (s *Service) Process(ctx context.Context, name string) (Upload, error) {
	var out Upload
	err := s.withLock(ctx, shared.UploadLockKey(name), func(ctx context.Context) error {
		var err error
		out, err = s.process(ctx, name)
		return err
	})
	if err != nil {
		return Upload{}, err
	}
	return out, nil
}

func (s *Service) process(ctx context.Context, name string) (Upload, error) {
	u, err := s.repo.Get(ctx, name)
	if err != nil {
		return Upload{}, err
	}
	if u.Status.Final() {
		return Upload{}, fmt.Errorf("%w: %s is %s", ErrAlreadyProcessed, name, u.Status)
	}
	start := s.now()
	ok, err := s.repo.MarkProcessing(ctx, name, start)
	if err != nil {
		return Upload{}, err
	}
	if !ok {
		return Upload{}, fmt.Errorf("%w: %s", ErrAlreadyProcessed, name)
	}
	key := "upload:" + name
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "uploads"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Upload{}, fmt.Errorf("%w: %s", ErrAlreadyProcessed, name)
			}
			return Upload{}, err
		}
	}

	res, err := s.run(ctx, u)
	if err != nil {
		if !recordable(err) {
			// Infrastructure failures leave the upload retryable.
			if s.idempotency != nil {
				_ = s.idempotency.Delete(context.WithoutCancel(ctx), key)
			}
			s.logger.Error("upload processing failed", slog.String("upload", name), slog.String("kind", string(u.Kind)), slog.Any("error", err))
			return Upload{}, err
		}
		res = ingest.Result{Errors: []ingest.RowError{{Line: 1, Message: err.Error()}}}
	}

	status := StatusFor(res)
	if res.Total == 0 && len(res.Errors) > 0 {
		status = StatusFailed
	}
	finished := s.now()
	if err := s.repo.SaveResult(ctx, name, status, res, finished); err != nil {
		return Upload{}, err
	}
	u.Status = status
	u.Total, u.Success, u.Failed, u.Skipped = res.Total, res.Success, res.Failed, res.Skipped
	u.Errors = res.Errors
	if u.Errors == nil {
		u.Errors = []ingest.RowError{}
	}
	u.UpdatedAt = finished

	if s.metrics != nil {
		s.metrics.ObserveUpload(string(u.Kind), string(status), res.Success, res.Failed, res.Skipped, finished.Sub(start).Seconds())
	}
	if res.Success > 0 {
		shared.Invalidate(ctx, s.cache, s.logger)
	}
	s.recordAudit(ctx, "UPLOAD_PROCESS", name, map[string]any{
		"kind":    string(u.Kind),
		"status":  string(status),
		"total":   res.Total,
		"success": res.Success,
		"failed":  res.Failed,
	})
	s.logger.Info("upload processed",
		slog.String("upload", name),
		slog.String("kind", string(u.Kind)),
		slog.String("status", string(status)),
		slog.Int("total", res.Total),
		slog.Int("success", res.Success),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
	)
	return u, nil
}

func (s *Service) run(ctx context.Context, u Upload) (ingest.Result, error) {
	data, err := s.files.Open(ctx, u.FileRef)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) || errors.Is(err, filestore.ErrInvalidRef) {
			return ingest.Result{}, fmt.Errorf("%w: %w", shared.ErrValidation, err)
		}
		return ingest.Result{}, err
	}
	table, err := ingest.ReadTable(u.FileRef, data)
	if err != nil {
		return ingest.Result{}, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	rows, err := ingest.Extract(table, FieldsFor(u.Kind))
	if err != nil {
		return ingest.Result{}, err
	}
	switch u.Kind {
	case KindBattery:
		return s.processBatteries(ctx, rows), nil
	case KindBatteryKey:
		return s.processBatteryKeys(ctx, rows), nil
	case KindLoadPlan:
		return s.processLoadPlans(ctx, rows), nil
	case KindLoadDispatch:
		return s.processDispatchItems(ctx, u.Parent, rows)
	}
	return ingest.Result{}, fmt.Errorf("%w: %q", ErrUnknownKind, u.Kind)
}

// recordable reports whether err is a problem with the file or its target
// that belongs in the upload log rather than a reason to retry.
func recordable(err error) bool {
	var missing *ingest.MissingColumnsError
	return errors.As(err, &missing) ||
		errors.Is(err, shared.ErrValidation) ||
		errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrInvalidState)
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
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "upload",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("record audit", slog.String("entity_id", entityID), slog.Any("error", err))
	}
}
