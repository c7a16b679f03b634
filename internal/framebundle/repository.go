package framebundle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-logistics/internal/battery"
	"github.com/odyssey-erp/odyssey-logistics/internal/platform/db"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Batteries shares the same
// transaction so ledger changes and battery status commit together.
type TxRepository interface {
	NextName(ctx context.Context, frameNo string) (string, error)
	InsertBundle(ctx context.Context, b Bundle) error
	GetBundleForUpdate(ctx context.Context, name string) (Bundle, error)
	LockActiveByFrames(ctx context.Context, frames []string) ([]Bundle, error)
	UpdateBundle(ctx context.Context, b Bundle) error
	UpdateStatus(ctx context.Context, name string, docstatus shared.DocStatus) error
	AppendSwap(ctx context.Context, name string, entry SwapEntry, digest []byte) error
	AppendDiscard(ctx context.Context, name string, entry DiscardEntry, digest []byte) error
	InsertSwapping(ctx context.Context, s Swapping) error
	GetSwappingForUpdate(ctx context.Context, name string) (Swapping, error)
	MarkSwapped(ctx context.Context, name string, at time.Time) error
	Batteries() battery.TxRepository
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const bundleColumns = `name, frame_no, COALESCE(battery_serial_no, ''), COALESCE(key_no, ''), is_battery_expired, battery_aging_days,
	history_digest, docstatus, owner, created_at, updated_at`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanBundle(row pgx.Row) (Bundle, error) {
	var b Bundle
	if err := row.Scan(&b.Name, &b.FrameNo, &b.BatterySerialNo, &b.KeyNo, &b.IsBatteryExpired, &b.BatteryAgingDays,
		&b.HistoryDigest, &b.DocStatus, &b.Owner, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bundle{}, ErrNotFound
		}
		return Bundle{}, err
	}
	return b, nil
}

func loadHistory(ctx context.Context, q querier, b *Bundle) error {
	rows, err := q.Query(ctx, `SELECT swap_date, counterpart_frame, swapped_by, COALESCE(old_battery, ''), COALESCE(new_battery, '')
		FROM frame_bundle_swaps WHERE frame_bundle = $1 ORDER BY idx`, b.Name)
	if err != nil {
		return err
	}
	swaps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SwapEntry, error) {
		var s SwapEntry
		err := row.Scan(&s.SwapDate, &s.CounterpartFrame, &s.SwappedBy, &s.OldBattery, &s.NewBattery)
		return s, err
	})
	if err != nil {
		return err
	}
	rows, err = q.Query(ctx, `SELECT discard_date, COALESCE(battery_serial_no, ''), discarded_by, COALESCE(reason, '')
		FROM frame_bundle_discards WHERE frame_bundle = $1`, b.Name)
	if err != nil {
		return err
	}
	discards, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (DiscardEntry, error) {
		var d DiscardEntry
		err := row.Scan(&d.DiscardDate, &d.BatterySerialNo, &d.DiscardedBy, &d.Reason)
		return d, err
	})
	if err != nil {
		return err
	}
	b.SwapHistory, b.DiscardHistory = swaps, discards
	return nil
}

func loadBundle(ctx context.Context, q querier, where string, arg any, lock bool) (Bundle, error) {
	sql := `SELECT ` + bundleColumns + ` FROM frame_bundles WHERE ` + where
	if lock {
		sql += ` FOR UPDATE`
	}
	b, err := scanBundle(q.QueryRow(ctx, sql, arg))
	if err != nil {
		return Bundle{}, err
	}
	if err := loadHistory(ctx, q, &b); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

// GetBundle loads a bundle with its ledger.
func (r *Repository) GetBundle(ctx context.Context, name string) (Bundle, error) {
	return loadBundle(ctx, r.pool, `name = $1`, name, false)
}

// GetActiveByFrame loads the non-cancelled bundle of a frame.
func (r *Repository) GetActiveByFrame(ctx context.Context, frameNo string) (Bundle, error) {
	return loadBundle(ctx, r.pool, `frame_no = $1 AND docstatus < 2`, frameNo, false)
}

// GetSwapping loads a battery swapping document.
func (r *Repository) GetSwapping(ctx context.Context, name string) (Swapping, error) {
	return scanSwapping(r.pool.QueryRow(ctx, swappingQuery, name))
}

// RefreshAging recomputes battery_aging_days on submitted bundles as of asOf
// and flags bundles whose battery is past its expiry date.
func (r *Repository) RefreshAging(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE frame_bundles fb
		SET battery_aging_days = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($1::timestamptz - fb.created_at)) / 86400))::int,
			is_battery_expired = fb.is_battery_expired OR EXISTS (
				SELECT 1 FROM batteries b
				WHERE b.battery_serial_no = fb.battery_serial_no AND b.battery_expiry_date < $1::date),
			updated_at = NOW()
		WHERE fb.docstatus = 1`, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) Batteries() battery.TxRepository {
	return battery.NewTxRepository(t.tx)
}

func (t *txRepo) NextName(ctx context.Context, frameNo string) (string, error) {
	var n int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM frame_bundles WHERE frame_no = $1`, frameNo).Scan(&n); err != nil {
		return "", err
	}
	if n == 0 {
		return frameNo, nil
	}
	return fmt.Sprintf("%s-%d", frameNo, n), nil
}

func (t *txRepo) InsertBundle(ctx context.Context, b Bundle) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO frame_bundles (name, frame_no, battery_serial_no, key_no, is_battery_expired, battery_aging_days,
		history_digest, docstatus, owner, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $10)`,
		b.Name, b.FrameNo, b.BatterySerialNo, b.KeyNo, b.IsBatteryExpired, b.BatteryAgingDays, b.HistoryDigest, b.DocStatus, b.Owner, b.CreatedAt)
	if shared.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrBundleExists, b.FrameNo)
	}
	return err
}

func (t *txRepo) GetBundleForUpdate(ctx context.Context, name string) (Bundle, error) {
	return loadBundle(ctx, t.tx, `name = $1`, name, true)
}

func (t *txRepo) LockActiveByFrames(ctx context.Context, frames []string) ([]Bundle, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+bundleColumns+` FROM frame_bundles
		WHERE frame_no = ANY($1) AND docstatus < 2 ORDER BY frame_no FOR UPDATE`, frames)
	if err != nil {
		return nil, err
	}
	bundles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Bundle, error) {
		return scanBundle(row)
	})
	if err != nil {
		return nil, err
	}
	for i := range bundles {
		if err := loadHistory(ctx, t.tx, &bundles[i]); err != nil {
			return nil, err
		}
	}
	return bundles, nil
}

func (t *txRepo) UpdateBundle(ctx context.Context, b Bundle) error {
	tag, err := t.tx.Exec(ctx, `UPDATE frame_bundles SET battery_serial_no = NULLIF($2, ''), key_no = NULLIF($3, ''),
		is_battery_expired = $4, battery_aging_days = $5, updated_at = NOW() WHERE name = $1`,
		b.Name, b.BatterySerialNo, b.KeyNo, b.IsBatteryExpired, b.BatteryAgingDays)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) UpdateStatus(ctx context.Context, name string, docstatus shared.DocStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE frame_bundles SET docstatus = $2, updated_at = NOW() WHERE name = $1`, name, docstatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) AppendSwap(ctx context.Context, name string, e SwapEntry, digest []byte) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO frame_bundle_swaps (frame_bundle, idx, swap_date, counterpart_frame, swapped_by, old_battery, new_battery)
		VALUES ($1, (SELECT COALESCE(MAX(idx), 0) + 1 FROM frame_bundle_swaps WHERE frame_bundle = $1), $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))`,
		name, e.SwapDate, e.CounterpartFrame, e.SwappedBy, e.OldBattery, e.NewBattery)
	if err != nil {
		return err
	}
	return t.setDigest(ctx, name, digest)
}

func (t *txRepo) AppendDiscard(ctx context.Context, name string, e DiscardEntry, digest []byte) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO frame_bundle_discards (frame_bundle, discard_date, battery_serial_no, discarded_by, reason)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''))`,
		name, e.DiscardDate, e.BatterySerialNo, e.DiscardedBy, e.Reason)
	if shared.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrAlreadyDiscarded, name)
	}
	if err != nil {
		return err
	}
	return t.setDigest(ctx, name, digest)
}

func (t *txRepo) setDigest(ctx context.Context, name string, digest []byte) error {
	_, err := t.tx.Exec(ctx, `UPDATE frame_bundles SET history_digest = $2, updated_at = NOW() WHERE name = $1`, name, digest)
	return err
}

const swappingQuery = `SELECT name, current_frame, target_frame, swapped_at, docstatus, owner, created_at, updated_at
	FROM battery_swappings WHERE name = $1`

func scanSwapping(row pgx.Row) (Swapping, error) {
	var s Swapping
	if err := row.Scan(&s.Name, &s.CurrentFrame, &s.TargetFrame, &s.SwappedAt, &s.DocStatus, &s.Owner, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Swapping{}, ErrNotFound
		}
		return Swapping{}, err
	}
	return s, nil
}

func (t *txRepo) InsertSwapping(ctx context.Context, s Swapping) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO battery_swappings (name, current_frame, target_frame, swapped_at, docstatus, owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		s.Name, s.CurrentFrame, s.TargetFrame, s.SwappedAt, s.DocStatus, s.Owner, s.CreatedAt)
	return err
}

func (t *txRepo) GetSwappingForUpdate(ctx context.Context, name string) (Swapping, error) {
	return scanSwapping(t.tx.QueryRow(ctx, swappingQuery+` FOR UPDATE`, name))
}

func (t *txRepo) MarkSwapped(ctx context.Context, name string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE battery_swappings SET swapped_at = $2, docstatus = 1, updated_at = NOW() WHERE name = $1`, name, at)
	return err
}
