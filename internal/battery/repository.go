package battery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

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

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertBattery(ctx context.Context, b Battery) (bool, error)
	GetBatteryForUpdate(ctx context.Context, serial string) (Battery, error)
	UpdateBatteryState(ctx context.Context, serial string, status Status, frameNo string) error
	BundleFrameFor(ctx context.Context, serial string) (string, error)
	InsertTransaction(ctx context.Context, t Transaction) error
	UpdateTransaction(ctx context.Context, t Transaction) error
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository binds battery writes to a transaction owned by another
// package so battery state changes commit with it.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const batteryColumns = `battery_serial_no, COALESCE(brand, ''), COALESCE(battery_type, ''), charging_date, battery_expiry_date,
	status, COALESCE(frame_no, ''), created_at, updated_at`

func scanBattery(row pgx.Row) (Battery, error) {
	var b Battery
	var status string
	if err := row.Scan(&b.SerialNo, &b.Brand, &b.BatteryType, &b.ChargingDate, &b.ExpiryDate, &status, &b.FrameNo, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Battery{}, ErrNotFound
		}
		return Battery{}, err
	}
	b.Status = Status(status)
	return b, nil
}

// GetBattery loads a battery by serial number.
func (r *Repository) GetBattery(ctx context.Context, serial string) (Battery, error) {
	return scanBattery(r.pool.QueryRow(ctx, `SELECT `+batteryColumns+` FROM batteries WHERE battery_serial_no = $1`, serial))
}

// ListExpiring returns batteries not discarded whose expiry falls on or before cutoff.
func (r *Repository) ListExpiring(ctx context.Context, cutoff time.Time) ([]Battery, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batteryColumns+` FROM batteries
		WHERE status <> $1 AND battery_expiry_date IS NOT NULL AND battery_expiry_date <= $2
		ORDER BY battery_expiry_date, battery_serial_no`, string(StatusDiscarded), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Battery
	for rows.Next() {
		b, err := scanBattery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetTransaction loads a battery transaction.
func (r *Repository) GetTransaction(ctx context.Context, name string) (Transaction, error) {
	var t Transaction
	var typ, prev string
	err := r.pool.QueryRow(ctx, `SELECT name, battery_serial_no, transaction_type, COALESCE(frame_no, ''), COALESCE(previous_status, ''),
		posting_date, docstatus, owner, created_at, updated_at FROM battery_transactions WHERE name = $1`, name).
		Scan(&t.Name, &t.BatterySerialNo, &typ, &t.FrameNo, &prev, &t.PostingDate, &t.DocStatus, &t.Owner, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	t.Type = TransactionType(typ)
	t.PreviousStatus = Status(prev)
	return t, nil
}

func (t *txRepo) InsertBattery(ctx context.Context, b Battery) (bool, error) {
	tag, err := t.tx.Exec(ctx, `INSERT INTO batteries (battery_serial_no, brand, battery_type, charging_date, battery_expiry_date, status, frame_no, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8, $8)
		ON CONFLICT (battery_serial_no) DO NOTHING`,
		b.SerialNo, b.Brand, b.BatteryType, b.ChargingDate, b.ExpiryDate, string(b.Status), b.FrameNo, b.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) GetBatteryForUpdate(ctx context.Context, serial string) (Battery, error) {
	return scanBattery(t.tx.QueryRow(ctx, `SELECT `+batteryColumns+` FROM batteries WHERE battery_serial_no = $1 FOR UPDATE`, serial))
}

func (t *txRepo) UpdateBatteryState(ctx context.Context, serial string, status Status, frameNo string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE batteries SET status = $2, frame_no = NULLIF($3, ''), updated_at = NOW() WHERE battery_serial_no = $1`, serial, string(status), frameNo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// BundleFrameFor returns the frame of the draft or submitted bundle holding
// serial, or "" when no active bundle references it.
func (t *txRepo) BundleFrameFor(ctx context.Context, serial string) (string, error) {
	var frame string
	err := t.tx.QueryRow(ctx, `SELECT frame_no FROM frame_bundles
		WHERE battery_serial_no = $1 AND docstatus < 2
		ORDER BY created_at LIMIT 1`, serial).Scan(&frame)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return frame, err
}

func (t *txRepo) InsertTransaction(ctx context.Context, bt Transaction) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO battery_transactions (name, battery_serial_no, transaction_type, frame_no, previous_status, posting_date, docstatus, owner, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $9)`,
		bt.Name, bt.BatterySerialNo, string(bt.Type), bt.FrameNo, string(bt.PreviousStatus), bt.PostingDate, bt.DocStatus, bt.Owner, bt.CreatedAt)
	if shared.IsUniqueViolation(err) {
		return fmt.Errorf("battery: transaction %s: %w", bt.Name, shared.ErrDuplicate)
	}
	return err
}

func (t *txRepo) UpdateTransaction(ctx context.Context, bt Transaction) error {
	tag, err := t.tx.Exec(ctx, `UPDATE battery_transactions SET previous_status = NULLIF($2, ''), docstatus = $3, updated_at = NOW() WHERE name = $1`,
		bt.Name, string(bt.PreviousStatus), bt.DocStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
