package dispatch

import (
	"context"
	"errors"
	"fmt"

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
	InsertDispatch(ctx context.Context, d LoadDispatch) error
	GetDispatchForUpdate(ctx context.Context, name string) (LoadDispatch, error)
	UpdateHeader(ctx context.Context, d LoadDispatch) error
	ReplaceItems(ctx context.Context, name string, items []Item, total int) error
	UpdateStatus(ctx context.Context, name string, docstatus shared.DocStatus, status Status) error
	UpdateTotals(ctx context.Context, name string, totals Totals) error
	FramesOnOtherDispatches(ctx context.Context, frames []string, exclude string) ([]string, error)
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

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadDispatch(ctx context.Context, q querier, name string, lock bool) (LoadDispatch, error) {
	sql := `SELECT name, load_reference_no, dispatch_date, COALESCE(invoice_no, ''), total_dispatch_quantity, total_received_quantity,
		total_billed_quantity, status, docstatus, owner, created_at, updated_at FROM load_dispatches WHERE name = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var d LoadDispatch
	var status string
	err := q.QueryRow(ctx, sql, name).Scan(&d.Name, &d.LoadReferenceNo, &d.DispatchDate, &d.InvoiceNo, &d.TotalDispatchQuantity,
		&d.TotalReceivedQuantity, &d.TotalBilledQuantity, &status, &d.DocStatus, &d.Owner, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LoadDispatch{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return LoadDispatch{}, err
	}
	d.Status = Status(status)
	rows, err := q.Query(ctx, `SELECT COALESCE(model_serial_no, ''), COALESCE(model_name, ''), COALESCE(model_variant, ''), COALESCE(color_code, ''),
		COALESCE(frame_no, ''), COALESCE(motor_no, ''), COALESCE(key_no, ''), COALESCE(battery_serial_no, ''), price_unit, COALESCE(item_code, '')
		FROM load_dispatch_items WHERE load_dispatch = $1 ORDER BY idx`, name)
	if err != nil {
		return LoadDispatch{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ModelSerialNo, &it.ModelName, &it.ModelVariant, &it.ColorCode, &it.FrameNo, &it.MotorNo,
			&it.KeyNo, &it.BatterySerialNo, &it.PriceUnit, &it.ItemCode); err != nil {
			return LoadDispatch{}, err
		}
		d.Items = append(d.Items, it)
	}
	return d, rows.Err()
}

// GetDispatch loads a dispatch with its rows.
func (r *Repository) GetDispatch(ctx context.Context, name string) (LoadDispatch, error) {
	return loadDispatch(ctx, r.pool, name, false)
}

func (t *txRepo) InsertDispatch(ctx context.Context, d LoadDispatch) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO load_dispatches (name, load_reference_no, dispatch_date, invoice_no, total_dispatch_quantity, status, docstatus, owner, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $9)`,
		d.Name, d.LoadReferenceNo, d.DispatchDate, d.InvoiceNo, d.TotalDispatchQuantity, string(d.Status), d.DocStatus, d.Owner, d.CreatedAt)
	if shared.IsUniqueViolation(err) {
		return fmt.Errorf("dispatch: %s: %w", d.Name, shared.ErrDuplicate)
	}
	if err != nil {
		return err
	}
	return t.insertItems(ctx, d.Name, d.Items)
}

func (t *txRepo) insertItems(ctx context.Context, name string, items []Item) error {
	batch := &pgx.Batch{}
	for i, it := range items {
		batch.Queue(`INSERT INTO load_dispatch_items (load_dispatch, idx, model_serial_no, model_name, model_variant, color_code, frame_no,
			motor_no, key_no, battery_serial_no, price_unit, item_code)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, NULLIF($12, ''))`,
			name, i+1, it.ModelSerialNo, it.ModelName, it.ModelVariant, it.ColorCode, it.FrameNo, it.MotorNo, it.KeyNo, it.BatterySerialNo, it.PriceUnit, it.ItemCode)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) GetDispatchForUpdate(ctx context.Context, name string) (LoadDispatch, error) {
	return loadDispatch(ctx, t.tx, name, true)
}

func (t *txRepo) UpdateHeader(ctx context.Context, d LoadDispatch) error {
	tag, err := t.tx.Exec(ctx, `UPDATE load_dispatches SET load_reference_no = $2, dispatch_date = $3, invoice_no = NULLIF($4, ''), updated_at = NOW() WHERE name = $1`,
		d.Name, d.LoadReferenceNo, d.DispatchDate, d.InvoiceNo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) ReplaceItems(ctx context.Context, name string, items []Item, total int) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM load_dispatch_items WHERE load_dispatch = $1`, name); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `UPDATE load_dispatches SET total_dispatch_quantity = $2, updated_at = NOW() WHERE name = $1`, name, total); err != nil {
		return err
	}
	return t.insertItems(ctx, name, items)
}

func (t *txRepo) UpdateStatus(ctx context.Context, name string, docstatus shared.DocStatus, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE load_dispatches SET docstatus = $2, status = $3, updated_at = NOW() WHERE name = $1`, name, docstatus, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) UpdateTotals(ctx context.Context, name string, totals Totals) error {
	tag, err := t.tx.Exec(ctx, `UPDATE load_dispatches SET total_dispatch_quantity = $2, total_received_quantity = $3, total_billed_quantity = $4,
		status = $5, updated_at = NOW() WHERE name = $1`, name, totals.Dispatched, totals.Received, totals.Billed, string(totals.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) FramesOnOtherDispatches(ctx context.Context, frames []string, exclude string) ([]string, error) {
	if len(frames) == 0 {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, `SELECT DISTINCT i.frame_no FROM load_dispatch_items i
		JOIN load_dispatches d ON d.name = i.load_dispatch
		WHERE d.docstatus = 1 AND d.name <> $2 AND i.frame_no = ANY($1) ORDER BY 1`, frames, exclude)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
