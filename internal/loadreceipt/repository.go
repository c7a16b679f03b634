package loadreceipt

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-logistics/internal/dispatch"
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
	InsertReceipt(ctx context.Context, lr LoadReceipt) error
	GetReceiptForUpdate(ctx context.Context, name string) (LoadReceipt, error)
	ActiveReceiptFor(ctx context.Context, dispatch string) (string, error)
	SubmittedAssessments(ctx context.Context, name string) (int, error)
	UpdateStatus(ctx context.Context, name string, docstatus shared.DocStatus) error
	UpdateTotals(ctx context.Context, name string, totals dispatch.Totals) error
	ApplyTotals(ctx context.Context, dispatch string, totals dispatch.Totals) (int64, error)
	UpdateDamageCounts(ctx context.Context, name string, counts DamageCounts) error
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

const receiptColumns = `name, load_dispatch, load_reference_no, receipt_date, total_dispatch_quantity, total_received_quantity,
	total_billed_quantity, ok_quantity, not_ok_quantity, status, docstatus, owner, created_at, updated_at`

func scanReceipt(row pgx.Row) (LoadReceipt, error) {
	var lr LoadReceipt
	var status string
	err := row.Scan(&lr.Name, &lr.LoadDispatch, &lr.LoadReferenceNo, &lr.ReceiptDate, &lr.TotalDispatchQuantity,
		&lr.TotalReceivedQuantity, &lr.TotalBilledQuantity, &lr.OKQuantity, &lr.NotOKQuantity, &status,
		&lr.DocStatus, &lr.Owner, &lr.CreatedAt, &lr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LoadReceipt{}, ErrNotFound
		}
		return LoadReceipt{}, err
	}
	lr.Status = dispatch.Status(status)
	return lr, nil
}

// GetReceipt loads one receipt.
func (r *Repository) GetReceipt(ctx context.Context, name string) (LoadReceipt, error) {
	return scanReceipt(r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM load_receipts WHERE name = $1`, name))
}

// ListByDispatch returns the receipts recorded against a dispatch.
func (r *Repository) ListByDispatch(ctx context.Context, dispatch string) ([]LoadReceipt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+receiptColumns+` FROM load_receipts WHERE load_dispatch = $1 ORDER BY created_at`, dispatch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LoadReceipt
	for rows.Next() {
		lr, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lr)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertReceipt(ctx context.Context, lr LoadReceipt) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO load_receipts (name, load_dispatch, load_reference_no, receipt_date, total_dispatch_quantity,
		total_received_quantity, total_billed_quantity, ok_quantity, not_ok_quantity, status, docstatus, owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, $8, $9, $10, $11, $11)`,
		lr.Name, lr.LoadDispatch, lr.LoadReferenceNo, lr.ReceiptDate, lr.TotalDispatchQuantity, lr.TotalReceivedQuantity,
		lr.TotalBilledQuantity, string(lr.Status), lr.DocStatus, lr.Owner, lr.CreatedAt)
	return err
}

func (t *txRepo) GetReceiptForUpdate(ctx context.Context, name string) (LoadReceipt, error) {
	return scanReceipt(t.tx.QueryRow(ctx, `SELECT `+receiptColumns+` FROM load_receipts WHERE name = $1 FOR UPDATE`, name))
}

func (t *txRepo) ActiveReceiptFor(ctx context.Context, dispatch string) (string, error) {
	var name string
	err := t.tx.QueryRow(ctx, `SELECT name FROM load_receipts WHERE load_dispatch = $1 AND docstatus < 2 LIMIT 1`, dispatch).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return name, err
}

func (t *txRepo) SubmittedAssessments(ctx context.Context, name string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM damage_assessments WHERE load_receipt = $1 AND docstatus = 1`, name).Scan(&n)
	return n, err
}

func (t *txRepo) UpdateStatus(ctx context.Context, name string, docstatus shared.DocStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE load_receipts SET docstatus = $2, updated_at = NOW() WHERE name = $1`, name, docstatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) UpdateTotals(ctx context.Context, name string, totals dispatch.Totals) error {
	_, err := t.tx.Exec(ctx, `UPDATE load_receipts SET total_dispatch_quantity = $2, total_received_quantity = $3,
		total_billed_quantity = $4, status = $5, updated_at = NOW() WHERE name = $1`,
		name, totals.Dispatched, totals.Received, totals.Billed, string(totals.Status))
	return err
}

func (t *txRepo) ApplyTotals(ctx context.Context, dispatch string, totals dispatch.Totals) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE load_receipts SET total_dispatch_quantity = $2, total_received_quantity = $3,
		total_billed_quantity = $4, status = $5, updated_at = NOW() WHERE load_dispatch = $1 AND docstatus < 2`,
		dispatch, totals.Dispatched, totals.Received, totals.Billed, string(totals.Status))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) UpdateDamageCounts(ctx context.Context, name string, counts DamageCounts) error {
	tag, err := t.tx.Exec(ctx, `UPDATE load_receipts SET ok_quantity = $2, not_ok_quantity = $3, updated_at = NOW() WHERE name = $1`,
		name, counts.OK, counts.NotOK)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
