package damage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-logistics/internal/loadreceipt"
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
	InsertAssessment(ctx context.Context, a Assessment) error
	GetAssessmentForUpdate(ctx context.Context, name string) (Assessment, error)
	UpdateStatus(ctx context.Context, name string, docstatus shared.DocStatus) error
	SetStockEntry(ctx context.Context, name, stockEntry string) error
	SumCounts(ctx context.Context, loadReceipt string) (loadreceipt.DamageCounts, error)
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

func loadAssessment(ctx context.Context, q querier, name string, lock bool) (Assessment, error) {
	sql := `SELECT name, load_receipt, load_dispatch, COALESCE(source_warehouse, ''), COALESCE(damage_warehouse, ''),
		create_stock_entry, COALESCE(stock_entry, ''), ok_count, not_ok_count, docstatus, owner, created_at, updated_at
		FROM damage_assessments WHERE name = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var a Assessment
	err := q.QueryRow(ctx, sql, name).Scan(&a.Name, &a.LoadReceipt, &a.LoadDispatch, &a.SourceWarehouse, &a.DamageWarehouse,
		&a.CreateStockEntry, &a.StockEntry, &a.OKCount, &a.NotOKCount, &a.DocStatus, &a.Owner, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assessment{}, ErrNotFound
		}
		return Assessment{}, err
	}
	rows, err := q.Query(ctx, `SELECT frame_no, status, COALESCE(damage_type, ''), COALESCE(remarks, ''), estimated_cost
		FROM damage_assessment_items WHERE damage_assessment = $1 ORDER BY idx`, name)
	if err != nil {
		return Assessment{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		var status string
		if err := rows.Scan(&it.FrameNo, &status, &it.DamageType, &it.Remarks, &it.EstimatedCost); err != nil {
			return Assessment{}, err
		}
		it.Status = RowStatus(status)
		a.Items = append(a.Items, it)
	}
	return a, rows.Err()
}

// GetAssessment loads an assessment with its rows.
func (r *Repository) GetAssessment(ctx context.Context, name string) (Assessment, error) {
	return loadAssessment(ctx, r.pool, name, false)
}

func (t *txRepo) InsertAssessment(ctx context.Context, a Assessment) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO damage_assessments (name, load_receipt, load_dispatch, source_warehouse, damage_warehouse,
		create_stock_entry, ok_count, not_ok_count, docstatus, owner, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $11)`,
		a.Name, a.LoadReceipt, a.LoadDispatch, a.SourceWarehouse, a.DamageWarehouse, a.CreateStockEntry,
		a.OKCount, a.NotOKCount, a.DocStatus, a.Owner, a.CreatedAt)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for i, it := range a.Items {
		batch.Queue(`INSERT INTO damage_assessment_items (damage_assessment, idx, frame_no, status, damage_type, remarks, estimated_cost)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)`,
			a.Name, i+1, it.FrameNo, string(it.Status), it.DamageType, it.Remarks, it.EstimatedCost)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) GetAssessmentForUpdate(ctx context.Context, name string) (Assessment, error) {
	return loadAssessment(ctx, t.tx, name, true)
}

func (t *txRepo) UpdateStatus(ctx context.Context, name string, docstatus shared.DocStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE damage_assessments SET docstatus = $2, updated_at = NOW() WHERE name = $1`, name, docstatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) SetStockEntry(ctx context.Context, name, stockEntry string) error {
	_, err := t.tx.Exec(ctx, `UPDATE damage_assessments SET stock_entry = NULLIF($2, ''), updated_at = NOW() WHERE name = $1`, name, stockEntry)
	return err
}

func (t *txRepo) SumCounts(ctx context.Context, loadReceipt string) (loadreceipt.DamageCounts, error) {
	var c loadreceipt.DamageCounts
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(ok_count), 0), COALESCE(SUM(not_ok_count), 0)
		FROM damage_assessments WHERE load_receipt = $1 AND docstatus = 1`, loadReceipt).Scan(&c.OK, &c.NotOK)
	return c, err
}
