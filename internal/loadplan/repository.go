package loadplan

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
	InsertPlan(ctx context.Context, plan LoadPlan) error
	GetPlanForUpdate(ctx context.Context, name string) (LoadPlan, error)
	UpdateStatus(ctx context.Context, name string, docstatus shared.DocStatus, status Status) error
	UpdateDispatchQuantity(ctx context.Context, name string, qty int, status Status) error
	SummarizeDispatches(ctx context.Context, name string) (DispatchSummary, error)
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

const planColumns = `name, dispatch_plan_date, total_quantity, load_dispatch_quantity, status, docstatus, owner, created_at, updated_at`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanPlan(row pgx.Row) (LoadPlan, error) {
	var p LoadPlan
	var status string
	if err := row.Scan(&p.Name, &p.DispatchPlanDate, &p.TotalQuantity, &p.LoadDispatchQuantity, &status,
		&p.DocStatus, &p.Owner, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LoadPlan{}, ErrNotFound
		}
		return LoadPlan{}, err
	}
	p.ReferenceNo = p.Name
	p.Status = Status(status)
	return p, nil
}

func loadPlan(ctx context.Context, q querier, name string, lock bool) (LoadPlan, error) {
	sql := `SELECT ` + planColumns + ` FROM load_plans WHERE name = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	p, err := scanPlan(q.QueryRow(ctx, sql, name))
	if err != nil {
		return LoadPlan{}, err
	}
	rows, err := q.Query(ctx, `SELECT model, COALESCE(variant, ''), COALESCE(color, ''), quantity FROM load_plan_items WHERE load_plan = $1 ORDER BY idx`, name)
	if err != nil {
		return LoadPlan{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Model, &it.Variant, &it.Color, &it.Quantity); err != nil {
			return LoadPlan{}, err
		}
		p.Items = append(p.Items, it)
	}
	return p, rows.Err()
}

func summarize(ctx context.Context, q querier, name string) (DispatchSummary, error) {
	var s DispatchSummary
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(total_dispatch_quantity), 0), COUNT(*), COUNT(*) FILTER (WHERE status <> 'Received')
		FROM load_dispatches WHERE load_reference_no = $1 AND docstatus = 1`, name).Scan(&s.Quantity, &s.Dispatches, &s.NotReceived)
	return s, err
}

// GetPlan loads a plan with its rows.
func (r *Repository) GetPlan(ctx context.Context, name string) (LoadPlan, error) {
	return loadPlan(ctx, r.pool, name, false)
}

// PlanExists reports whether a plan with the reference number exists.
func (r *Repository) PlanExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM load_plans WHERE name = $1)`, name).Scan(&exists)
	return exists, err
}

// SummarizeDispatches aggregates submitted dispatches of a plan.
func (r *Repository) SummarizeDispatches(ctx context.Context, name string) (DispatchSummary, error) {
	return summarize(ctx, r.pool, name)
}

// ListPlans returns plan headers, newest first.
func (r *Repository) ListPlans(ctx context.Context, filter ListFilter) ([]LoadPlan, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args := []any{limit}
	where := ""
	if filter.Status != "" {
		where = ` WHERE status = $2`
		args = append(args, string(filter.Status))
	}
	rows, err := r.pool.Query(ctx, `SELECT `+planColumns+` FROM load_plans`+where+` ORDER BY created_at DESC, name LIMIT $1`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LoadPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertPlan(ctx context.Context, p LoadPlan) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO load_plans (name, dispatch_plan_date, total_quantity, load_dispatch_quantity, status, docstatus, owner, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $7)`,
		p.Name, p.DispatchPlanDate, p.TotalQuantity, string(p.Status), p.DocStatus, p.Owner, p.CreatedAt)
	if shared.IsUniqueViolation(err) {
		return fmt.Errorf("loadplan: %s: %w", p.Name, shared.ErrDuplicate)
	}
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for i, it := range p.Items {
		batch.Queue(`INSERT INTO load_plan_items (load_plan, idx, model, variant, color, quantity) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)`,
			p.Name, i+1, it.Model, it.Variant, it.Color, it.Quantity)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) GetPlanForUpdate(ctx context.Context, name string) (LoadPlan, error) {
	return loadPlan(ctx, t.tx, name, true)
}

func (t *txRepo) UpdateStatus(ctx context.Context, name string, docstatus shared.DocStatus, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE load_plans SET docstatus = $2, status = $3, updated_at = NOW() WHERE name = $1`, name, docstatus, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) UpdateDispatchQuantity(ctx context.Context, name string, qty int, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE load_plans SET load_dispatch_quantity = $2, status = $3, updated_at = NOW() WHERE name = $1`, name, qty, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) SummarizeDispatches(ctx context.Context, name string) (DispatchSummary, error) {
	return summarize(ctx, t.tx, name)
}
