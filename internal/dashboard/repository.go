package dashboard

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository runs the dashboard aggregate queries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func collectStatusCounts(rows pgx.Rows) ([]StatusCount, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StatusCount, error) {
		var sc StatusCount
		err := row.Scan(&sc.Status, &sc.Count)
		return sc, err
	})
}

// PlansByStatus counts active load plans per status.
func (r *Repository) PlansByStatus(ctx context.Context, f Filters) ([]StatusCount, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*)::int FROM load_plans
WHERE docstatus < 2
  AND ($1::date IS NULL OR dispatch_plan_date >= $1)
  AND ($2::date IS NULL OR dispatch_plan_date <= $2)
  AND ($3 = '' OR name = $3)
GROUP BY status ORDER BY status`, f.From, f.To, f.LoadReferenceNo)
	if err != nil {
		return nil, err
	}
	return collectStatusCounts(rows)
}

// Quantities sums planned quantities of submitted plans against the
// dispatched, received and billed quantities of their submitted dispatches.
func (r *Repository) Quantities(ctx context.Context, f Filters) (Quantities, error) {
	var q Quantities
	err := r.pool.QueryRow(ctx, `WITH plans AS (
    SELECT name, total_quantity FROM load_plans
    WHERE docstatus = 1
      AND ($1::date IS NULL OR dispatch_plan_date >= $1)
      AND ($2::date IS NULL OR dispatch_plan_date <= $2)
      AND ($3 = '' OR name = $3)
)
SELECT
    COALESCE((SELECT SUM(total_quantity) FROM plans), 0)::int,
    COALESCE(SUM(d.total_dispatch_quantity), 0)::int,
    COALESCE(SUM(d.total_received_quantity), 0)::int,
    COALESCE(SUM(d.total_billed_quantity), 0)::int
FROM load_dispatches d
JOIN plans p ON p.name = d.load_reference_no
WHERE d.docstatus = 1`, f.From, f.To, f.LoadReferenceNo).Scan(&q.Target, &q.Dispatched, &q.Received, &q.Billed)
	return q, err
}

// InTransit lists the oldest submitted dispatches still in transit and the
// total number of them.
func (r *Repository) InTransit(ctx context.Context, f Filters) ([]DispatchRef, int, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, load_reference_no, dispatch_date, total_dispatch_quantity,
    COUNT(*) OVER ()::int
FROM load_dispatches
WHERE docstatus = 1 AND status = 'In-Transit'
  AND ($1::date IS NULL OR dispatch_date >= $1)
  AND ($2::date IS NULL OR dispatch_date <= $2)
  AND ($3 = '' OR load_reference_no = $3)
ORDER BY dispatch_date NULLS LAST, name
LIMIT $4`, f.From, f.To, f.LoadReferenceNo, f.Limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []DispatchRef{}
	total := 0
	for rows.Next() {
		var ref DispatchRef
		if err := rows.Scan(&ref.Name, &ref.LoadReferenceNo, &ref.DispatchDate, &ref.Quantity, &total); err != nil {
			return nil, 0, err
		}
		out = append(out, ref)
	}
	return out, total, rows.Err()
}

// BatteriesByStatus counts batteries per status.
func (r *Repository) BatteriesByStatus(ctx context.Context) ([]StatusCount, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*)::int FROM batteries GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, err
	}
	return collectStatusCounts(rows)
}

// ExpiringBatteries counts usable batteries expiring on or before the date.
func (r *Repository) ExpiringBatteries(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*)::int FROM batteries
WHERE status <> 'Discarded' AND battery_expiry_date IS NOT NULL AND battery_expiry_date <= $1`, before).Scan(&n)
	return n, err
}

// AgingCounts buckets the battery age of submitted bundles that still carry
// a battery.
func (r *Repository) AgingCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT CASE
        WHEN battery_aging_days <= 30 THEN '0-30'
        WHEN battery_aging_days <= 60 THEN '31-60'
        WHEN battery_aging_days <= 90 THEN '61-90'
        ELSE '90+'
    END AS bucket, COUNT(*)::int
FROM frame_bundles
WHERE docstatus = 1 AND battery_serial_no IS NOT NULL AND battery_serial_no <> '' AND NOT is_battery_expired
GROUP BY bucket`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		out[label] = n
	}
	return out, rows.Err()
}

// ReceiptDamage returns OK and Not OK counts of submitted load receipts,
// most damaged first.
func (r *Repository) ReceiptDamage(ctx context.Context, f Filters) ([]ReceiptDamage, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, load_dispatch, ok_quantity, not_ok_quantity FROM load_receipts
WHERE docstatus = 1 AND (ok_quantity > 0 OR not_ok_quantity > 0)
  AND ($1::date IS NULL OR receipt_date >= $1)
  AND ($2::date IS NULL OR receipt_date <= $2)
  AND ($3 = '' OR load_reference_no = $3)
ORDER BY not_ok_quantity DESC, name
LIMIT $4`, f.From, f.To, f.LoadReferenceNo, f.Limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ReceiptDamage, error) {
		var rd ReceiptDamage
		err := row.Scan(&rd.LoadReceipt, &rd.LoadDispatch, &rd.OK, &rd.NotOK)
		return rd, err
	})
}

// DamageTotals sums OK and Not OK frames over submitted load receipts.
func (r *Repository) DamageTotals(ctx context.Context, f Filters) (ok, notOK int, err error) {
	err = r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(ok_quantity), 0)::int, COALESCE(SUM(not_ok_quantity), 0)::int
FROM load_receipts
WHERE docstatus = 1
  AND ($1::date IS NULL OR receipt_date >= $1)
  AND ($2::date IS NULL OR receipt_date <= $2)
  AND ($3 = '' OR load_reference_no = $3)`, f.From, f.To, f.LoadReferenceNo).Scan(&ok, &notOK)
	return ok, notOK, err
}

// TopDamageTypes ranks damage types of Not OK rows on submitted assessments.
func (r *Repository) TopDamageTypes(ctx context.Context, f Filters) ([]DamageTypeCount, error) {
	rows, err := r.pool.Query(ctx, `SELECT COALESCE(NULLIF(i.damage_type, ''), 'Unspecified') AS damage_type,
    COUNT(*)::int, COALESCE(SUM(i.estimated_cost), 0)
FROM damage_assessment_items i
JOIN damage_assessments a ON a.name = i.damage_assessment
JOIN load_receipts lr ON lr.name = a.load_receipt
WHERE a.docstatus = 1 AND i.status = 'Not OK'
  AND ($1::date IS NULL OR lr.receipt_date >= $1)
  AND ($2::date IS NULL OR lr.receipt_date <= $2)
  AND ($3 = '' OR lr.load_reference_no = $3)
GROUP BY 1
ORDER BY 2 DESC, 1
LIMIT $4`, f.From, f.To, f.LoadReferenceNo, f.Limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DamageTypeCount, error) {
		var dt DamageTypeCount
		err := row.Scan(&dt.DamageType, &dt.Count, &dt.EstimatedCost)
		return dt, err
	})
}
