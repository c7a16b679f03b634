package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads audit_logs.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Timeline returns entries newest first. A zero Limit returns every match.
func (r *PGRepository) Timeline(ctx context.Context, q Query) ([]TimelineRow, error) {
	sql := `SELECT occurred_at, actor, action, entity, entity_id, meta
		FROM audit_logs
		WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
			AND ($2::timestamptz IS NULL OR occurred_at < $2)
			AND ($3 = '' OR actor = $3)
			AND ($4 = '' OR entity = $4)
			AND ($5 = '' OR entity_id = $5)
			AND ($6 = '' OR action = $6)
		ORDER BY occurred_at DESC, id DESC
		OFFSET $7`
	args := []any{q.From, q.To, q.Actor, q.Entity, q.EntityID, q.Action, q.Offset}
	if q.Limit > 0 {
		sql += ` LIMIT $8`
		args = append(args, q.Limit)
	}
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("audit timeline: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var out TimelineRow
		var meta []byte
		if err := row.Scan(&out.At, &out.Actor, &out.Action, &out.Entity, &out.EntityID, &meta); err != nil {
			return TimelineRow{}, err
		}
		if len(meta) > 0 && string(meta) != "null" {
			if err := json.Unmarshal(meta, &out.Meta); err != nil {
				return TimelineRow{}, fmt.Errorf("audit meta: %w", err)
			}
		}
		return out, nil
	})
}
