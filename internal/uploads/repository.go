package uploads

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-logistics/internal/ingest"
)

// Repository persists upload logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uploadColumns = `name, kind, file_ref, COALESCE(parent, ''), status, total, success_count, failed_count,
	skipped_count, errors, owner, created_at, updated_at`

func scanUpload(row pgx.Row) (Upload, error) {
	var u Upload
	var kind, status string
	err := row.Scan(&u.Name, &kind, &u.FileRef, &u.Parent, &status, &u.Total, &u.Success, &u.Failed,
		&u.Skipped, &u.Errors, &u.Owner, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Upload{}, ErrNotFound
		}
		return Upload{}, err
	}
	u.Kind = Kind(kind)
	u.Status = Status(status)
	if u.Errors == nil {
		u.Errors = []ingest.RowError{}
	}
	return u, nil
}

// Insert stores a pending upload.
func (r *Repository) Insert(ctx context.Context, u Upload) error {
	var parent *string
	if u.Parent != "" {
		parent = &u.Parent
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO upload_logs (name, kind, file_ref, parent, status, owner, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		u.Name, string(u.Kind), u.FileRef, parent, string(u.Status), u.Owner, u.CreatedAt)
	return err
}

// Get loads one upload.
func (r *Repository) Get(ctx context.Context, name string) (Upload, error) {
	return scanUpload(r.pool.QueryRow(ctx, `SELECT `+uploadColumns+` FROM upload_logs WHERE name = $1`, name))
}

// List returns the most recent uploads, optionally of one kind.
func (r *Repository) List(ctx context.Context, kind Kind, limit int) ([]Upload, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+uploadColumns+` FROM upload_logs
WHERE ($1 = '' OR kind = $1) ORDER BY created_at DESC LIMIT $2`, string(kind), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Upload{}
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// MarkProcessing moves a non-final upload to Processing. It reports false when
// the upload was already processed.
func (r *Repository) MarkProcessing(ctx context.Context, name string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE upload_logs SET status = $2, updated_at = $3
WHERE name = $1 AND status IN ('Pending', 'Processing')`, name, string(StatusProcessing), at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SaveResult records the outcome of a run.
func (r *Repository) SaveResult(ctx context.Context, name string, status Status, res ingest.Result, at time.Time) error {
	errs := res.Errors
	if errs == nil {
		errs = []ingest.RowError{}
	}
	tag, err := r.pool.Exec(ctx, `UPDATE upload_logs SET status = $2, total = $3, success_count = $4, failed_count = $5,
	skipped_count = $6, errors = $7, updated_at = $8 WHERE name = $1`,
		name, string(status), res.Total, res.Success, res.Failed, res.Skipped, errs, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
