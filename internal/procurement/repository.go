package procurement

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
	InsertReceipt(ctx context.Context, pr PurchaseReceipt) error
	GetReceiptForUpdate(ctx context.Context, name string) (PurchaseReceipt, error)
	UpdateReceiptStatus(ctx context.Context, name string, status shared.DocStatus) error
	ReceivedFrames(ctx context.Context, frames []string, exclude string) ([]string, error)
	InsertInvoice(ctx context.Context, inv PurchaseInvoice) error
	GetInvoiceForUpdate(ctx context.Context, name string) (PurchaseInvoice, error)
	UpdateInvoiceStatus(ctx context.Context, name string, status shared.DocStatus) error
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

func loadReceipt(ctx context.Context, q querier, name string, lock bool) (PurchaseReceipt, error) {
	sql := `SELECT name, supplier, posting_date, COALESCE(set_warehouse, ''), COALESCE(custom_load_dispatch, ''), total_qty,
		docstatus, owner, created_at, updated_at FROM purchase_receipts WHERE name = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var pr PurchaseReceipt
	err := q.QueryRow(ctx, sql, name).Scan(&pr.Name, &pr.Supplier, &pr.PostingDate, &pr.SetWarehouse, &pr.LoadDispatch, &pr.TotalQty,
		&pr.DocStatus, &pr.Owner, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseReceipt{}, fmt.Errorf("%w: receipt %s", ErrNotFound, name)
		}
		return PurchaseReceipt{}, err
	}
	rows, err := q.Query(ctx, `SELECT item_code, COALESCE(serial_no, ''), qty, rate, COALESCE(warehouse, '')
		FROM purchase_receipt_items WHERE purchase_receipt = $1 ORDER BY idx`, name)
	if err != nil {
		return PurchaseReceipt{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it ReceiptItem
		if err := rows.Scan(&it.ItemCode, &it.SerialNo, &it.Qty, &it.Rate, &it.Warehouse); err != nil {
			return PurchaseReceipt{}, err
		}
		pr.Items = append(pr.Items, it)
	}
	return pr, rows.Err()
}

func loadInvoice(ctx context.Context, q querier, name string, lock bool) (PurchaseInvoice, error) {
	sql := `SELECT name, supplier, posting_date, update_stock, COALESCE(custom_load_dispatch, ''), total_qty,
		docstatus, owner, created_at, updated_at FROM purchase_invoices WHERE name = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var inv PurchaseInvoice
	err := q.QueryRow(ctx, sql, name).Scan(&inv.Name, &inv.Supplier, &inv.PostingDate, &inv.UpdateStock, &inv.LoadDispatch, &inv.TotalQty,
		&inv.DocStatus, &inv.Owner, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseInvoice{}, fmt.Errorf("%w: invoice %s", ErrNotFound, name)
		}
		return PurchaseInvoice{}, err
	}
	rows, err := q.Query(ctx, `SELECT item_code, COALESCE(serial_no, ''), qty, rate, COALESCE(purchase_receipt, '')
		FROM purchase_invoice_items WHERE purchase_invoice = $1 ORDER BY idx`, name)
	if err != nil {
		return PurchaseInvoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.ItemCode, &it.SerialNo, &it.Qty, &it.Rate, &it.PurchaseReceipt); err != nil {
			return PurchaseInvoice{}, err
		}
		inv.Items = append(inv.Items, it)
	}
	return inv, rows.Err()
}

func collectNames(rows pgx.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// GetReceipt loads a purchase receipt with its rows.
func (r *Repository) GetReceipt(ctx context.Context, name string) (PurchaseReceipt, error) {
	return loadReceipt(ctx, r.pool, name, false)
}

// GetInvoice loads a purchase invoice with its rows.
func (r *Repository) GetInvoice(ctx context.Context, name string) (PurchaseInvoice, error) {
	return loadInvoice(ctx, r.pool, name, false)
}

// ListReceiptNames returns receipts of a dispatch in the given state.
func (r *Repository) ListReceiptNames(ctx context.Context, dispatch string, status shared.DocStatus) ([]string, error) {
	return collectNames(r.pool.Query(ctx, `SELECT name FROM purchase_receipts WHERE custom_load_dispatch = $1 AND docstatus = $2 ORDER BY name`, dispatch, status))
}

// ListInvoiceNames returns invoices of a dispatch in the given state.
func (r *Repository) ListInvoiceNames(ctx context.Context, dispatch string, status shared.DocStatus) ([]string, error) {
	return collectNames(r.pool.Query(ctx, `SELECT name FROM purchase_invoices WHERE custom_load_dispatch = $1 AND docstatus = $2 ORDER BY name`, dispatch, status))
}

// ReceivedFramesForDispatch returns frames already on submitted receipts of the dispatch.
func (r *Repository) ReceivedFramesForDispatch(ctx context.Context, dispatch string) ([]string, error) {
	return collectNames(r.pool.Query(ctx, `SELECT DISTINCT i.serial_no FROM purchase_receipt_items i
		JOIN purchase_receipts p ON p.name = i.purchase_receipt
		WHERE p.custom_load_dispatch = $1 AND p.docstatus = 1 AND i.serial_no IS NOT NULL ORDER BY 1`, dispatch))
}

func (t *txRepo) InsertReceipt(ctx context.Context, pr PurchaseReceipt) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO purchase_receipts (name, supplier, posting_date, set_warehouse, custom_load_dispatch, total_qty, docstatus, owner, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $9)`,
		pr.Name, pr.Supplier, pr.PostingDate, pr.SetWarehouse, pr.LoadDispatch, pr.TotalQty, pr.DocStatus, pr.Owner, pr.CreatedAt)
	if shared.IsUniqueViolation(err) {
		return fmt.Errorf("procurement: receipt %s: %w", pr.Name, shared.ErrDuplicate)
	}
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for i, it := range pr.Items {
		batch.Queue(`INSERT INTO purchase_receipt_items (purchase_receipt, idx, item_code, serial_no, qty, rate, warehouse)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''))`,
			pr.Name, i+1, it.ItemCode, it.SerialNo, it.Qty, it.Rate, it.Warehouse)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) GetReceiptForUpdate(ctx context.Context, name string) (PurchaseReceipt, error) {
	return loadReceipt(ctx, t.tx, name, true)
}

func (t *txRepo) UpdateReceiptStatus(ctx context.Context, name string, status shared.DocStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_receipts SET docstatus = $2, updated_at = NOW() WHERE name = $1`, name, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) ReceivedFrames(ctx context.Context, frames []string, exclude string) ([]string, error) {
	if len(frames) == 0 {
		return nil, nil
	}
	return collectNames(t.tx.Query(ctx, `SELECT DISTINCT i.serial_no FROM purchase_receipt_items i
		JOIN purchase_receipts p ON p.name = i.purchase_receipt
		WHERE p.docstatus = 1 AND p.name <> $2 AND i.serial_no = ANY($1) ORDER BY 1`, frames, exclude))
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv PurchaseInvoice) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO purchase_invoices (name, supplier, posting_date, update_stock, custom_load_dispatch, total_qty, docstatus, owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $9)`,
		inv.Name, inv.Supplier, inv.PostingDate, inv.UpdateStock, inv.LoadDispatch, inv.TotalQty, inv.DocStatus, inv.Owner, inv.CreatedAt)
	if shared.IsUniqueViolation(err) {
		return fmt.Errorf("procurement: invoice %s: %w", inv.Name, shared.ErrDuplicate)
	}
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for i, it := range inv.Items {
		batch.Queue(`INSERT INTO purchase_invoice_items (purchase_invoice, idx, item_code, serial_no, qty, rate, purchase_receipt)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''))`,
			inv.Name, i+1, it.ItemCode, it.SerialNo, it.Qty, it.Rate, it.PurchaseReceipt)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, name string) (PurchaseInvoice, error) {
	return loadInvoice(ctx, t.tx, name, true)
}

func (t *txRepo) UpdateInvoiceStatus(ctx context.Context, name string, status shared.DocStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_invoices SET docstatus = $2, updated_at = NOW() WHERE name = $1`, name, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
