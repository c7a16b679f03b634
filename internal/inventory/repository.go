package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-logistics/internal/platform/db"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	caps Capabilities
}

// NewRepository constructs a repository bound to the resolved schema capabilities.
func NewRepository(pool *pgxpool.Pool, caps Capabilities) *Repository {
	return &Repository{pool: pool, caps: caps}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertItem(ctx context.Context, item Item) (bool, error)
	GetSerialNoForUpdate(ctx context.Context, name string) (SerialNo, error)
	InsertSerialNo(ctx context.Context, serial SerialNo) error
	UpdateSerialNo(ctx context.Context, serial SerialNo) error
	ClearDispatchLink(ctx context.Context, dispatch string) (int64, error)
	MoveSerialNos(ctx context.Context, names []string, warehouse, status string) error
	InsertStockEntry(ctx context.Context, entry StockEntry) error
	UpdateStockEntryStatus(ctx context.Context, name string, status shared.DocStatus) error
}

type txRepo struct {
	tx   pgx.Tx
	caps Capabilities
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, caps: r.caps})
	})
}

// GetItem loads an item by code.
func (r *Repository) GetItem(ctx context.Context, code string) (Item, error) {
	var item Item
	var rate decimal.NullDecimal
	cols := "item_code, item_name, item_group, '', '', '', NULL::numeric"
	if r.caps.ItemHas("model") && r.caps.ItemHas("variant") && r.caps.ItemHas("color_code") && r.caps.ItemHas("standard_rate") {
		cols = "item_code, item_name, item_group, COALESCE(model, ''), COALESCE(variant, ''), COALESCE(color_code, ''), standard_rate"
	}
	err := r.pool.QueryRow(ctx, `SELECT `+cols+` FROM items WHERE item_code = $1`, code).
		Scan(&item.ItemCode, &item.ItemName, &item.ItemGroup, &item.Model, &item.Variant, &item.ColorCode, &rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	if rate.Valid {
		item.StandardRate = rate.Decimal
	}
	return item, nil
}

// GetSerialNo loads a serial number by frame number.
func (r *Repository) GetSerialNo(ctx context.Context, name string) (SerialNo, error) {
	return scanSerial(r.pool.QueryRow(ctx, serialSelect(r.caps)+` WHERE name = $1`, name))
}

// ListSerialNosByDispatch returns frames linked to a load dispatch.
func (r *Repository) ListSerialNosByDispatch(ctx context.Context, dispatch string) ([]SerialNo, error) {
	if !r.caps.SerialHas("load_dispatch") {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, serialSelect(r.caps)+` WHERE load_dispatch = $1 ORDER BY name`, dispatch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SerialNo
	for rows.Next() {
		s, err := scanSerial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetStockEntry loads a stock entry with its rows.
func (r *Repository) GetStockEntry(ctx context.Context, name string) (StockEntry, error) {
	var e StockEntry
	err := r.pool.QueryRow(ctx, `SELECT name, purpose, from_warehouse, to_warehouse, COALESCE(reference_doctype, ''), COALESCE(reference_name, ''),
		docstatus, owner, created_at, updated_at FROM stock_entries WHERE name = $1`, name).
		Scan(&e.Name, &e.Purpose, &e.FromWarehouse, &e.ToWarehouse, &e.ReferenceDoctype, &e.ReferenceName,
			&e.DocStatus, &e.Owner, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockEntry{}, ErrNotFound
		}
		return StockEntry{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT item_code, serial_no, qty FROM stock_entry_items WHERE stock_entry = $1 ORDER BY idx`, name)
	if err != nil {
		return StockEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it StockEntryItem
		if err := rows.Scan(&it.ItemCode, &it.SerialNo, &it.Qty); err != nil {
			return StockEntry{}, err
		}
		e.Items = append(e.Items, it)
	}
	return e, rows.Err()
}

func serialSelect(caps Capabilities) string {
	optional := func(col string) string {
		if caps.SerialHas(col) {
			return "COALESCE(" + col + ", '')"
		}
		return "''"
	}
	return `SELECT name, item_code, ` + optional("load_dispatch") + `, COALESCE(warehouse, ''), status, ` +
		optional("motor_no") + `, ` + optional("key_no") + `, ` + optional("battery_serial_no") + ` FROM serial_nos`
}

func scanSerial(row pgx.Row) (SerialNo, error) {
	var s SerialNo
	if err := row.Scan(&s.Name, &s.ItemCode, &s.LoadDispatch, &s.Warehouse, &s.Status, &s.MotorNo, &s.KeyNo, &s.BatterySerialNo); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SerialNo{}, ErrNotFound
		}
		return SerialNo{}, err
	}
	return s, nil
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ", ")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (t *txRepo) InsertItem(ctx context.Context, item Item) (bool, error) {
	var cols columnSet
	cols.add("item_code", item.ItemCode)
	cols.add("item_name", item.ItemName)
	cols.add("item_group", item.ItemGroup)
	cols.addIf(t.caps.ItemHas("model"), "model", nullable(item.Model))
	cols.addIf(t.caps.ItemHas("variant"), "variant", nullable(item.Variant))
	cols.addIf(t.caps.ItemHas("color_code"), "color_code", nullable(item.ColorCode))
	cols.addIf(t.caps.ItemHas("standard_rate"), "standard_rate", item.StandardRate)
	tag, err := t.tx.Exec(ctx, `INSERT INTO items (`+strings.Join(cols.names, ", ")+`) VALUES (`+placeholders(len(cols.names))+`)
		ON CONFLICT (item_code) DO NOTHING`, cols.values...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) GetSerialNoForUpdate(ctx context.Context, name string) (SerialNo, error) {
	return scanSerial(t.tx.QueryRow(ctx, serialSelect(t.caps)+` WHERE name = $1 FOR UPDATE`, name))
}

func (t *txRepo) InsertSerialNo(ctx context.Context, s SerialNo) error {
	var cols columnSet
	cols.add("name", s.Name)
	cols.add("item_code", s.ItemCode)
	cols.add("warehouse", nullable(s.Warehouse))
	cols.add("status", s.Status)
	cols.addIf(t.caps.SerialHas("load_dispatch"), "load_dispatch", nullable(s.LoadDispatch))
	cols.addIf(t.caps.SerialHas("motor_no"), "motor_no", nullable(s.MotorNo))
	cols.addIf(t.caps.SerialHas("key_no"), "key_no", nullable(s.KeyNo))
	cols.addIf(t.caps.SerialHas("battery_serial_no"), "battery_serial_no", nullable(s.BatterySerialNo))
	_, err := t.tx.Exec(ctx, `INSERT INTO serial_nos (`+strings.Join(cols.names, ", ")+`) VALUES (`+placeholders(len(cols.names))+`)`, cols.values...)
	if shared.IsUniqueViolation(err) {
		return fmt.Errorf("inventory: serial number %s: %w", s.Name, shared.ErrDuplicate)
	}
	return err
}

func (t *txRepo) UpdateSerialNo(ctx context.Context, s SerialNo) error {
	var cols columnSet
	cols.add("item_code", s.ItemCode)
	cols.add("warehouse", nullable(s.Warehouse))
	cols.add("status", s.Status)
	cols.addIf(t.caps.SerialHas("load_dispatch"), "load_dispatch", nullable(s.LoadDispatch))
	cols.addIf(t.caps.SerialHas("motor_no"), "motor_no", nullable(s.MotorNo))
	cols.addIf(t.caps.SerialHas("key_no"), "key_no", nullable(s.KeyNo))
	cols.addIf(t.caps.SerialHas("battery_serial_no"), "battery_serial_no", nullable(s.BatterySerialNo))
	sets := make([]string, len(cols.names))
	for i, name := range cols.names {
		sets[i] = fmt.Sprintf("%s = $%d", name, i+1)
	}
	args := append(cols.values, s.Name)
	tag, err := t.tx.Exec(ctx, `UPDATE serial_nos SET `+strings.Join(sets, ", ")+`, updated_at = NOW() WHERE name = $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) ClearDispatchLink(ctx context.Context, dispatch string) (int64, error) {
	if !t.caps.SerialHas("load_dispatch") {
		return 0, nil
	}
	tag, err := t.tx.Exec(ctx, `UPDATE serial_nos SET load_dispatch = NULL, updated_at = NOW() WHERE load_dispatch = $1`, dispatch)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) MoveSerialNos(ctx context.Context, names []string, warehouse, status string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `UPDATE serial_nos SET warehouse = $1, status = $2, updated_at = NOW() WHERE name = ANY($3)`, nullable(warehouse), status, names)
	return err
}

func (t *txRepo) InsertStockEntry(ctx context.Context, e StockEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_entries (name, purpose, from_warehouse, to_warehouse, reference_doctype, reference_name, docstatus, owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		e.Name, e.Purpose, e.FromWarehouse, e.ToWarehouse, nullable(e.ReferenceDoctype), nullable(e.ReferenceName), e.DocStatus, e.Owner, e.CreatedAt)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for i, it := range e.Items {
		batch.Queue(`INSERT INTO stock_entry_items (stock_entry, idx, item_code, serial_no, qty) VALUES ($1, $2, $3, $4, $5)`,
			e.Name, i+1, it.ItemCode, it.SerialNo, it.Qty)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) UpdateStockEntryStatus(ctx context.Context, name string, status shared.DocStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_entries SET docstatus = $2, updated_at = NOW() WHERE name = $1`, name, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
