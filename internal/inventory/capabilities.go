package inventory

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Optional columns that deployments may not have migrated yet.
var (
	optionalItemColumns   = []string{"model", "variant", "color_code", "standard_rate"}
	optionalSerialColumns = []string{"motor_no", "key_no", "battery_serial_no", "load_dispatch"}
)

// Capabilities records which optional item and serial number columns exist.
// It is resolved once at startup and consulted when building statements.
type Capabilities struct {
	itemColumns   map[string]bool
	serialColumns map[string]bool
}

// FullCapabilities reports every optional column as present.
func FullCapabilities() Capabilities {
	caps := Capabilities{itemColumns: map[string]bool{}, serialColumns: map[string]bool{}}
	for _, c := range optionalItemColumns {
		caps.itemColumns[c] = true
	}
	for _, c := range optionalSerialColumns {
		caps.serialColumns[c] = true
	}
	return caps
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ResolveCapabilities inspects information_schema for the optional columns.
func ResolveCapabilities(ctx context.Context, q Querier) (Capabilities, error) {
	rows, err := q.Query(ctx, `SELECT table_name, column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name IN ('items', 'serial_nos')`)
	if err != nil {
		return Capabilities{}, err
	}
	defer rows.Close()
	caps := Capabilities{itemColumns: map[string]bool{}, serialColumns: map[string]bool{}}
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return Capabilities{}, err
		}
		switch table {
		case "items":
			caps.itemColumns[column] = true
		case "serial_nos":
			caps.serialColumns[column] = true
		}
	}
	return caps, rows.Err()
}

// ItemHas reports whether the items table has column.
func (c Capabilities) ItemHas(column string) bool { return c.itemColumns[column] }

// SerialHas reports whether the serial_nos table has column.
func (c Capabilities) SerialHas(column string) bool { return c.serialColumns[column] }

type columnSet struct {
	names  []string
	values []any
}

func (s *columnSet) add(name string, value any) {
	s.names = append(s.names, name)
	s.values = append(s.values, value)
}

func (s *columnSet) addIf(ok bool, name string, value any) {
	if ok {
		s.add(name, value)
	}
}
