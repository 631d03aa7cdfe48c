package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Table is a column-oriented view of a stored table, rows in insertion order
type Table struct {
	Name    string              `json:"name"`
	Columns []string            `json:"columns"`
	Values  map[string][]string `json:"values"`
}

// Len returns the number of rows
func (t *Table) Len() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return len(t.Values[t.Columns[0]])
}

// Column returns the values of the named column
func (t *Table) Column(name string) []string {
	return t.Values[name]
}

// ReadTable returns the rows of table restricted to keys, or all columns if keys is empty.
// Column names are matched case-insensitively against the table's own.
func ReadTable(ctx context.Context, ds *Datastore, table string, keys []string) (*Table, error) {
	if _, err := SanitizeIdentifier(table); err != nil {
		return nil, err
	}

	db := ds.DB(ctx)
	if !db.Migrator().HasTable(table) {
		return nil, fmt.Errorf("%w: %s in %s", ErrTableMissing, table, ds.Path())
	}

	existing, err := TableColumns(ctx, db, table)
	if err != nil {
		return nil, err
	}

	columns := existing
	if len(keys) > 0 {
		byLower := make(map[string]string, len(existing))
		for _, col := range existing {
			byLower[strings.ToLower(col)] = col
		}
		columns = make([]string, 0, len(keys))
		picked := make(map[string]struct{}, len(keys))
		for _, key := range keys {
			col, ok := byLower[strings.ToLower(key)]
			if !ok {
				return nil, fmt.Errorf("%w: %q in %s", ErrUnknownColumn, key, table)
			}
			if _, dup := picked[col]; dup {
				continue
			}
			picked[col] = struct{}{}
			columns = append(columns, col)
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", quoteAll(columns), quote(table))
	rows, err := db.Raw(query).Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	result := &Table{Name: table, Columns: columns, Values: make(map[string][]string, len(columns))}
	for _, col := range columns {
		result.Values[col] = []string{}
	}

	cells := make([]sql.NullString, len(columns))
	dest := make([]any, len(columns))
	for i := range cells {
		dest[i] = &cells[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		for i, col := range columns {
			result.Values[col] = append(result.Values[col], cells[i].String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	return result, nil
}

// Tables lists the data tables of ds
func Tables(ctx context.Context, ds *Datastore) ([]string, error) {
	return ListTables(ctx, ds.DB(ctx))
}
