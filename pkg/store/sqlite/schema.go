package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

// AutoKeyColumn is the surrogate key prepended to auto-keyed tables
const AutoKeyColumn = "ID"

// Action is the reconciler's verdict for a record's table
type Action int

const (
	// Create the table does not exist yet
	Create Action = iota + 1
	// Reuse the table exists, is fresh and has the expected columns
	Reuse
	// Recreate the table is stale or its columns changed; drop and create
	Recreate
)

func (a Action) String() string {
	switch a {
	case Create:
		return "create"
	case Reuse:
		return "reuse"
	case Recreate:
		return "recreate"
	default:
		return "unknown"
	}
}

// Decision is the outcome of reconciling one table
type Decision struct {
	Action Action
	Reason string
}

// Reconcile decides what must happen to rec's table before rec is appended.
// Column names are compared case-insensitively and without regard to order;
// declared types are never compared.
func Reconcile(ctx context.Context, db *gorm.DB, rec *Record, now time.Time) (Decision, error) {
	if !db.Migrator().HasTable(rec.Table) {
		return Decision{Action: Create, Reason: "table does not exist"}, nil
	}

	evict, err := ShouldEvict(ctx, db, rec.Table, rec.Anchor(), rec.Staleness, now)
	if err != nil {
		return Decision{}, err
	}
	if evict {
		return Decision{Action: Recreate, Reason: fmt.Sprintf("last sample older than %s", rec.Staleness)}, nil
	}

	existing, err := TableColumns(ctx, db, rec.Table)
	if err != nil {
		return Decision{}, err
	}
	if !sameColumns(existing, rec.Columns()) {
		return Decision{
			Action: Recreate,
			Reason: fmt.Sprintf("columns changed from [%s] to [%s]", strings.Join(existing, ","), strings.Join(rec.Columns(), ",")),
		}, nil
	}

	return Decision{Action: Reuse}, nil
}

// CreateTable creates rec's table. The first key is the primary key unless the
// record is auto-keyed, in which case an integer ID column is prepended.
func CreateTable(ctx context.Context, db *gorm.DB, rec *Record) error {
	defs := make([]string, 0, len(rec.Keys)+1)
	if rec.AutoKey {
		defs = append(defs, quote(AutoKeyColumn)+" INTEGER PRIMARY KEY AUTOINCREMENT")
	}
	for i, key := range rec.Keys {
		def := quote(key) + " VARCHAR(255)"
		if i == 0 && !rec.AutoKey {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(rec.Table), strings.Join(defs, ", "))
	if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("failed to create table %s: %w", rec.Table, err)
	}
	return nil
}

// DropTable drops table if it exists
func DropTable(ctx context.Context, db *gorm.DB, table string) error {
	if _, err := SanitizeIdentifier(table); err != nil {
		return err
	}
	if err := db.WithContext(ctx).Exec("DROP TABLE IF EXISTS " + quote(table)).Error; err != nil {
		return fmt.Errorf("failed to drop table %s: %w", table, err)
	}
	return nil
}

// TableColumns returns table's column names in declaration order
func TableColumns(ctx context.Context, db *gorm.DB, table string) ([]string, error) {
	if _, err := SanitizeIdentifier(table); err != nil {
		return nil, err
	}
	rows, err := db.WithContext(ctx).Raw("SELECT * FROM " + quote(table) + " LIMIT 0").Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	return cols, nil
}

// ListTables returns the names of all data tables in the store, sorted
func ListTables(ctx context.Context, db *gorm.DB) ([]string, error) {
	names, err := db.WithContext(ctx).Migrator().GetTables()
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	tables := make([]string, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(strings.ToLower(name), "sqlite_") {
			continue
		}
		tables = append(tables, name)
	}
	sort.Strings(tables)
	return tables, nil
}

func sameColumns(existing, expected []string) bool {
	if len(existing) != len(expected) {
		return false
	}
	seen := make(map[string]struct{}, len(existing))
	for _, col := range existing {
		seen[strings.ToLower(col)] = struct{}{}
	}
	for _, col := range expected {
		if _, ok := seen[strings.ToLower(col)]; !ok {
			return false
		}
	}
	return true
}
