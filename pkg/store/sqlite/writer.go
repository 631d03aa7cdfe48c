package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lavamon/pkg/logger"
)

// Record is one entity's sample: a row to append to Table.
// Keys[0] is the append anchor and, unless AutoKey is set, the primary key.
type Record struct {
	Table     string
	Keys      []string
	Values    []any
	Staleness time.Duration // <= 0 disables eviction
	AutoKey   bool
}

// Anchor returns the column used for staleness checks
func (r *Record) Anchor() string {
	if len(r.Keys) == 0 {
		return ""
	}
	return r.Keys[0]
}

// Columns returns the table's expected column names
func (r *Record) Columns() []string {
	if !r.AutoKey {
		return r.Keys
	}
	return append([]string{AutoKeyColumn}, r.Keys...)
}

// Validate checks the table name, keys and value count
func (r *Record) Validate() error {
	if _, err := SanitizeIdentifier(r.Table); err != nil {
		return err
	}
	if len(r.Keys) == 0 {
		return fmt.Errorf("%w: table %s has no keys", ErrInvalidIdentifier, r.Table)
	}
	if len(r.Keys) != len(r.Values) {
		return fmt.Errorf("%w: table %s has %d keys and %d values", ErrValueCount, r.Table, len(r.Keys), len(r.Values))
	}

	seen := make(map[string]struct{}, len(r.Keys))
	for _, key := range r.Keys {
		if _, err := SanitizeIdentifier(key); err != nil {
			return err
		}
		lower := strings.ToLower(key)
		if _, dup := seen[lower]; dup {
			return fmt.Errorf("%w: duplicate column %q in %s", ErrInvalidIdentifier, key, r.Table)
		}
		if r.AutoKey && strings.EqualFold(key, AutoKeyColumn) {
			return fmt.Errorf("%w: column %q is reserved in auto-keyed %s", ErrInvalidIdentifier, key, r.Table)
		}
		seen[lower] = struct{}{}
	}
	return nil
}

// BatchResult reports per-entity outcomes of a committed batch
type BatchResult struct {
	Written   []string
	Failed    map[string]error
	Decisions map[string]Decision
}

// Err joins the per-entity failures, or returns nil when every entity was written
func (r *BatchResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for table, err := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", table, err))
	}
	return errors.Join(errs...)
}

// Writer appends batches of records to a store in a single transaction.
// Each record is staged under its own savepoint, so one bad entity is rolled
// back and logged without affecting the others.
type Writer struct {
	// Now supplies the reference time for staleness checks
	Now func() time.Time

	// OnStaged, if set, is called after each record has been staged successfully
	OnStaged func(ctx context.Context, table string, d Decision)
}

// NewWriter creates a writer using the wall clock
func NewWriter() *Writer {
	return &Writer{Now: time.Now}
}

// WriteBatch reconciles and appends every record inside one transaction.
//
// Records that fail are rolled back to their savepoint and reported in the
// result; the rest are committed together. A cancelled context or a failed
// commit rolls back the whole batch, and readers never see a partial pass.
func (w *Writer) WriteBatch(ctx context.Context, ds *Datastore, records []*Record) (*BatchResult, error) {
	if ds.Mode() != ModeWrite {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, ds.Path())
	}

	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ref := now()

	result := &BatchResult{
		Failed:    make(map[string]error),
		Decisions: make(map[string]Decision),
	}

	err := ds.ExecTx(ctx, func(ctx context.Context) error {
		tx := ds.DB(ctx)
		for i, rec := range records {
			if err := ctx.Err(); err != nil {
				return err
			}

			savepoint := fmt.Sprintf("entity_%d", i)
			if err := tx.SavePoint(savepoint).Error; err != nil {
				return fmt.Errorf("failed to create savepoint: %w", err)
			}

			decision, err := w.stage(ctx, ds, rec, ref)
			if err != nil {
				if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
					return fmt.Errorf("failed to roll back %s: %w", rec.Table, rbErr)
				}
				logger.WarnCtx(ctx, "store %s: skipping %s: %v", ds.Path(), rec.Table, err)
				result.Failed[rec.Table] = err
				continue
			}

			result.Decisions[rec.Table] = decision
			result.Written = append(result.Written, rec.Table)
			if w.OnStaged != nil {
				w.OnStaged(ctx, rec.Table, decision)
			}
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("batch on %s rolled back: %w", ds.Path(), err)
	}
	return result, nil
}

// Write appends a single row to table, creating or recreating it as needed.
// The first key is the anchor; staleness <= 0 disables eviction.
func (w *Writer) Write(ctx context.Context, ds *Datastore, table string, keys []string, values []any, staleness time.Duration) error {
	result, err := w.WriteBatch(ctx, ds, []*Record{{Table: table, Keys: keys, Values: values, Staleness: staleness}})
	if err != nil {
		return err
	}
	return result.Err()
}

func (w *Writer) stage(ctx context.Context, ds *Datastore, rec *Record, now time.Time) (Decision, error) {
	if err := rec.Validate(); err != nil {
		return Decision{}, err
	}
	values, err := encodeValues(rec.Values)
	if err != nil {
		return Decision{}, err
	}

	tx := ds.DB(ctx)
	decision, err := Reconcile(ctx, tx, rec, now)
	if err != nil {
		return Decision{}, err
	}

	switch decision.Action {
	case Recreate:
		logger.InfoCtx(ctx, "store %s: recreating %s: %s", ds.Path(), rec.Table, decision.Reason)
		if err := DropTable(ctx, tx, rec.Table); err != nil {
			return Decision{}, err
		}
		if err := CreateTable(ctx, tx, rec); err != nil {
			return Decision{}, err
		}
	case Create:
		if err := CreateTable(ctx, tx, rec); err != nil {
			return Decision{}, err
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(rec.Keys)), ", ")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(rec.Table), quoteAll(rec.Keys), placeholders)
	if err := tx.Exec(stmt, values...).Error; err != nil {
		return Decision{}, fmt.Errorf("failed to insert into %s: %w", rec.Table, err)
	}
	return decision, nil
}
