package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lavamon/pkg/logger"

	"gorm.io/gorm"
)

// LastAnchor returns the anchor value of the most recently inserted row.
// ok is false when the table has no rows.
func LastAnchor(ctx context.Context, db *gorm.DB, table, anchor string) (value string, ok bool, err error) {
	if _, err := SanitizeIdentifier(table); err != nil {
		return "", false, err
	}
	if _, err := SanitizeIdentifier(anchor); err != nil {
		return "", false, err
	}

	var last sql.NullString
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid DESC LIMIT 1", quote(anchor), quote(table))
	if err := db.WithContext(ctx).Raw(query).Row().Scan(&last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read last %s of %s: %w", anchor, table, err)
	}
	return last.String, true, nil
}

// ShouldEvict reports whether table's newest row is older than threshold.
//
// An empty table is never evicted and a threshold <= 0 disables eviction.
// An anchor that cannot be parsed as a sample time counts as stale, so a
// corrupted table is replaced rather than appended to forever.
func ShouldEvict(ctx context.Context, db *gorm.DB, table, anchor string, threshold time.Duration, now time.Time) (bool, error) {
	if threshold <= 0 {
		return false, nil
	}

	value, ok, err := LastAnchor(ctx, db, table, anchor)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	last, err := ParseSampleTime(value)
	if err != nil {
		logger.WarnCtx(ctx, "table %s: %v, treating as stale", table, err)
		return true, nil
	}
	return now.Sub(last) > threshold, nil
}
