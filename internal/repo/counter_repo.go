// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the atomic per-(date, scope) sequence
// counter.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// counterDateKey normalizes a date to the canonical key stored in the counter
// table, so increments on the same calendar day always hit the same row
// regardless of the time-of-day component of the input.
func counterDateKey(d time.Time) string { return d.UTC().Format("2006-01-02") }

// IncrementDailyCounter increments the counter for (date, scope) and returns
// the new value (1 on the first increment of the day).
//
// The upsert-increment is a single statement: the counter row is a hot spot
// under burst load from one scope, and a read-then-write pair would lose
// updates. RETURNING hands back the post-increment value from the same
// statement.
func IncrementDailyCounter(ctx context.Context, db *gorm.DB, d time.Time, scope string) (int, error) {
	var counter int
	err := db.WithContext(ctx).Raw(`
		INSERT INTO material_daily_counters (counter_date, scope, last_counter)
		VALUES (?, ?, 1)
		ON CONFLICT (counter_date, scope)
		DO UPDATE SET last_counter = last_counter + 1
		RETURNING last_counter`,
		counterDateKey(d), scope,
	).Scan(&counter).Error
	return counter, err
}

// PeekDailyCounter returns the current counter value for (date, scope)
// without incrementing it; 0 when no row exists yet.
func PeekDailyCounter(ctx context.Context, db *gorm.DB, d time.Time, scope string) (int, error) {
	var counter int
	err := db.WithContext(ctx).Raw(`
		SELECT COALESCE(MAX(last_counter), 0)
		FROM material_daily_counters
		WHERE counter_date = ? AND scope = ?`,
		counterDateKey(d), scope,
	).Scan(&counter).Error
	return counter, err
}
