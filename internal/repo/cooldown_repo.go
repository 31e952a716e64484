// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for per-scope
// cooldown entries.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ptoflow/materials-backend/internal/domain"
)

// GetCooldown returns the cooldown entry for a scope, or nil when the scope
// has never completed a send.
func GetCooldown(ctx context.Context, db *gorm.DB, scope domain.Scope) (*domain.CooldownEntry, error) {
	var entry domain.CooldownEntry
	err := db.WithContext(ctx).
		Where("scope_kind = ? AND scope_id = ?", scope.Kind, scope.ID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpsertCooldown records the time of a successful send for a scope. Called
// only from the final transaction of a confirmed request; cancellations and
// failures never write here.
func UpsertCooldown(ctx context.Context, db *gorm.DB, scope domain.Scope, at time.Time) error {
	return db.WithContext(ctx).Exec(`
		INSERT INTO material_cooldowns (scope_kind, scope_id, last_request_at)
		VALUES (?, ?, ?)
		ON CONFLICT (scope_kind, scope_id)
		DO UPDATE SET last_request_at = excluded.last_request_at`,
		scope.Kind, scope.ID, at.UTC(),
	).Error
}
