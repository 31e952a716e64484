// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the key/value settings store behind
// runtime-tunable values (cooldown window, recipient address).
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ptoflow/materials-backend/internal/domain"
)

// GetSetting returns the stored value for key, or "" when the key is absent.
func GetSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	var s domain.Setting
	err := db.WithContext(ctx).Where("key = ?", key).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return s.Value, nil
}

// SetSetting upserts a settings row.
func SetSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	return db.WithContext(ctx).Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	).Error
}
