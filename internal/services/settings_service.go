// Package services – SettingsService
//
// Runtime-tunable settings (cooldown window, default recipient address) live
// in a key/value table so operators can change them without a redeploy.
// Config-file defaults are seeded on startup and used as fallbacks whenever a
// key is absent or malformed.
package services

import (
	"context"
	"strconv"

	"gorm.io/gorm"
)

// Settings keys.
const (
	keyCooldownMinutes = "materials_cooldown_minutes"
	keyRecipientEmail  = "materials_recipient_email"
)

// SettingsRepo defines the key/value store contract required by
// SettingsService.
type SettingsRepo interface {
	// GetSetting returns the stored value for key, "" when absent.
	GetSetting(ctx context.Context, db *gorm.DB, key string) (string, error)
	// SetSetting upserts a key/value pair.
	SetSetting(ctx context.Context, db *gorm.DB, key, value string) error
}

// SettingsService reads and writes workflow settings with config defaults.
type SettingsService struct {
	DB   *gorm.DB
	Repo SettingsRepo

	// DefaultCooldownMinutes applies when no stored value exists; 0 disables
	// the cooldown entirely.
	DefaultCooldownMinutes int
	// DefaultRecipientEmail applies when no stored value exists.
	DefaultRecipientEmail string
}

// Seed writes the config defaults into the store for keys that have no value
// yet, so operators see current effective values when they inspect the table.
func (s *SettingsService) Seed(ctx context.Context) error {
	if v, err := s.Repo.GetSetting(ctx, s.DB, keyRecipientEmail); err != nil {
		return err
	} else if v == "" && s.DefaultRecipientEmail != "" {
		if err := s.Repo.SetSetting(ctx, s.DB, keyRecipientEmail, s.DefaultRecipientEmail); err != nil {
			return err
		}
	}
	if v, err := s.Repo.GetSetting(ctx, s.DB, keyCooldownMinutes); err != nil {
		return err
	} else if v == "" {
		return s.Repo.SetSetting(ctx, s.DB, keyCooldownMinutes, strconv.Itoa(s.DefaultCooldownMinutes))
	}
	return nil
}

// CooldownMinutes returns the effective cooldown window in minutes.
// 0 disables the cooldown gate.
func (s *SettingsService) CooldownMinutes(ctx context.Context) (int, error) {
	v, err := s.Repo.GetSetting(ctx, s.DB, keyCooldownMinutes)
	if err != nil {
		return 0, err
	}
	if v == "" {
		return s.DefaultCooldownMinutes, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return s.DefaultCooldownMinutes, nil
	}
	return n, nil
}

// SetCooldownMinutes stores a new cooldown window.
func (s *SettingsService) SetCooldownMinutes(ctx context.Context, minutes int) error {
	if minutes < 0 {
		minutes = 0
	}
	return s.Repo.SetSetting(ctx, s.DB, keyCooldownMinutes, strconv.Itoa(minutes))
}

// RecipientEmail returns the effective default recipient address.
func (s *SettingsService) RecipientEmail(ctx context.Context) (string, error) {
	v, err := s.Repo.GetSetting(ctx, s.DB, keyRecipientEmail)
	if err != nil {
		return "", err
	}
	if v == "" {
		return s.DefaultRecipientEmail, nil
	}
	return v, nil
}

// SetRecipientEmail stores a new default recipient address.
func (s *SettingsService) SetRecipientEmail(ctx context.Context, email string) error {
	return s.Repo.SetSetting(ctx, s.DB, keyRecipientEmail, email)
}
