package services

import (
	"context"
	"testing"

	"gorm.io/gorm"
)

type fakeSettingsRepo struct {
	values map[string]string
	err    error
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{values: map[string]string{}}
}

func (f *fakeSettingsRepo) GetSetting(_ context.Context, _ *gorm.DB, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.values[key], nil
}

func (f *fakeSettingsRepo) SetSetting(_ context.Context, _ *gorm.DB, key, value string) error {
	if f.err != nil {
		return f.err
	}
	f.values[key] = value
	return nil
}

func TestSettingsService_Seed(t *testing.T) {
	repo := newFakeSettingsRepo()
	svc := &SettingsService{
		Repo:                   repo,
		DefaultCooldownMinutes: 60,
		DefaultRecipientEmail:  "review@example.com",
	}

	if err := svc.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if repo.values[keyCooldownMinutes] != "60" {
		t.Fatalf("seeded cooldown = %q", repo.values[keyCooldownMinutes])
	}
	if repo.values[keyRecipientEmail] != "review@example.com" {
		t.Fatalf("seeded recipient = %q", repo.values[keyRecipientEmail])
	}

	// Existing values survive a re-seed.
	repo.values[keyCooldownMinutes] = "15"
	repo.values[keyRecipientEmail] = "ops@example.com"
	if err := svc.Seed(context.Background()); err != nil {
		t.Fatalf("re-seed: %v", err)
	}
	if repo.values[keyCooldownMinutes] != "15" || repo.values[keyRecipientEmail] != "ops@example.com" {
		t.Fatalf("re-seed overwrote operator values: %v", repo.values)
	}
}

func TestSettingsService_CooldownMinutes(t *testing.T) {
	repo := newFakeSettingsRepo()
	svc := &SettingsService{Repo: repo, DefaultCooldownMinutes: 60}

	// Absent key falls back to the default.
	if got, err := svc.CooldownMinutes(context.Background()); err != nil || got != 60 {
		t.Fatalf("default = (%d, %v), want 60", got, err)
	}

	repo.values[keyCooldownMinutes] = "30"
	if got, _ := svc.CooldownMinutes(context.Background()); got != 30 {
		t.Fatalf("stored = %d, want 30", got)
	}

	// Malformed and negative stored values fall back to the default.
	for _, bad := range []string{"abc", "-5"} {
		repo.values[keyCooldownMinutes] = bad
		if got, _ := svc.CooldownMinutes(context.Background()); got != 60 {
			t.Fatalf("malformed %q = %d, want default 60", bad, got)
		}
	}

	// 0 is a valid stored value: it disables the cooldown.
	repo.values[keyCooldownMinutes] = "0"
	if got, _ := svc.CooldownMinutes(context.Background()); got != 0 {
		t.Fatalf("zero = %d, want 0", got)
	}
}

func TestSettingsService_SettersClampAndStore(t *testing.T) {
	repo := newFakeSettingsRepo()
	svc := &SettingsService{Repo: repo}

	if err := svc.SetCooldownMinutes(context.Background(), -10); err != nil {
		t.Fatalf("SetCooldownMinutes: %v", err)
	}
	if repo.values[keyCooldownMinutes] != "0" {
		t.Fatalf("negative input must clamp to 0, got %q", repo.values[keyCooldownMinutes])
	}

	if err := svc.SetRecipientEmail(context.Background(), "new@example.com"); err != nil {
		t.Fatalf("SetRecipientEmail: %v", err)
	}
	if got, _ := svc.RecipientEmail(context.Background()); got != "new@example.com" {
		t.Fatalf("recipient = %q", got)
	}
}

func TestSettingsService_RecipientFallback(t *testing.T) {
	svc := &SettingsService{Repo: newFakeSettingsRepo(), DefaultRecipientEmail: "review@example.com"}
	if got, err := svc.RecipientEmail(context.Background()); err != nil || got != "review@example.com" {
		t.Fatalf("fallback = (%q, %v)", got, err)
	}
}
