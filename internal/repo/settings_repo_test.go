package repo

import (
	"context"
	"testing"
)

func TestSettings_GetAbsentAndUpsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	v, err := GetSetting(ctx, db, "materials_cooldown_minutes")
	if err != nil || v != "" {
		t.Fatalf("absent key = (%q, %v), want empty", v, err)
	}

	if err := SetSetting(ctx, db, "materials_cooldown_minutes", "60"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if v, _ := GetSetting(ctx, db, "materials_cooldown_minutes"); v != "60" {
		t.Fatalf("value = %q, want 60", v)
	}

	if err := SetSetting(ctx, db, "materials_cooldown_minutes", "90"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if v, _ := GetSetting(ctx, db, "materials_cooldown_minutes"); v != "90" {
		t.Fatalf("value after upsert = %q, want 90", v)
	}
}
