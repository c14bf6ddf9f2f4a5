package store

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/geethx/workshop/internal/db"
)

func TestGetSettingMissing(t *testing.T) {
	database := db.NewTestDB(t)

	value, ok, err := GetSetting(context.Background(), database, "nope")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if ok || value != "" {
		t.Errorf("expected missing setting, got %q ok=%v", value, ok)
	}
}

func TestEnsureSettingKeepsFirstValue(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	first, err := EnsureSetting(ctx, database, "site_name", "north shed")
	if err != nil {
		t.Fatalf("EnsureSetting: %v", err)
	}
	second, err := EnsureSetting(ctx, database, "site_name", "south shed")
	if err != nil {
		t.Fatalf("EnsureSetting: %v", err)
	}
	if first != "north shed" || second != "north shed" {
		t.Errorf("expected the first value to stick, got %q then %q", first, second)
	}
}

func TestJWTSecretIsStable(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	secret, err := GetJWTSecret(ctx, database)
	if err != nil {
		t.Fatalf("GetJWTSecret: %v", err)
	}
	raw, err := hex.DecodeString(secret)
	if err != nil || len(raw) != 32 {
		t.Fatalf("expected 32 hex-encoded bytes, got %q", secret)
	}

	again, err := GetJWTSecret(ctx, database)
	if err != nil {
		t.Fatalf("GetJWTSecret: %v", err)
	}
	if again != secret {
		t.Errorf("secret changed between calls: %q then %q", secret, again)
	}

	stored, ok, err := GetSetting(ctx, database, settingJWTSecret)
	if err != nil || !ok || stored != secret {
		t.Errorf("expected secret under %s, got %q ok=%v err=%v", settingJWTSecret, stored, ok, err)
	}
}
