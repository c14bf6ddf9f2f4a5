package db

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestDSN(t *testing.T) {
	dsn := DSN("/tmp/x.sqlite3")
	if !strings.HasPrefix(dsn, "file:/tmp/x.sqlite3?") {
		t.Errorf("unexpected DSN prefix: %s", dsn)
	}
	if !strings.Contains(dsn, "_txlock=immediate") {
		t.Errorf("expected immediate transactions in DSN: %s", dsn)
	}
	if !strings.Contains(dsn, "busy_timeout%285000%29") {
		t.Errorf("expected busy_timeout pragma in DSN: %s", dsn)
	}
}

func TestCommitsAreSynced(t *testing.T) {
	database, err := Open(filepath.Join(t.TempDir(), "workshop.sqlite3"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer database.Close()

	var mode string
	if err := database.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected wal journal, got %s", mode)
	}

	// 2 = FULL
	var sync int
	if err := database.QueryRow(`PRAGMA synchronous`).Scan(&sync); err != nil {
		t.Fatalf("synchronous: %v", err)
	}
	if sync != 2 {
		t.Errorf("expected synchronous FULL (2), got %d", sync)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	database := NewTestDB(t)

	if err := Migrate(database); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	for _, table := range []string{"users", "items", "transactions", "revoked_tokens", "settings"} {
		var name string
		err := database.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestLedgerIsAppendOnly(t *testing.T) {
	database := NewTestDB(t)

	_, err := database.Exec(`INSERT INTO transactions
		(id, item_id, item_code, item_name, action, user_id, user_name, occurred_at)
		VALUES ('01J', 1, 'A', 'Anvil', 'CheckOut', 1, 'admin', 1)`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := database.Exec(`UPDATE transactions SET notes = 'x'`); err == nil {
		t.Error("expected update to be rejected")
	}
	if _, err := database.Exec(`DELETE FROM transactions`); err == nil {
		t.Error("expected delete to be rejected")
	}
}
