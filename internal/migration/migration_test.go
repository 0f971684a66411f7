package migration

import (
	"strings"
	"testing"
)

func TestFilesArePaired(t *testing.T) {
	names, err := Files()
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(names) == 0 {
		t.Fatalf("expected embedded migrations")
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, name := range names {
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", name)
		}
	}
	for version := range ups {
		if !downs[version] {
			t.Fatalf("migration %s has no down file", version)
		}
	}
}

func TestInitCreatesEveryTable(t *testing.T) {
	raw, err := embeddedMigrations.ReadFile(migrationsDir + "/0001_init.up.sql")
	if err != nil {
		t.Fatalf("read init migration: %v", err)
	}
	sql := string(raw)
	for _, table := range []string{
		"wallets",
		"wallet_ledger_entries",
		"usage_counters",
		"payment_intents",
		"payment_events",
		"workspace_entitlements",
	} {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("init migration does not create %s", table)
		}
	}
	if !strings.Contains(sql, "UNIQUE (provider, provider_event_id)") {
		t.Fatalf("payment events must be unique per provider event id")
	}
}
