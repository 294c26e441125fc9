package database

import (
	"strings"
	"testing"

	"trade-setup-assistant/config"
)

func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "assistant",
		Password: "secret",
		Database: "setups",
	}

	got := DSN(cfg)
	want := "host=localhost port=5432 user=assistant password=secret dbname=setups sslmode=disable"
	if got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}

	cfg.SSLMode = "require"
	if !strings.HasSuffix(DSN(cfg), "sslmode=require") {
		t.Errorf("expected explicit ssl mode to be kept, got %q", DSN(cfg))
	}
}

// Migrations run on every start, so each statement must be idempotent
func TestMigrationsAreIdempotent(t *testing.T) {
	for i, stmt := range Migrations {
		if !strings.Contains(stmt, "IF NOT EXISTS") {
			t.Errorf("migration %d is not idempotent: %s", i, stmt)
		}
	}
}
