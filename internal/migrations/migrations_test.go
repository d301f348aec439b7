package migrations_test

import (
	"context"
	"testing"

	"github.com/playperu/stamprally/internal/database"
	"github.com/playperu/stamprally/internal/migrations"
)

func TestMigrations(t *testing.T) {
	db, err := database.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	n, err := migrations.Run(context.Background(), db)
	if err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	if n != 1 {
		t.Errorf("applied %d migrations, want 1", n)
	}

	var name string
	err = db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", "stamp_documents",
	).Scan(&name)
	if err != nil {
		t.Errorf("table %q not found: %v", "stamp_documents", err)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db, err := database.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if _, err := migrations.Run(context.Background(), db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	n, err := migrations.Run(context.Background(), db)
	if err != nil {
		t.Fatalf("second run (should be no-op): %v", err)
	}
	if n != 0 {
		t.Errorf("second run applied %d migrations, want 0", n)
	}
}
