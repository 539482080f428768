package testutil

import (
	"database/sql"
	"testing"

	"github.com/pdellaert/fbw-installer/internal/db"
	_ "github.com/mattn/go-sqlite3" // Blank import for sql driver
)

// SetupTestDB creates an in-memory SQLite database and applies all migrations.
// It returns the database connection, ready for use in tests.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Use in-memory database for testing to ensure tests are fast and isolated.
	database, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	// Every connection to :memory: is its own database.
	database.SetMaxOpenConns(1)

	// Attach a cleanup function to automatically close the DB when the test completes.
	t.Cleanup(func() {
		database.Close()
	})

	if err := db.RunMigrations(database, db.Migrations); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	return database
}
