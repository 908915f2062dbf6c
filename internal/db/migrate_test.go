// Package db tests for database migration management.
package db

import (
	"database/sql"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"

	"github.com/kwachira/wildtrack/migrations"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestInitialize verifies schema_migrations table creation.
func TestInitialize(t *testing.T) {
	db := openMemoryDB(t)
	m := NewMigrator(db, migrations.FS)

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_migrations'").Scan(&tableName)
	if err != nil {
		t.Errorf("schema_migrations table not found: %v", err)
	}
}

// TestUp verifies all embedded migrations apply cleanly.
func TestUp(t *testing.T) {
	db := openMemoryDB(t)
	m := NewMigrator(db, migrations.FS)

	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	version, err := m.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version < 1 {
		t.Errorf("CurrentVersion() = %d, want >= 1", version)
	}

	// Core tables exist after migration
	for _, table := range []string{"sync_sessions", "sync_queue", "animals", "tracking_events", "observations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found after Up(): %v", table, err)
		}
	}
}

// TestUp_idempotent verifies re-running Up applies nothing twice.
func TestUp_idempotent(t *testing.T) {
	db := openMemoryDB(t)
	m := NewMigrator(db, migrations.FS)

	if err := m.Up(); err != nil {
		t.Fatalf("first Up() failed: %v", err)
	}
	first, _ := m.CurrentVersion()

	if err := m.Up(); err != nil {
		t.Fatalf("second Up() failed: %v", err)
	}
	second, _ := m.CurrentVersion()

	if first != second {
		t.Errorf("version changed on re-run: %d -> %d", first, second)
	}
}

// TestDown verifies the last migration rolls back.
func TestDown(t *testing.T) {
	db := openMemoryDB(t)
	m := NewMigrator(db, migrations.FS)

	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sync_queue'").Scan(&count)
	if err != nil {
		t.Fatalf("sqlite_master query failed: %v", err)
	}
	if count != 0 {
		t.Error("sync_queue table still exists after Down()")
	}
}

// TestDown_noMigrations verifies rollback with nothing applied fails.
func TestDown_noMigrations(t *testing.T) {
	db := openMemoryDB(t)
	m := NewMigrator(db, migrations.FS)

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if err := m.Down(); err == nil {
		t.Error("Down() with no applied migrations should return error")
	}
}

// TestParseVersion verifies migration filename parsing.
func TestParseVersion(t *testing.T) {
	cases := []struct {
		name    string
		suffix  string
		version int
	}{
		{"V1__initial_schema.up.sql", ".up.sql", 1},
		{"V12__add_indexes.up.sql", ".up.sql", 12},
		{"V1__initial_schema.down.sql", ".down.sql", 1},
		{"V1__initial_schema.down.sql", ".up.sql", 0},
		{"initial_schema.up.sql", ".up.sql", 0},
		{"Vx__bad.up.sql", ".up.sql", 0},
	}

	for _, c := range cases {
		if got := parseVersion(c.name, c.suffix); got != c.version {
			t.Errorf("parseVersion(%q, %q) = %d, want %d", c.name, c.suffix, got, c.version)
		}
	}
}

// TestUp_badSQL verifies a broken migration is reported.
func TestUp_badSQL(t *testing.T) {
	db := openMemoryDB(t)
	fsys := fstest.MapFS{
		"V1__broken.up.sql": &fstest.MapFile{Data: []byte("CREATE TABL oops")},
	}
	m := NewMigrator(db, fsys)

	if err := m.Up(); err == nil {
		t.Error("Up() with invalid SQL should return error")
	}
}
