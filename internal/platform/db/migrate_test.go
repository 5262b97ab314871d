package db

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func sqlFiles(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	return fsys
}

func checksumOf(t *testing.T, fsys fstest.MapFS, name string) string {
	t.Helper()
	migs, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	for _, m := range migs {
		if m.Name == name {
			return m.Checksum
		}
	}
	t.Fatalf("migration %s not loaded", name)
	return ""
}

func TestLoadMigrations(t *testing.T) {
	fsys := sqlFiles(map[string]string{
		"010_tables.sql":      "SELECT 10;",
		"002_appointment.sql": "CREATE TABLE appointment (id SERIAL);",
		"001_settings.sql":    "CREATE TABLE calendar_settings (id SERIAL);",
		"readme.sql":          "-- no version prefix",
		"abc_invalid.sql":     "-- non-numeric prefix",
		"notes.txt":           "not sql",
	})
	fsys["archive/003_old.sql"] = &fstest.MapFile{Data: []byte("SELECT 3;")}

	migs, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	var versions []int
	for _, m := range migs {
		versions = append(versions, m.Version)
	}
	if len(versions) != 3 || versions[0] != 1 || versions[1] != 2 || versions[2] != 10 {
		t.Fatalf("expected versions [1 2 10], got %v", versions)
	}
	if migs[0].Name != "001_settings.sql" || !strings.HasPrefix(migs[0].SQL, "CREATE TABLE calendar_settings") {
		t.Errorf("unexpected first migration %+v", migs[0])
	}
	if len(migs[0].Checksum) != 64 || migs[0].Checksum == migs[1].Checksum {
		t.Errorf("expected distinct sha256 checksums, got %q and %q", migs[0].Checksum, migs[1].Checksum)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := sqlFiles(map[string]string{
		"001_a.sql":  "SELECT 1;",
		"0001_b.sql": "SELECT 1;",
	})
	if _, err := NewMigrator(nil, fsys).LoadMigrations(); err == nil || !strings.Contains(err.Error(), "share version 1") {
		t.Errorf("expected duplicate version error, got %v", err)
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migs, err := NewMigrator(nil, fstest.MapFS{}).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migs) != 0 {
		t.Errorf("expected no migrations, got %d", len(migs))
	}
}

func TestMigrationStatus(t *testing.T) {
	fsys := sqlFiles(map[string]string{
		"001_settings.sql":    "CREATE TABLE calendar_settings (id SERIAL);",
		"002_appointment.sql": "CREATE TABLE appointment (id SERIAL);",
		"003_indexes.sql":     "CREATE INDEX idx ON appointment (id);",
	})
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	appliedAt := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS public").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT version, checksum, applied_at FROM public._migrations").
		WillReturnRows(pgxmock.NewRows([]string{"version", "checksum", "applied_at"}).
			AddRow(1, checksumOf(t, fsys, "001_settings.sql"), appliedAt).
			AddRow(2, "stale", appliedAt))

	statuses, err := NewMigrator(mock, fsys).Status(context.Background(), "public")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].Modified || !statuses[0].AppliedAt.Equal(appliedAt) {
		t.Errorf("expected 001 applied and unchanged, got %+v", statuses[0])
	}
	if !statuses[1].Modified {
		t.Errorf("expected 002 flagged as modified, got %+v", statuses[1])
	}
	if statuses[2].Applied || statuses[2].AppliedAt != nil {
		t.Errorf("expected 003 pending, got %+v", statuses[2])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUp_AppliesPendingUnderLock(t *testing.T) {
	fsys := sqlFiles(map[string]string{
		"001_settings.sql":    "CREATE TABLE calendar_settings (id SERIAL);",
		"002_appointment.sql": "CREATE TABLE appointment (id SERIAL);",
	})
	sum1 := checksumOf(t, fsys, "001_settings.sql")
	sum2 := checksumOf(t, fsys, "002_appointment.sql")

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS scheduling").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(migrationLockKey).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("SET LOCAL search_path TO scheduling, public").WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectQuery("FROM scheduling._migrations").
		WillReturnRows(pgxmock.NewRows([]string{"version", "checksum", "applied_at"}).AddRow(1, sum1, time.Now()))
	mock.ExpectExec("CREATE TABLE appointment").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO _migrations").
		WithArgs(2, "002_appointment.sql", sum2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := NewMigrator(mock, fsys).Up(context.Background(), "scheduling")
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 applied migration, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUp_RefusesEditedMigration(t *testing.T) {
	fsys := sqlFiles(map[string]string{"001_settings.sql": "CREATE TABLE calendar_settings (id BIGSERIAL);"})

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS public").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(migrationLockKey).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("SET LOCAL search_path").WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectQuery("FROM public._migrations").
		WillReturnRows(pgxmock.NewRows([]string{"version", "checksum", "applied_at"}).AddRow(1, "old-checksum", time.Now()))
	mock.ExpectRollback()

	n, err := NewMigrator(mock, fsys).Up(context.Background(), "public")
	if err == nil || !strings.Contains(err.Error(), "modified after it was applied") {
		t.Fatalf("expected modified migration error, got %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing applied, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnsureMigrationsTable_InvalidSchema(t *testing.T) {
	m := NewMigrator(nil, fstest.MapFS{})
	for _, schema := range []string{"", "public; DROP TABLE x", "1abc", "a-b"} {
		if err := m.EnsureMigrationsTable(context.Background(), schema); err == nil {
			t.Errorf("expected error for schema %q", schema)
		}
	}
}
