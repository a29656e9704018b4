package database

import (
	"io/fs"
	"strings"
	"testing"
)

// 埋め込みマイグレーションがup/downのペアで揃っていることを検証する。
func TestMigrationsFS_UpDownPairs(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("failed to read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one embedded migration file")
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected migration file name: %s", name)
		}
	}

	for base := range ups {
		if !downs[base] {
			t.Errorf("missing down migration for %s", base)
		}
	}
	for base := range downs {
		if !ups[base] {
			t.Errorf("missing up migration for %s", base)
		}
	}
}

// directory_usersとsessionsのマイグレーションが含まれることを検証する。
func TestMigrationsFS_ContainsExpectedTables(t *testing.T) {
	data, err := fs.ReadFile(migrationsFS, "migrations/000001_create_directory_users.up.sql")
	if err != nil {
		t.Fatalf("failed to read directory_users migration: %v", err)
	}
	if !strings.Contains(string(data), "CREATE TABLE directory_users") {
		t.Error("expected directory_users migration to create directory_users table")
	}
	if !strings.Contains(string(data), "subject_id") {
		t.Error("expected directory_users migration to define subject_id")
	}

	data, err = fs.ReadFile(migrationsFS, "migrations/000002_create_sessions.up.sql")
	if err != nil {
		t.Fatalf("failed to read sessions migration: %v", err)
	}
	if !strings.Contains(string(data), "CREATE TABLE sessions") {
		t.Error("expected sessions migration to create sessions table")
	}
}
