package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	contactsync "github.com/goliatone/go-contact-sync"
	_ "github.com/mattn/go-sqlite3"
)

const schemaMigration = "20260101000000_contact_sync"

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	seen := map[string]bool{}
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		seen[entry.Dialect] = true
	}
	if !seen[DialectPostgres] || !seen[DialectSQLite] {
		t.Fatalf("expected postgres and sqlite filesystems, got %v", seen)
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	reg, err := Register(context.Background(), func(_ context.Context, dialect string, label string, _ fs.FS) error {
		calls = append(calls, dialect+":"+label)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(calls) != 1 || calls[0] != DialectSQLite+":go-contact-sync" {
		t.Fatalf("expected a single sqlite registration, got %v", calls)
	}
	if reg.SourceLabel != "go-contact-sync" {
		t.Fatalf("unexpected source label %q", reg.SourceLabel)
	}
}

func TestDialectForDriver(t *testing.T) {
	cases := map[string]string{
		"sqlite3":  DialectSQLite,
		"SQLite":   DialectSQLite,
		"postgres": DialectPostgres,
		"pgx":      DialectPostgres,
	}
	for driver, want := range cases {
		got, err := DialectForDriver(driver)
		if err != nil || got != want {
			t.Fatalf("driver %q: expected %q, got %q err=%v", driver, want, got, err)
		}
	}
	if _, err := DialectForDriver("mysql"); err == nil {
		t.Fatalf("expected unsupported driver to fail")
	}
}

func TestFilesystems_RejectsRootWithoutSchema(t *testing.T) {
	empty := fstest.MapFS{"README.md": &fstest.MapFile{Data: []byte("nothing here")}}
	if _, err := Filesystems(empty); err == nil {
		t.Fatalf("expected missing schema to fail")
	}
}

func TestRegister_CustomFilesystemsAndLabel(t *testing.T) {
	custom := fstest.MapFS{"001_extra.up.sql": &fstest.MapFile{Data: []byte("SELECT 1;")}}
	var got []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, label string, fsys fs.FS) error {
		matches, _ := fs.Glob(fsys, "*.up.sql")
		got = append(got, dialect+":"+label+":"+strings.Join(matches, ","))
		return nil
	},
		WithFilesystems(FilesystemSpec{Dialect: "SQLite", Path: "extra", FS: custom}),
		WithDialectSourceLabel("host-app"),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(got) != 1 || got[0] != "sqlite:host-app:001_extra.up.sql" {
		t.Fatalf("expected custom sqlite registration, got %v", got)
	}
}

func TestApply_RequiresClient(t *testing.T) {
	if err := Apply(context.Background(), nil, DialectSQLite); err == nil {
		t.Fatalf("expected nil client to fail")
	}
}

func TestRegister_RequiresRegisterFunc(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected missing register func to fail")
	}
}

func TestSchemaMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := contactsync.GetMigrationsFS()
	paths := []string{
		"data/sql/migrations/" + schemaMigration + ".up.sql",
		"data/sql/migrations/" + schemaMigration + ".down.sql",
		"data/sql/migrations/sqlite/" + schemaMigration + ".up.sql",
		"data/sql/migrations/sqlite/" + schemaMigration + ".down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteSchemaMigration_CascadesAndRollback(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", "file:migrations-contact-sync?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	sqliteMigrations, err := fs.Sub(contactsync.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	if err := execSQLMigration(ctx, db, sqliteMigrations, schemaMigration+".up.sql"); err != nil {
		t.Fatalf("apply up migration: %v", err)
	}

	seed := []string{
		`INSERT INTO users (id, email) VALUES ('u1', 'owner@example.com')`,
		`INSERT INTO connections (id, user_id, provider_id, access_token_encrypted) VALUES ('c1', 'u1', 'hubspot', 'enc')`,
		`INSERT INTO source_contacts (connection_id, provider_contact_id, provider_id) VALUES ('c1', 'p1', 'hubspot')`,
		`INSERT INTO golden_records (id, user_id, email) VALUES ('g1', 'u1', 'a@example.com')`,
		`INSERT INTO identity_map (golden_record_id, user_id, connection_id, provider_id, provider_contact_id) VALUES ('g1', 'u1', 'c1', 'hubspot', 'p1')`,
	}
	for _, statement := range seed {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			t.Fatalf("seed %q: %v", statement, err)
		}
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO connections (id, user_id, provider_id, access_token_encrypted) VALUES ('c2', 'u1', 'hubspot', 'enc')`,
	); err == nil {
		t.Fatalf("expected one connection per user and provider")
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM connections WHERE id = 'c1'`); err != nil {
		t.Fatalf("delete connection: %v", err)
	}
	assertCount(t, db, `SELECT COUNT(*) FROM source_contacts`, 0)
	assertCount(t, db, `SELECT COUNT(*) FROM identity_map`, 0)
	assertCount(t, db, `SELECT COUNT(*) FROM golden_records`, 1)

	if _, err := db.ExecContext(ctx, `DELETE FROM users WHERE id = 'u1'`); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	assertCount(t, db, `SELECT COUNT(*) FROM golden_records`, 0)

	if err := execSQLMigration(ctx, db, sqliteMigrations, schemaMigration+".down.sql"); err != nil {
		t.Fatalf("apply down migration: %v", err)
	}
	assertCount(t, db, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='connections'`, 0)
}

func assertCount(t *testing.T, db *sql.DB, query string, want int) {
	t.Helper()
	var got int
	if err := db.QueryRowContext(context.Background(), query).Scan(&got); err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	if got != want {
		t.Fatalf("%s: expected %d, got %d", query, want, got)
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
