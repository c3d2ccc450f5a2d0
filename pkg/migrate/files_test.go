package migrate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func pinClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func TestCreateSQLMigrationUsesUTCVersion(t *testing.T) {
	pinClock(t, time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600)))
	dir := t.TempDir()

	got, err := CreateSQLMigration(dir, "  Add SKU column ")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if want := filepath.Join(dir, "20260304040607_add_sku_column.sql"); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	body, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if !strings.Contains(string(body), "-- rollback add_sku_column") {
		t.Fatalf("unexpected skeleton:\n%s", body)
	}
}

func TestCreateSQLMigrationRefusesOverwrite(t *testing.T) {
	pinClock(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	dir := t.TempDir()

	if _, err := CreateSQLMigration(dir, "seed"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := CreateSQLMigration(dir, "seed"); err == nil {
		t.Fatalf("expected second create in the same second to fail")
	}
}

func TestCreateSQLMigrationRejectsEmptySlug(t *testing.T) {
	if _, err := CreateSQLMigration(t.TempDir(), "!!!"); err == nil {
		t.Fatalf("expected punctuation-only name to fail")
	}
}

func TestValidateFS(t *testing.T) {
	good := "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose StatementEnd\n-- +goose Down\n"
	cases := map[string]struct {
		files   fstest.MapFS
		wantErr bool
	}{
		"valid": {
			files: fstest.MapFS{"20260101000000_init.sql": {Data: []byte(good)}},
		},
		"ignores non sql": {
			files: fstest.MapFS{"README.md": {Data: []byte("notes")}},
		},
		"duplicate version": {
			files: fstest.MapFS{
				"20260101000000_a.sql": {Data: []byte(good)},
				"20260101000000_b.sql": {Data: []byte(good)},
			},
			wantErr: true,
		},
		"missing down": {
			files:   fstest.MapFS{"20260101000000_a.sql": {Data: []byte("-- +goose Up\n")}},
			wantErr: true,
		},
		"unbalanced statements": {
			files: fstest.MapFS{"20260101000000_a.sql": {
				Data: []byte("-- +goose Up\n-- +goose StatementBegin\n-- +goose Down\n"),
			}},
			wantErr: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateFS(tc.files, ".")
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestEmbeddedFSIsRootedAtMigrations(t *testing.T) {
	fsys, err := EmbeddedFS()
	if err != nil {
		t.Fatalf("embedded fs: %v", err)
	}
	if err := ValidateFS(fsys, "."); err != nil {
		t.Fatalf("expected embedded migrations to validate from their root: %v", err)
	}
}

func TestRunRejectsMissingInputs(t *testing.T) {
	fsys, err := EmbeddedFS()
	if err != nil {
		t.Fatalf("embedded fs: %v", err)
	}
	if err := Run(context.Background(), nil, fsys, "up", nil); err == nil {
		t.Fatalf("expected nil db to fail")
	}
	if err := MigrateToVersion(context.Background(), nil, fsys, "not-a-version", nil); err == nil {
		t.Fatalf("expected malformed version to fail")
	}
}
