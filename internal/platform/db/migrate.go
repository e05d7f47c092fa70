package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DownMarker separates the forward SQL of a migration file from its rollback.
const DownMarker = "-- migrate:down"

var ErrNoRollback = errors.New("migration has no down section")

// Migration is one "<version>_<name>.sql" file.
type Migration struct {
	Version int
	Name    string
	SQL     string
	DownSQL string
}

type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// Migrator applies SQL files from fsys to a schema and records them in
// <schema>.schema_migrations.
type Migrator struct {
	pool *pgxpool.Pool
	fsys fs.FS
}

func NewMigrator(pool *pgxpool.Pool, fsys fs.FS) *Migrator {
	return &Migrator{pool: pool, fsys: fsys}
}

// parseMigration splits a file into its version and up/down SQL. ok is false
// for files that are not migrations.
func parseMigration(name string, body []byte) (Migration, bool) {
	if path.Ext(name) != ".sql" {
		return Migration{}, false
	}
	prefix, _, found := strings.Cut(name, "_")
	v, err := strconv.Atoi(prefix)
	if !found || err != nil || v <= 0 {
		return Migration{}, false
	}
	up, down, _ := strings.Cut(string(body), DownMarker)
	return Migration{Version: v, Name: name, SQL: strings.TrimSpace(up), DownSQL: strings.TrimSpace(down)}, true
}

// LoadMigrations returns the migrations at the root of the file system in
// version order.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var out []Migration
	seen := map[int]string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		body, err := fs.ReadFile(m.fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		mig, ok := parseMigration(e.Name(), body)
		if !ok {
			continue
		}
		if prev, dup := seen[mig.Version]; dup {
			return nil, fmt.Errorf("version %d used by both %s and %s", mig.Version, prev, mig.Name)
		}
		seen[mig.Version] = mig.Name
		out = append(out, mig)
	}
	slices.SortFunc(out, func(a, b Migration) int { return a.Version - b.Version })
	return out, nil
}

func (m *Migrator) prepare(ctx context.Context, schema string) ([]Migration, map[int]time.Time, error) {
	ident := pgx.Identifier{schema}.Sanitize()
	if _, err := m.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+ident+`.schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return nil, nil, fmt.Errorf("create %s.schema_migrations: %w", schema, err)
	}

	migs, err := m.LoadMigrations()
	if err != nil {
		return nil, nil, err
	}

	rows, err := m.pool.Query(ctx, `SELECT version, applied_at FROM `+ident+`.schema_migrations`)
	if err != nil {
		return nil, nil, fmt.Errorf("read applied versions: %w", err)
	}
	applied := map[int]time.Time{}
	var v int
	var at time.Time
	if _, err := pgx.ForEachRow(rows, []any{&v, &at}, func() error {
		applied[v] = at
		return nil
	}); err != nil {
		return nil, nil, fmt.Errorf("read applied versions: %w", err)
	}
	return migs, applied, nil
}

// Up applies every pending migration and returns how many ran.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	return m.UpTo(ctx, schema, 0)
}

// UpTo applies pending migrations up to and including target; 0 means all.
// Each file runs in its own transaction.
func (m *Migrator) UpTo(ctx context.Context, schema string, target int) (int, error) {
	migs, applied, err := m.prepare(ctx, schema)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, mig := range pending(migs, applied, target) {
		err := m.inSchema(ctx, schema, mig.SQL,
			"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name)
		if err != nil {
			return n, fmt.Errorf("apply %s: %w", mig.Name, err)
		}
		n++
	}
	return n, nil
}

// Down rolls back the most recently applied migration. It returns the
// migration undone, or nil when nothing is applied.
func (m *Migrator) Down(ctx context.Context, schema string) (*Migration, error) {
	migs, applied, err := m.prepare(ctx, schema)
	if err != nil {
		return nil, err
	}
	last := latestApplied(migs, applied)
	if last == nil {
		return nil, nil
	}
	if last.DownSQL == "" {
		return nil, fmt.Errorf("%s: %w", last.Name, ErrNoRollback)
	}
	if err := m.inSchema(ctx, schema, last.DownSQL,
		"DELETE FROM schema_migrations WHERE version = $1", last.Version); err != nil {
		return nil, fmt.Errorf("roll back %s: %w", last.Name, err)
	}
	return last, nil
}

// inSchema runs body and then the bookkeeping statement in one transaction
// with search_path pointed at schema.
func (m *Migrator) inSchema(ctx context.Context, schema, body, record string, args ...any) error {
	return pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SET LOCAL search_path TO "+pgx.Identifier{schema}.Sanitize()+", public"); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, body); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, record, args...)
		return err
	})
}

func pending(migs []Migration, applied map[int]time.Time, target int) []Migration {
	var out []Migration
	for _, mig := range migs {
		if target > 0 && mig.Version > target {
			break
		}
		if _, done := applied[mig.Version]; !done {
			out = append(out, mig)
		}
	}
	return out
}

func latestApplied(migs []Migration, applied map[int]time.Time) *Migration {
	for i := len(migs) - 1; i >= 0; i-- {
		if _, ok := applied[migs[i].Version]; ok {
			return &migs[i]
		}
	}
	return nil
}

// Status lists every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	migs, applied, err := m.prepare(ctx, schema)
	if err != nil {
		return nil, err
	}
	return buildStatus(migs, applied), nil
}

func buildStatus(migs []Migration, applied map[int]time.Time) []MigrationStatus {
	out := make([]MigrationStatus, len(migs))
	for i, mig := range migs {
		out[i] = MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := applied[mig.Version]; ok {
			out[i].Applied, out[i].AppliedAt = true, &at
		}
	}
	return out
}
