package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"
)

// Manager applies SQL migrations and seed files from disk. Migrations are
// named NNNN_name.up.sql / NNNN_name.down.sql and run in lexical order, one
// transaction per file. Seeds are plain .sql files applied once each.
type Manager struct {
	db              *sql.DB
	migrationsDir   string
	seedsDir        string
	migrationsTable string
	seedsTable      string
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// NewManager constructs a Manager over an open database handle.
func NewManager(db *sql.DB, migrationsDir, seedsDir string, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrationsDir:   migrationsDir,
		seedsDir:        seedsDir,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Entry is one migration or seed file and whether it has been applied.
type Entry struct {
	Name    string
	Applied bool
}

// Up applies every pending migration in order.
func (m *Manager) Up(ctx context.Context) error {
	return m.runPending(ctx, m.migrationsTable, m.migrationsDir, ".up.sql", "migration")
}

// Seed applies every pending seed file. Seeds are recorded like migrations,
// so re-running is a no-op.
func (m *Manager) Seed(ctx context.Context) error {
	return m.runPending(ctx, m.seedsTable, m.seedsDir, ".sql", "seed")
}

func (m *Manager) runPending(ctx context.Context, table, dir, suffix, kind string) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx, table)
	if err != nil {
		return err
	}
	files, err := collectSQL(dir, suffix)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	for _, f := range files {
		if done[f.base] {
			continue
		}
		if err := m.runFile(ctx, f.path); err != nil {
			return fmt.Errorf("apply %s %s: %w", kind, f.base, err)
		}
		if err := m.record(ctx, table, f.base); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return "", err
	}
	applied, err := m.applied(ctx, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "", errors.New("no migrations applied")
	}
	last := applied[len(applied)-1]
	downPath := filepath.Join(m.migrationsDir, strings.TrimSuffix(last, ".up.sql")+".down.sql")
	if _, err := os.Stat(downPath); err != nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	if err := m.runFile(ctx, downPath); err != nil {
		return "", fmt.Errorf("rollback migration %s: %w", last, err)
	}
	_, err = m.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last)
	if err != nil {
		return "", err
	}
	return last, nil
}

// Status lists every migration on disk with its applied state, applied ones
// first in application order, then pending ones in lexical order.
func (m *Manager) Status(ctx context.Context) ([]Entry, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx, m.migrationsTable)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.migrationsDir, ".up.sql")
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(applied))
	entries := make([]Entry, 0, len(files))
	for _, name := range applied {
		done[name] = true
		entries = append(entries, Entry{Name: name, Applied: true})
	}
	for _, f := range files {
		if !done[f.base] {
			entries = append(entries, Entry{Name: f.base})
		}
	}
	return entries, nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				applied_at timestamptz not null default now()
			);`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// runFile executes one SQL file inside a single transaction.
func (m *Manager) runFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) record(ctx context.Context, table, name string) error {
	_, err := m.db.ExecContext(ctx,
		fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
		name, time.Now().UTC())
	return err
}

// applied returns recorded file names in application order.
func (m *Manager) applied(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type sqlFile struct {
	base string
	path string
}

func collectSQL(dir, suffix string) ([]sqlFile, error) {
	if dir == "" {
		return nil, nil
	}
	var files []sqlFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		files = append(files, sqlFile{base: d.Name(), path: path})
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].base < files[j].base })
	return files, nil
}

// splitStatements splits SQL on semicolons outside string literals and strips
// line comments. Plain DDL and DML only; procedural bodies with embedded
// semicolons are not supported.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	inString := false
	for _, line := range strings.Split(sql, "\n") {
		if !inString && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			switch r {
			case '\'':
				inString = !inString
				current.WriteRune(r)
			case ';':
				current.WriteRune(r)
				if !inString {
					stmts = append(stmts, current.String())
					current.Reset()
				}
			default:
				current.WriteRune(r)
			}
		}
		current.WriteRune('\n')
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
