package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite tolerates a single writer; this also keeps :memory: stores on
	// one connection so tests see a single database.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}

	return s.migrateSources(context.Background())
}

// migrateSources brings the premium_sources table to the shape with the
// composite uniqueness constraint. The table may predate the constraint with
// live rows in it, so an out-of-date table is renamed, recreated, and its
// rows copied before the old table is dropped. Running it again is a no-op.
func (s *Store) migrateSources(ctx context.Context) error {
	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name = 'premium_sources'
	`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return s.createSourcesTable(ctx)
	}
	if err != nil {
		return err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'index' AND name = 'idx_premium_sources_unique'
	`).Scan(&name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	steps := []string{
		`ALTER TABLE premium_sources RENAME TO premium_sources_old`,
		`CREATE TABLE premium_sources (
			user_id TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_id TEXT,
			granted_by TEXT NOT NULL,
			granted_at INTEGER NOT NULL,
			expires_at INTEGER,
			is_permanent INTEGER DEFAULT 0,
			PRIMARY KEY (user_id, source_type, source_id)
		)`,
		`INSERT INTO premium_sources (
			user_id, source_type, source_id, granted_by,
			granted_at, expires_at, is_permanent
		)
		SELECT user_id, source_type, source_id, granted_by,
			granted_at, expires_at, is_permanent
		FROM premium_sources_old`,
		`DROP TABLE premium_sources_old`,
		`CREATE UNIQUE INDEX idx_premium_sources_unique
			ON premium_sources (user_id, source_type, COALESCE(source_id, ''))`,
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step); err != nil {
			return fmt.Errorf("premium_sources migration failed: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) createSourcesTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS premium_sources (
			user_id TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_id TEXT,
			granted_by TEXT NOT NULL,
			granted_at INTEGER NOT NULL,
			expires_at INTEGER,
			is_permanent INTEGER DEFAULT 0,
			PRIMARY KEY (user_id, source_type, source_id)
		)
	`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_premium_sources_unique
		ON premium_sources (user_id, source_type, COALESCE(source_id, ''))
	`)
	return err
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
