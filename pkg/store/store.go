// Package store persists the operation pipeline and user preferences in
// SQLite. Records are stored as JSON so fields written by a newer version
// survive a load/save round trip.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chazu/millwright/pkg/ops"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Unique operation id per workspace
const currentSchemaVersion = 1

// ErrNotFound is returned when a single record update matches nothing.
var ErrNotFound = errors.New("store: record not found")

// Store is the settings persistence collaborator.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at path and applies pragmas and
// migrations. It is safe to call on an existing database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(db)
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS idx_operations_id
			ON operations(workspace, id)
		`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// SavePipeline replaces the stored lists for workspace.
func (s *Store) SavePipeline(ctx context.Context, workspace string, main, post []*ops.Operation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE workspace = ?`, workspace); err != nil {
		return fmt.Errorf("clear workspace %q: %w", workspace, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO operations (workspace, list, position, id, record) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range []struct {
		name string
		ops  []*ops.Operation
	}{{"main", main}, {"post", post}} {
		for i, op := range l.ops {
			rec, err := op.MarshalJSON()
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, workspace, l.name, i, op.ID.String(), string(rec)); err != nil {
				return fmt.Errorf("insert operation %s: %w", op.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// SaveOperation rewrites one stored record in place. It returns
// ErrNotFound if the operation was never saved.
func (s *Store) SaveOperation(ctx context.Context, workspace string, op *ops.Operation) error {
	rec, err := op.MarshalJSON()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE operations SET record = ? WHERE workspace = ? AND id = ?`,
		string(rec), workspace, op.ID.String())
	if err != nil {
		return fmt.Errorf("update operation %s: %w", op.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update operation %s: %w", op.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("operation %s: %w", op.ID, ErrNotFound)
	}
	return nil
}

// LoadPipeline reads both lists for workspace. Missing parameters are
// filled from the type's template; unknown fields are kept.
func (s *Store) LoadPipeline(ctx context.Context, workspace string) (main, post []*ops.Operation, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT list, record FROM operations WHERE workspace = ? ORDER BY list, position`, workspace)
	if err != nil {
		return nil, nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var list, rec string
		if err := rows.Scan(&list, &rec); err != nil {
			return nil, nil, fmt.Errorf("scan operation: %w", err)
		}
		op := &ops.Operation{}
		if err := op.UnmarshalJSON([]byte(rec)); err != nil {
			return nil, nil, fmt.Errorf("decode operation record: %w", err)
		}
		op.FillDefaults()
		if list == "post" {
			post = append(post, op)
		} else {
			main = append(main, op)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate operations: %w", err)
	}
	return main, post, nil
}

// Workspaces lists the workspaces that have stored operations.
func (s *Store) Workspaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT workspace FROM operations ORDER BY workspace`)
	if err != nil {
		return nil, fmt.Errorf("query workspaces: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Preferences
// ---------------------------------------------------------------------------

// String returns a preference, or def when unset.
func (s *Store) String(ctx context.Context, key, def string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("read preference %q: %w", key, err)
	}
	return v, nil
}

// SetString stores a preference.
func (s *Store) SetString(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("write preference %q: %w", key, err)
	}
	return nil
}

// Int returns an integer preference, or def when unset or unparsable.
func (s *Store) Int(ctx context.Context, key string, def int) (int, error) {
	v, err := s.String(ctx, key, "")
	if err != nil || v == "" {
		return def, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, nil
	}
	return n, nil
}

// SetInt stores an integer preference.
func (s *Store) SetInt(ctx context.Context, key string, v int) error {
	return s.SetString(ctx, key, strconv.Itoa(v))
}
