package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/labelcache/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on created_at for audit listing
const currentSchemaVersion = 1

// SQLiteStore is a Store backed by a local SQLite database.
// Uses WAL mode so lookups can proceed while an insert is in flight.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
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

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup retrieves the record for fp.
func (s *SQLiteStore) Lookup(ctx context.Context, fp model.Fingerprint) (model.ClassificationRecord, bool, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `
		SELECT fingerprint, source_locator, is_match, created_at
		FROM classification_records
		WHERE fingerprint = ?
	`, string(fp)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ClassificationRecord{}, false, nil
	}
	if err != nil {
		return model.ClassificationRecord{}, false, model.Transient("store.lookup", err)
	}
	return rec, true, nil
}

// TryInsert inserts rec unless a record for its fingerprint already exists.
//
// Uses ON CONFLICT(fingerprint) DO NOTHING and RowsAffected inside a single
// transaction. On conflict the existing row is selected in the same
// transaction and returned with AlreadyExists.
func (s *SQLiteStore) TryInsert(ctx context.Context, rec model.ClassificationRecord) (InsertResult, error) {
	const op = "store.try_insert"
	if err := checkRecord(op, rec); err != nil {
		return InsertResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InsertResult{}, model.Transient(op, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO classification_records
		(fingerprint, source_locator, is_match, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`,
		string(rec.Fingerprint),
		rec.SourceLocator,
		rec.IsMatch,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return InsertResult{}, model.Transient(op, fmt.Errorf("insert: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return InsertResult{}, model.Transient(op, fmt.Errorf("rows affected: %w", err))
	}

	out := InsertResult{Outcome: InsertedNew, Record: rec}
	if rowsAffected == 0 {
		// Conflict - row already exists, fetch the winner
		existing, err := scanRecord(tx.QueryRowContext(ctx, `
			SELECT fingerprint, source_locator, is_match, created_at
			FROM classification_records
			WHERE fingerprint = ?
		`, string(rec.Fingerprint)))
		if errors.Is(err, sql.ErrNoRows) {
			return InsertResult{}, conflictWithoutWinner(op, rec.Fingerprint)
		}
		if err != nil {
			return InsertResult{}, model.Transient(op, fmt.Errorf("select existing: %w", err))
		}
		out = InsertResult{Outcome: AlreadyExists, Record: existing}
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, model.Transient(op, fmt.Errorf("commit: %w", err))
	}

	return out, nil
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM classification_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// rowScanner is satisfied by *sql.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (model.ClassificationRecord, error) {
	var (
		fp, locator, createdAt string
		isMatch                bool
	)
	if err := row.Scan(&fp, &locator, &isMatch, &createdAt); err != nil {
		return model.ClassificationRecord{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return model.ClassificationRecord{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	return model.ClassificationRecord{
		Fingerprint:   model.Fingerprint(fp),
		SourceLocator: locator,
		IsMatch:       isMatch,
		CreatedAt:     ts,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// applyPragmas sets required SQLite configuration.
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

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the created_at index.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_classification_records_created_at
		ON classification_records(created_at)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLiteStore) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
