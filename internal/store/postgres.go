package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/roach88/labelcache/internal/model"
)

//go:embed postgres_schema.sql
var postgresSchemaSQL string

const (
	pgLookupQuery = "SELECT fingerprint, source_locator, is_match, created_at FROM classification_records WHERE fingerprint = $1"
	pgInsertQuery = "INSERT INTO classification_records (fingerprint, source_locator, is_match, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (fingerprint) DO NOTHING"
)

// PostgresStore implements Store using PostgreSQL.
//
// The conflicting-row read after ON CONFLICT DO NOTHING runs outside the
// insert statement: under READ COMMITTED the insert waits for a concurrent
// inserter of the same key to commit, so the subsequent select sees the winner.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing connection pool. The schema is not applied.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the records table if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("failed to apply postgres schema: %w", err)
	}
	return nil
}

// Lookup retrieves the record for fp.
func (s *PostgresStore) Lookup(ctx context.Context, fp model.Fingerprint) (model.ClassificationRecord, bool, error) {
	rec, err := s.selectRecord(ctx, fp)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ClassificationRecord{}, false, nil
	}
	if err != nil {
		return model.ClassificationRecord{}, false, model.Transient("store.lookup", err)
	}
	return rec, true, nil
}

// TryInsert inserts rec unless its fingerprint already has a record.
func (s *PostgresStore) TryInsert(ctx context.Context, rec model.ClassificationRecord) (InsertResult, error) {
	const op = "store.try_insert"
	if err := checkRecord(op, rec); err != nil {
		return InsertResult{}, err
	}

	result, err := s.db.ExecContext(ctx, pgInsertQuery,
		string(rec.Fingerprint), rec.SourceLocator, rec.IsMatch, rec.CreatedAt.UTC())
	if err != nil {
		return InsertResult{}, model.Transient(op, fmt.Errorf("insert: %w", err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return InsertResult{}, model.Transient(op, fmt.Errorf("rows affected: %w", err))
	}
	if n > 0 {
		return InsertResult{Outcome: InsertedNew, Record: rec}, nil
	}

	existing, err := s.selectRecord(ctx, rec.Fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return InsertResult{}, conflictWithoutWinner(op, rec.Fingerprint)
	}
	if err != nil {
		return InsertResult{}, model.Transient(op, fmt.Errorf("select existing: %w", err))
	}
	return InsertResult{Outcome: AlreadyExists, Record: existing}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) selectRecord(ctx context.Context, fp model.Fingerprint) (model.ClassificationRecord, error) {
	var (
		rec model.ClassificationRecord
		key string
	)
	err := s.db.QueryRowContext(ctx, pgLookupQuery, string(fp)).
		Scan(&key, &rec.SourceLocator, &rec.IsMatch, &rec.CreatedAt)
	if err != nil {
		return model.ClassificationRecord{}, err
	}
	rec.Fingerprint = model.Fingerprint(key)
	return rec, nil
}
