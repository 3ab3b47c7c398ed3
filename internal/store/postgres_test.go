package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/labelcache/internal/model"
)

var pgColumns = []string{"fingerprint", "source_locator", "is_match", "created_at"}

func newMockPostgres(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_Lookup(t *testing.T) {
	s, mock := newMockPostgres(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(pgLookupQuery)).
		WithArgs("etag:abc").
		WillReturnRows(sqlmock.NewRows(pgColumns).
			AddRow("etag:abc", "https://b.s3.amazonaws.com/k", true, testCreatedAt))

	rec, found, err := s.Lookup(ctx, "etag:abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, rec.IsMatch)
	assert.Equal(t, "https://b.s3.amazonaws.com/k", rec.SourceLocator)

	mock.ExpectQuery(regexp.QuoteMeta(pgLookupQuery)).
		WithArgs("etag:none").
		WillReturnRows(sqlmock.NewRows(pgColumns))

	_, found, err = s.Lookup(ctx, "etag:none")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupError(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta(pgLookupQuery)).
		WithArgs("etag:abc").
		WillReturnError(errors.New("connection reset"))

	_, _, err := s.Lookup(context.Background(), "etag:abc")
	assert.True(t, model.IsTransient(err))
}

func TestPostgresStore_TryInsertNew(t *testing.T) {
	s, mock := newMockPostgres(t)
	rec := createTestRecord("etag:abc", true)

	mock.ExpectExec(regexp.QuoteMeta(pgInsertQuery)).
		WithArgs("etag:abc", rec.SourceLocator, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := s.TryInsert(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, InsertedNew, res.Outcome)
	assert.Equal(t, rec, res.Record)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TryInsertConflict(t *testing.T) {
	s, mock := newMockPostgres(t)
	rec := createTestRecord("etag:abc", false)

	mock.ExpectExec(regexp.QuoteMeta(pgInsertQuery)).
		WithArgs("etag:abc", rec.SourceLocator, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(pgLookupQuery)).
		WithArgs("etag:abc").
		WillReturnRows(sqlmock.NewRows(pgColumns).
			AddRow("etag:abc", "https://b.s3.amazonaws.com/first.jpg", true, testCreatedAt))

	res, err := s.TryInsert(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, AlreadyExists, res.Outcome)
	assert.True(t, res.Record.IsMatch)
	assert.Equal(t, "https://b.s3.amazonaws.com/first.jpg", res.Record.SourceLocator)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TryInsertConflictWithoutWinner(t *testing.T) {
	s, mock := newMockPostgres(t)
	rec := createTestRecord("etag:abc", false)

	mock.ExpectExec(regexp.QuoteMeta(pgInsertQuery)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(pgLookupQuery)).
		WithArgs("etag:abc").
		WillReturnError(sql.ErrNoRows)

	_, err := s.TryInsert(context.Background(), rec)
	assert.True(t, model.IsInvariant(err))
}

func TestPostgresStore_TryInsertExecError(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta(pgInsertQuery)).
		WillReturnError(errors.New("too many connections"))

	_, err := s.TryInsert(context.Background(), createTestRecord("etag:abc", true))
	assert.True(t, model.IsTransient(err))
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS classification_records")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
