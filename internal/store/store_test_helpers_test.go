package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/labelcache/internal/model"
)

var testCreatedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore opens a fresh SQLite store in a temp directory.
func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord builds a complete record for fp.
func createTestRecord(fp string, isMatch bool) model.ClassificationRecord {
	return model.ClassificationRecord{
		Fingerprint:   model.Fingerprint(fp),
		SourceLocator: "https://uploads.s3.amazonaws.com/" + fp + ".jpg",
		IsMatch:       isMatch,
		CreatedAt:     testCreatedAt,
	}
}

// storeContract exercises the behaviour every Store adapter must share.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, found, err := s.Lookup(ctx, "etag:absent")
	if err != nil {
		t.Fatalf("Lookup(absent) error: %v", err)
	}
	if found {
		t.Fatal("Lookup(absent) found a record")
	}

	first := createTestRecord("etag:abc", true)
	res, err := s.TryInsert(ctx, first)
	if err != nil {
		t.Fatalf("first TryInsert() error: %v", err)
	}
	if res.Outcome != InsertedNew {
		t.Fatalf("first TryInsert() outcome = %s, want inserted_new", res.Outcome)
	}
	assertSameRecord(t, first, res.Record)

	second := createTestRecord("etag:abc", false)
	second.SourceLocator = "https://uploads.s3.amazonaws.com/copy.jpg"
	res, err = s.TryInsert(ctx, second)
	if err != nil {
		t.Fatalf("second TryInsert() error: %v", err)
	}
	if res.Outcome != AlreadyExists {
		t.Fatalf("second TryInsert() outcome = %s, want already_exists", res.Outcome)
	}
	assertSameRecord(t, first, res.Record)

	got, found, err := s.Lookup(ctx, "etag:abc")
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if !found {
		t.Fatal("Lookup() did not find inserted record")
	}
	assertSameRecord(t, first, got)

	_, err = s.TryInsert(ctx, model.ClassificationRecord{Fingerprint: "etag:partial"})
	if !model.IsInvariant(err) {
		t.Fatalf("TryInsert(partial) error = %v, want invariant violation", err)
	}
	_, found, err = s.Lookup(ctx, "etag:partial")
	if err != nil {
		t.Fatalf("Lookup(partial) error: %v", err)
	}
	if found {
		t.Fatal("partial record was stored")
	}
}

func assertSameRecord(t *testing.T, want, got model.ClassificationRecord) {
	t.Helper()
	if got.Fingerprint != want.Fingerprint {
		t.Errorf("Fingerprint = %q, want %q", got.Fingerprint, want.Fingerprint)
	}
	if got.SourceLocator != want.SourceLocator {
		t.Errorf("SourceLocator = %q, want %q", got.SourceLocator, want.SourceLocator)
	}
	if got.IsMatch != want.IsMatch {
		t.Errorf("IsMatch = %v, want %v", got.IsMatch, want.IsMatch)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}
