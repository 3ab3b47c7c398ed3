package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStore_ConcurrentTryInsert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.TryInsert(ctx, createTestRecord("etag:same", i%2 == 0))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, s.Inserts())
	require.Len(t, s.Records(), 1)
}

func TestMemoryStore_RecordsSorted(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, fp := range []string{"etag:c", "etag:a", "etag:b"} {
		_, err := s.TryInsert(ctx, createTestRecord(fp, false))
		require.NoError(t, err)
	}

	recs := s.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, "etag:a", recs[0].Fingerprint.String())
	assert.Equal(t, "etag:c", recs[2].Fingerprint.String())
}
