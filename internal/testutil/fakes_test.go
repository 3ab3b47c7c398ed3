package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/labelcache/internal/model"
	"github.com/roach88/labelcache/internal/store"
)

var (
	catLoc = model.Locator{Bucket: "uploads", Key: "cat1.jpg"}
	catFP  = model.Fingerprint("abc123")
)

func TestFakeBucket_ResolveAndLabel(t *testing.T) {
	b := NewFakeBucket()
	b.Put(catLoc, catFP)
	b.SetLabels(catFP, model.Label{Name: "Cat", Confidence: 98}, model.Label{Name: "Pet", Confidence: 90})
	ctx := context.Background()

	fp, err := b.Resolve(ctx, catLoc)
	require.NoError(t, err)
	assert.Equal(t, catFP, fp)

	labels, err := b.DetectLabels(ctx, catLoc, 1)
	require.NoError(t, err)
	assert.Equal(t, []model.Label{{Name: "Cat", Confidence: 98}}, labels)
	assert.Equal(t, 1, b.LabelCalls(catFP))
	assert.Equal(t, 1, b.TotalLabelCalls())
	assert.Equal(t, []FingerprintCount{{Fingerprint: catFP, Count: 1}}, b.LabelCallCounts())
}

func TestFakeBucket_Delete(t *testing.T) {
	b := NewFakeBucket()
	b.Put(catLoc, catFP)
	b.Delete(catLoc)

	_, err := b.Resolve(context.Background(), catLoc)
	assert.True(t, model.IsNotFound(err))
	_, err = b.DetectLabels(context.Background(), catLoc, 10)
	assert.True(t, model.IsNotFound(err))
}

func TestFakeBucket_FaultTimes(t *testing.T) {
	b := NewFakeBucket()
	b.Put(catLoc, catFP)
	b.InjectFault(Fault{Fingerprint: catFP, Op: OpLabel, Kind: FaultTransient, Times: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.DetectLabels(ctx, catLoc, 10)
		assert.True(t, model.IsTransient(err), "call %d", i)
	}
	_, err := b.DetectLabels(ctx, catLoc, 10)
	assert.NoError(t, err)
	assert.Equal(t, 3, b.LabelCalls(catFP))
}

func TestFakeBucket_PermanentFault(t *testing.T) {
	b := NewFakeBucket()
	b.Put(catLoc, catFP)
	b.InjectFault(Fault{Fingerprint: catFP, Op: OpResolve, Kind: FaultTimeout})

	for i := 0; i < 3; i++ {
		_, err := b.Resolve(context.Background(), catLoc)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
}

func TestFault_Validate(t *testing.T) {
	assert.NoError(t, Fault{Op: OpInsert, Kind: FaultInvariant}.Validate())
	assert.Error(t, Fault{Op: "upload", Kind: FaultTransient}.Validate())
	assert.Error(t, Fault{Op: OpLabel, Kind: "flaky"}.Validate())
}

func TestFaultStore(t *testing.T) {
	s := NewFaultStore(store.NewMemoryStore())
	s.InjectFault(Fault{Fingerprint: catFP, Op: OpLookup, Kind: FaultTransient, Times: 1})
	s.InjectFault(Fault{Fingerprint: catFP, Op: OpInsert, Kind: FaultTransient, Times: 1})
	ctx := context.Background()

	_, _, err := s.Lookup(ctx, catFP)
	assert.True(t, model.IsTransient(err))

	rec := model.ClassificationRecord{Fingerprint: catFP, SourceLocator: catLoc.URL(), IsMatch: true, CreatedAt: Epoch}
	_, err = s.TryInsert(ctx, rec)
	assert.True(t, model.IsTransient(err))

	// The write took effect despite the lost acknowledgment
	got, found, err := s.Lookup(ctx, catFP)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, got.IsMatch)
}
