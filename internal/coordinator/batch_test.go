package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/labelcache/internal/model"
	"github.com/roach88/labelcache/internal/testutil"
)

func TestProcessBatch_ReportsInInputOrder(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Concurrency = 2 })
	f.bucket.InjectFault(testutil.Fault{Fingerprint: dogFP, Op: testutil.OpResolve, Kind: testutil.FaultTransient, Times: 1})
	gone := model.Locator{Bucket: "uploads", Key: "gone.jpg"}

	reports := f.coord.ProcessBatch(context.Background(), []model.UploadEvent{
		event(catLoc),
		event(dogLoc),
		event(gone),
	})
	require.Len(t, reports, 3)

	assert.Equal(t, catLoc, reports[0].Outcome.Event.Locator)
	assert.Equal(t, Ack, reports[0].Action)
	assert.NoError(t, reports[0].Err)

	assert.Equal(t, dogLoc, reports[1].Outcome.Event.Locator)
	assert.Equal(t, Retry, reports[1].Action)
	assert.True(t, model.IsTransient(reports[1].Err))

	assert.Equal(t, StatusVanished, reports[2].Outcome.Status)
	assert.Equal(t, Ack, reports[2].Action)

	assert.Equal(t, Retry, Overall(reports))
}

func TestProcessBatch_DuplicateRecordsInOneNotification(t *testing.T) {
	f := newFixture(t)

	reports := f.coord.ProcessBatch(context.Background(), []model.UploadEvent{
		event(dogLoc),
		event(dogCopyLoc),
		event(dogLoc),
	})

	for _, r := range reports {
		require.NoError(t, r.Err)
		assert.False(t, r.Outcome.Result.IsMatch)
		assert.Equal(t, dogFP, r.Outcome.Record.Fingerprint)
	}
	assert.Len(t, f.mem.Records(), 1)
}

func TestOverall(t *testing.T) {
	assert.Equal(t, Ack, Overall(nil))
	assert.Equal(t, Drop, Overall([]Report{{Action: Ack}, {Action: Drop}}))
	assert.Equal(t, Escalate, Overall([]Report{{Action: Retry}, {Action: Escalate}, {Action: Drop}}))
}

func TestReport_Summarize(t *testing.T) {
	f := newFixture(t)
	f.bucket.InjectFault(testutil.Fault{Fingerprint: dogFP, Op: testutil.OpLabel, Kind: testutil.FaultMalformed})

	reports := f.coord.ProcessBatch(context.Background(), []model.UploadEvent{event(catLoc), event(dogLoc)})

	ok := reports[0].Summarize()
	assert.Equal(t, "uploads/cat1.jpg", ok.Locator)
	assert.Equal(t, StatusClassified, ok.Status)
	assert.Equal(t, "ack", ok.Action)
	require.NotNil(t, ok.Result)
	assert.True(t, ok.Result.IsMatch)
	assert.Empty(t, ok.Error)

	bad := reports[1].Summarize()
	assert.Equal(t, StatusRejected, bad.Status)
	assert.Equal(t, "drop", bad.Action)
	assert.Nil(t, bad.Result)
	assert.Equal(t, model.KindMalformedContent, bad.ErrorKind)
	assert.NotEmpty(t, bad.Error)
}
