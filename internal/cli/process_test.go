package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/labelcache/internal/coordinator"
)

func TestProcess_ClassifiesOncePerContent(t *testing.T) {
	env := newTestEnv(t)

	out, _, err := env.run("process", "uploads/cat1.png")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ uploads/cat1.png  classified  match=true")
	assert.Contains(t, out, "Action: ack")

	// Same bytes under another key, in a separate run against the same store.
	out, _, err = env.run("--format", "json", "process", "s3://uploads/cat2.png")
	require.NoError(t, err)

	resp := decode[ProcessResult](t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ack", resp.Data.Action)
	require.Len(t, resp.Data.Records, 1)
	rec := resp.Data.Records[0]
	assert.Equal(t, coordinator.StatusCacheHit, rec.Status)
	require.NotNil(t, rec.Result)
	assert.True(t, rec.Result.IsMatch)
	assert.Equal(t, "https://uploads.s3.amazonaws.com/cat2.png", rec.Result.SourceLocator)
	assert.True(t, strings.HasPrefix(rec.Fingerprint.String(), "sha256:"))

	assert.Equal(t, int32(1), env.calls.Load())
}

func TestProcess_RejectedContent(t *testing.T) {
	env := newTestEnv(t)

	out, _, err := env.run("--format", "json", "process", "uploads/cat1.png", "uploads/notes.txt")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, IsReported(err))

	resp := decode[ProcessResult](t, out)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "drop", resp.Data.Action)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_REJECTED", resp.Error.Code)
	require.Len(t, resp.Data.Records, 2)
	assert.Equal(t, coordinator.StatusClassified, resp.Data.Records[0].Status)
	assert.Equal(t, coordinator.StatusRejected, resp.Data.Records[1].Status)
	assert.Equal(t, "MALFORMED_CONTENT", string(resp.Data.Records[1].ErrorKind))
}

func TestProcess_VanishedObjectIsAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	out, _, err := env.run("process", "uploads/gone.png")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ uploads/gone.png  vanished")
	assert.Equal(t, int32(0), env.calls.Load())
}

func TestProcess_EventFile(t *testing.T) {
	env := newTestEnv(t)

	notification := `{"Records":[
	  {"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"uploads"},"object":{"key":"cat1.png"}}},
	  {"eventName":"ObjectRemoved:Delete","s3":{"bucket":{"name":"uploads"},"object":{"key":"cat2.png"}}},
	  {"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"uploads"},"object":{"key":"cat2.png"}}}
	]}`
	path := filepath.Join(env.dir, "event.json")
	require.NoError(t, os.WriteFile(path, []byte(notification), 0o644))

	out, _, err := env.run("--format", "json", "process", "--event", path)
	require.NoError(t, err)

	resp := decode[ProcessResult](t, out)
	require.Len(t, resp.Data.Records, 2)
	assert.Equal(t, "uploads/cat1.png", resp.Data.Records[0].Locator)
	assert.Equal(t, "uploads/cat2.png", resp.Data.Records[1].Locator)
	assert.Equal(t, int32(1), env.calls.Load())
}

func TestProcess_EventFileSkipsInvalidRecords(t *testing.T) {
	env := newTestEnv(t)

	notification := `{"Records":[
	  {"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"uploads"},"object":{"key":"%zz"}}},
	  {"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"uploads"},"object":{"key":"cat1.png"}}}
	]}`
	path := filepath.Join(env.dir, "event.json")
	require.NoError(t, os.WriteFile(path, []byte(notification), 0o644))

	out, stderr, err := env.run("--format", "json", "process", "--event", path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "skipping record 0")

	resp := decode[ProcessResult](t, out)
	require.Len(t, resp.Data.Records, 1)
	assert.Equal(t, "uploads/cat1.png", resp.Data.Records[0].Locator)
}

func TestProcess_TransientFailureIsRetryable(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.run("--set", "labeler.endpoint=http://127.0.0.1:1", "process", "uploads/cat1.png")
	require.Error(t, err)
	assert.Equal(t, ExitRetryable, GetExitCode(err))
}

func TestProcess_CommandErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no events", []string{"process"}},
		{"invalid locator", []string{"process", "uploads"}},
		{"both sources", []string{"process", "--event", "x.json", "uploads/cat1.png"}},
		{"missing event file", []string{"process", "--event", filepath.Join(env.dir, "missing.json")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.run(tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}
