package cli

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/labelcache/internal/model"
	"github.com/roach88/labelcache/internal/presign"
)

func TestFingerprintAndLookup(t *testing.T) {
	env := newTestEnv(t)

	out, _, err := env.run("fingerprint", "uploads/cat1.png")
	require.NoError(t, err)
	fp := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(fp, "sha256:"), fp)

	out, _, err = env.run("--format", "json", "fingerprint", "uploads/cat2.png")
	require.NoError(t, err)
	assert.Equal(t, model.Fingerprint(fp), decode[FingerprintResult](t, out).Data.Fingerprint)

	out, _, err = env.run("--format", "json", "lookup", fp)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "E_NOT_FOUND", decode[any](t, out).Error.Code)

	_, _, err = env.run("process", "uploads/cat1.png")
	require.NoError(t, err)

	out, _, err = env.run("--format", "json", "lookup", fp)
	require.NoError(t, err)
	rec := decode[model.ClassificationRecord](t, out).Data
	assert.Equal(t, model.Fingerprint(fp), rec.Fingerprint)
	assert.Equal(t, "https://uploads.s3.amazonaws.com/cat1.png", rec.SourceLocator)
	assert.True(t, rec.IsMatch)

	out, _, err = env.run("lookup", fp)
	require.NoError(t, err)
	assert.Contains(t, out, "match:       true")
}

func TestFingerprint_MissingObject(t *testing.T) {
	env := newTestEnv(t)

	out, _, err := env.run("fingerprint", "uploads/gone.png")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E_NOT_FOUND]")
}

func TestPresign(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "labelcache.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`storage:
  backend: s3
  bucket: uploads
store:
  backend: memory
aws:
  region: us-east-1
  endpoint: http://localhost:9000
  use_path_style: true
  access_key_id: AKIDEXAMPLE
  secret_access_key: secret
`), 0o644))

	out, _, err := runCLI("--config", cfg, "presign", "cat1.jpg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "http://localhost:9000/uploads/cat1.jpg?"), out)

	out, _, err = runCLI("--config", cfg, "--format", "json", "--set", "presign.expiry=5m", "presign")
	require.NoError(t, err)
	resp := decode[presign.Response](t, out).Data
	assert.Equal(t, presign.DefaultFilename, resp.Key)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), resp.ExpiresAt, time.Minute)

	_, _, err = runCLI("--config", cfg, "presign", "../escape.jpg")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPresign_RequiresS3Storage(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.run("presign", "cat1.jpg")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "storage.backend=s3")
}

func TestConfig_PrintsEffectiveValues(t *testing.T) {
	env := newTestEnv(t)

	out, _, err := env.run("--format", "json",
		"--set", "concurrency=4",
		"--set", "store.redis_password=hunter2",
		"config")
	require.NoError(t, err)

	values := decode[map[string]any](t, out).Data
	assert.Equal(t, float64(4), values["concurrency"])
	assert.Equal(t, redacted, values["store.redis_password"])
	assert.Equal(t, "", values["aws.secret_access_key"])
	assert.Equal(t, "5s", values["timeouts.metadata"])
	assert.Equal(t, "fs", values["storage.backend"])
	assert.NotContains(t, out, "hunter2")

	out, _, err = env.run("config")
	require.NoError(t, err)
	assert.Contains(t, out, "labeler.target = Cat\n")
	assert.Contains(t, out, "presign.expiry = 30m0s\n")
}

func TestConfig_VerboseSetsDebugLevel(t *testing.T) {
	env := newTestEnv(t)

	out, _, err := env.run("-v", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "log.level = debug\n")
}

func TestConfig_InvalidValues(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.run("--set", "log.level=loud", "config")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "log.level")

	_, _, err = env.run("--set", "novalue", "config")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = runCLI("--config", filepath.Join(env.dir, "missing.yaml"), "config")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestServe_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--config", env.configPath, "serve", "--addr", "127.0.0.1:0"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServe_ListenError(t *testing.T) {
	env := newTestEnv(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, _, err = env.run("serve", "--addr", ln.Addr().String())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
