package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/labelcache/internal/model"
)

// testEnv is a local pipeline: files under dir/data, a SQLite store and an
// HTTP labeling service that tags every image as a cat.
type testEnv struct {
	dir        string
	configPath string
	calls      *atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"labels": []model.Label{{Name: "Cat", Confidence: 98}},
		})
	}))
	t.Cleanup(srv.Close)

	uploads := filepath.Join(dir, "data", "uploads")
	require.NoError(t, os.MkdirAll(uploads, 0o755))
	img := pngBytes(t)
	require.NoError(t, os.WriteFile(filepath.Join(uploads, "cat1.png"), img, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(uploads, "cat2.png"), img, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(uploads, "notes.txt"), []byte("not an image"), 0o644))

	cfg := fmt.Sprintf(`storage:
  backend: fs
  bucket: uploads
  root: %q
  fingerprint_mode: sha256
store:
  backend: sqlite
  path: %q
labeler:
  backend: http
  endpoint: %q
  target: Cat
log:
  level: warn
`, filepath.Join(dir, "data"), filepath.Join(dir, "cache.db"), srv.URL)
	configPath := filepath.Join(dir, "labelcache.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))

	return &testEnv{dir: dir, configPath: configPath, calls: calls}
}

// run executes the CLI with the environment's config file.
func (e *testEnv) run(args ...string) (string, string, error) {
	return runCLI(append([]string{"--config", e.configPath}, args...)...)
}

func runCLI(args ...string) (string, string, error) {
	cmd := NewRootCommand()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// response mirrors CLIResponse with a typed payload.
type response[T any] struct {
	Status string    `json:"status"`
	Data   T         `json:"data"`
	Error  *CLIError `json:"error"`
}

func decode[T any](t *testing.T, s string) response[T] {
	t.Helper()
	var r response[T]
	require.NoError(t, json.Unmarshal([]byte(s), &r), s)
	return r
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
