package fingerprint

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/afero"

	"github.com/roach88/labelcache/internal/model"
)

// FSResolver resolves fingerprints for objects on a filesystem laid out as
// <root>/<bucket>/<key>. Files carry no content-hash metadata, so every
// resolution hashes the file; the result matches S3Resolver in ModeSHA256.
type FSResolver struct {
	fs afero.Fs
}

// NewFSResolver creates a resolver over fs.
func NewFSResolver(fs afero.Fs) *FSResolver {
	return &FSResolver{fs: fs}
}

// Resolve hashes the file at loc.
func (r *FSResolver) Resolve(ctx context.Context, loc model.Locator) (model.Fingerprint, error) {
	const op = "fingerprint.resolve"
	if err := ctx.Err(); err != nil {
		return "", model.Classify(op, err)
	}

	f, err := r.fs.Open(loc.Path())
	if errors.Is(err, os.ErrNotExist) {
		return "", model.NotFound(op, loc, err)
	}
	if err != nil {
		return "", model.Transient(op, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", model.Transient(op, err)
	}
	if info.IsDir() {
		return "", model.NotFound(op, loc, errors.New("locator names a directory"))
	}

	fp, err := model.FingerprintFromContent(f)
	if err != nil {
		return "", model.Transient(op, err)
	}
	return fp, nil
}
