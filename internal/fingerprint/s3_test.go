package fingerprint

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/labelcache/internal/model"
)

type fakeObject struct {
	etag     string
	checksum string
	body     []byte
}

// fakeS3 serves HeadObject/GetObject from a map keyed by bucket/key.
type fakeS3 struct {
	objects  map[string]fakeObject
	headErr  error
	heads    []*s3.HeadObjectInput
	getCalls int
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.heads = append(f.heads, in)
	if f.headErr != nil {
		return nil, f.headErr
	}
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	out := &s3.HeadObjectOutput{ETag: aws.String(obj.etag)}
	if in.ChecksumMode == types.ChecksumModeEnabled && obj.checksum != "" {
		out.ChecksumSHA256 = aws.String(obj.checksum)
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.getCalls++
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.body))}, nil
}

func checksumOf(b []byte) string {
	sum := sha256.Sum256(b)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func TestS3Resolver_ETagMode(t *testing.T) {
	fake := &fakeS3{objects: map[string]fakeObject{
		"uploads/cat1.jpg":     {etag: `"ABC123"`},
		"uploads/cat-copy.jpg": {etag: `"abc123"`},
	}}
	r := NewS3Resolver(fake, ModeETag, nil)
	ctx := context.Background()

	fp1, err := r.Resolve(ctx, model.Locator{Bucket: "uploads", Key: "cat1.jpg"})
	require.NoError(t, err)
	fp2, err := r.Resolve(ctx, model.Locator{Bucket: "uploads", Key: "cat-copy.jpg"})
	require.NoError(t, err)

	assert.Equal(t, model.Fingerprint("etag:abc123"), fp1)
	assert.Equal(t, fp1, fp2)
	assert.Zero(t, fake.getCalls)
	assert.Empty(t, fake.heads[0].ChecksumMode)
}

func TestS3Resolver_EmptyETagIsTerminal(t *testing.T) {
	fake := &fakeS3{objects: map[string]fakeObject{
		"uploads/cat1.jpg": {etag: `""`},
	}}
	r := NewS3Resolver(fake, ModeETag, nil)

	_, err := r.Resolve(context.Background(), model.Locator{Bucket: "uploads", Key: "cat1.jpg"})
	require.Error(t, err)
	assert.True(t, model.IsMalformed(err))
	assert.False(t, model.IsRetryable(err))
}

func TestS3Resolver_SHA256UsesMetadata(t *testing.T) {
	body := []byte("hello")
	fake := &fakeS3{objects: map[string]fakeObject{
		"uploads/a.jpg": {etag: `"x"`, checksum: checksumOf(body), body: body},
	}}
	r := NewS3Resolver(fake, ModeSHA256, nil)

	fp, err := r.Resolve(context.Background(), model.Locator{Bucket: "uploads", Key: "a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, model.Fingerprint("sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"), fp)
	assert.Equal(t, types.ChecksumModeEnabled, fake.heads[0].ChecksumMode)
	assert.Zero(t, fake.getCalls)
}

func TestS3Resolver_SHA256FallsBackToContent(t *testing.T) {
	body := []byte("hello")
	fake := &fakeS3{objects: map[string]fakeObject{
		"uploads/multipart.jpg": {etag: `"x-2"`, checksum: "abc=-2", body: body},
		"uploads/plain.jpg":     {etag: `"y"`, body: body},
	}}
	r := NewS3Resolver(fake, ModeSHA256, nil)
	ctx := context.Background()

	fp1, err := r.Resolve(ctx, model.Locator{Bucket: "uploads", Key: "multipart.jpg"})
	require.NoError(t, err)
	fp2, err := r.Resolve(ctx, model.Locator{Bucket: "uploads", Key: "plain.jpg"})
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2)
	assert.Equal(t, model.SchemeSHA256, fp1.Scheme())
	assert.Equal(t, 2, fake.getCalls)
}

func TestS3Resolver_NotFound(t *testing.T) {
	r := NewS3Resolver(&fakeS3{objects: map[string]fakeObject{}}, ModeETag, nil)

	_, err := r.Resolve(context.Background(), model.Locator{Bucket: "uploads", Key: "gone.jpg"})
	assert.True(t, model.IsNotFound(err))
}

func TestS3Resolver_APIErrorNotFound(t *testing.T) {
	fake := &fakeS3{headErr: &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}}
	r := NewS3Resolver(fake, ModeETag, nil)

	_, err := r.Resolve(context.Background(), model.Locator{Bucket: "uploads", Key: "gone.jpg"})
	assert.True(t, model.IsNotFound(err))
}

func TestS3Resolver_Transient(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"throttled", &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce rate"}},
		{"timeout", context.DeadlineExceeded},
		{"network", errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewS3Resolver(&fakeS3{headErr: tt.err}, ModeETag, nil)
			_, err := r.Resolve(context.Background(), model.Locator{Bucket: "uploads", Key: "a.jpg"})
			assert.True(t, model.IsTransient(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeETag, m)

	m, err = ParseMode("sha256")
	require.NoError(t, err)
	assert.Equal(t, ModeSHA256, m)

	_, err = ParseMode("md5")
	var unknown *UnknownModeError
	assert.ErrorAs(t, err, &unknown)
}
