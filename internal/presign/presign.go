// Package presign issues short-lived upload URLs for the watched bucket.
package presign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Defaults for issued URLs.
const (
	DefaultExpiry   = 30 * time.Minute
	DefaultFilename = "unknown"
)

// ErrInvalidFilename is returned for filenames that would escape the bucket root.
var ErrInvalidFilename = errors.New("invalid filename")

// Presigner is the subset of *s3.PresignClient used by Gateway.
type Presigner interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Request asks for an upload URL.
type Request struct {
	Filename string `json:"filename"`
}

// Response carries the presigned PUT URL.
type Response struct {
	Message         string    `json:"message"`
	PutPresignedURL string    `json:"putPresignedUrl"`
	Key             string    `json:"key"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// Gateway issues presigned PUT URLs scoped to one bucket and key.
// Uploads must carry a SHA-256 checksum so the object's full-content
// checksum is available to the fingerprint resolver.
type Gateway struct {
	presigner Presigner
	bucket    string
	expiry    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewGateway creates a gateway. A non-positive expiry selects DefaultExpiry.
func NewGateway(p Presigner, bucket string, expiry time.Duration, logger *slog.Logger) *Gateway {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{
		presigner: p,
		bucket:    bucket,
		expiry:    expiry,
		now:       time.Now,
		logger:    logger.With("component", "presign"),
	}
}

// Issue presigns a PUT for req.Filename.
func (g *Gateway) Issue(ctx context.Context, req Request) (Response, error) {
	key, err := objectKey(req.Filename)
	if err != nil {
		return Response{}, err
	}

	signed, err := g.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(g.bucket),
		Key:               aws.String(key),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}, s3.WithPresignExpires(g.expiry))
	if err != nil {
		return Response{}, fmt.Errorf("presign put %s/%s: %w", g.bucket, key, err)
	}

	g.logger.Info("issued upload url", "bucket", g.bucket, "key", key, "expires_in", g.expiry)
	return Response{
		Message:         "Processed file: " + key,
		PutPresignedURL: signed.URL,
		Key:             key,
		ExpiresAt:       g.now().Add(g.expiry).UTC(),
	}, nil
}

// objectKey normalizes a client filename into an object key.
func objectKey(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		return DefaultFilename, nil
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
		}
	}
	key := strings.TrimPrefix(path.Clean("/"+name), "/")
	if key == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return key, nil
}
