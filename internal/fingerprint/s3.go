package fingerprint

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/roach88/labelcache/internal/model"
)

// S3API is the subset of the S3 client used by S3Resolver.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Resolver resolves fingerprints from S3 object metadata.
type S3Resolver struct {
	client S3API
	mode   Mode
	logger *slog.Logger
}

// NewS3Resolver creates a resolver. A nil logger discards output.
func NewS3Resolver(client S3API, mode Mode, logger *slog.Logger) *S3Resolver {
	if mode == "" {
		mode = ModeETag
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &S3Resolver{client: client, mode: mode, logger: logger}
}

// Resolve issues a HeadObject and derives the fingerprint from its metadata.
func (r *S3Resolver) Resolve(ctx context.Context, loc model.Locator) (model.Fingerprint, error) {
	const op = "fingerprint.resolve"

	in := &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	}
	if r.mode == ModeSHA256 {
		in.ChecksumMode = types.ChecksumModeEnabled
	}

	out, err := r.client.HeadObject(ctx, in)
	if err != nil {
		return "", classifyS3Error(op, loc, err)
	}

	switch r.mode {
	case ModeSHA256:
		if sum := aws.ToString(out.ChecksumSHA256); sum != "" {
			fp, err := model.FingerprintFromChecksum(sum)
			if err == nil {
				return fp, nil
			}
			r.logger.Debug("checksum metadata unusable, hashing content",
				"locator", loc.String(), "error", err)
		}
		return r.hashObject(ctx, loc)
	default:
		fp, err := model.FingerprintFromETag(aws.ToString(out.ETag))
		if err != nil {
			// Redelivery cannot produce an ETag the store did not report.
			r.logger.Warn("object has no usable etag", "locator", loc.String(), "error", err)
			return "", model.Malformed(op, loc, err)
		}
		return fp, nil
	}
}

// hashObject streams the object body through SHA-256.
func (r *S3Resolver) hashObject(ctx context.Context, loc model.Locator) (model.Fingerprint, error) {
	const op = "fingerprint.hash"

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return "", classifyS3Error(op, loc, err)
	}
	defer out.Body.Close()

	fp, err := model.FingerprintFromContent(out.Body)
	if err != nil {
		return "", model.Transient(op, err)
	}
	return fp, nil
}

// classifyS3Error maps S3 failures onto the error taxonomy.
func classifyS3Error(op string, loc model.Locator, err error) error {
	if isS3NotFound(err) {
		return model.NotFound(op, loc, err)
	}
	return model.Classify(op, err)
}

func isS3NotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}
