// Package fingerprint derives content fingerprints for stored objects.
//
// Resolvers prefer storage metadata (ETag or a full-object SHA-256 checksum)
// and only read object bytes when no usable metadata exists. Identical bytes
// at different locators always resolve to the same fingerprint within one
// scheme.
package fingerprint

import (
	"context"
	"fmt"

	"github.com/roach88/labelcache/internal/model"
)

// Resolver derives the fingerprint of the object at a locator.
//
// Errors are classified: model.KindNotFound when the object no longer
// exists, model.KindTransient for any infrastructure failure.
type Resolver interface {
	Resolve(ctx context.Context, loc model.Locator) (model.Fingerprint, error)
}

// Mode selects which metadata an S3Resolver trusts.
type Mode string

const (
	// ModeETag uses the object ETag. Cheapest; multipart uploads of the same
	// bytes with different part sizes produce different ETags.
	ModeETag Mode = "etag"

	// ModeSHA256 uses the full-object SHA-256 checksum, streaming the object
	// when the checksum is absent or composite.
	ModeSHA256 Mode = "sha256"
)

// ParseMode validates a mode name. The empty string selects ModeETag.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeETag:
		return ModeETag, nil
	case ModeSHA256:
		return ModeSHA256, nil
	default:
		return "", &UnknownModeError{Mode: s}
	}
}

// UnknownModeError reports an unsupported fingerprint mode.
type UnknownModeError struct {
	Mode string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("unknown fingerprint mode %q (want etag or sha256)", e.Mode)
}
