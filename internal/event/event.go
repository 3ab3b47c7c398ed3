// Package event turns storage notifications into upload events.
package event

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/roach88/labelcache/internal/model"
)

// objectCreatedPrefix matches s3:ObjectCreated:* event names, with or
// without the "s3:" prefix used by S3-compatible stores.
const objectCreatedPrefix = "ObjectCreated:"

// Batch is the result of normalising one notification.
type Batch struct {
	Events []model.UploadEvent
	// Skipped lists object-created records that could not become events.
	Skipped []RecordError
}

// RecordError describes one record dropped from a notification.
type RecordError struct {
	Index int
	Key   string
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d (key %q): %v", e.Index, e.Key, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

// Decode parses an S3 event notification document.
// A test notification (no Records) decodes to an empty batch. Only an
// undecodable document is an error; bad records are skipped.
func Decode(data []byte) (Batch, error) {
	var n events.S3Event
	if err := json.Unmarshal(data, &n); err != nil {
		return Batch{}, fmt.Errorf("decode notification: %w", err)
	}
	return FromS3Event(n), nil
}

// FromS3Event extracts one UploadEvent per object-created record.
// Other record types are ignored. Object keys arrive URL-encoded and are
// decoded; a record whose key or locator is invalid is skipped without
// affecting the rest.
func FromS3Event(n events.S3Event) Batch {
	b := Batch{Events: make([]model.UploadEvent, 0, len(n.Records))}
	for i, r := range n.Records {
		if !IsObjectCreated(r.EventName) {
			continue
		}
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			b.Skipped = append(b.Skipped, RecordError{Index: i, Key: r.S3.Object.Key, Err: fmt.Errorf("decode key: %w", err)})
			continue
		}
		ev := model.UploadEvent{
			Locator:   model.Locator{Bucket: r.S3.Bucket.Name, Key: key},
			EventName: r.EventName,
			EventTime: r.EventTime,
			Sequencer: r.S3.Object.Sequencer,
		}
		if err := ev.Locator.Validate(); err != nil {
			b.Skipped = append(b.Skipped, RecordError{Index: i, Key: r.S3.Object.Key, Err: err})
			continue
		}
		b.Events = append(b.Events, ev)
	}
	return b
}

// LogSkipped writes one warning per skipped record.
func (b Batch) LogSkipped(logger *slog.Logger) {
	for _, s := range b.Skipped {
		logger.Warn("skipping invalid record", "index", s.Index, "key", s.Key, "error", s.Err)
	}
}

// IsObjectCreated reports whether name is an object-created event.
func IsObjectCreated(name string) bool {
	return strings.HasPrefix(strings.TrimPrefix(name, "s3:"), objectCreatedPrefix)
}

// Synthetic builds an UploadEvent for a locator outside any notification,
// as used by the CLI and the scenario runner.
func Synthetic(loc model.Locator) model.UploadEvent {
	return model.UploadEvent{Locator: loc, EventName: "ObjectCreated:Put"}
}
