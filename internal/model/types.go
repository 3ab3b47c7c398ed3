package model

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Fingerprint is an opaque, content-derived identifier for stored bytes.
// Two objects with identical bytes resolve to the same Fingerprint.
type Fingerprint string

// String implements fmt.Stringer.
func (f Fingerprint) String() string {
	return string(f)
}

// IsZero reports whether the fingerprint is empty.
func (f Fingerprint) IsZero() bool {
	return f == ""
}

// Locator references one stored object (bucket/key equivalent).
type Locator struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Key    string `json:"key" yaml:"key"`
}

// String renders the locator as "bucket/key" for logs.
func (l Locator) String() string {
	return l.Bucket + "/" + l.Key
}

// URL renders the locator as the public object URL stored in records.
// Format: https://<bucket>.s3.amazonaws.com/<key>
func (l Locator) URL() string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", l.Bucket, l.Key)
}

// Path renders the locator as a relative filesystem path <bucket>/<key>
// for local storage backends.
func (l Locator) Path() string {
	return filepath.Join(l.Bucket, filepath.FromSlash(l.Key))
}

// Validate checks that both parts of the locator are present.
func (l Locator) Validate() error {
	if strings.TrimSpace(l.Bucket) == "" {
		return errors.New("locator: bucket is required")
	}
	if l.Key == "" {
		return errors.New("locator: key is required")
	}
	return nil
}

// UploadEvent is one storage notification for a newly stored object.
// It is consumed once per delivery and never persisted.
type UploadEvent struct {
	Locator   Locator   `json:"locator"`
	EventName string    `json:"eventName,omitempty"`
	EventTime time.Time `json:"eventTime,omitzero"`
	Sequencer string    `json:"sequencer,omitempty"`
}

// ClassificationRecord is the persisted outcome for one fingerprint.
// At most one record exists per fingerprint and IsMatch never changes once written.
type ClassificationRecord struct {
	Fingerprint   Fingerprint `json:"fingerprint"`
	SourceLocator string      `json:"sourceLocator"`
	IsMatch       bool        `json:"isMatch"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// Validate checks that a record is complete before it is written.
// Stores never accept partial records.
func (r ClassificationRecord) Validate() error {
	if r.Fingerprint.IsZero() {
		return errors.New("record: fingerprint is required")
	}
	if r.SourceLocator == "" {
		return errors.New("record: source locator is required")
	}
	if r.CreatedAt.IsZero() {
		return errors.New("record: created at is required")
	}
	return nil
}

// Label is one candidate label returned by the labeling service.
type Label struct {
	Name       string  `json:"name" yaml:"name"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// ProcessingResult is what the pipeline surfaces for one event.
type ProcessingResult struct {
	SourceLocator string `json:"sourceLocator"`
	IsMatch       bool   `json:"isMatch"`
}
