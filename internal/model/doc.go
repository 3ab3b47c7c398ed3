// Package model provides the domain types shared by every labelcache package.
//
// This package contains type definitions, the error taxonomy and the
// fingerprint helpers. All other internal packages import model; model
// imports nothing internal.
//
// Key design constraints:
//   - A ClassificationRecord is keyed by its Fingerprint and is write-once
//   - Fingerprints carry their scheme ("etag:" or "sha256:") so two schemes
//     can never collide on the same key
//   - JSON tags use camelCase to match the processing result consumed by clients
package model
