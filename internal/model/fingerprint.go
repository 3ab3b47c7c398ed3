package model

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Fingerprint schemes. The scheme prefix keeps ETag-derived and hash-derived
// keys in separate namespaces.
const (
	SchemeETag   = "etag"
	SchemeSHA256 = "sha256"
)

// FingerprintFromETag builds an etag-scheme fingerprint from an S3 ETag.
// Surrounding quotes and a weak-validator prefix are stripped.
func FingerprintFromETag(etag string) (Fingerprint, error) {
	v := strings.TrimSpace(etag)
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, `"`)
	if v == "" {
		return "", fmt.Errorf("empty etag")
	}
	return Fingerprint(SchemeETag + ":" + strings.ToLower(v)), nil
}

// FingerprintFromChecksum builds a sha256-scheme fingerprint from a base64
// SHA-256 checksum as reported by object storage metadata.
// Composite (multipart) checksums carry a "-N" suffix and are rejected because
// they do not identify the full object bytes.
func FingerprintFromChecksum(b64 string) (Fingerprint, error) {
	if strings.Contains(b64, "-") {
		return "", fmt.Errorf("composite checksum %q", b64)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode checksum: %w", err)
	}
	if len(raw) != sha256.Size {
		return "", fmt.Errorf("checksum has %d bytes, want %d", len(raw), sha256.Size)
	}
	return Fingerprint(SchemeSHA256 + ":" + hex.EncodeToString(raw)), nil
}

// FingerprintFromContent streams r through SHA-256.
// The result equals FingerprintFromChecksum for the same bytes.
func FingerprintFromContent(r io.Reader) (Fingerprint, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return Fingerprint(SchemeSHA256 + ":" + hex.EncodeToString(h.Sum(nil))), nil
}

// Scheme returns the scheme prefix of a fingerprint, or "" if it has none.
func (f Fingerprint) Scheme() string {
	scheme, _, ok := strings.Cut(string(f), ":")
	if !ok {
		return ""
	}
	return scheme
}
