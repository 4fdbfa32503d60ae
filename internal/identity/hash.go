// Package identity derives the content-addressed hash and timestamp
// normalization rules that every other package treats as authoritative.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ContentHash returns the lowercase hex SHA-256 digest of content.
//
// The hash is taken over content alone. A previous generation of this
// service folded sorted metadata into the digest so that retagging a
// memory changed its identity; that behavior is deprecated and must not
// be reintroduced (spec §4.1, §9).
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Now returns the current time in UTC with sub-second resolution.
func Now() time.Time {
	return time.Now().UTC()
}

// ToISO8601 renders t as RFC 3339 with a literal "Z" suffix, the wire
// format every string timestamp in this service uses.
func ToISO8601(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// FromISO8601 parses an RFC 3339 timestamp produced by ToISO8601 or any
// compliant RFC 3339 string.
func FromISO8601(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02T15:04:05.000000Z", s)
}
