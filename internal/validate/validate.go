// Package validate provides declarative bound checks for every boundary
// input named in spec §9: envelope fields, offer/answer payloads, channel
// frames, REST bodies, and query parameters. Structured on the
// Validate()-method-family pattern in other_examples'
// atvirokodosprendimai-wgmesh pkg/crypto/envelope.go.
package validate

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

var (
	roomCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{4,48}$`)
	roomIDPattern   = regexp.MustCompile(`^meet-[a-z0-9](?:[a-z0-9-]{10,62}[a-z0-9])$`)
)

// RoomCode validates the offline-mode room code pattern (spec §3).
func RoomCode(s string) error {
	if !roomCodePattern.MatchString(s) {
		return fmt.Errorf("validate: room code %q does not match ^[A-Za-z0-9_-]{4,48}$", s)
	}
	return nil
}

// RoomID validates the rendezvous-mode room identifier pattern (spec §3).
func RoomID(s string) error {
	if !roomIDPattern.MatchString(s) {
		return fmt.Errorf("validate: room id %q does not match ^meet-[a-z0-9](?:[a-z0-9-]{10,62}[a-z0-9])$", s)
	}
	return nil
}

// MaxLen reports an error if s is longer than max runes.
func MaxLen(field, s string, max int) error {
	if utf8.RuneCountInString(s) > max {
		return fmt.Errorf("validate: %s exceeds %d characters (got %d)", field, max, utf8.RuneCountInString(s))
	}
	return nil
}

// MinLen reports an error if s is shorter than min runes.
func MinLen(field, s string, min int) error {
	if utf8.RuneCountInString(s) < min {
		return fmt.Errorf("validate: %s must be at least %d characters (got %d)", field, min, utf8.RuneCountInString(s))
	}
	return nil
}

// MinBytes reports an error if b has fewer than min bytes.
func MinBytes(field string, b []byte, min int) error {
	if len(b) < min {
		return fmt.Errorf("validate: %s must be at least %d bytes (got %d)", field, min, len(b))
	}
	return nil
}

// MaxInt reports an error if n exceeds max.
func MaxInt(field string, n, max int) error {
	if n > max {
		return fmt.Errorf("validate: %s exceeds %d (got %d)", field, max, n)
	}
	return nil
}

// OneOf reports an error if s is not a member of allowed.
func OneOf(field, s string, allowed ...string) error {
	for _, a := range allowed {
		if s == a {
			return nil
		}
	}
	return fmt.Errorf("validate: %s must be one of %v (got %q)", field, allowed, s)
}

// TimeWindow validates that createdAt < expiresAt <= createdAt + maxAge,
// all in unix milliseconds (spec §3's envelope lifecycle invariant).
func TimeWindow(createdAt, expiresAt int64, maxAgeMs int64) error {
	if createdAt >= expiresAt {
		return fmt.Errorf("validate: createdAt (%d) must be before expiresAt (%d)", createdAt, expiresAt)
	}
	if expiresAt > createdAt+maxAgeMs {
		return fmt.Errorf("validate: expiresAt (%d) exceeds createdAt+%dms", expiresAt, maxAgeMs)
	}
	return nil
}
