// Package ilpaddr implements the hierarchical dotted address type used to
// identify packet senders, receivers, and routing-table prefixes.
package ilpaddr

import (
	"errors"
	"regexp"
	"strings"
)

// MaxLength is the maximum encoded length of an address, in bytes.
const MaxLength = 1023

// ErrEmpty is returned for a zero-length address.
var ErrEmpty = errors.New("ilpaddr: address is empty")

// ErrTooLong is returned when an address exceeds MaxLength bytes.
var ErrTooLong = errors.New("ilpaddr: address exceeds maximum length")

// ErrInvalidSegment is returned when a segment contains characters outside
// [a-zA-Z0-9_~-] or is empty.
var ErrInvalidSegment = errors.New("ilpaddr: invalid address segment")

// ErrUnknownScheme is returned when the first segment is not one of the
// reserved scheme labels.
var ErrUnknownScheme = errors.New("ilpaddr: unrecognized scheme prefix")

var segmentRE = regexp.MustCompile(`^[a-zA-Z0-9_~-]+$`)

// schemes are the reserved root segment labels.
var schemes = map[string]bool{
	"g":       true,
	"private": true,
	"self":    true,
	"test":    true,
	"peer":    true,
	"local":   true,
}

// Address is an immutable, validated ILP address: a dot-joined sequence of
// ASCII segments whose root segment is a reserved scheme label.
type Address struct {
	raw string
}

// Parse validates s and returns an Address.
func Parse(s string) (Address, error) {
	if len(s) == 0 {
		return Address{}, ErrEmpty
	}
	if len(s) > MaxLength {
		return Address{}, ErrTooLong
	}
	segs := strings.Split(s, ".")
	for _, seg := range segs {
		if seg == "" || !segmentRE.MatchString(seg) {
			return Address{}, ErrInvalidSegment
		}
	}
	if !schemes[segs[0]] {
		return Address{}, ErrUnknownScheme
	}
	return Address{raw: s}, nil
}

// MustParse parses s and panics on error. Intended for tests and constants.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the address's wire form.
func (a Address) String() string { return a.raw }

// IsZero reports whether a is the unset zero value.
func (a Address) IsZero() bool { return a.raw == "" }

// Segments splits the address into its dot-separated components.
func (a Address) Segments() []string {
	if a.raw == "" {
		return nil
	}
	return strings.Split(a.raw, ".")
}

// WithSuffix returns a new Address formed by appending suffix as one or more
// additional segments (suffix itself is dot-joined, e.g. "bob.sub").
func (a Address) WithSuffix(suffix string) (Address, error) {
	if suffix == "" {
		return a, nil
	}
	return Parse(a.raw + "." + suffix)
}

// StartsWith reports whether prefix is a proper segment-aligned prefix of a,
// or equal to a. "g.foo".StartsWith("g") is true; "g.foobar".StartsWith("g.foo")
// is false (not segment-aligned).
func (a Address) StartsWith(prefix Address) bool {
	return strings.HasPrefix(a.raw+".", prefix.raw+".")
}

// HasPrefixString is like StartsWith but takes a raw, possibly-unvalidated
// prefix string; used by the routing table which stores prefixes as plain
// strings for O(1) map lookups.
func HasPrefixString(addr, prefix string) bool {
	return strings.HasPrefix(addr+".", prefix+".")
}
