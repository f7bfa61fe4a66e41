// Package oer implements the length-prefix and timestamp primitives the
// packet codec is built from: a varuint length prefix (ASN.1 OER-style
// short/long form) and the 17-byte fixed ASCII timestamp.
package oer

import (
	"encoding/binary"
	"errors"
	"io"
	"time"
)

// Errors returned by the primitives in this package. ilppacket maps these
// onto the packet-level ParseError taxonomy.
var (
	ErrUnexpectedEOF          = errors.New("oer: unexpected end of input")
	ErrInvalidLengthPrefix    = errors.New("oer: invalid length prefix")
	ErrTrailingBytes          = errors.New("oer: trailing bytes not allowed in strict mode")
	ErrNonRoundtrippableTime  = errors.New("oer: timestamp does not round-trip")
	ErrInvalidTimestampDigits = errors.New("oer: timestamp is not 17 ASCII digits")
)

// TimestampLen is the fixed wire length of an ILP timestamp.
const TimestampLen = 17

// timeLayout is the Go reference-time layout for YYYYMMDDHHMMSSfff.
const timeLayout = "20060102150405.000"

// ReadLengthPrefix reads a canonical OER-style length prefix from r and
// returns the decoded length. strict enforces canonical (minimal) encoding;
// in non-strict mode, non-canonical long forms are still accepted.
//
// Encoding: a byte < 0x80 is the length itself. A byte 0x80|n (n in 1..=8)
// says n further big-endian bytes follow encoding the length. Canonical
// form requires length < 128 to use the short form, and the long-form
// bytes to have no leading zero byte.
func ReadLengthPrefix(r io.ByteReader, strict bool) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, ErrUnexpectedEOF
	}
	if first < 0x80 {
		return uint64(first), nil
	}
	n := int(first &^ 0x80)
	if n == 0 || n > 8 {
		return 0, ErrInvalidLengthPrefix
	}
	buf := make([]byte, 8)
	for i := 0; i < n; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, ErrUnexpectedEOF
		}
		buf[8-n+i] = b
	}
	if strict && buf[8-n] == 0 {
		return 0, ErrInvalidLengthPrefix
	}
	length := binary.BigEndian.Uint64(buf)
	if strict && length < 128 {
		return 0, ErrInvalidLengthPrefix
	}
	return length, nil
}

// AppendLengthPrefix appends the canonical encoding of length to dst and
// returns the extended slice.
func AppendLengthPrefix(dst []byte, length uint64) []byte {
	if length < 128 {
		return append(dst, byte(length))
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], length)
	start := 0
	for start < 7 && buf[start] == 0 {
		start++
	}
	n := 8 - start
	dst = append(dst, 0x80|byte(n))
	return append(dst, buf[start:]...)
}

// ToInt converts a wire-decoded uint64 length into a platform int, failing
// with ErrInvalidLengthPrefix on overflow. All wire lengths are uint64;
// the packet codec's casts to int (for slice indexing/allocation, in
// ReadOctetString and pkg/ilppacket) go through this helper.
func ToInt(n uint64) (int, error) {
	if n > uint64(^uint(0)>>1) {
		return 0, ErrInvalidLengthPrefix
	}
	return int(n), nil
}

// ReadOctetString reads a length-prefixed octet string from r.
func ReadOctetString(r io.Reader, br io.ByteReader, strict bool) ([]byte, error) {
	n, err := ReadLengthPrefix(br, strict)
	if err != nil {
		return nil, err
	}
	ni, err := ToInt(n)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, ni)
	if ni > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, ErrUnexpectedEOF
		}
	}
	return buf, nil
}

// AppendOctetString appends a length-prefixed octet string to dst.
func AppendOctetString(dst, s []byte) []byte {
	dst = AppendLengthPrefix(dst, uint64(len(s)))
	return append(dst, s...)
}

// EncodeTimestamp renders t as the 17-byte YYYYMMDDHHMMSSfff ASCII form.
func EncodeTimestamp(t time.Time) [TimestampLen]byte {
	s := t.UTC().Format(timeLayout)
	// Format yields "20060102150405.000" (18 chars incl. the dot); strip it.
	var out [TimestampLen]byte
	copy(out[:14], s[:14])
	copy(out[14:17], s[15:18])
	return out
}

// DecodeTimestamp parses the 17-byte fixed ASCII timestamp, verifying every
// byte is an ASCII digit and that re-encoding the parsed time reproduces
// the identical 17 bytes (guards against lenient calendar rollovers, e.g.
// a "60"-second field).
func DecodeTimestamp(b []byte) (time.Time, error) {
	if len(b) != TimestampLen {
		return time.Time{}, ErrInvalidTimestampDigits
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return time.Time{}, ErrInvalidTimestampDigits
		}
	}
	layout := "20060102150405"
	t, err := time.ParseInLocation(layout, string(b[:14]), time.UTC)
	if err != nil {
		return time.Time{}, ErrNonRoundtrippableTime
	}
	millis := 0
	for _, c := range b[14:17] {
		millis = millis*10 + int(c-'0')
	}
	t = t.Add(time.Duration(millis) * time.Millisecond)
	roundtripped := EncodeTimestamp(t)
	if string(roundtripped[:]) != string(b) {
		return time.Time{}, ErrNonRoundtrippableTime
	}
	return t, nil
}
