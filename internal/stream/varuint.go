// Package stream implements the sender/receiver protocol layered over the
// packet pipeline: a congestion-controlled sender loop, a
// receiver that fulfills by recomputing the expected condition, and the
// stream packet/frame wire codec.
package stream

import (
	"bufio"
	"errors"
	"io"
	"math"
)

// ErrUnexpectedEOF is returned when a varuint or frame is truncated.
var ErrUnexpectedEOF = errors.New("stream: unexpected end of input")

// ErrUnsupportedVersion is returned for any stream packet version other
// than 1.
var ErrUnsupportedVersion = errors.New("stream: unsupported packet version")

// readVarUInt reads a length-prefixed big-endian integer: one length byte
// followed by that many value bytes. Per this node,
// this inner codec is lenient: a length byte greater than 8 is accepted and
// the value clamps to math.MaxUint64 rather than erroring (the outer packet
// envelope's strict canonical-length codec, in pkg/oer, is unaffected and
// continues to reject non-canonical encodings outright).
func readVarUInt(r *bufio.Reader) (uint64, error) {
	n, err := r.ReadByte()
	if err != nil {
		return 0, ErrUnexpectedEOF
	}
	if n == 0 {
		return 0, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, ErrUnexpectedEOF
	}
	if n > 8 {
		return math.MaxUint64, nil
	}
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// appendVarUInt appends the minimal-length encoding of v.
func appendVarUInt(dst []byte, v uint64) []byte {
	if v == 0 {
		return append(dst, 0)
	}
	var buf [8]byte
	n := 0
	for tmp := v; tmp > 0; tmp >>= 8 {
		n++
	}
	for i := n - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	dst = append(dst, byte(n))
	return append(dst, buf[:n]...)
}

// readOctets reads a length-prefixed byte string using the same varuint
// length encoding.
func readOctets(r *bufio.Reader) ([]byte, error) {
	n, err := readVarUInt(r)
	if err != nil {
		return nil, err
	}
	if n > math.MaxInt32 {
		return nil, ErrUnexpectedEOF
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, ErrUnexpectedEOF
		}
	}
	return buf, nil
}

func appendOctets(dst, s []byte) []byte {
	dst = appendVarUInt(dst, uint64(len(s)))
	return append(dst, s...)
}
