// Package ilppacket defines the three wire packet types — Prepare, Fulfill,
// and Reject — and their bit-exact binary codec.
package ilppacket

import (
	"crypto/sha256"
	"errors"
	"time"

	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
)

// MaxDataLen is the maximum length of a Prepare/Fulfill/Reject data field.
const MaxDataLen = 32767

// MaxRejectMessageLen is the maximum length of a Reject message field.
const MaxRejectMessageLen = 8191

// Packet type octets, the first byte of every serialized packet.
const (
	TypePrepare byte = 12
	TypeFulfill byte = 13
	TypeReject  byte = 14
)

// ParseError is the codec's error taxonomy.
type ParseError struct {
	Kind string
	Err  error
}

func (e *ParseError) Error() string { return "ilppacket: " + e.Kind + ": " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

func newParseError(kind string, err error) *ParseError {
	return &ParseError{Kind: kind, Err: err}
}

// Sentinel Kind values for ParseError.
const (
	KindUnexpectedEOF         = "UnexpectedEof"
	KindInvalidLengthPrefix   = "InvalidLengthPrefix"
	KindTrailingBytes         = "TrailingBytes"
	KindNonRoundtrippableTime = "NonRoundtrippableTimestamp"
	KindInvalidIA5            = "InvalidIA5"
	KindBadUTF8               = "BadUtf8"
	KindBadAddress            = "BadAddress"
	KindDataTooLong           = "DataTooLong"
	KindUnknownPacketType     = "UnknownPacketType"
)

// Prepare is the immutable request packet. Once built, its fields do not
// change in place; pipeline stages that need to mutate a field (amount,
// expiry) build a new Prepare via WithAmount/WithExpiresAt.
type Prepare struct {
	Amount             uint64
	ExpiresAt          time.Time
	ExecutionCondition [32]byte
	Destination        ilpaddr.Address
	Data               []byte
}

// NewPrepare validates and constructs a Prepare.
func NewPrepare(amount uint64, expiresAt time.Time, condition [32]byte, dest ilpaddr.Address, data []byte) (*Prepare, error) {
	if len(data) > MaxDataLen {
		return nil, newParseError(KindDataTooLong, errors.New("data exceeds 32767 bytes"))
	}
	return &Prepare{
		Amount:             amount,
		ExpiresAt:          expiresAt,
		ExecutionCondition: condition,
		Destination:        dest,
		Data:               data,
	}, nil
}

// WithAmount returns a copy of p with a new Amount (destination, condition,
// data, and expiry unchanged), used by the exchange-rate stage per
// the exchange-rate stage.
func (p *Prepare) WithAmount(amount uint64) *Prepare {
	cp := *p
	cp.Amount = amount
	return &cp
}

// WithExpiresAt returns a copy of p with a new expiry, used by the
// expiry-shortener stage.
func (p *Prepare) WithExpiresAt(t time.Time) *Prepare {
	cp := *p
	cp.ExpiresAt = t
	return &cp
}

// WithDestination returns a copy of p addressed to a different destination,
// used by the echo sub-protocol's request/response flip.
func (p *Prepare) WithDestination(dest ilpaddr.Address) *Prepare {
	cp := *p
	cp.Destination = dest
	return &cp
}

// Fulfill is the success response packet.
type Fulfill struct {
	Fulfillment [32]byte
	Data        []byte
}

// NewFulfill validates and constructs a Fulfill.
func NewFulfill(fulfillment [32]byte, data []byte) (*Fulfill, error) {
	if len(data) > MaxDataLen {
		return nil, newParseError(KindDataTooLong, errors.New("data exceeds 32767 bytes"))
	}
	return &Fulfill{Fulfillment: fulfillment, Data: data}, nil
}

// SatisfiesCondition reports whether SHA256(f.Fulfillment) == condition, the
// fulfillment-integrity invariant: a Fulfill is only valid if its
// fulfillment hashes to the condition it claims to satisfy.
func (f *Fulfill) SatisfiesCondition(condition [32]byte) bool {
	got := sha256.Sum256(f.Fulfillment[:])
	return got == condition
}

// Reject is the failure response packet. Code's first character denotes its
// class: F (final), T (temporary), R (relative)
type Reject struct {
	Code        [3]byte
	TriggeredBy ilpaddr.Address
	Message     string
	Data        []byte
}

// NewReject validates and constructs a Reject.
func NewReject(code [3]byte, triggeredBy ilpaddr.Address, message string, data []byte) (*Reject, error) {
	if code[0] != 'F' && code[0] != 'T' && code[0] != 'R' {
		return nil, newParseError(KindInvalidIA5, errors.New("reject code must start with F, T, or R"))
	}
	for _, c := range code {
		if c < 0x20 || c > 0x7E {
			return nil, newParseError(KindInvalidIA5, errors.New("reject code must be IA5"))
		}
	}
	if len(message) > MaxRejectMessageLen {
		return nil, newParseError(KindBadUTF8, errors.New("message exceeds 8191 bytes"))
	}
	if len(data) > MaxDataLen {
		return nil, newParseError(KindDataTooLong, errors.New("data exceeds 32767 bytes"))
	}
	return &Reject{Code: code, TriggeredBy: triggeredBy, Message: message, Data: data}, nil
}

// CodeString returns the 3-character IA5 reject code as a string.
func (r *Reject) CodeString() string { return string(r.Code[:]) }

// CodeClass returns the first character of the reject code: 'F', 'T', or 'R'.
func (r *Reject) CodeClass() byte { return r.Code[0] }

// Code3 builds a [3]byte reject code from a string, panicking if it is not
// exactly 3 bytes. Used for constructing well-known codes as constants.
func Code3(s string) [3]byte {
	if len(s) != 3 {
		panic("ilppacket: reject code must be exactly 3 bytes: " + s)
	}
	var out [3]byte
	copy(out[:], s)
	return out
}

// Well-known reject codes.
var (
	CodeF00 = Code3("F00") // bad request
	CodeF01 = Code3("F01") // invalid packet
	CodeF02 = Code3("F02") // unreachable
	CodeF03 = Code3("F03") // invalid amount
	CodeF05 = Code3("F05") // wrong condition
	CodeF06 = Code3("F06") // unexpected payment
	CodeF07 = Code3("F07") // cannot receive
	CodeF08 = Code3("F08") // amount too large
	CodeF99 = Code3("F99") // application error

	CodeT00 = Code3("T00") // internal
	CodeT01 = Code3("T01") // peer unreachable
	CodeT03 = Code3("T03") // too busy
	CodeT04 = Code3("T04") // insufficient liquidity
	CodeT05 = Code3("T05") // rate limited

	CodeR00 = Code3("R00") // transfer timed out
	CodeR01 = Code3("R01") // insufficient source amount
	CodeR02 = Code3("R02") // insufficient timeout
)
