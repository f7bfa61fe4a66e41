// Package echo implements the node-local echo sub-protocol:
// a Prepare addressed to the node itself, carrying a 16-byte
// "ECHOECHOECHOECHO" prefix and a 1-byte type, is turned around and
// re-enters the pipeline addressed to the original source, producing a
// round-trip pingable by amount.
package echo

import (
	"errors"

	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/ilppacket"
	"github.com/interledger/ilp-gateway/pkg/oer"
)

// Prefix is the fixed 16-byte marker identifying an echo packet's data.
const Prefix = "ECHOECHOECHOECH" + "O"

const (
	TypeRequest  byte = 0
	TypeResponse byte = 1
)

var (
	// ErrNotEcho is returned by Parse when data does not carry the echo prefix.
	ErrNotEcho = errors.New("echo: data does not carry the echo prefix")
	// ErrUnknownType is returned for a type byte other than request/response.
	ErrUnknownType = errors.New("echo: unrecognized echo type")
)

// Packet is a parsed echo request or response.
type Packet struct {
	Type          byte
	SourceAddress ilpaddr.Address // set only for TypeRequest
}

// IsEcho reports whether a Prepare addressed to self with this data is an
// echo packet.
func IsEcho(data []byte) bool {
	return len(data) >= 16 && string(data[:16]) == Prefix
}

// Parse decodes the echo payload from a Prepare's data field.
func Parse(data []byte) (*Packet, error) {
	if !IsEcho(data) {
		return nil, ErrNotEcho
	}
	rest := data[16:]
	if len(rest) == 0 {
		return nil, ErrUnknownType
	}
	typ := rest[0]
	switch typ {
	case TypeResponse:
		return &Packet{Type: TypeResponse}, nil
	case TypeRequest:
		addrBytes, _, err := readOctetString(rest[1:])
		if err != nil {
			return nil, err
		}
		addr, err := ilpaddr.Parse(string(addrBytes))
		if err != nil {
			return nil, err
		}
		return &Packet{Type: TypeRequest, SourceAddress: addr}, nil
	default:
		return nil, ErrUnknownType
	}
}

// BuildRequest serializes an echo request carrying sourceAddress.
func BuildRequest(sourceAddress ilpaddr.Address) []byte {
	buf := []byte(Prefix)
	buf = append(buf, TypeRequest)
	buf = oer.AppendOctetString(buf, []byte(sourceAddress.String()))
	return buf
}

// BuildResponse serializes the turned-around echo response.
func BuildResponse() []byte {
	buf := []byte(Prefix)
	return append(buf, TypeResponse)
}

// Turnaround builds the Prepare the node re-injects into the pipeline for an
// inbound echo request: destination is swapped to the request's source
// address, and the data is rewritten to a response packet.
func Turnaround(original *ilppacket.Prepare, req *Packet) *ilppacket.Prepare {
	cp := original.WithDestination(req.SourceAddress)
	cp.Data = BuildResponse()
	return cp
}

func readOctetString(b []byte) ([]byte, int, error) {
	n, consumed, err := readLen(b)
	if err != nil {
		return nil, 0, err
	}
	if len(b) < consumed+n {
		return nil, 0, oer.ErrUnexpectedEOF
	}
	return b[consumed : consumed+n], consumed + n, nil
}

func readLen(b []byte) (int, int, error) {
	if len(b) == 0 {
		return 0, 0, oer.ErrUnexpectedEOF
	}
	if b[0] < 0x80 {
		return int(b[0]), 1, nil
	}
	n := int(b[0] &^ 0x80)
	if n == 0 || n > 8 || len(b) < 1+n {
		return 0, 0, oer.ErrInvalidLengthPrefix
	}
	length := 0
	for i := 0; i < n; i++ {
		length = length<<8 | int(b[1+i])
	}
	return length, 1 + n, nil
}
