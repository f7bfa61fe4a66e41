// Package btp implements the WebSocket peer transport: each message on the
// socket is one frame of the form type:u8 || request_id:u32 || content,
// where content is a variable-length list of protocol-data entries
// {name, content_type, data}. An entry named "ilp" carries a raw,
// already-serialized Prepare/Fulfill/Reject packet.
package btp

import (
	"encoding/binary"
	"errors"

	"github.com/interledger/ilp-gateway/pkg/oer"
)

// Message types, the first byte of every BTP frame.
const (
	TypeResponse byte = 1
	TypeError    byte = 2
	TypeMessage  byte = 6
)

// ContentType tags how a protocol-data entry's Data should be interpreted.
type ContentType byte

const (
	ContentTypeOctetStream ContentType = 0
	ContentTypeTextUTF8    ContentType = 1
)

// ProtocolDataEntry is one named, typed value carried in a frame's content.
type ProtocolDataEntry struct {
	ProtocolName string
	ContentType  ContentType
	Data         []byte
}

// Frame is a decoded BTP message.
type Frame struct {
	Type         byte
	RequestID    uint32
	ProtocolData []ProtocolDataEntry
}

// ErrTruncatedFrame is returned when a frame's bytes end before its
// declared structure is fully read.
var ErrTruncatedFrame = errors.New("btp: truncated frame")

// ilpProtocolData wraps a raw packet as the single "ilp" entry most BTP
// frames carry.
func ilpProtocolData(raw []byte) []ProtocolDataEntry {
	return []ProtocolDataEntry{{ProtocolName: "ilp", ContentType: ContentTypeOctetStream, Data: raw}}
}

// findILP returns the Data of the first "ilp" protocol-data entry, if any.
func findILP(entries []ProtocolDataEntry) ([]byte, bool) {
	for _, e := range entries {
		if e.ProtocolName == "ilp" {
			return e.Data, true
		}
	}
	return nil, false
}

// Encode serializes f into a single BTP wire message (one WebSocket binary
// frame payload).
func Encode(f Frame) []byte {
	pd := make([]byte, 0, 64)
	pd = appendVarUint(pd, uint64(len(f.ProtocolData)))
	for _, e := range f.ProtocolData {
		pd = oer.AppendOctetString(pd, []byte(e.ProtocolName))
		pd = append(pd, byte(e.ContentType))
		pd = oer.AppendOctetString(pd, e.Data)
	}

	out := make([]byte, 0, 5+len(pd)+2)
	out = append(out, f.Type)
	var reqID [4]byte
	binary.BigEndian.PutUint32(reqID[:], f.RequestID)
	out = append(out, reqID[:]...)
	out = oer.AppendOctetString(out, pd)
	return out
}

// Decode parses a single BTP wire message.
func Decode(b []byte) (Frame, error) {
	if len(b) < 5 {
		return Frame{}, ErrTruncatedFrame
	}
	f := Frame{Type: b[0], RequestID: binary.BigEndian.Uint32(b[1:5])}

	br := newByteReader(b[5:])
	content, err := oer.ReadOctetString(br, br, false)
	if err != nil {
		return Frame{}, err
	}

	cr := newByteReader(content)
	count, err := readVarUint(cr)
	if err != nil {
		return Frame{}, err
	}
	entries := make([]ProtocolDataEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		name, err := oer.ReadOctetString(cr, cr, false)
		if err != nil {
			return Frame{}, err
		}
		ctByte, err := cr.ReadByte()
		if err != nil {
			return Frame{}, ErrTruncatedFrame
		}
		data, err := oer.ReadOctetString(cr, cr, false)
		if err != nil {
			return Frame{}, err
		}
		entries = append(entries, ProtocolDataEntry{
			ProtocolName: string(name),
			ContentType:  ContentType(ctByte),
			Data:         data,
		})
	}
	f.ProtocolData = entries
	return f, nil
}

// appendVarUint appends n as a canonical OER length-style varuint, reused
// here for the protocol-data count prefix (the BTP wire format encodes
// this count the same way it encodes octet-string lengths).
func appendVarUint(dst []byte, n uint64) []byte {
	return oer.AppendLengthPrefix(dst, n)
}

func readVarUint(br *byteReader) (uint64, error) {
	return oer.ReadLengthPrefix(br, false)
}

// byteReader adapts a byte slice to the io.Reader/io.ByteReader pair the
// oer package's strict/lenient primitives expect.
type byteReader struct {
	b   []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) ReadByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, ErrTruncatedFrame
	}
	c := r.b[r.pos]
	r.pos++
	return c, nil
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, ErrTruncatedFrame
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
