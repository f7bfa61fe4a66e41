package stream

import (
	"bufio"
	"bytes"
)

// Frame type octets.
const (
	FrameConnectionNewAddress   byte = 1
	FrameConnectionAssetDetails byte = 2
	FrameConnectionClose        byte = 3
	FrameStreamMoney            byte = 4
	FrameStreamMaxMoney         byte = 5
	FrameStreamClose            byte = 6
)

// Frame is a generic, type-preserving wire frame: Content holds the raw
// body so that unrecognized frame types round-trip byte-for-byte on
// reserialize.
type Frame struct {
	Type    byte
	Content []byte
}

// StreamMoneyFrame carries a share allocation for one stream.
type StreamMoneyFrame struct {
	StreamID uint64
	Shares   uint64
}

// Encode serializes f as a generic Frame's content.
func (f StreamMoneyFrame) Encode() Frame {
	var buf []byte
	buf = appendVarUInt(buf, f.StreamID)
	buf = appendVarUInt(buf, f.Shares)
	return Frame{Type: FrameStreamMoney, Content: buf}
}

// DecodeStreamMoneyFrame parses a Frame's content as a StreamMoneyFrame.
func DecodeStreamMoneyFrame(content []byte) (StreamMoneyFrame, error) {
	r := bufio.NewReader(bytes.NewReader(content))
	streamID, err := readVarUInt(r)
	if err != nil {
		return StreamMoneyFrame{}, err
	}
	shares, err := readVarUInt(r)
	if err != nil {
		return StreamMoneyFrame{}, err
	}
	return StreamMoneyFrame{StreamID: streamID, Shares: shares}, nil
}

// StreamMaxMoneyFrame advertises a receiver's willingness to receive more.
// ReceiveMax may be math.MaxUint64 if the sender's claim overflowed 8 bytes.
type StreamMaxMoneyFrame struct {
	StreamID      uint64
	ReceiveMax    uint64
	TotalReceived uint64
}

// Encode serializes f as a generic Frame's content.
func (f StreamMaxMoneyFrame) Encode() Frame {
	var buf []byte
	buf = appendVarUInt(buf, f.StreamID)
	buf = appendVarUInt(buf, f.ReceiveMax)
	buf = appendVarUInt(buf, f.TotalReceived)
	return Frame{Type: FrameStreamMaxMoney, Content: buf}
}

// DecodeStreamMaxMoneyFrame parses a Frame's content as a StreamMaxMoneyFrame.
func DecodeStreamMaxMoneyFrame(content []byte) (StreamMaxMoneyFrame, error) {
	r := bufio.NewReader(bytes.NewReader(content))
	streamID, err := readVarUInt(r)
	if err != nil {
		return StreamMaxMoneyFrame{}, err
	}
	receiveMax, err := readVarUInt(r)
	if err != nil {
		return StreamMaxMoneyFrame{}, err
	}
	totalReceived, err := readVarUInt(r)
	if err != nil {
		return StreamMaxMoneyFrame{}, err
	}
	return StreamMaxMoneyFrame{StreamID: streamID, ReceiveMax: receiveMax, TotalReceived: totalReceived}, nil
}

// ConnectionNewAddressFrame announces the sender's ILP address for replies.
type ConnectionNewAddressFrame struct {
	SourceAddress string
}

func (f ConnectionNewAddressFrame) Encode() Frame {
	return Frame{Type: FrameConnectionNewAddress, Content: appendOctets(nil, []byte(f.SourceAddress))}
}

func DecodeConnectionNewAddressFrame(content []byte) (ConnectionNewAddressFrame, error) {
	r := bufio.NewReader(bytes.NewReader(content))
	addr, err := readOctets(r)
	if err != nil {
		return ConnectionNewAddressFrame{}, err
	}
	return ConnectionNewAddressFrame{SourceAddress: string(addr)}, nil
}
