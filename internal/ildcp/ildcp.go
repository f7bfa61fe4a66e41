// Package ildcp answers the peer.config reserved destination: a child
// account asks the node what address, asset code, and asset scale it has
// been assigned, and gets the answer back as the Fulfill data.
package ildcp

import (
	"encoding/binary"

	"github.com/interledger/ilp-gateway/internal/store"
	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/ilppacket"
	"github.com/interledger/ilp-gateway/pkg/oer"
)

// Destination is the reserved address ILDCP requests are sent to.
var Destination = ilpaddr.MustParse("peer.config")

// IsRequest reports whether dest is the ILDCP reserved destination.
func IsRequest(dest ilpaddr.Address) bool {
	return dest.String() == Destination.String()
}

// fulfillmentPreimage is fixed: ILDCP responses carry no value transfer, so
// every response uses the all-zero 32-byte preimage. The condition it
// satisfies is SHA-256 of that preimage, not the all-zero condition.
var fulfillmentPreimage [32]byte

// Respond builds the Fulfill for an ILDCP request from account.
func Respond(account *store.Account) (*ilppacket.Fulfill, error) {
	data := encodeInfo(account.ILPAddress, account.AssetCode, account.AssetScale)
	return ilppacket.NewFulfill(fulfillmentPreimage, data)
}

// encodeInfo serializes the address/asset-code/asset-scale triple: a
// length-prefixed address, then a 1-byte asset-scale, then a
// length-prefixed asset-code octet string.
func encodeInfo(address, assetCode string, assetScale uint8) []byte {
	var buf []byte
	buf = oer.AppendOctetString(buf, []byte(address))
	buf = append(buf, assetScale)
	buf = oer.AppendOctetString(buf, []byte(assetCode))
	return buf
}

// DecodeInfo parses the data produced by Respond, used by account-holder
// clients bootstrapping against this node.
func DecodeInfo(data []byte) (address, assetCode string, assetScale uint8, err error) {
	pos := 0
	addrLen, n, err := readLen(data[pos:])
	if err != nil {
		return "", "", 0, err
	}
	pos += n
	address = string(data[pos : pos+addrLen])
	pos += addrLen
	assetScale = data[pos]
	pos++
	codeLen, n, err := readLen(data[pos:])
	if err != nil {
		return "", "", 0, err
	}
	pos += n
	assetCode = string(data[pos : pos+codeLen])
	return address, assetCode, assetScale, nil
}

// readLen reads a short-form or long-form length prefix and returns the
// decoded length and the number of bytes consumed.
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
	var buf [8]byte
	copy(buf[8-n:], b[1:1+n])
	return int(binary.BigEndian.Uint64(buf[:])), 1 + n, nil
}
