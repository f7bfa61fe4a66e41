package ilppacket

import (
	"bufio"
	"bytes"
	"unicode/utf8"

	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/oer"
)

// Serialize encodes p into its canonical binary form.
func (p *Prepare) Serialize() []byte {
	var content []byte
	var amt [8]byte
	putUint64(amt[:], p.Amount)
	content = append(content, amt[:]...)
	ts := oer.EncodeTimestamp(p.ExpiresAt)
	content = append(content, ts[:]...)
	content = append(content, p.ExecutionCondition[:]...)
	content = oer.AppendOctetString(content, []byte(p.Destination.String()))
	content = oer.AppendOctetString(content, p.Data)
	return wrapEnvelope(TypePrepare, content)
}

// Serialize encodes f into its canonical binary form.
func (f *Fulfill) Serialize() []byte {
	var content []byte
	content = append(content, f.Fulfillment[:]...)
	content = oer.AppendOctetString(content, f.Data)
	return wrapEnvelope(TypeFulfill, content)
}

// Serialize encodes r into its canonical binary form.
func (r *Reject) Serialize() []byte {
	var content []byte
	content = append(content, r.Code[:]...)
	content = oer.AppendOctetString(content, []byte(r.TriggeredBy.String()))
	content = oer.AppendOctetString(content, []byte(r.Message))
	content = oer.AppendOctetString(content, r.Data)
	return wrapEnvelope(TypeReject, content)
}

func wrapEnvelope(typ byte, content []byte) []byte {
	out := []byte{typ}
	out = oer.AppendLengthPrefix(out, uint64(len(content)))
	return append(out, content...)
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// Parse decodes a packet from b. strict enables canonical-encoding and
// no-trailing-bytes enforcement (fuzzing builds); in
// lenient mode, trailing bytes are tolerated and dropped.
func Parse(b []byte, strict bool) (interface{}, error) {
	r := bytes.NewReader(b)
	br := bufio.NewReader(r)
	typ, err := br.ReadByte()
	if err != nil {
		return nil, newParseError(KindUnexpectedEOF, err)
	}
	length, err := oer.ReadLengthPrefix(br, strict)
	if err != nil {
		return nil, mapOerErr(err)
	}
	ni, err := oer.ToInt(length)
	if err != nil {
		return nil, mapOerErr(err)
	}
	content := make([]byte, ni)
	if ni > 0 {
		n, err := readFull(br, content)
		if err != nil || n != ni {
			return nil, newParseError(KindUnexpectedEOF, err)
		}
	}
	// Anything left in br beyond the declared content is trailing bytes.
	rest, _ := br.Peek(1)
	if len(rest) > 0 {
		if strict {
			return nil, newParseError(KindTrailingBytes, errUnexpectedTrailing)
		}
	}

	cr := bytes.NewReader(content)
	cbr := bufio.NewReader(cr)
	switch typ {
	case TypePrepare:
		return parsePrepareContent(content, cr, cbr, strict)
	case TypeFulfill:
		return parseFulfillContent(cr, cbr, strict)
	case TypeReject:
		return parseRejectContent(cr, cbr, strict)
	default:
		return nil, newParseError(KindUnknownPacketType, errUnknownType)
	}
}

func readFull(br *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := br.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func parsePrepareContent(full []byte, cr *bytes.Reader, cbr *bufio.Reader, strict bool) (*Prepare, error) {
	if len(full) < 8+oer.TimestampLen+32 {
		return nil, newParseError(KindUnexpectedEOF, errUnexpectedTrailing)
	}
	amount := getUint64(full[:8])
	tsBytes := full[8 : 8+oer.TimestampLen]
	expiresAt, err := oer.DecodeTimestamp(tsBytes)
	if err != nil {
		return nil, newParseError(KindNonRoundtrippableTime, err)
	}
	var condition [32]byte
	copy(condition[:], full[8+oer.TimestampLen:8+oer.TimestampLen+32])

	// Re-position the content reader past the fixed-width fields.
	if _, err := cr.Seek(int64(8+oer.TimestampLen+32), 0); err != nil {
		return nil, newParseError(KindUnexpectedEOF, err)
	}
	cbr.Reset(cr)

	destBytes, err := oer.ReadOctetString(cbr, cbr, strict)
	if err != nil {
		return nil, mapOerErr(err)
	}
	dest, err := ilpaddr.Parse(string(destBytes))
	if err != nil {
		return nil, newParseError(KindBadAddress, err)
	}
	data, err := oer.ReadOctetString(cbr, cbr, strict)
	if err != nil {
		return nil, mapOerErr(err)
	}
	if len(data) > MaxDataLen {
		return nil, newParseError(KindDataTooLong, errDataTooLong)
	}
	if err := checkTrailing(cbr, strict); err != nil {
		return nil, err
	}
	return &Prepare{
		Amount:             amount,
		ExpiresAt:          expiresAt,
		ExecutionCondition: condition,
		Destination:        dest,
		Data:               data,
	}, nil
}

func parseFulfillContent(cr *bytes.Reader, cbr *bufio.Reader, strict bool) (*Fulfill, error) {
	var fulfillment [32]byte
	n, err := readFull(cbr, fulfillment[:])
	if err != nil || n != 32 {
		return nil, newParseError(KindUnexpectedEOF, errUnexpectedTrailing)
	}
	data, err := oer.ReadOctetString(cbr, cbr, strict)
	if err != nil {
		return nil, mapOerErr(err)
	}
	if len(data) > MaxDataLen {
		return nil, newParseError(KindDataTooLong, errDataTooLong)
	}
	if err := checkTrailing(cbr, strict); err != nil {
		return nil, err
	}
	return &Fulfill{Fulfillment: fulfillment, Data: data}, nil
}

func parseRejectContent(cr *bytes.Reader, cbr *bufio.Reader, strict bool) (*Reject, error) {
	var code [3]byte
	n, err := readFull(cbr, code[:])
	if err != nil || n != 3 {
		return nil, newParseError(KindUnexpectedEOF, errUnexpectedTrailing)
	}
	for _, c := range code {
		if c < 0x20 || c > 0x7E {
			return nil, newParseError(KindInvalidIA5, errInvalidIA5)
		}
	}
	triggeredByBytes, err := oer.ReadOctetString(cbr, cbr, strict)
	if err != nil {
		return nil, mapOerErr(err)
	}
	triggeredBy, err := ilpaddr.Parse(string(triggeredByBytes))
	if err != nil {
		return nil, newParseError(KindBadAddress, err)
	}
	messageBytes, err := oer.ReadOctetString(cbr, cbr, strict)
	if err != nil {
		return nil, mapOerErr(err)
	}
	if len(messageBytes) > MaxRejectMessageLen {
		return nil, newParseError(KindBadUTF8, errMessageTooLong)
	}
	if !utf8.Valid(messageBytes) {
		return nil, newParseError(KindBadUTF8, errInvalidUTF8)
	}
	data, err := oer.ReadOctetString(cbr, cbr, strict)
	if err != nil {
		return nil, mapOerErr(err)
	}
	if len(data) > MaxDataLen {
		return nil, newParseError(KindDataTooLong, errDataTooLong)
	}
	if err := checkTrailing(cbr, strict); err != nil {
		return nil, err
	}
	return &Reject{Code: code, TriggeredBy: triggeredBy, Message: string(messageBytes), Data: data}, nil
}

func checkTrailing(cbr *bufio.Reader, strict bool) error {
	if !strict {
		return nil
	}
	if b, _ := cbr.Peek(1); len(b) > 0 {
		return newParseError(KindTrailingBytes, errUnexpectedTrailing)
	}
	return nil
}

// ParsePrepare parses b as a Prepare, failing if the packet is a different
// type.
func ParsePrepare(b []byte, strict bool) (*Prepare, error) {
	v, err := Parse(b, strict)
	if err != nil {
		return nil, err
	}
	p, ok := v.(*Prepare)
	if !ok {
		return nil, newParseError(KindUnknownPacketType, errUnknownType)
	}
	return p, nil
}

// ParseFulfill parses b as a Fulfill, failing if the packet is a different
// type.
func ParseFulfill(b []byte, strict bool) (*Fulfill, error) {
	v, err := Parse(b, strict)
	if err != nil {
		return nil, err
	}
	f, ok := v.(*Fulfill)
	if !ok {
		return nil, newParseError(KindUnknownPacketType, errUnknownType)
	}
	return f, nil
}

// ParseReject parses b as a Reject, failing if the packet is a different
// type.
func ParseReject(b []byte, strict bool) (*Reject, error) {
	v, err := Parse(b, strict)
	if err != nil {
		return nil, err
	}
	r, ok := v.(*Reject)
	if !ok {
		return nil, newParseError(KindUnknownPacketType, errUnknownType)
	}
	return r, nil
}

func mapOerErr(err error) error {
	switch err {
	case oer.ErrUnexpectedEOF:
		return newParseError(KindUnexpectedEOF, err)
	case oer.ErrInvalidLengthPrefix:
		return newParseError(KindInvalidLengthPrefix, err)
	case oer.ErrTrailingBytes:
		return newParseError(KindTrailingBytes, err)
	case oer.ErrNonRoundtrippableTime, oer.ErrInvalidTimestampDigits:
		return newParseError(KindNonRoundtrippableTime, err)
	default:
		return newParseError(KindUnexpectedEOF, err)
	}
}
