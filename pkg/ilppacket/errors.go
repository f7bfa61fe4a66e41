package ilppacket

import "errors"

var (
	errUnexpectedTrailing = errors.New("unexpected end of packet content")
	errUnknownType        = errors.New("unrecognized packet type octet")
	errDataTooLong        = errors.New("data field exceeds 32767 bytes")
	errInvalidIA5         = errors.New("reject code is not printable IA5")
	errMessageTooLong     = errors.New("message field exceeds 8191 bytes")
	errInvalidUTF8        = errors.New("message field is not valid UTF-8")
	errShortF08Body       = errors.New("F08 reject body must be exactly 16 bytes")
)
