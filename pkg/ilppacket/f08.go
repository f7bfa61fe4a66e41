package ilppacket

import "encoding/binary"

// EncodeAmountTooLargeData builds the body of a CodeF08 Reject: the amount
// the sender sent and the max_packet_amount that rejected it, letting the
// stream sender's congestion controller learn the cap.
func EncodeAmountTooLargeData(received, max uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], received)
	binary.BigEndian.PutUint64(buf[8:16], max)
	return buf
}

// DecodeAmountTooLargeData parses the body written by EncodeAmountTooLargeData.
func DecodeAmountTooLargeData(data []byte) (received, max uint64, err error) {
	if len(data) != 16 {
		return 0, 0, newParseError(KindDataTooLong, errShortF08Body)
	}
	return binary.BigEndian.Uint64(data[0:8]), binary.BigEndian.Uint64(data[8:16]), nil
}
