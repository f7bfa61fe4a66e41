package stream

import "testing"

func TestStreamMoneyFrameRoundtrip(t *testing.T) {
	f := StreamMoneyFrame{StreamID: 1, Shares: 7}
	encoded := f.Encode()
	if encoded.Type != FrameStreamMoney {
		t.Fatalf("wrong frame type: %d", encoded.Type)
	}
	got, err := DecodeStreamMoneyFrame(encoded.Content)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != f {
		t.Fatalf("roundtrip mismatch: got %+v want %+v", got, f)
	}
}

func TestStreamMaxMoneyFrameRoundtrip(t *testing.T) {
	f := StreamMaxMoneyFrame{StreamID: 2, ReceiveMax: 1000, TotalReceived: 250}
	encoded := f.Encode()
	got, err := DecodeStreamMaxMoneyFrame(encoded.Content)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != f {
		t.Fatalf("roundtrip mismatch: got %+v want %+v", got, f)
	}
}

func TestConnectionNewAddressFrameRoundtrip(t *testing.T) {
	f := ConnectionNewAddressFrame{SourceAddress: "g.example.alice.~abc123"}
	encoded := f.Encode()
	got, err := DecodeConnectionNewAddressFrame(encoded.Content)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != f {
		t.Fatalf("roundtrip mismatch: got %+v want %+v", got, f)
	}
}

func TestUnknownFrameTypePreservedVerbatim(t *testing.T) {
	p := &Packet{
		ILPPacketType: 12,
		Sequence:      1,
		PrepareAmount: 5,
		Frames: []Frame{
			{Type: 200, Content: []byte{0xde, 0xad, 0xbe, 0xef}},
		},
	}
	encoded := p.Encode()
	got, err := DecodePacket(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Frames) != 1 || got.Frames[0].Type != 200 {
		t.Fatalf("unknown frame type not preserved: %+v", got.Frames)
	}
	if string(got.Frames[0].Content) != "\xde\xad\xbe\xef" {
		t.Fatalf("unknown frame content not preserved: %v", got.Frames[0].Content)
	}
}
