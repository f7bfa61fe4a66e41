package btp

import (
	"bytes"
	"testing"
)

func TestFrameRoundtripNoProtocolData(t *testing.T) {
	f := Frame{Type: TypeMessage, RequestID: 42}
	decoded, err := Decode(Encode(f))
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Type != f.Type || decoded.RequestID != f.RequestID {
		t.Fatalf("got %+v, want %+v", decoded, f)
	}
	if len(decoded.ProtocolData) != 0 {
		t.Fatalf("expected no protocol data, got %+v", decoded.ProtocolData)
	}
}

func TestFrameRoundtripWithILPEntry(t *testing.T) {
	raw := []byte{1, 2, 3, 4, 5}
	f := Frame{Type: TypeResponse, RequestID: 7, ProtocolData: ilpProtocolData(raw)}
	decoded, err := Decode(Encode(f))
	if err != nil {
		t.Fatal(err)
	}
	got, ok := findILP(decoded.ProtocolData)
	if !ok {
		t.Fatal("expected ilp entry")
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("got %x, want %x", got, raw)
	}
}

func TestFrameRoundtripMultipleEntries(t *testing.T) {
	f := Frame{
		Type:      TypeMessage,
		RequestID: 9,
		ProtocolData: []ProtocolDataEntry{
			{ProtocolName: "auth_token", ContentType: ContentTypeTextUTF8, Data: []byte("shhh")},
			{ProtocolName: "ilp", ContentType: ContentTypeOctetStream, Data: []byte{9, 9, 9}},
		},
	}
	decoded, err := Decode(Encode(f))
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded.ProtocolData) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(decoded.ProtocolData))
	}
	if decoded.ProtocolData[0].ProtocolName != "auth_token" || string(decoded.ProtocolData[0].Data) != "shhh" {
		t.Fatalf("unexpected first entry: %+v", decoded.ProtocolData[0])
	}
}

func TestDecodeTruncatedFrame(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error on short frame")
	}
}
