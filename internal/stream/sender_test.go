package stream

import (
	"context"
	"testing"

	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/ilpcrypto"
	"github.com/interledger/ilp-gateway/pkg/ilppacket"
)

// scriptedDispatcher replays a fixed sequence of responses, one per call,
// falling back to the last entry once exhausted.
type scriptedDispatcher struct {
	calls   int
	respond func(call int, p *ilppacket.Prepare) (*ilppacket.Fulfill, *ilppacket.Reject, error)
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, p *ilppacket.Prepare) (*ilppacket.Fulfill, *ilppacket.Reject, error) {
	d.calls++
	return d.respond(d.calls, p)
}

func fulfillFor(t *testing.T, sharedSecret []byte, prep *ilppacket.Prepare) *ilppacket.Fulfill {
	t.Helper()
	fulfillment, err := ilpcrypto.Fulfillment(sharedSecret, prep.Data)
	if err != nil {
		t.Fatalf("fulfillment: %v", err)
	}
	resp := &Packet{ILPPacketType: ilppacket.TypeFulfill, PrepareAmount: prep.Amount}
	sealed, err := ilpcrypto.Seal(sharedSecret, resp.Encode())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	fulfill, err := ilppacket.NewFulfill(fulfillment, sealed)
	if err != nil {
		t.Fatalf("NewFulfill: %v", err)
	}
	return fulfill
}

func TestSendMoneyFullyDeliveredInOnePacket(t *testing.T) {
	sharedSecret := []byte("0123456789abcdef0123456789abcdef")
	dest := ilpaddr.MustParse("g.example.bob.~token")
	source := ilpaddr.MustParse("g.example.alice")

	var dispatcher scriptedDispatcher
	dispatcher.respond = func(call int, p *ilppacket.Prepare) (*ilppacket.Fulfill, *ilppacket.Reject, error) {
		return fulfillFor(t, sharedSecret, p), nil, nil
	}

	s := &Sender{Dispatcher: &dispatcher, Destination: dest, SharedSecret: sharedSecret, SourceAddress: source}
	res, err := s.SendMoney(context.Background(), 500)
	if err != nil {
		t.Fatalf("SendMoney: %v", err)
	}
	if res.AmountDelivered != 500 {
		t.Fatalf("expected 500 delivered, got %d", res.AmountDelivered)
	}
	if res.SourceAmountRemaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", res.SourceAmountRemaining)
	}
	if dispatcher.calls != 1 {
		t.Fatalf("expected 1 dispatch call, got %d", dispatcher.calls)
	}
}

func TestSendMoneyF08ShrinksMaxPacketAmount(t *testing.T) {
	sharedSecret := []byte("0123456789abcdef0123456789abcdef")
	dest := ilpaddr.MustParse("g.example.bob.~token")
	source := ilpaddr.MustParse("g.example.alice")

	var dispatcher scriptedDispatcher
	dispatcher.respond = func(call int, p *ilppacket.Prepare) (*ilppacket.Fulfill, *ilppacket.Reject, error) {
		if call == 1 {
			data := ilppacket.EncodeAmountTooLargeData(100, 50)
			reject, err := ilppacket.NewReject(ilppacket.CodeF08, dest, "amount too large", data)
			if err != nil {
				t.Fatalf("NewReject: %v", err)
			}
			return nil, reject, nil
		}
		return fulfillFor(t, sharedSecret, p), nil, nil
	}

	s := &Sender{Dispatcher: &dispatcher, Destination: dest, SharedSecret: sharedSecret, SourceAddress: source}
	res, err := s.SendMoney(context.Background(), 100)
	if err != nil {
		t.Fatalf("SendMoney: %v", err)
	}
	if res.SourceAmountRemaining != 0 {
		t.Fatalf("expected full delivery eventually, remaining=%d", res.SourceAmountRemaining)
	}
	if dispatcher.calls < 2 {
		t.Fatalf("expected at least 2 dispatch calls after F08 shrink, got %d", dispatcher.calls)
	}
}

func TestSendMoneyT04BacksOffThenSucceeds(t *testing.T) {
	sharedSecret := []byte("0123456789abcdef0123456789abcdef")
	dest := ilpaddr.MustParse("g.example.bob.~token")
	source := ilpaddr.MustParse("g.example.alice")

	var dispatcher scriptedDispatcher
	dispatcher.respond = func(call int, p *ilppacket.Prepare) (*ilppacket.Fulfill, *ilppacket.Reject, error) {
		if call == 1 {
			reject, err := ilppacket.NewReject(ilppacket.CodeT04, dest, "insufficient liquidity", nil)
			if err != nil {
				t.Fatalf("NewReject: %v", err)
			}
			return nil, reject, nil
		}
		return fulfillFor(t, sharedSecret, p), nil, nil
	}

	s := &Sender{Dispatcher: &dispatcher, Destination: dest, SharedSecret: sharedSecret, SourceAddress: source}
	res, err := s.SendMoney(context.Background(), 200)
	if err != nil {
		t.Fatalf("SendMoney: %v", err)
	}
	if res.AmountDelivered != 200 {
		t.Fatalf("expected full delivery after backoff, got %d", res.AmountDelivered)
	}
}
