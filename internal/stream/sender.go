package stream

import (
	"context"
	"math"
	"time"

	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/ilpcrypto"
	"github.com/interledger/ilp-gateway/pkg/ilppacket"
)

// PrepareExpiry is how long each stream Prepare is valid for.
const PrepareExpiry = 30 * time.Second

// Dispatcher is the sender's view of the pipeline: hand a Prepare to the
// first hop and get back its final disposition.
type Dispatcher interface {
	Dispatch(ctx context.Context, p *ilppacket.Prepare) (*ilppacket.Fulfill, *ilppacket.Reject, error)
}

// SendResult is the outcome of a send_money call.
type SendResult struct {
	AmountDelivered       uint64
	SourceAmountRemaining uint64
}

// Sender drives the AIMD congestion-controlled send loop.
type Sender struct {
	Dispatcher    Dispatcher
	Destination   ilpaddr.Address
	SharedSecret  []byte
	SourceAddress ilpaddr.Address
	Clock         func() time.Time
}

func (s *Sender) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// SendMoney sends sourceAmount toward s.Destination, returning how much was
// confirmed delivered and how much (if any) could not be sent.
func (s *Sender) SendMoney(ctx context.Context, sourceAmount uint64) (SendResult, error) {
	cwnd := uint64(math.MaxUint64 / 2)
	ssthresh := uint64(math.MaxUint64)
	maxPacketAmount := uint64(math.MaxUint64)
	remaining := sourceAmount
	var delivered uint64
	var sequence uint64
	firstPacket := true

	for remaining > 0 {
		amount := minUint64(remaining, cwnd, maxPacketAmount)
		if amount == 0 {
			break
		}
		sequence++

		frames := []Frame{StreamMoneyFrame{StreamID: 1, Shares: 1}.Encode()}
		if firstPacket {
			frames = append([]Frame{ConnectionNewAddressFrame{SourceAddress: s.SourceAddress.String()}.Encode()}, frames...)
			firstPacket = false
		}

		packet := &Packet{ILPPacketType: ilppacket.TypePrepare, Sequence: sequence, PrepareAmount: amount, Frames: frames}
		sealed, err := ilpcrypto.Seal(s.SharedSecret, packet.Encode())
		if err != nil {
			return SendResult{}, err
		}
		fulfillment, err := ilpcrypto.Fulfillment(s.SharedSecret, sealed)
		if err != nil {
			return SendResult{}, err
		}
		condition := ilpcrypto.Condition(fulfillment)

		prep, err := ilppacket.NewPrepare(amount, s.now().Add(PrepareExpiry), condition, s.Destination, sealed)
		if err != nil {
			return SendResult{}, err
		}

		fulfill, reject, err := s.Dispatcher.Dispatch(ctx, prep)
		if err != nil {
			return SendResult{}, err
		}

		switch {
		case fulfill != nil:
			remaining -= amount
			if resp, err := DecodePacket(mustOpen(s.SharedSecret, fulfill.Data)); err == nil {
				delivered += resp.PrepareAmount
			} else {
				delivered += amount
			}
			if cwnd < ssthresh {
				cwnd += amount // additive increase below ssthresh
			} else {
				cwnd += amount * amount / cwnd // approximate linear growth at/above ssthresh
			}
		case reject != nil:
			switch reject.CodeString() {
			case "F08":
				received, max, err := ilppacket.DecodeAmountTooLargeData(reject.Data)
				if err == nil && received > 0 {
					candidate := amount * max / received
					if candidate < maxPacketAmount {
						maxPacketAmount = candidate
					}
				}
			case "T04", "T05":
				ssthresh = cwnd / 2
				cwnd = ssthresh
			default:
				if cwnd > 1 {
					cwnd = cwnd / 2 // light penalty for other rejects
				}
			}
		}
	}

	return SendResult{AmountDelivered: delivered, SourceAmountRemaining: remaining}, nil
}

func minUint64(vals ...uint64) uint64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// mustOpen decrypts data with sharedSecret, returning nil on failure so the
// caller's DecodePacket attempt fails gracefully rather than panicking —
// the peer's response packet is best-effort telemetry, not load-bearing.
func mustOpen(sharedSecret, data []byte) []byte {
	plain, err := ilpcrypto.Open(sharedSecret, data)
	if err != nil {
		return nil
	}
	return plain
}
