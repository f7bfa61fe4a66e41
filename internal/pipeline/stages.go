package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/interledger/ilp-gateway/internal/balance"
	"github.com/interledger/ilp-gateway/internal/echo"
	"github.com/interledger/ilp-gateway/internal/ildcp"
	"github.com/interledger/ilp-gateway/internal/store"
	"github.com/interledger/ilp-gateway/pkg/ilppacket"
)

func (p *Pipeline) reject(code [3]byte, message string, data []byte) *Result {
	r, err := ilppacket.NewReject(code, p.Self, message, data)
	if err != nil {
		// message/data too long is a local programming error, not a sender
		// fault; fall back to a bare reject with no body.
		r, _ = ilppacket.NewReject(code, p.Self, "", nil)
	}
	return RejectResult(r)
}

// rateLimitStage enforces a packets/min and an
// amount/min budget per sending account. A downstream reject refunds the
// amount bucket (the attempt still counts against packets/min).
func (p *Pipeline) rateLimitStage(next IncomingHandler) IncomingHandler {
	return func(ctx context.Context, from *store.Account, prep *ilppacket.Prepare) *Result {
		if !p.RateLimiters.allow(from.Username, prep.Amount) {
			return p.reject(ilppacket.CodeT05, "rate limit exceeded", nil)
		}
		res := next(ctx, from, prep)
		if res != nil && res.Reject != nil {
			p.RateLimiters.refund(from.Username, prep.Amount)
		}
		return res
	}
}

// maxPacketAmountStage enforces the account's max_packet_amount.
func (p *Pipeline) maxPacketAmountStage(next IncomingHandler) IncomingHandler {
	return func(ctx context.Context, from *store.Account, prep *ilppacket.Prepare) *Result {
		if from.MaxPacketAmount > 0 && prep.Amount > from.MaxPacketAmount {
			body := ilppacket.EncodeAmountTooLargeData(prep.Amount, from.MaxPacketAmount)
			return p.reject(ilppacket.CodeF08, "packet amount exceeds max_packet_amount", body)
		}
		return next(ctx, from, prep)
	}
}

// validatorStage rejects a malformed destination or an
// already-expired Prepare is rejected before any balance state changes.
func (p *Pipeline) validatorStage(next IncomingHandler) IncomingHandler {
	return func(ctx context.Context, from *store.Account, prep *ilppacket.Prepare) *Result {
		if prep.Destination.IsZero() {
			return p.reject(ilppacket.CodeF01, "missing destination", nil)
		}
		if !prep.ExpiresAt.After(p.now()) {
			return p.reject(ilppacket.CodeF01, "prepare already expired", nil)
		}
		return next(ctx, from, prep)
	}
}

// balanceIncomingStage enforces the reverse-path invariant: the
// incoming-leg hold is the sole source of balance correctness; the
// outgoing-leg credit elsewhere in the chain is advisory bookkeeping only.
// Commit runs on Fulfill, cancel on Reject.
func (p *Pipeline) balanceIncomingStage(next IncomingHandler) IncomingHandler {
	return func(ctx context.Context, from *store.Account, prep *ilppacket.Prepare) *Result {
		seq := p.nextSeq()
		if err := p.Balances.Hold(from.Username, seq, prep.Amount); err != nil {
			if errors.Is(err, balance.ErrBelowMinBalance) {
				return p.reject(ilppacket.CodeT04, "insufficient liquidity", nil)
			}
			return p.reject(ilppacket.CodeT00, "internal error", nil)
		}
		res := next(ctx, from, prep)
		if res != nil && res.Fulfill != nil {
			p.Balances.Commit(ctx, from.Username, seq)
		} else {
			p.Balances.Cancel(from.Username, seq)
		}
		return res
	}
}

// routerTerminal is the final incoming stage: it first checks whether the
// Prepare is addressed to one of this node's own reserved destinations
// (ILDCP, echo, the stream receiver), and only falls through to the
// routing table and outgoing chain if none of those claim it. Playing the
// chain-of-responsibility "terminal handler" role for the last hop.
func (p *Pipeline) routerTerminal(ctx context.Context, from *store.Account, prep *ilppacket.Prepare) *Result {
	if res, handled := p.handleLocalDestination(ctx, from, prep); handled {
		return res
	}

	entry, ok := p.Routes.Lookup(prep.Destination)
	if !ok {
		return p.reject(ilppacket.CodeF02, "no route to destination", nil)
	}
	if entry.AccountID == from.Username {
		return p.reject(ilppacket.CodeF02, "route points back to sender", nil)
	}
	to, err := p.Accounts.GetByUsername(ctx, entry.AccountID)
	if err != nil {
		return p.reject(ilppacket.CodeF02, "outgoing account not found", nil)
	}
	return p.outgoingChain(ctx, from, to, prep.Amount, prep)
}

// handleLocalDestination answers a Prepare addressed to this node itself:
// ILDCP config queries, echo turnarounds, and stream-receiver payments.
// The second return reports whether one of those claimed the packet.
func (p *Pipeline) handleLocalDestination(ctx context.Context, from *store.Account, prep *ilppacket.Prepare) (*Result, bool) {
	if ildcp.IsRequest(prep.Destination) {
		f, err := ildcp.Respond(from)
		if err != nil {
			return p.reject(ilppacket.CodeF00, "ildcp response error", nil), true
		}
		return FulfillResult(f), true
	}

	if prep.Destination.String() == p.Self.String() && echo.IsEcho(prep.Data) {
		pkt, err := echo.Parse(prep.Data)
		if err != nil {
			return p.reject(ilppacket.CodeF01, "malformed echo packet", nil), true
		}
		if pkt.Type == echo.TypeResponse {
			f, _ := ilppacket.NewFulfill([32]byte{}, nil)
			return FulfillResult(f), true
		}
		// Turn the request around and re-resolve it as a fresh outbound
		// hop on behalf of the same sender, without re-entering the
		// incoming chain (the sender's balance hold already covers this
		// Prepare's lifetime).
		turned := echo.Turnaround(prep, pkt)
		return p.routerTerminal(ctx, from, turned), true
	}

	if p.StreamReceiver != nil && p.StreamReceiver.IsStreamDestination(prep.Destination) {
		f, r, err := p.StreamReceiver.Handle(prep)
		if err != nil {
			return p.reject(ilppacket.CodeT00, "internal error", nil), true
		}
		if f != nil {
			// A stream payment terminates here rather than passing through
			// outgoingBalanceStage, so the receiving account's ledger has
			// to be credited explicitly on this path.
			if username, ok := p.StreamReceiver.Username(prep.Destination); ok {
				p.Balances.CreditReceived(ctx, username, prep.Amount)
			}
			return FulfillResult(f), true
		}
		return RejectResult(r), true
	}

	return nil, false
}

// exchangeRateStage converts the Prepare amount across the two accounts' asset scales and rates.
func (p *Pipeline) exchangeRateStage(next OutgoingHandler) OutgoingHandler {
	return func(ctx context.Context, from, to *store.Account, originalAmount uint64, prep *ilppacket.Prepare) *Result {
		rateVal, ok := p.Rates.Rate(from.AssetCode, to.AssetCode)
		if !ok || rateVal <= 0 {
			return p.reject(ilppacket.CodeF03, "no exchange rate available", nil)
		}
		scale := pow10(int(to.AssetScale) - int(from.AssetScale))
		outAmount := uint64(float64(prep.Amount) * rateVal * scale)
		return next(ctx, from, to, originalAmount, prep.WithAmount(outAmount))
	}
}

func pow10(exp int) float64 {
	result := 1.0
	if exp >= 0 {
		for i := 0; i < exp; i++ {
			result *= 10
		}
		return result
	}
	for i := 0; i < -exp; i++ {
		result /= 10
	}
	return result
}

// expiryShortenerStage reduces the Prepare's expiry by this hop's own
// round-trip budget out of the packet's remaining lifetime, and caps the
// total hold time at max_hold.
func (p *Pipeline) expiryShortenerStage(next OutgoingHandler) OutgoingHandler {
	return func(ctx context.Context, from, to *store.Account, originalAmount uint64, prep *ilppacket.Prepare) *Result {
		now := p.now()
		newExpiry := prep.ExpiresAt.Add(-p.RoundTripBudget)
		if cap := now.Add(p.MaxHold); newExpiry.After(cap) {
			newExpiry = cap
		}
		if !newExpiry.After(now) {
			return p.reject(ilppacket.CodeR02, "insufficient timeout remaining", nil)
		}
		return next(ctx, from, to, originalAmount, prep.WithExpiresAt(newExpiry))
	}
}

// outgoingBalanceStage is advisory bookkeeping only (
// Question #2): on Fulfill it credits the outgoing peer's balance view,
// which may cross settle_threshold and enqueue a settlement request
// (the reverse-path invariant).
func (p *Pipeline) outgoingBalanceStage(next OutgoingHandler) OutgoingHandler {
	return func(ctx context.Context, from, to *store.Account, originalAmount uint64, prep *ilppacket.Prepare) *Result {
		res := next(ctx, from, to, originalAmount, prep)
		if res != nil && res.Fulfill != nil {
			p.Balances.CreditReceived(ctx, to.Username, prep.Amount)
		}
		return res
	}
}

// transportEgressTerminal is the outgoing chain's final stage: bounded
// in-flight delivery to the peer transport. Exceeding the per-peer bound
// rejects T03 rather than queueing unboundedly,
// implemented with a per-peer counting semaphore.
func (p *Pipeline) transportEgressTerminal(ctx context.Context, from, to *store.Account, originalAmount uint64, prep *ilppacket.Prepare) *Result {
	sem := p.egressSemaphore(to.Username)
	if !sem.TryAcquire(1) {
		return p.reject(ilppacket.CodeT03, "too busy", nil)
	}
	defer sem.Release(1)

	res := p.Transport.SendPrepare(ctx, to, prep)
	if res == nil {
		return p.reject(ilppacket.CodeT00, "transport returned no response", nil)
	}
	if res.Fulfill != nil && !res.Fulfill.SatisfiesCondition(prep.ExecutionCondition) {
		return p.reject(ilppacket.CodeF05, "fulfillment does not match execution condition", nil)
	}
	return res
}

func (p *Pipeline) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}
