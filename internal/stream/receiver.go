package stream

import (
	"strings"

	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/ilpcrypto"
	"github.com/interledger/ilp-gateway/pkg/ilppacket"
)

// Receiver intercepts Prepares addressed to this node plus a receiver
// token and fulfills them by recomputing the expected condition from the
// shared secret.
type Receiver struct {
	// Self is the node's own address; a stream destination is
	// Self + "." + <receiver token> + optional connection-specific suffix.
	Self ilpaddr.Address
	// ServerSecret derives each connection's shared secret from its token.
	ServerSecret []byte
	// OnFulfill, if set, is called with the subscriber key (the username a
	// receiver token issued by this node names, otherwise the raw token)
	// and the delivered amount after a Prepare is successfully fulfilled, letting
	// a caller fan the event out to subscribers without this package
	// knowing anything about accounts or notification transports.
	OnFulfill func(token string, amount uint64)
}

// IsStreamDestination reports whether dest is addressed to this node's
// stream receiver (i.e. starts with Self + "." + a token segment).
func (r *Receiver) IsStreamDestination(dest ilpaddr.Address) bool {
	return dest.StartsWith(r.Self) && dest.String() != r.Self.String()
}

// token extracts the receiver-token segment immediately following Self and
// decodes it back into the original (dot-bearing) token string. The token
// travels the address as a single dot-free segment (see
// EncodeAddressToken), so only the first segment of rest is ever the
// token; anything past it is a connection-specific suffix.
func (r *Receiver) token(dest ilpaddr.Address) (string, bool) {
	prefix := r.Self.String() + "."
	rest := strings.TrimPrefix(dest.String(), prefix)
	if rest == dest.String() {
		return "", false
	}
	segs := strings.SplitN(rest, ".", 2)
	if segs[0] == "" {
		return "", false
	}
	return DecodeAddressToken(segs[0]), true
}

// Handle processes an inbound Prepare addressed to this receiver, returning
// a Fulfill (condition matched), a Reject{F99} (it did not), or a
// Reject{F06} (the destination has no receiver-token segment after Self).
func (r *Receiver) Handle(prep *ilppacket.Prepare) (*ilppacket.Fulfill, *ilppacket.Reject, error) {
	tok, ok := r.token(prep.Destination)
	if !ok {
		reject, err := ilppacket.NewReject(ilppacket.CodeF06, r.Self, "not a stream destination", nil)
		return nil, reject, err
	}

	sharedSecret, err := ilpcrypto.SharedSecretFromToken(r.ServerSecret, []byte(tok))
	if err != nil {
		return nil, nil, err
	}

	fulfillment, err := ilpcrypto.Fulfillment(sharedSecret, prep.Data)
	if err != nil {
		return nil, nil, err
	}
	if ilpcrypto.Condition(fulfillment) != prep.ExecutionCondition {
		reject, err := ilppacket.NewReject(ilppacket.CodeF99, r.Self, "condition mismatch", nil)
		return nil, reject, err
	}

	respPacket := &Packet{ILPPacketType: ilppacket.TypeFulfill, PrepareAmount: prep.Amount}
	sealed, err := ilpcrypto.Seal(sharedSecret, respPacket.Encode())
	if err != nil {
		return nil, nil, err
	}
	fulfill, err := ilppacket.NewFulfill(fulfillment, sealed)
	if err == nil && r.OnFulfill != nil {
		r.OnFulfill(r.subscriberKey(tok), prep.Amount)
	}
	return fulfill, nil, err
}

// subscriberKey resolves tok to the account it was issued for (our own
// signed address tokens), falling back to the raw token when it isn't
// one of ours (e.g. a token minted by another issuer in the network).
func (r *Receiver) subscriberKey(tok string) string {
	if username, err := ParseReceiverToken(r.ServerSecret, tok); err == nil {
		return username
	}
	return tok
}

// Username resolves dest's receiver token back to the account it was
// issued for, for crediting the right balance-ledger entry on a
// locally-terminated stream Prepare. Reports ok=false for a token this
// node didn't issue (no account to credit).
func (r *Receiver) Username(dest ilpaddr.Address) (string, bool) {
	tok, ok := r.token(dest)
	if !ok {
		return "", false
	}
	username, err := ParseReceiverToken(r.ServerSecret, tok)
	if err != nil {
		return "", false
	}
	return username, true
}
