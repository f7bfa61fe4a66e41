// Package pipeline implements the packet-processing chain: a composed
// stack of stages that carries an incoming Prepare to either a Fulfill or
// a Reject, running compensating effects on the way back out. Built as a
// chain-of-responsibility (early-return dispatch through composed
// IncomingHandler/OutgoingHandler stages).
package pipeline

import (
	"context"

	"github.com/interledger/ilp-gateway/internal/store"
	"github.com/interledger/ilp-gateway/pkg/ilppacket"
)

// Result is the sum-type response of a pipeline traversal: exactly one of
// Fulfill or Reject is set, never both.
type Result struct {
	Fulfill *ilppacket.Fulfill
	Reject  *ilppacket.Reject
}

// FulfillResult wraps f as a Result.
func FulfillResult(f *ilppacket.Fulfill) *Result { return &Result{Fulfill: f} }

// RejectResult wraps r as a Result.
func RejectResult(r *ilppacket.Reject) *Result { return &Result{Reject: r} }

// IsFulfill reports whether the traversal succeeded.
func (r *Result) IsFulfill() bool { return r != nil && r.Fulfill != nil }

// IncomingHandler processes a Prepare received from from, returning the
// packet's final disposition. Mirrors IncomingService.
type IncomingHandler func(ctx context.Context, from *store.Account, p *ilppacket.Prepare) *Result

// IncomingMiddleware wraps an IncomingHandler with one pipeline stage.
type IncomingMiddleware func(next IncomingHandler) IncomingHandler

// OutgoingHandler forwards a (possibly rewritten) Prepare toward to on
// behalf of from, given the amount the packet carried before any rewriting.
// Mirrors OutgoingService.
type OutgoingHandler func(ctx context.Context, from, to *store.Account, originalAmount uint64, p *ilppacket.Prepare) *Result

// OutgoingMiddleware wraps an OutgoingHandler with one pipeline stage.
type OutgoingMiddleware func(next OutgoingHandler) OutgoingHandler

// Transport is the delivery contract the egress stage calls to actually put
// bytes on the wire to a peer, implemented by internal/transport/*.
type Transport interface {
	SendPrepare(ctx context.Context, to *store.Account, p *ilppacket.Prepare) *Result
}

// chainIncoming composes middlewares around final in declaration order: the
// first middleware in the slice is outermost (sees the packet first).
func chainIncoming(final IncomingHandler, mw ...IncomingMiddleware) IncomingHandler {
	h := final
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// chainOutgoing composes middlewares around final, same ordering rule as
// chainIncoming.
func chainOutgoing(final OutgoingHandler, mw ...OutgoingMiddleware) OutgoingHandler {
	h := final
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
