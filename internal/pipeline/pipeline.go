package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/interledger/ilp-gateway/internal/balance"
	"github.com/interledger/ilp-gateway/internal/stream"
	"github.com/interledger/ilp-gateway/internal/store"
	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/ilppacket"
	"github.com/interledger/ilp-gateway/pkg/routing"
)

// DefaultMaxInFlightPerPeer bounds concurrent outstanding Prepares per
// outgoing peer before the egress stage starts rejecting T03.
const DefaultMaxInFlightPerPeer = 64

// Config groups Pipeline's dependencies, built once at node startup.
type Config struct {
	Self               ilpaddr.Address
	Accounts           store.AccountStore
	Rates              store.RateTable
	Routes             *routing.Table
	Balances           *balance.Engine
	RateLimiters       *RateLimiterRegistry
	Transport          Transport
	RoundTripBudget    time.Duration
	MaxHold            time.Duration
	MaxInFlightPerPeer int64
	// StreamReceiver, if set, intercepts Prepares addressed to this node's
	// stream sub-protocol before the router ever consults the routing
	// table. Nil disables stream termination (transit-only node).
	StreamReceiver *stream.Receiver
	// Clock, if set, replaces time.Now for deterministic tests.
	Clock func() time.Time
}

// Pipeline is the assembled incoming/outgoing stage chain.
type Pipeline struct {
	Self            ilpaddr.Address
	Accounts        store.AccountStore
	Rates           store.RateTable
	Routes          *routing.Table
	Balances        *balance.Engine
	RateLimiters    *RateLimiterRegistry
	Transport       Transport
	RoundTripBudget time.Duration
	MaxHold         time.Duration
	maxInFlight     int64
	StreamReceiver  *stream.Receiver
	Clock           func() time.Time

	seq atomic.Uint64

	semMu sync.Mutex
	sems  map[string]*semaphore.Weighted

	incoming        IncomingHandler
	outgoingChainFn OutgoingHandler
}

// New assembles the pipeline's incoming and outgoing chains in stage
// order, building the full stage stack once at construction.
func New(cfg Config) *Pipeline {
	maxInFlight := cfg.MaxInFlightPerPeer
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlightPerPeer
	}
	p := &Pipeline{
		Self:            cfg.Self,
		Accounts:        cfg.Accounts,
		Rates:           cfg.Rates,
		Routes:          cfg.Routes,
		Balances:        cfg.Balances,
		RateLimiters:    cfg.RateLimiters,
		Transport:       cfg.Transport,
		RoundTripBudget: cfg.RoundTripBudget,
		MaxHold:         cfg.MaxHold,
		maxInFlight:     maxInFlight,
		StreamReceiver:  cfg.StreamReceiver,
		Clock:           cfg.Clock,
		sems:            make(map[string]*semaphore.Weighted),
	}

	outgoing := chainOutgoing(p.transportEgressTerminal,
		p.exchangeRateStage,
		p.expiryShortenerStage,
		p.outgoingBalanceStage,
	)
	p.outgoingChainFn = outgoing

	p.incoming = chainIncoming(p.routerTerminal,
		p.rateLimitStage,
		p.maxPacketAmountStage,
		p.validatorStage,
		p.balanceIncomingStage,
	)
	return p
}

func (p *Pipeline) nextSeq() uint64 { return p.seq.Add(1) }

func (p *Pipeline) egressSemaphore(peerAccountID string) *semaphore.Weighted {
	p.semMu.Lock()
	defer p.semMu.Unlock()
	sem, ok := p.sems[peerAccountID]
	if !ok {
		sem = semaphore.NewWeighted(p.maxInFlight)
		p.sems[peerAccountID] = sem
	}
	return sem
}

// HandlePrepare runs prep through the full incoming chain on behalf of from.
// Any panic from a stage is converted to a Reject{T00} rather than
// letting an internal error escape uncaught.
func (p *Pipeline) HandlePrepare(ctx context.Context, from *store.Account, prep *ilppacket.Prepare) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			res = p.reject(ilppacket.CodeT00, "internal error", nil)
		}
	}()
	return p.incoming(ctx, from, prep)
}

func (p *Pipeline) outgoingChain(ctx context.Context, from, to *store.Account, originalAmount uint64, prep *ilppacket.Prepare) *Result {
	return p.outgoingChainFn(ctx, from, to, originalAmount, prep)
}
