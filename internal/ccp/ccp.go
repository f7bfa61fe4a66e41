// Package ccp implements the route-gossip protocol between peer accounts:
// a periodic broadcaster pushes epoch-versioned route updates to peers,
// and a receive-side merge applies updates into the local routing table
// with loop prevention and gap rejection.
package ccp

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/interledger/ilp-gateway/internal/store"
	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/routing"
)

// RouteUpdateRequest is the gossip payload sent between peers.
type RouteUpdateRequest struct {
	TableID         [16]byte
	CurrentEpoch    uint32
	FromEpoch       uint32
	ToEpoch         uint32
	HoldDownTime    time.Duration
	Speaker         ilpaddr.Address
	NewRoutes       []routing.Route
	WithdrawnRoutes []string // prefixes
}

// ErrEpochGap is returned when a peer's update skips epochs this node has
// not yet seen.
var ErrEpochGap = errors.New("ccp: epoch gap, missing intermediate update")

// Sender delivers a RouteUpdateRequest to a peer account. HTTPSender, the
// implementation in this package, sends it as a JSON POST to the peer's
// HTTPEndpointURL + "/ccp", outside the packet pipeline; no implementation
// here sends it as a Prepare to a reserved route-update address.
type Sender interface {
	SendRouteUpdate(ctx context.Context, peer *store.Account, req RouteUpdateRequest) error
}

// peerState tracks what this node has broadcast to, and received from,
// one peer.
type peerState struct {
	mu               sync.Mutex
	lastAckedEpoch   uint32
	lastTableID      [16]byte
	advertisedPrefix map[string]struct{}
}

// Broadcaster periodically gossips the local routing table to peers whose
// routing_relation is Peer or Child and whose send_routes_to is set.
type Broadcaster struct {
	Table    *routing.Table
	Accounts store.AccountStore
	Sender   Sender
	Interval time.Duration

	mu    sync.Mutex
	peers map[string]*peerState
}

// NewBroadcaster builds a Broadcaster with the given gossip interval
// (30s is a reasonable default).
func NewBroadcaster(table *routing.Table, accounts store.AccountStore, sender Sender, interval time.Duration) *Broadcaster {
	return &Broadcaster{
		Table:    table,
		Accounts: accounts,
		Sender:   sender,
		Interval: interval,
		peers:    make(map[string]*peerState),
	}
}

// Run gossips on Interval until ctx is cancelled. Each tick fans out to all
// eligible peers concurrently via errgroup, tolerating individual peer
// failures without aborting the round.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := b.broadcastOnce(ctx); err != nil {
				slog.Warn("route broadcast round failed", "err", err)
			}
		}
	}
}

func (b *Broadcaster) broadcastOnce(ctx context.Context) error {
	accounts, err := b.Accounts.List(ctx)
	if err != nil {
		return err
	}
	eg, egCtx := errgroup.WithContext(ctx)
	for _, acct := range accounts {
		acct := acct
		if !eligiblePeer(acct) {
			continue
		}
		eg.Go(func() error {
			if err := b.broadcastToPeer(egCtx, acct); err != nil {
				slog.Warn("route broadcast to peer failed", "peer", acct.Username, "err", err)
			}
			return nil // one peer's failure never aborts the round
		})
	}
	return eg.Wait()
}

func eligiblePeer(acct *store.Account) bool {
	if !acct.SendRoutesTo {
		return false
	}
	return acct.RoutingRelation == store.RelationPeer || acct.RoutingRelation == store.RelationChild
}

func (b *Broadcaster) state(accountID string) *peerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	ps, ok := b.peers[accountID]
	if !ok {
		ps = &peerState{advertisedPrefix: make(map[string]struct{})}
		b.peers[accountID] = ps
	}
	return ps
}

// broadcastToPeer sends the peer the current table, diffed against what
// this node last advertised to it: prefixes no longer in the snapshot are
// reported as withdrawn rather than silently dropped from future updates.
func (b *Broadcaster) broadcastToPeer(ctx context.Context, peer *store.Account) error {
	ps := b.state(peer.Username)
	ps.mu.Lock()
	fromEpoch := ps.lastAckedEpoch
	ps.mu.Unlock()

	toEpoch := b.Table.Epoch()
	snap := b.Table.Snapshot()
	routes := make([]routing.Route, 0, len(snap))
	current := make(map[string]struct{}, len(snap))
	for _, entry := range snap {
		routes = append(routes, entry.Route)
		current[entry.Route.Prefix] = struct{}{}
	}

	ps.mu.Lock()
	var withdrawn []string
	for prefix := range ps.advertisedPrefix {
		if _, ok := current[prefix]; !ok {
			withdrawn = append(withdrawn, prefix)
		}
	}
	ps.mu.Unlock()

	req := RouteUpdateRequest{
		TableID:         b.Table.ID(),
		CurrentEpoch:    toEpoch,
		FromEpoch:       fromEpoch,
		ToEpoch:         toEpoch,
		HoldDownTime:    30 * time.Second,
		NewRoutes:       routes,
		WithdrawnRoutes: withdrawn,
	}
	if err := b.Sender.SendRouteUpdate(ctx, peer, req); err != nil {
		return err
	}
	ps.mu.Lock()
	ps.lastAckedEpoch = toEpoch
	ps.advertisedPrefix = current
	ps.mu.Unlock()
	return nil
}

// Receiver applies inbound RouteUpdateRequests into the local table, per
// merge rules.
type Receiver struct {
	Table *routing.Table
	Self  ilpaddr.Address

	mu        sync.Mutex
	epochByID map[string]uint32
	tableByID map[string][16]byte
}

// NewReceiver builds a Receiver installing routes into table.
func NewReceiver(table *routing.Table, self ilpaddr.Address) *Receiver {
	return &Receiver{
		Table:     table,
		Self:      self,
		epochByID: make(map[string]uint32),
		tableByID: make(map[string][16]byte),
	}
}

// Receive merges an inbound update from peerAccountID.
func (r *Receiver) Receive(peerAccountID string, req RouteUpdateRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	localEpoch := r.epochByID[peerAccountID]
	if req.TableID != r.tableByID[peerAccountID] {
		localEpoch = 0
		r.tableByID[peerAccountID] = req.TableID
	}
	if req.FromEpoch > localEpoch {
		return ErrEpochGap
	}

	for _, prefix := range req.WithdrawnRoutes {
		r.Table.Remove(prefix)
	}
	for _, route := range req.NewRoutes {
		if routing.ContainsSelf(route.Path, r.Self.String()) {
			continue // loop: this route already passed through us
		}
		r.Table.Upsert(peerAccountID, route)
	}

	r.epochByID[peerAccountID] = req.ToEpoch
	return nil
}
