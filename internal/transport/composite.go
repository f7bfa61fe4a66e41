// Package transport picks, per outgoing Prepare, which concrete peer
// transport (BTP or plain HTTP) a destination account is reachable over.
package transport

import (
	"context"

	"github.com/interledger/ilp-gateway/internal/pipeline"
	"github.com/interledger/ilp-gateway/internal/store"
	"github.com/interledger/ilp-gateway/pkg/ilppacket"
)

// Composite dispatches to BTP when a peer account has a BTPEndpointURL
// configured, falling back to plain HTTP otherwise. Both members already
// implement pipeline.Transport individually; this just routes between
// them per-account rather than requiring a node to pick one transport for
// every peer.
type Composite struct {
	BTP  pipeline.Transport
	HTTP pipeline.Transport
}

var _ pipeline.Transport = (*Composite)(nil)

func (c *Composite) SendPrepare(ctx context.Context, to *store.Account, p *ilppacket.Prepare) *pipeline.Result {
	if to.BTPEndpointURL != "" {
		return c.BTP.SendPrepare(ctx, to, p)
	}
	return c.HTTP.SendPrepare(ctx, to, p)
}
