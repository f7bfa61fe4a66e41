package adminapi

import (
	"context"
	"errors"

	"github.com/interledger/ilp-gateway/internal/pipeline"
	"github.com/interledger/ilp-gateway/internal/store"
	"github.com/interledger/ilp-gateway/pkg/ilppacket"
)

// pipelineDispatcher adapts Pipeline.HandlePrepare to stream.Dispatcher so an
// outbound admin-initiated payment re-enters the same incoming chain (rate
// limits, balance holds, routing) any other sender's Prepare would.
type pipelineDispatcher struct {
	pipeline *pipeline.Pipeline
	from     *store.Account
}

func (d *pipelineDispatcher) Dispatch(ctx context.Context, p *ilppacket.Prepare) (*ilppacket.Fulfill, *ilppacket.Reject, error) {
	res := d.pipeline.HandlePrepare(ctx, d.from, p)
	if res == nil {
		return nil, nil, errors.New("adminapi: pipeline produced no result")
	}
	return res.Fulfill, res.Reject, nil
}
