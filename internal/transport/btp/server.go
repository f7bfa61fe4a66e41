package btp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/interledger/ilp-gateway/internal/pipeline"
	"github.com/interledger/ilp-gateway/internal/store"
	"github.com/interledger/ilp-gateway/pkg/ilppacket"
)

// upgrader accepts cross-origin peer connections; BTP peers are
// authenticated by token, not by origin.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades inbound connections to BTP WebSocket peers,
// authenticates each by its first frame's auth token, and feeds every
// subsequent Prepare into the local pipeline on behalf of the
// authenticated account.
type Handler struct {
	Accounts store.AccountStore
	Pipeline *pipeline.Pipeline
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		slog.Error("btp: upgrade failed", "err", err)
		return
	}
	conn := newConn(ws)

	token, err := conn.readAuth(AuthTimeout)
	if err != nil {
		_ = conn.Close()
		return
	}
	from, err := h.Accounts.GetByIncomingToken(req.Context(), token)
	if err != nil {
		_ = conn.ackAuth(false)
		_ = conn.Close()
		return
	}
	if err := conn.ackAuth(true); err != nil {
		_ = conn.Close()
		return
	}

	conn.OnPrepare = func(ctx context.Context, raw []byte) *pipeline.Result {
		prep, err := ilppacket.ParsePrepare(raw, true)
		if err != nil {
			r, _ := ilppacket.NewReject(ilppacket.CodeF01, h.Pipeline.Self, "malformed prepare", nil)
			return pipeline.RejectResult(r)
		}
		return h.Pipeline.HandlePrepare(ctx, from, prep)
	}

	conn.ReadLoop(context.Background())
}
