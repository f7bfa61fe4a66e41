// Package httptransport implements ILP-over-HTTP peer delivery: a Client
// that POSTs serialized Prepare packets to a peer's HTTPEndpointURL and
// waits for the serialized Fulfill/Reject, and a Handler that accepts such
// POSTs and feeds them into the local pipeline.
package httptransport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/interledger/ilp-gateway/internal/pipeline"
	"github.com/interledger/ilp-gateway/internal/store"
	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/ilppacket"
)

var ilpZeroAddress = ilpaddr.Address{}

// ContentType is the wire media type for serialized ILP packets.
const ContentType = "application/octet-stream"

// Client delivers Prepares to peers over HTTP, implementing
// pipeline.Transport.
type Client struct {
	HTTPClient *http.Client
}

// NewClient builds a Client with a bounded per-request timeout.
func NewClient() *Client {
	return &Client{HTTPClient: &http.Client{Timeout: 35 * time.Second}}
}

var _ pipeline.Transport = (*Client)(nil)

// SendPrepare POSTs p to to.HTTPEndpointURL, authenticated with to's
// outgoing token, and parses the response body as a Fulfill or Reject.
func (c *Client) SendPrepare(ctx context.Context, to *store.Account, p *ilppacket.Prepare) *pipeline.Result {
	if to.HTTPEndpointURL == "" {
		return pipeline.RejectResult(mustReject(ilppacket.CodeT01, "peer has no http endpoint configured"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, to.HTTPEndpointURL, bytes.NewReader(p.Serialize()))
	if err != nil {
		return pipeline.RejectResult(mustReject(ilppacket.CodeT00, "building request: "+err.Error()))
	}
	req.Header.Set("Content-Type", ContentType)
	if !to.OutgoingToken.IsZero() {
		req.Header.Set("Authorization", "Bearer "+string(to.OutgoingToken.Reveal()))
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return pipeline.RejectResult(mustReject(ilppacket.CodeT01, "peer unreachable: "+err.Error()))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(ilppacket.MaxDataLen)*2))
	if err != nil {
		return pipeline.RejectResult(mustReject(ilppacket.CodeT01, "reading peer response: "+err.Error()))
	}
	if resp.StatusCode != http.StatusOK {
		return pipeline.RejectResult(mustReject(ilppacket.CodeT01, "peer returned non-200 status"))
	}

	parsed, err := ilppacket.Parse(body, true)
	if err != nil {
		return pipeline.RejectResult(mustReject(ilppacket.CodeT01, "malformed peer response: "+err.Error()))
	}
	switch v := parsed.(type) {
	case *ilppacket.Fulfill:
		return pipeline.FulfillResult(v)
	case *ilppacket.Reject:
		return pipeline.RejectResult(v)
	default:
		return pipeline.RejectResult(mustReject(ilppacket.CodeT01, "peer returned unexpected packet type"))
	}
}

func mustReject(code [3]byte, message string) *ilppacket.Reject {
	r, err := ilppacket.NewReject(code, ilpZeroAddress, message, nil)
	if err != nil {
		r, _ = ilppacket.NewReject(code, ilpZeroAddress, "", nil)
	}
	return r
}

// Handler accepts inbound Prepare deliveries and runs them through a
// Pipeline on behalf of the authenticated sender account.
type Handler struct {
	Accounts store.AccountStore
	Pipeline *pipeline.Pipeline
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	token, ok := bearerToken(req)
	if !ok {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	from, err := h.Accounts.GetByIncomingToken(req.Context(), token)
	if err != nil {
		http.Error(w, "unknown credential", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, int64(ilppacket.MaxDataLen)*2))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	prep, err := ilppacket.ParsePrepare(body, true)
	if err != nil {
		http.Error(w, "malformed prepare", http.StatusBadRequest)
		return
	}

	res := h.Pipeline.HandlePrepare(req.Context(), from, prep)

	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusOK)
	switch {
	case res.IsFulfill():
		if _, err := w.Write(res.Fulfill.Serialize()); err != nil {
			slog.Error("writing fulfill response", "err", err)
		}
	case res.Reject != nil:
		if _, err := w.Write(res.Reject.Serialize()); err != nil {
			slog.Error("writing reject response", "err", err)
		}
	}
}

func bearerToken(req *http.Request) (string, bool) {
	h := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return "", false
	}
	return h[len(prefix):], true
}
