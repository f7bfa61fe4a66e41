package ccp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/interledger/ilp-gateway/internal/store"
)

// HTTPSender delivers route updates to peers over a dedicated CCP endpoint
// on the peer's node (peer.HTTPEndpointURL + "/ccp"), authenticated the
// same way the main HTTP transport is: a bearer token in the account's
// OutgoingToken. Route gossip is control-plane traffic between nodes that
// already trust each other as peers, so it travels as a plain JSON POST
// rather than as an ILP Prepare through the balance/rate-limit pipeline.
type HTTPSender struct {
	HTTPClient *http.Client
}

// NewHTTPSender builds an HTTPSender with a bounded per-request timeout.
func NewHTTPSender() *HTTPSender {
	return &HTTPSender{HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

var _ Sender = (*HTTPSender)(nil)

// SendRouteUpdate implements Sender.
func (s *HTTPSender) SendRouteUpdate(ctx context.Context, peer *store.Account, req RouteUpdateRequest) error {
	if peer.HTTPEndpointURL == "" {
		return fmt.Errorf("ccp: peer %s has no http endpoint configured", peer.Username)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("ccp: encoding route update: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, peer.HTTPEndpointURL+"/ccp", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if !peer.OutgoingToken.IsZero() {
		httpReq.Header.Set("Authorization", "Bearer "+string(peer.OutgoingToken.Reveal()))
	}

	resp, err := s.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ccp: peer %s unreachable: %w", peer.Username, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("ccp: peer %s returned status %d", peer.Username, resp.StatusCode)
	}
	return nil
}

// ReceiverHandler exposes Receiver as an HTTP endpoint for HTTPSender peers
// to post route updates to.
type ReceiverHandler struct {
	Receiver *Receiver
	Accounts store.AccountStore
}

func (h *ReceiverHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	from, err := h.Accounts.GetByIncomingToken(r.Context(), token)
	if err != nil {
		http.Error(w, "unknown credential", http.StatusUnauthorized)
		return
	}

	var req RouteUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed route update", http.StatusBadRequest)
		return
	}

	if err := h.Receiver.Receive(from.Username, req); err != nil {
		if err == ErrEpochGap {
			w.WriteHeader(http.StatusConflict)
			return
		}
		http.Error(w, "rejected", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	authz := r.Header.Get("Authorization")
	if len(authz) <= len(prefix) || authz[:len(prefix)] != prefix {
		return "", false
	}
	return authz[len(prefix):], true
}
