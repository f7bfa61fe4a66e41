package adminapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/interledger/ilp-gateway/internal/stream"
	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/ilpcrypto"
)

// receiverTokenTTL bounds how long an issued SPSP destination stays valid.
const receiverTokenTTL = time.Hour

// defaultSlippage is applied when a payment request omits one.
const defaultSlippage = 0.015

// spspResponse is both what our own /spsp and /.well-known/pay endpoints
// return and what resolveSPSP parses back from a counterparty's endpoint —
// the two sides of the same contract.
type spspResponse struct {
	DestinationAccount string `json:"destination_account"`
	SharedSecret       string `json:"shared_secret"`
	AssetCode          string `json:"asset_code"`
	AssetScale         uint8  `json:"asset_scale"`
}

// spspClient resolves a payment pointer / SPSP endpoint URL into a
// destination address and shared secret by fetching it over HTTP.
type spspClient struct {
	httpClient *http.Client
}

var errSPSPUnavailable = errors.New("adminapi: spsp endpoint did not return a usable response")

func (c *spspClient) resolve(ctx context.Context, endpointURL string) (spspResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return spspResponse{}, err
	}
	req.Header.Set("Accept", "application/spsp4+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return spspResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return spspResponse{}, fmt.Errorf("%w: status %d", errSPSPUnavailable, resp.StatusCode)
	}

	var out spspResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return spspResponse{}, err
	}
	if out.DestinationAccount == "" || out.SharedSecret == "" {
		return spspResponse{}, errSPSPUnavailable
	}
	return out, nil
}

// buildSPSPResponse issues a fresh receiver-token destination for username,
// the same shape whether served from our own /spsp endpoint or fetched by a
// remote payer's spspClient.resolve.
func (h *Handler) buildSPSPResponse(ctx context.Context, username string) (spspResponse, error) {
	a, err := h.cfg.Accounts.GetByUsername(ctx, username)
	if err != nil {
		return spspResponse{}, err
	}
	token, err := stream.IssueReceiverToken(h.cfg.ServerSecret, username, receiverTokenTTL)
	if err != nil {
		return spspResponse{}, err
	}
	destination, err := h.cfg.Self.WithSuffix(stream.EncodeAddressToken(token))
	if err != nil {
		return spspResponse{}, err
	}
	sharedSecret, err := ilpcrypto.SharedSecretFromToken(h.cfg.ServerSecret, []byte(token))
	if err != nil {
		return spspResponse{}, err
	}
	return spspResponse{
		DestinationAccount: destination.String(),
		SharedSecret:       base64.StdEncoding.EncodeToString(sharedSecret),
		AssetCode:          a.AssetCode,
		AssetScale:         a.AssetScale,
	}, nil
}

func (h *Handler) spspHandler(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	resp, err := h.buildSPSPResponse(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) wellKnownPay(w http.ResponseWriter, r *http.Request) {
	username := h.cfg.DefaultSPSPAccount
	if q := r.URL.Query().Get("receiver"); q != "" {
		username = q
	}
	if username == "" {
		writeError(w, http.StatusNotFound, "no default payment pointer configured")
		return
	}
	resp, err := h.buildSPSPResponse(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type paymentRequest struct {
	Receiver     string  `json:"receiver"`
	SourceAmount uint64  `json:"source_amount"`
	Slippage     float64 `json:"slippage"`
}

type paymentReceipt struct {
	From                string `json:"from"`
	To                  string `json:"to"`
	SentAmount          uint64 `json:"sent_amount"`
	SentAssetCode       string `json:"sent_asset_code"`
	SentAssetScale      uint8  `json:"sent_asset_scale"`
	DeliveredAmount     uint64 `json:"delivered_amount"`
	DeliveredAssetCode  string `json:"delivered_asset_code"`
	DeliveredAssetScale uint8  `json:"delivered_asset_scale"`
}

func (h *Handler) sendPayment(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	auth, err := h.authenticate(r)
	if err != nil || !auth.canAccess(username) {
		writeError(w, http.StatusUnauthorized, "not authorized for this account")
		return
	}
	from, err := h.cfg.Accounts.GetByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Receiver == "" || req.SourceAmount == 0 {
		writeError(w, http.StatusBadRequest, "receiver and source_amount are required")
		return
	}
	slippage := req.Slippage
	if slippage == 0 {
		slippage = defaultSlippage
	}

	dest, err := h.spsp.resolve(r.Context(), req.Receiver)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to resolve receiver: "+err.Error())
		return
	}
	destAddr, err := ilpaddr.Parse(dest.DestinationAccount)
	if err != nil {
		writeError(w, http.StatusBadGateway, "receiver returned an invalid destination address")
		return
	}
	sharedSecret, err := base64.StdEncoding.DecodeString(dest.SharedSecret)
	if err != nil {
		writeError(w, http.StatusBadGateway, "receiver returned an invalid shared secret")
		return
	}
	fromAddr, err := ilpaddr.Parse(from.ILPAddress)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sending account has no valid ilp address")
		return
	}

	sender := &stream.Sender{
		Dispatcher:    &pipelineDispatcher{pipeline: h.cfg.Pipeline, from: from},
		Destination:   destAddr,
		SharedSecret:  sharedSecret,
		SourceAddress: fromAddr,
	}
	result, err := sender.SendMoney(r.Context(), req.SourceAmount)
	if err != nil {
		writeError(w, http.StatusBadGateway, "payment failed: "+err.Error())
		return
	}

	sent := req.SourceAmount - result.SourceAmountRemaining
	if minDelivered := minAcceptableDelivered(sent, slippage); result.AmountDelivered < minDelivered {
		writeError(w, http.StatusUnprocessableEntity, "delivered amount fell outside the requested slippage tolerance")
		return
	}

	writeJSON(w, http.StatusOK, paymentReceipt{
		From:                from.Username,
		To:                  req.Receiver,
		SentAmount:          sent,
		SentAssetCode:       from.AssetCode,
		SentAssetScale:      from.AssetScale,
		DeliveredAmount:     result.AmountDelivered,
		DeliveredAssetCode:  dest.AssetCode,
		DeliveredAssetScale: dest.AssetScale,
	})
}

// minAcceptableDelivered is a deliberately conservative check: it assumes
// asset parity between sender and receiver and treats slippage as the
// fraction of sentAmount the delivered amount is allowed to fall short of.
// A real cross-asset comparison needs the rate this node applied mid-flight,
// which sender.SendMoney does not currently surface.
func minAcceptableDelivered(sentAmount uint64, slippage float64) uint64 {
	if slippage <= 0 || slippage >= 1 {
		return 0
	}
	return uint64(float64(sentAmount) * (1 - slippage))
}
