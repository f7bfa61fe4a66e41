package adminapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/interledger/ilp-gateway/internal/balance"
	"github.com/interledger/ilp-gateway/internal/store"
	"github.com/interledger/ilp-gateway/pkg/routing"
)

// accountRequest is the wire shape accepted by create/update. On update, an
// empty or zero ilp_address, asset_code, asset_scale, max_packet_amount or
// routing_relation leaves that field unchanged; every other field takes the
// request's value, zero included.
type accountRequest struct {
	Username              string  `json:"username"`
	ILPAddress            string  `json:"ilp_address"`
	AssetCode             string  `json:"asset_code"`
	AssetScale            uint8   `json:"asset_scale"`
	MaxPacketAmount       uint64  `json:"max_packet_amount"`
	MinBalance            int64   `json:"min_balance"`
	SettleThreshold       *int64  `json:"settle_threshold"`
	SettleTo              int64   `json:"settle_to"`
	RoutingRelation       string  `json:"routing_relation"`
	HTTPEndpointURL       string  `json:"http_endpoint_url"`
	BTPEndpointURL        string  `json:"btp_endpoint_url"`
	SettlementEngineURL   string  `json:"settlement_engine_url"`
	PacketsPerMinuteLimit *uint32 `json:"packets_per_minute_limit"`
	AmountPerMinuteLimit  *uint64 `json:"amount_per_minute_limit"`
	SendRoutesTo          bool    `json:"send_routes_to"`
	ReceiveRoutesFrom     bool    `json:"receive_routes_from"`
}

// accountResponse never echoes a token back in plaintext; the caller that
// creates an account is shown IncomingToken exactly once, at creation time.
type accountResponse struct {
	Username          string `json:"username"`
	ILPAddress        string `json:"ilp_address"`
	AssetCode         string `json:"asset_code"`
	AssetScale        uint8  `json:"asset_scale"`
	RoutingRelation   string `json:"routing_relation"`
	HTTPEndpointURL   string `json:"http_endpoint_url,omitempty"`
	BTPEndpointURL    string `json:"btp_endpoint_url,omitempty"`
	SendRoutesTo      bool   `json:"send_routes_to"`
	ReceiveRoutesFrom bool   `json:"receive_routes_from"`
	IncomingToken     string `json:"incoming_token,omitempty"`
}

func toAccountResponse(a *store.Account, withToken string) accountResponse {
	return accountResponse{
		Username:          a.Username,
		ILPAddress:        a.ILPAddress,
		AssetCode:         a.AssetCode,
		AssetScale:        a.AssetScale,
		RoutingRelation:   string(a.RoutingRelation),
		HTTPEndpointURL:   a.HTTPEndpointURL,
		BTPEndpointURL:    a.BTPEndpointURL,
		SendRoutesTo:      a.SendRoutesTo,
		ReceiveRoutesFrom: a.ReceiveRoutesFrom,
		IncomingToken:     withToken,
	}
}

// generateToken returns a fresh random bearer credential in hex form.
func generateToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	auth, err := h.authenticate(r)
	if err != nil || !auth.admin {
		writeError(w, http.StatusUnauthorized, "admin credential required")
		return
	}

	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Username == "" || req.ILPAddress == "" || req.AssetCode == "" {
		writeError(w, http.StatusBadRequest, "username, ilp_address and asset_code are required")
		return
	}

	token, err := generateToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate credential")
		return
	}

	a := &store.Account{
		Username:              req.Username,
		ILPAddress:            req.ILPAddress,
		AssetCode:             req.AssetCode,
		AssetScale:            req.AssetScale,
		MaxPacketAmount:       req.MaxPacketAmount,
		MinBalance:            req.MinBalance,
		SettleThreshold:       req.SettleThreshold,
		SettleTo:              req.SettleTo,
		RoutingRelation:       store.RoutingRelation(req.RoutingRelation),
		HTTPEndpointURL:       req.HTTPEndpointURL,
		BTPEndpointURL:        req.BTPEndpointURL,
		SettlementEngineURL:   req.SettlementEngineURL,
		PacketsPerMinuteLimit: req.PacketsPerMinuteLimit,
		AmountPerMinuteLimit:  req.AmountPerMinuteLimit,
		SendRoutesTo:          req.SendRoutesTo,
		ReceiveRoutesFrom:     req.ReceiveRoutesFrom,
		IncomingToken:         store.NewEncryptedToken([]byte(token)),
	}
	if err := h.cfg.Accounts.Create(r.Context(), a); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "username already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}
	if h.cfg.Balances != nil {
		h.cfg.Balances.Register(a.Username, balance.Thresholds{
			MinBalance:      a.MinBalance,
			SettleThreshold: a.SettleThreshold,
			SettleTo:        a.SettleTo,
		})
	}
	h.installDirectRoute(a)

	writeJSON(w, http.StatusCreated, toAccountResponse(a, token))
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	auth, err := h.authenticate(r)
	if err != nil || !auth.admin {
		writeError(w, http.StatusUnauthorized, "admin credential required")
		return
	}
	accts, err := h.cfg.Accounts.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	out := make([]accountResponse, 0, len(accts))
	for _, a := range accts {
		out = append(out, toAccountResponse(a, ""))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	auth, err := h.authenticate(r)
	if err != nil || !auth.canAccess(username) {
		writeError(w, http.StatusUnauthorized, "not authorized for this account")
		return
	}
	a, err := h.cfg.Accounts.GetByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(a, ""))
}

func (h *Handler) updateAccount(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	auth, err := h.authenticate(r)
	if err != nil || !auth.admin {
		writeError(w, http.StatusUnauthorized, "admin credential required")
		return
	}
	a, err := h.cfg.Accounts.GetByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	oldAddress := a.ILPAddress
	applyAccountUpdate(a, req)

	if err := h.cfg.Accounts.Update(r.Context(), a); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update account")
		return
	}
	if h.cfg.Balances != nil {
		h.cfg.Balances.Register(a.Username, balance.Thresholds{
			MinBalance:      a.MinBalance,
			SettleThreshold: a.SettleThreshold,
			SettleTo:        a.SettleTo,
		})
	}
	if h.cfg.Routes != nil && oldAddress != "" && oldAddress != a.ILPAddress {
		h.cfg.Routes.Remove(oldAddress)
	}
	h.installDirectRoute(a)
	writeJSON(w, http.StatusOK, toAccountResponse(a, ""))
}

// installDirectRoute gives a's own ilp_address a route into the table
// pointing directly at it, mirroring the route a CCP broadcast from a peer
// would eventually converge to for its own prefix. Re-upserting on update
// keeps the entry current if ilp_address changed.
func (h *Handler) installDirectRoute(a *store.Account) {
	if h.cfg.Routes == nil || a.ILPAddress == "" {
		return
	}
	h.cfg.Routes.Upsert(a.Username, routing.Route{Prefix: a.ILPAddress})
}

// applyAccountUpdate copies req onto a, keeping ILPAddress, AssetCode,
// AssetScale, MaxPacketAmount and RoutingRelation when the request leaves
// them empty or zero; every other field takes the request's value.
func applyAccountUpdate(a *store.Account, req accountRequest) {
	if req.ILPAddress != "" {
		a.ILPAddress = req.ILPAddress
	}
	if req.AssetCode != "" {
		a.AssetCode = req.AssetCode
	}
	if req.AssetScale != 0 {
		a.AssetScale = req.AssetScale
	}
	if req.MaxPacketAmount != 0 {
		a.MaxPacketAmount = req.MaxPacketAmount
	}
	a.MinBalance = req.MinBalance
	a.SettleThreshold = req.SettleThreshold
	a.SettleTo = req.SettleTo
	if req.RoutingRelation != "" {
		a.RoutingRelation = store.RoutingRelation(req.RoutingRelation)
	}
	a.HTTPEndpointURL = req.HTTPEndpointURL
	a.BTPEndpointURL = req.BTPEndpointURL
	a.SettlementEngineURL = req.SettlementEngineURL
	a.PacketsPerMinuteLimit = req.PacketsPerMinuteLimit
	a.AmountPerMinuteLimit = req.AmountPerMinuteLimit
	a.SendRoutesTo = req.SendRoutesTo
	a.ReceiveRoutesFrom = req.ReceiveRoutesFrom
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	auth, err := h.authenticate(r)
	if err != nil || !auth.admin {
		writeError(w, http.StatusUnauthorized, "admin credential required")
		return
	}
	if err := h.cfg.Accounts.Delete(r.Context(), username); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete account")
		return
	}
	if h.cfg.Routes != nil {
		h.cfg.Routes.RemoveAllForAccount(username)
	}
	w.WriteHeader(http.StatusNoContent)
}

type settingsRequest struct {
	MaxPacketAmount       uint64  `json:"max_packet_amount"`
	MinBalance            int64   `json:"min_balance"`
	SettleThreshold       *int64  `json:"settle_threshold"`
	SettleTo              int64   `json:"settle_to"`
	PacketsPerMinuteLimit *uint32 `json:"packets_per_minute_limit"`
	AmountPerMinuteLimit  *uint64 `json:"amount_per_minute_limit"`
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	auth, err := h.authenticate(r)
	if err != nil || !auth.admin {
		writeError(w, http.StatusUnauthorized, "admin credential required")
		return
	}
	a, err := h.cfg.Accounts.GetByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	a.MaxPacketAmount = req.MaxPacketAmount
	a.MinBalance = req.MinBalance
	a.SettleThreshold = req.SettleThreshold
	a.SettleTo = req.SettleTo
	a.PacketsPerMinuteLimit = req.PacketsPerMinuteLimit
	a.AmountPerMinuteLimit = req.AmountPerMinuteLimit

	if err := h.cfg.Accounts.Update(r.Context(), a); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update account")
		return
	}
	if h.cfg.Balances != nil {
		h.cfg.Balances.Register(a.Username, balance.Thresholds{
			MinBalance:      a.MinBalance,
			SettleThreshold: a.SettleThreshold,
			SettleTo:        a.SettleTo,
		})
	}
	writeJSON(w, http.StatusOK, toAccountResponse(a, ""))
}
