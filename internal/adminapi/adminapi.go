// Package adminapi implements the external admin REST and WebSocket
// surface: account CRUD, balance/settings queries, SPSP payment setup,
// outbound stream payments, and a payment-notification feed. Every
// handler is a thin adapter over Store/pipeline/stream; none of this
// package's own state is authoritative.
package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/interledger/ilp-gateway/internal/balance"
	"github.com/interledger/ilp-gateway/internal/pipeline"
	"github.com/interledger/ilp-gateway/internal/settlement"
	"github.com/interledger/ilp-gateway/internal/store"
	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/routing"
)

// Config groups the dependencies the admin surface calls into.
type Config struct {
	Accounts     store.AccountStore
	Balances     *balance.Engine
	Pipeline     *pipeline.Pipeline
	Settlements  *settlement.Bridge
	// Routes is the node's routing table: account create/update installs a
	// direct route to an eligible account here, and delete withdraws all of
	// its routes, mirroring what a CCP broadcast would otherwise converge to.
	Routes       *routing.Table
	Self         ilpaddr.Address
	ServerSecret []byte
	AdminToken   string
	HTTPClient   *http.Client
	// DefaultSPSPAccount is the username /.well-known/pay resolves to when
	// the request carries no "receiver" query parameter.
	DefaultSPSPAccount string
}

// Handler serves the admin REST/WebSocket surface.
type Handler struct {
	cfg  Config
	mux  *http.ServeMux
	hub  *NotificationHub
	spsp *spspClient
}

// New builds a Handler and registers every route.
func New(cfg Config) *Handler {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	h := &Handler{
		cfg:  cfg,
		mux:  http.NewServeMux(),
		hub:  NewNotificationHub(),
		spsp: &spspClient{httpClient: cfg.HTTPClient},
	}
	h.registerRoutes()
	return h
}

// Hub exposes the notification hub so the node's wiring code can pass it
// to the stream receiver's OnFulfill callback.
func (h *Handler) Hub() *NotificationHub { return h.hub }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /accounts", h.createAccount)
	h.mux.HandleFunc("GET /accounts", h.listAccounts)
	h.mux.HandleFunc("GET /accounts/{username}", h.getAccount)
	h.mux.HandleFunc("PUT /accounts/{username}", h.updateAccount)
	h.mux.HandleFunc("DELETE /accounts/{username}", h.deleteAccount)
	h.mux.HandleFunc("GET /accounts/{username}/balance", h.getBalance)
	h.mux.HandleFunc("PUT /accounts/{username}/settings", h.updateSettings)
	h.mux.HandleFunc("POST /accounts/{username}/payments", h.sendPayment)
	h.mux.HandleFunc("GET /accounts/{username}/spsp", h.spspHandler)
	h.mux.HandleFunc("GET /.well-known/pay", h.wellKnownPay)
	h.mux.HandleFunc("GET /accounts/{username}/payments/incoming", h.incomingPayments)
}

// SettlementHandler returns the settlement-engine-facing HTTP surface
// separately from ServeHTTP: per config, it is meant to listen on its own
// bind address (settlement_api_bind_address), trusted by network placement
// rather than a bearer credential, since a settlement engine is a deployment
// collaborator, not an account holder.
func (h *Handler) SettlementHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /accounts/{username}/settlements", h.inboundSettlement)
	return mux
}

// authContext is the resolved identity of an authenticated request.
type authContext struct {
	admin   bool
	account *store.Account
}

// canAccess reports whether this caller may act on username's resources.
func (a *authContext) canAccess(username string) bool {
	return a.admin || (a.account != nil && a.account.Username == username)
}

var errUnauthorized = errors.New("adminapi: unauthorized")

// authenticate checks the Authorization header against the configured
// admin token or a per-account scoped "username:token" credential.
func (h *Handler) authenticate(r *http.Request) (*authContext, error) {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return nil, errUnauthorized
	}
	cred := strings.TrimPrefix(authz, prefix)

	if h.cfg.AdminToken != "" && cred == h.cfg.AdminToken {
		return &authContext{admin: true}, nil
	}

	parts := strings.SplitN(cred, ":", 2)
	if len(parts) != 2 {
		return nil, errUnauthorized
	}
	username, token := parts[0], parts[1]
	acct, err := h.cfg.Accounts.GetByIncomingToken(r.Context(), token)
	if err != nil || acct.Username != username {
		return nil, errUnauthorized
	}
	return &authContext{account: acct}, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
