// Command ilp-settlement-evm is a standalone settlement-engine process: it
// implements the generic POST /accounts/:id/settlements contract an ILP
// node's internal/settlement.Bridge calls, and settles by sending a plain
// native-asset value transfer on an EVM chain via internal/settlement/evmengine.
// It runs outside the node process, matching how a real settlement engine
// is its own deployable service rather than a library the node links in.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/interledger/ilp-gateway/internal/settlement/evmengine"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	bindAddr := getEnv("SETTLEMENT_EVM_BIND_ADDRESS", ":4100")
	rpcURL := getEnv("SETTLEMENT_EVM_RPC_URL", "")
	privateKey := getEnv("SETTLEMENT_EVM_PRIVATE_KEY", "")
	chainID := getEnvInt("SETTLEMENT_EVM_CHAIN_ID", 1)
	callbackURL := getEnv("NODE_SETTLEMENT_CALLBACK_URL", "")

	if rpcURL == "" || privateKey == "" {
		slog.Error("SETTLEMENT_EVM_RPC_URL and SETTLEMENT_EVM_PRIVATE_KEY are required")
		os.Exit(1)
	}

	addresses, err := loadAccountAddresses(getEnv("ACCOUNT_ADDRESSES_JSON", "{}"))
	if err != nil {
		slog.Error("invalid ACCOUNT_ADDRESSES_JSON", "err", err)
		os.Exit(1)
	}

	engine, err := evmengine.New(rpcURL, privateKey, big.NewInt(int64(chainID)))
	if err != nil {
		slog.Error("engine init failed", "err", err)
		os.Exit(1)
	}
	slog.Info("evm settlement engine listening", "addr", bindAddr, "relayer", engine.Address().Hex())

	srv := &server{
		engine:      engine,
		addresses:   addresses,
		callbackURL: callbackURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /accounts/{username}/settlements", srv.handleSettle)
	if err := http.ListenAndServe(bindAddr, mux); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

type server struct {
	engine      *evmengine.Engine
	addresses   map[string]string
	callbackURL string
	httpClient  *http.Client
}

type settleRequest struct {
	Amount string `json:"amount"`
	Scale  uint8  `json:"scale"`
}

// handleSettle receives the node's outbound settlement trigger, submits a
// value transfer for the requested amount, and (if configured) reports the
// result back to the node's inbound settlement-notification endpoint.
func (s *server) handleSettle(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	peerAddress, ok := s.addresses[username]
	if !ok {
		http.Error(w, "no settlement address configured for account", http.StatusUnprocessableEntity)
		return
	}

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		http.Error(w, "amount must be a decimal string", http.StatusBadRequest)
		return
	}

	txHash, err := s.engine.Settle(r.Context(), peerAddress, amount)
	if err != nil {
		slog.Error("settlement failed", "account", username, "err", err)
		http.Error(w, "settlement failed", http.StatusBadGateway)
		return
	}
	slog.Info("settlement submitted", "account", username, "tx", txHash, "amount", req.Amount)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"tx_hash": txHash})

	if s.callbackURL != "" {
		go s.notifyNode(username, req, txHash)
	}
}

// notifyNode reports the settlement back to the node's inbound settlement
// endpoint, keyed by the chain transaction hash so the node's idempotency
// check collapses any retried notification for the same transfer.
func (s *server) notifyNode(username string, req settleRequest, txHash string) {
	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequest(http.MethodPost, s.callbackURL+"/accounts/"+username+"/settlements", bytes.NewReader(body))
	if err != nil {
		slog.Error("building settlement callback failed", "err", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", txHash)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		slog.Error("settlement callback failed", "err", err)
		return
	}
	defer resp.Body.Close()
}

func loadAccountAddresses(raw string) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decoding account address map: %w", err)
	}
	return m, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
