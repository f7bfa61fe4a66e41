// Package config loads the node's process configuration from environment
// variables, with an optional .env file for local development.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the node's process configuration.
type Config struct {
	// ILPAddress is this node's own address, used as the self-address for
	// ILDCP responses, echo turnarounds, and the triggered_by field on
	// locally-originated Rejects.
	ILPAddress string

	// AdminAuthToken authenticates full-access admin REST calls
	// (Authorization: Bearer <token>). Per-account scoped calls instead use
	// "Bearer <username>:<token>" checked against the store directly.
	AdminAuthToken string

	// SecretSeed is the 32-byte root secret every HMAC/AES derivation in
	// pkg/ilpcrypto and the stream receiver-token signing key is derived
	// from.
	SecretSeed []byte

	// StoreConnectionString addresses the account/balance/route persistence
	// layer. Load requires it to be non-empty; the in-memory
	// store.InMemoryAccountStore does not read it, since CRUD persistence
	// itself is a Store contract, not a concrete driver this node bundles.
	StoreConnectionString string

	// HTTPBindAddress is where the combined admin REST/WebSocket surface
	// and the ILP-over-HTTP peer transport listen.
	HTTPBindAddress string

	// SettlementAPIBindAddress, if set, is a second listener carrying only
	// the settlement-engine-facing inbound notification endpoint,
	// deliberately separate from HTTPBindAddress so it can be placed
	// behind a different network boundary (no bearer auth is checked on
	// it; trust comes from where it's reachable).
	SettlementAPIBindAddress string

	// BTPBindAddress is read from BTP_BIND_ADDRESS but not used: the
	// BTP/WebSocket peer transport is served at /peers/btp on the
	// HTTPBindAddress listener.
	BTPBindAddress string

	// RouteBroadcastInterval is how often the route broadcaster sends its
	// routing table to every send_routes_to peer.
	RouteBroadcastInterval time.Duration

	// ExchangeRatePollInterval is read from EXCHANGE_RATE_POLL_INTERVAL_MS
	// but not used: the node runs with a static rate table and has no
	// exchange-rate fetcher.
	ExchangeRatePollInterval time.Duration

	// DefaultSPSPAccount is the username /.well-known/pay resolves to when
	// the request names no receiver explicitly.
	DefaultSPSPAccount string

	// RoundTripBudget is subtracted from a Prepare's expiry at each hop
	// before forwarding it onward.
	RoundTripBudget time.Duration

	// MaxHold caps how long this node will hold a Prepare's balance
	// reservation regardless of the packet's own expiry.
	MaxHold time.Duration

	// SettlementEVMRPCURL and SettlementEVMPrivateKey must be set together.
	// When set, the node builds the bundled EVM driver
	// (internal/settlement/evmengine) at startup and logs its relayer
	// address; outbound settlements still go to each account's
	// settlement-engine URL (cmd/ilp-settlement-evm serves the driver as one).
	SettlementEVMRPCURL     string
	SettlementEVMPrivateKey string
	SettlementEVMChainID    int64
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first if present (dev convenience).
func Load() (*Config, error) {
	_ = godotenv.Load() // no-op if .env absent; production uses real env vars

	cfg := &Config{
		ILPAddress:               getEnv("ILP_ADDRESS", ""),
		AdminAuthToken:           getEnv("ADMIN_AUTH_TOKEN", ""),
		StoreConnectionString:    getEnv("STORE_CONNECTION_STRING", ""),
		HTTPBindAddress:          getEnv("HTTP_BIND_ADDRESS", ""),
		SettlementAPIBindAddress: getEnv("SETTLEMENT_API_BIND_ADDRESS", ""),
		BTPBindAddress:           getEnv("BTP_BIND_ADDRESS", ""),
		RouteBroadcastInterval:   getEnvDuration("ROUTE_BROADCAST_INTERVAL_MS", 30_000*time.Millisecond),
		ExchangeRatePollInterval: getEnvDuration("EXCHANGE_RATE_POLL_INTERVAL_MS", 60_000*time.Millisecond),
		DefaultSPSPAccount:       getEnv("DEFAULT_SPSP_ACCOUNT", ""),
		RoundTripBudget:          getEnvDuration("ROUND_TRIP_BUDGET_MS", 200*time.Millisecond),
		MaxHold:                  getEnvDuration("MAX_HOLD_MS", 30_000*time.Millisecond),
		SettlementEVMRPCURL:      getEnv("SETTLEMENT_EVM_RPC_URL", ""),
		SettlementEVMPrivateKey:  getEnv("SETTLEMENT_EVM_PRIVATE_KEY", ""),
		SettlementEVMChainID:     int64(getEnvInt("SETTLEMENT_EVM_CHAIN_ID", 0)),
	}

	if cfg.ILPAddress == "" {
		return nil, fmt.Errorf("ILP_ADDRESS env var is required")
	}
	if cfg.AdminAuthToken == "" {
		return nil, fmt.Errorf("ADMIN_AUTH_TOKEN env var is required")
	}
	if cfg.HTTPBindAddress == "" {
		return nil, fmt.Errorf("HTTP_BIND_ADDRESS env var is required")
	}
	if cfg.StoreConnectionString == "" {
		return nil, fmt.Errorf("STORE_CONNECTION_STRING env var is required")
	}

	seedHex := getEnv("SECRET_SEED", "")
	if seedHex == "" {
		return nil, fmt.Errorf("SECRET_SEED env var is required (32-byte hex)")
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("SECRET_SEED must be valid hex: %w", err)
	}
	if len(seed) < 32 {
		return nil, fmt.Errorf("SECRET_SEED must be at least 32 bytes (64 hex chars)")
	}
	cfg.SecretSeed = seed

	if (cfg.SettlementEVMRPCURL == "") != (cfg.SettlementEVMPrivateKey == "") {
		return nil, fmt.Errorf("SETTLEMENT_EVM_RPC_URL and SETTLEMENT_EVM_PRIVATE_KEY must be set together")
	}

	return cfg, nil
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

// getEnvDuration reads key as a millisecond count, falling back to fallback
// if unset or unparseable.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
