package main

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/interledger/ilp-gateway/config"
	"github.com/interledger/ilp-gateway/internal/adminapi"
	"github.com/interledger/ilp-gateway/internal/balance"
	"github.com/interledger/ilp-gateway/internal/ccp"
	"github.com/interledger/ilp-gateway/internal/pipeline"
	"github.com/interledger/ilp-gateway/internal/settlement"
	"github.com/interledger/ilp-gateway/internal/settlement/evmengine"
	"github.com/interledger/ilp-gateway/internal/store"
	"github.com/interledger/ilp-gateway/internal/stream"
	"github.com/interledger/ilp-gateway/internal/transport"
	"github.com/interledger/ilp-gateway/internal/transport/btp"
	"github.com/interledger/ilp-gateway/internal/transport/httptransport"
	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/routing"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	self, err := ilpaddr.Parse(cfg.ILPAddress)
	if err != nil {
		slog.Error("invalid ILP_ADDRESS", "err", err)
		os.Exit(1)
	}

	accounts := store.NewInMemoryAccountStore()
	rates := store.NewStaticRateTable(map[string]float64{})
	routes := routing.New(uuid.New())

	settlementBridge := settlement.NewBridge(accounts, nil) // Balances wired below, after Engine exists
	balances := balance.NewEngine(settlementBridge.EnqueueSettlement)
	settlementBridge.Balances = balances

	if cfg.SettlementEVMRPCURL != "" {
		evm, err := evmengine.New(cfg.SettlementEVMRPCURL, cfg.SettlementEVMPrivateKey, big.NewInt(cfg.SettlementEVMChainID))
		if err != nil {
			slog.Error("evm settlement engine init failed", "err", err)
			os.Exit(1)
		}
		slog.Info("evm settlement engine enabled", "relayer", evm.Address().Hex(), "chain_id", cfg.SettlementEVMChainID)
	}

	rateLimiters := pipeline.NewRateLimiterRegistry()

	httpClient := httptransport.NewClient()
	btpDialer := btp.NewDialer()
	egress := &transport.Composite{BTP: btpDialer, HTTP: httpClient}

	streamReceiver := &stream.Receiver{
		Self:         self,
		ServerSecret: cfg.SecretSeed,
	}

	p := pipeline.New(pipeline.Config{
		Self:            self,
		Accounts:        accounts,
		Rates:           rates,
		Routes:          routes,
		Balances:        balances,
		RateLimiters:    rateLimiters,
		Transport:       egress,
		RoundTripBudget: cfg.RoundTripBudget,
		MaxHold:         cfg.MaxHold,
		StreamReceiver:  streamReceiver,
	})

	admin := adminapi.New(adminapi.Config{
		Accounts:           accounts,
		Balances:           balances,
		Pipeline:           p,
		Settlements:        settlementBridge,
		Routes:             routes,
		Self:               self,
		ServerSecret:       cfg.SecretSeed,
		AdminToken:         cfg.AdminAuthToken,
		DefaultSPSPAccount: cfg.DefaultSPSPAccount,
	})
	streamReceiver.OnFulfill = func(token string, amount uint64) {
		admin.Hub().Publish(token, amount)
	}

	ccpReceiver := ccp.NewReceiver(routes, self)
	ccpBroadcaster := ccp.NewBroadcaster(routes, accounts, ccp.NewHTTPSender(), cfg.RouteBroadcastInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := ccpBroadcaster.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("route broadcaster stopped", "err", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/", admin)
	mux.Handle("/peers/prepare", &httptransport.Handler{Accounts: accounts, Pipeline: p})
	mux.Handle("/peers/btp", &btp.Handler{Accounts: accounts, Pipeline: p})
	mux.Handle("/ccp", &ccp.ReceiverHandler{Receiver: ccpReceiver, Accounts: accounts})

	server := &http.Server{Addr: cfg.HTTPBindAddress, Handler: mux}

	var settlementServer *http.Server
	if cfg.SettlementAPIBindAddress != "" {
		settlementServer = &http.Server{Addr: cfg.SettlementAPIBindAddress, Handler: admin.SettlementHandler()}
		go func() {
			slog.Info("settlement-engine listener starting", "addr", cfg.SettlementAPIBindAddress)
			if err := settlementServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("settlement listener error", "err", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		_ = btpDialer.Close()
		_ = server.Shutdown(context.Background())
		if settlementServer != nil {
			_ = settlementServer.Shutdown(context.Background())
		}
	}()

	slog.Info("ilp node starting",
		"addr", cfg.HTTPBindAddress,
		"self", self.String(),
	)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
