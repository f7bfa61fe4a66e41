package httptransport

import (
	"context"
	"crypto/sha256"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/interledger/ilp-gateway/internal/balance"
	"github.com/interledger/ilp-gateway/internal/pipeline"
	"github.com/interledger/ilp-gateway/internal/store"
	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/ilppacket"
	"github.com/interledger/ilp-gateway/pkg/routing"
)

type fulfillAllTransport struct{}

func (fulfillAllTransport) SendPrepare(_ context.Context, _ *store.Account, _ *ilppacket.Prepare) *pipeline.Result {
	f, _ := ilppacket.NewFulfill([32]byte{}, nil)
	return pipeline.FulfillResult(f)
}

func buildServerPipeline(t *testing.T) (*pipeline.Pipeline, store.AccountStore) {
	t.Helper()
	accounts := store.NewInMemoryAccountStore()
	sender := &store.Account{
		Username: "alice", ILPAddress: "g.self.alice", AssetCode: "USD", AssetScale: 2,
		MaxPacketAmount: 1_000_000, MinBalance: -1000,
		IncomingToken: store.NewEncryptedToken([]byte("alice-token")),
	}
	receiver := &store.Account{Username: "bob", ILPAddress: "g.self.bob", AssetCode: "USD", AssetScale: 2}
	if err := accounts.Create(context.Background(), sender); err != nil {
		t.Fatal(err)
	}
	if err := accounts.Create(context.Background(), receiver); err != nil {
		t.Fatal(err)
	}

	rt := routing.New([16]byte{1})
	rt.Upsert("bob", routing.Route{Prefix: "g.self.bob"})

	rates := store.NewStaticRateTable(map[string]float64{"USD/USD": 1})
	balances := balance.NewEngine(nil)
	balances.Register("alice", balance.Thresholds{MinBalance: sender.MinBalance})
	balances.Register("bob", balance.Thresholds{MinBalance: 0})

	p := pipeline.New(pipeline.Config{
		Self:            ilpaddr.MustParse("g.self"),
		Accounts:        accounts,
		Rates:           rates,
		Routes:          rt,
		Balances:        balances,
		RateLimiters:    pipeline.NewRateLimiterRegistry(),
		Transport:       fulfillAllTransport{},
		RoundTripBudget: time.Second,
		MaxHold:         time.Minute,
	})
	return p, accounts
}

func TestHandlerAuthenticatesAndFulfills(t *testing.T) {
	p, accounts := buildServerPipeline(t)
	handler := &Handler{Accounts: accounts, Pipeline: p}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	peer := &store.Account{
		Username: "alice", ILPAddress: "g.self.alice",
		HTTPEndpointURL: srv.URL,
		OutgoingToken:   store.NewEncryptedToken([]byte("alice-token")),
	}

	cond := sha256.Sum256(make([]byte, 32)) // matches fulfillAllTransport's all-zero preimage
	prep, err := ilppacket.NewPrepare(500, time.Now().Add(time.Minute), cond, ilpaddr.MustParse("g.self.bob"), nil)
	if err != nil {
		t.Fatal(err)
	}

	client := NewClient()
	res := client.SendPrepare(context.Background(), peer, prep)
	if !res.IsFulfill() {
		t.Fatalf("expected fulfill, got %+v", res)
	}
}

func TestHandlerRejectsBadCredential(t *testing.T) {
	p, accounts := buildServerPipeline(t)
	handler := &Handler{Accounts: accounts, Pipeline: p}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	peer := &store.Account{
		Username: "alice", ILPAddress: "g.self.alice",
		HTTPEndpointURL: srv.URL,
		OutgoingToken:   store.NewEncryptedToken([]byte("wrong-token")),
	}

	var cond [32]byte
	prep, err := ilppacket.NewPrepare(500, time.Now().Add(time.Minute), cond, ilpaddr.MustParse("g.self.bob"), nil)
	if err != nil {
		t.Fatal(err)
	}

	client := NewClient()
	res := client.SendPrepare(context.Background(), peer, prep)
	if res.IsFulfill() {
		t.Fatal("expected rejection for bad credential")
	}
}

func TestClientRejectsWhenNoEndpointConfigured(t *testing.T) {
	client := NewClient()
	peer := &store.Account{Username: "alice"}
	var cond [32]byte
	prep, err := ilppacket.NewPrepare(100, time.Now().Add(time.Minute), cond, ilpaddr.MustParse("g.self.bob"), nil)
	if err != nil {
		t.Fatal(err)
	}
	res := client.SendPrepare(context.Background(), peer, prep)
	if res.IsFulfill() || res.Reject.CodeString() != "T01" {
		t.Fatalf("expected T01, got %+v", res)
	}
}
