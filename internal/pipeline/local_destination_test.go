package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/interledger/ilp-gateway/internal/balance"
	"github.com/interledger/ilp-gateway/internal/echo"
	"github.com/interledger/ilp-gateway/internal/ildcp"
	"github.com/interledger/ilp-gateway/internal/stream"
	"github.com/interledger/ilp-gateway/internal/store"
	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/ilpcrypto"
	"github.com/interledger/ilp-gateway/pkg/ilppacket"
	"github.com/interledger/ilp-gateway/pkg/routing"
)

func localDestSetup(t *testing.T, streamReceiver *stream.Receiver) *Pipeline {
	t.Helper()
	accounts := store.NewInMemoryAccountStore()
	alice := &store.Account{Username: "alice", ILPAddress: "g.self.alice", AssetCode: "USD", AssetScale: 2, MaxPacketAmount: 1_000_000, MinBalance: -100}
	if err := accounts.Create(context.Background(), alice); err != nil {
		t.Fatal(err)
	}

	rt := routing.New([16]byte{1})
	rates := store.NewStaticRateTable(map[string]float64{"USD/USD": 1})
	balances := balance.NewEngine(nil)
	balances.Register("alice", balance.Thresholds{MinBalance: alice.MinBalance})

	return New(Config{
		Self:            ilpaddr.MustParse("g.node"),
		Accounts:        accounts,
		Rates:           rates,
		Routes:          rt,
		Balances:        balances,
		RateLimiters:    NewRateLimiterRegistry(),
		Transport:       &fulfillingTransport{},
		RoundTripBudget: time.Second,
		MaxHold:         time.Minute,
		StreamReceiver:  streamReceiver,
	})
}

func TestRouterTerminalAnswersILDCP(t *testing.T) {
	p := localDestSetup(t, nil)
	var cond [32]byte
	prep, err := ilppacket.NewPrepare(0, time.Now().Add(time.Minute), cond, ildcp.Destination, nil)
	if err != nil {
		t.Fatal(err)
	}
	alice, err := p.Accounts.GetByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	res := p.HandlePrepare(context.Background(), alice, prep)
	if !res.IsFulfill() {
		t.Fatalf("expected fulfill, got %+v", res)
	}
	addr, assetCode, scale, err := ildcp.DecodeInfo(res.Fulfill.Data)
	if err != nil {
		t.Fatal(err)
	}
	if addr != alice.ILPAddress || assetCode != alice.AssetCode || scale != alice.AssetScale {
		t.Fatalf("unexpected ildcp info: %s %s %d", addr, assetCode, scale)
	}
}

func TestRouterTerminalTurnsAroundEcho(t *testing.T) {
	p := localDestSetup(t, nil)
	var cond [32]byte
	data := echo.BuildRequest(ilpaddr.MustParse("g.self.alice"))
	prep, err := ilppacket.NewPrepare(10, time.Now().Add(time.Minute), cond, ilpaddr.MustParse("g.node"), data)
	if err != nil {
		t.Fatal(err)
	}
	alice, err := p.Accounts.GetByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	// The turned-around echo has no route configured for g.self.alice, so
	// it should surface an F02 rather than panicking or hanging.
	res := p.HandlePrepare(context.Background(), alice, prep)
	if res.IsFulfill() {
		t.Fatalf("expected reject (no route for turned-around destination), got fulfill")
	}
	if res.Reject.CodeString() != "F02" {
		t.Fatalf("expected F02, got %s", res.Reject.CodeString())
	}
}

func TestRouterTerminalTerminatesStreamPayment(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	receiver := &stream.Receiver{Self: ilpaddr.MustParse("g.node"), ServerSecret: secret}
	p := localDestSetup(t, receiver)

	token := "conn1"
	sharedSecret, err := ilpcrypto.SharedSecretFromToken(secret, []byte(token))
	if err != nil {
		t.Fatal(err)
	}
	streamData := []byte("payload")
	fulfillment, err := ilpcrypto.Fulfillment(sharedSecret, streamData)
	if err != nil {
		t.Fatal(err)
	}
	condition := ilpcrypto.Condition(fulfillment)

	dest := ilpaddr.MustParse("g.node." + token)
	prep, err := ilppacket.NewPrepare(50, time.Now().Add(time.Minute), condition, dest, streamData)
	if err != nil {
		t.Fatal(err)
	}
	alice, err := p.Accounts.GetByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}

	res := p.HandlePrepare(context.Background(), alice, prep)
	if !res.IsFulfill() {
		t.Fatalf("expected fulfill, got %+v", res)
	}
	if !res.Fulfill.SatisfiesCondition(condition) {
		t.Fatal("fulfill does not satisfy the Prepare's own condition")
	}
}

// TestRouterTerminalCreditsLocalStreamDestination guards against a locally
// terminated stream payment silently never reaching the receiving
// account's ledger, since that path never runs outgoingBalanceStage.
func TestRouterTerminalCreditsLocalStreamDestination(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	receiver := &stream.Receiver{Self: ilpaddr.MustParse("g.node"), ServerSecret: secret}
	p := localDestSetup(t, receiver)
	p.Balances.Register("bob", balance.Thresholds{})
	p.Balances.Register("alice", balance.Thresholds{MinBalance: -1000})

	token, err := stream.IssueReceiverToken(secret, "bob", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	sharedSecret, err := ilpcrypto.SharedSecretFromToken(secret, []byte(token))
	if err != nil {
		t.Fatal(err)
	}
	streamData := []byte("payload")
	fulfillment, err := ilpcrypto.Fulfillment(sharedSecret, streamData)
	if err != nil {
		t.Fatal(err)
	}
	condition := ilpcrypto.Condition(fulfillment)

	dest, err := ilpaddr.MustParse("g.node").WithSuffix(stream.EncodeAddressToken(token))
	if err != nil {
		t.Fatal(err)
	}
	prep, err := ilppacket.NewPrepare(500, time.Now().Add(time.Minute), condition, dest, streamData)
	if err != nil {
		t.Fatal(err)
	}
	alice, err := p.Accounts.GetByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}

	res := p.HandlePrepare(context.Background(), alice, prep)
	if !res.IsFulfill() {
		t.Fatalf("expected fulfill, got %+v", res)
	}

	settled, prepaid := p.Balances.Balance("bob")
	if settled+prepaid != 500 {
		t.Fatalf("expected bob credited 500, got settled=%d prepaid=%d", settled, prepaid)
	}
}
