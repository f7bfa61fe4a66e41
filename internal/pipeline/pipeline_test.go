package pipeline

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/interledger/ilp-gateway/internal/balance"
	"github.com/interledger/ilp-gateway/internal/store"
	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
	"github.com/interledger/ilp-gateway/pkg/ilppacket"
	"github.com/interledger/ilp-gateway/pkg/routing"
)

// fulfillingTransport always fulfills with the preimage it was constructed
// with, letting tests control whether the condition matches.
type fulfillingTransport struct {
	preimage [32]byte
}

func (t *fulfillingTransport) SendPrepare(_ context.Context, _ *store.Account, _ *ilppacket.Prepare) *Result {
	f, _ := ilppacket.NewFulfill(t.preimage, nil)
	return FulfillResult(f)
}

type rejectingTransport struct {
	code [3]byte
}

func (t *rejectingTransport) SendPrepare(_ context.Context, to *store.Account, _ *ilppacket.Prepare) *Result {
	r, _ := ilppacket.NewReject(t.code, ilpaddr.MustParse("g.peer"), "downstream failure", nil)
	return RejectResult(r)
}

func testSetup(t *testing.T, transport Transport) (*Pipeline, *store.Account, *store.Account) {
	t.Helper()
	accounts := store.NewInMemoryAccountStore()
	sender := &store.Account{Username: "alice", ILPAddress: "g.self.alice", AssetCode: "USD", AssetScale: 2, MaxPacketAmount: 1_000_000, MinBalance: -100}
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

	p := New(Config{
		Self:            ilpaddr.MustParse("g.self"),
		Accounts:        accounts,
		Rates:           rates,
		Routes:          rt,
		Balances:        balances,
		RateLimiters:    NewRateLimiterRegistry(),
		Transport:       transport,
		RoundTripBudget: time.Second,
		MaxHold:         time.Minute,
	})
	return p, sender, receiver
}

func samplePrepare(t *testing.T, amount uint64, expiresIn time.Duration) *ilppacket.Prepare {
	t.Helper()
	var cond [32]byte
	p, err := ilppacket.NewPrepare(amount, time.Now().Add(expiresIn), cond, ilpaddr.MustParse("g.self.bob"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestMaxPacketAmountRejectsF08(t *testing.T) {
	p, sender, _ := testSetup(t, &fulfillingTransport{})
	prep := samplePrepare(t, 2_000_000, time.Minute)
	res := p.HandlePrepare(context.Background(), sender, prep)
	if res.Reject == nil || res.Reject.CodeString() != "F08" {
		t.Fatalf("expected F08, got %+v", res)
	}
	received, max, err := ilppacket.DecodeAmountTooLargeData(res.Reject.Data)
	if err != nil {
		t.Fatal(err)
	}
	if received != 2_000_000 || max != 1_000_000 {
		t.Fatalf("unexpected F08 body: received=%d max=%d", received, max)
	}
}

func TestExpiredPrepareRejectsF01(t *testing.T) {
	p, sender, _ := testSetup(t, &fulfillingTransport{})
	prep := samplePrepare(t, 10, -time.Second)
	res := p.HandlePrepare(context.Background(), sender, prep)
	if res.Reject == nil || res.Reject.CodeString() != "F01" {
		t.Fatalf("expected F01, got %+v", res)
	}
}

func TestInsufficientBalanceRejectsT04(t *testing.T) {
	p, sender, _ := testSetup(t, &fulfillingTransport{})
	prep := samplePrepare(t, 200, time.Minute)
	res := p.HandlePrepare(context.Background(), sender, prep)
	if res.Reject == nil || res.Reject.CodeString() != "T04" {
		t.Fatalf("expected T04, got %+v", res)
	}
	bal, _ := p.Balances.Balance("alice")
	if bal != 0 {
		t.Fatalf("expected balance unchanged at 0 after reject, got %d", bal)
	}
}

func TestLoopRouteRejectsF02(t *testing.T) {
	p, sender, _ := testSetup(t, &fulfillingTransport{})
	p.Routes.Upsert("alice", routing.Route{Prefix: "g.self.bob"})
	prep := samplePrepare(t, 10, time.Minute)
	res := p.HandlePrepare(context.Background(), sender, prep)
	if res.Reject == nil || res.Reject.CodeString() != "F02" {
		t.Fatalf("expected F02 loop rejection, got %+v", res)
	}
}

func TestNoRouteRejectsF02(t *testing.T) {
	p, sender, _ := testSetup(t, &fulfillingTransport{})
	p.Routes.Remove("g.self.bob")
	prep := samplePrepare(t, 10, time.Minute)
	res := p.HandlePrepare(context.Background(), sender, prep)
	if res.Reject == nil || res.Reject.CodeString() != "F02" {
		t.Fatalf("expected F02, got %+v", res)
	}
}

func TestSuccessfulFulfillCommitsBalance(t *testing.T) {
	preimage := sha256.Sum256([]byte("secret"))
	cond := sha256.Sum256(preimage[:])
	transport := &fulfillingTransport{preimage: preimage}
	p, sender, _ := testSetup(t, transport)
	p.Balances.Register("alice", balance.Thresholds{MinBalance: -1000})

	prep, err := ilppacket.NewPrepare(500, time.Now().Add(time.Minute), cond, ilpaddr.MustParse("g.self.bob"), nil)
	if err != nil {
		t.Fatal(err)
	}
	res := p.HandlePrepare(context.Background(), sender, prep)
	if res.Fulfill == nil {
		t.Fatalf("expected fulfill, got %+v", res.Reject)
	}
	bal, _ := p.Balances.Balance("alice")
	if bal != -500 {
		t.Fatalf("expected sender balance -500, got %d", bal)
	}
	receiverBal, _ := p.Balances.Balance("bob")
	if receiverBal != 500 {
		t.Fatalf("expected receiver balance credited 500, got %d", receiverBal)
	}
}

func TestWrongFulfillmentConvertsToF05(t *testing.T) {
	var cond [32]byte // zero condition
	wrongPreimage := sha256.Sum256([]byte("not-the-right-preimage"))
	transport := &fulfillingTransport{preimage: wrongPreimage}
	p, sender, _ := testSetup(t, transport)

	prep, err := ilppacket.NewPrepare(10, time.Now().Add(time.Minute), cond, ilpaddr.MustParse("g.self.bob"), nil)
	if err != nil {
		t.Fatal(err)
	}
	res := p.HandlePrepare(context.Background(), sender, prep)
	if res.Reject == nil || res.Reject.CodeString() != "F05" {
		t.Fatalf("expected F05, got %+v", res)
	}
	bal, _ := p.Balances.Balance("alice")
	if bal != 0 {
		t.Fatalf("hold must be cancelled on F05, expected balance 0, got %d", bal)
	}
}

func TestDownstreamRejectCancelsHold(t *testing.T) {
	p, sender, _ := testSetup(t, &rejectingTransport{code: ilppacket.CodeF99})
	prep := samplePrepare(t, 10, time.Minute)
	res := p.HandlePrepare(context.Background(), sender, prep)
	if res.Reject == nil || res.Reject.CodeString() != "F99" {
		t.Fatalf("expected F99 passthrough, got %+v", res)
	}
	bal, _ := p.Balances.Balance("alice")
	if bal != 0 {
		t.Fatalf("expected hold cancelled, balance 0, got %d", bal)
	}
}

func TestRateLimitRejectsT05(t *testing.T) {
	preimage := sha256.Sum256([]byte("secret"))
	cond := sha256.Sum256(preimage[:])
	p, sender, _ := testSetup(t, &fulfillingTransport{preimage: preimage})
	limit := uint32(1)
	p.RateLimiters.Configure("alice", &limit, nil)

	prep1, err := ilppacket.NewPrepare(1, time.Now().Add(time.Minute), cond, ilpaddr.MustParse("g.self.bob"), nil)
	if err != nil {
		t.Fatal(err)
	}
	res1 := p.HandlePrepare(context.Background(), sender, prep1)
	if res1.Fulfill == nil {
		t.Fatalf("expected first packet to succeed, got %+v", res1.Reject)
	}

	prep2 := samplePrepare(t, 1, time.Minute)
	res2 := p.HandlePrepare(context.Background(), sender, prep2)
	if res2.Reject == nil || res2.Reject.CodeString() != "T05" {
		t.Fatalf("expected T05 on burst exhaustion, got %+v", res2)
	}
}
