package balance

import (
	"context"
	"testing"
)

func TestHoldCommitCycle(t *testing.T) {
	e := NewEngine(nil)
	e.Register("alice", Thresholds{MinBalance: -100})

	if err := e.Hold("alice", 1, 50); err != nil {
		t.Fatal(err)
	}
	bal, _ := e.Balance("alice")
	if bal != -50 {
		t.Fatalf("expected -50 after hold, got %d", bal)
	}
	if got := e.OutstandingHolds("alice"); got != 50 {
		t.Fatalf("expected 50 outstanding, got %d", got)
	}

	e.Commit(context.Background(), "alice", 1)
	if got := e.OutstandingHolds("alice"); got != 0 {
		t.Fatalf("expected 0 outstanding after commit, got %d", got)
	}
	bal, _ = e.Balance("alice")
	if bal != -50 {
		t.Fatalf("commit must not change settled balance further, got %d", bal)
	}
}

func TestHoldCancelRestoresBalance(t *testing.T) {
	e := NewEngine(nil)
	e.Register("alice", Thresholds{MinBalance: -100})
	if err := e.Hold("alice", 1, 50); err != nil {
		t.Fatal(err)
	}
	e.Cancel("alice", 1)
	bal, _ := e.Balance("alice")
	if bal != 0 {
		t.Fatalf("expected balance restored to 0, got %d", bal)
	}
	if got := e.OutstandingHolds("alice"); got != 0 {
		t.Fatalf("expected no outstanding holds, got %d", got)
	}
}

func TestHoldRejectsBelowMinBalance(t *testing.T) {
	e := NewEngine(nil)
	e.Register("alice", Thresholds{MinBalance: -100})
	if err := e.Hold("alice", 1, 200); err != ErrBelowMinBalance {
		t.Fatalf("expected ErrBelowMinBalance, got %v", err)
	}
	bal, _ := e.Balance("alice")
	if bal != 0 {
		t.Fatalf("failed hold must not change balance, got %d", bal)
	}
}

func TestScenarioInsufficientBalance(t *testing.T) {
	// min_balance=-100, balance=0, 200-unit Prepare
	// must reject T04 and leave balance unchanged.
	e := NewEngine(nil)
	e.Register("alice", Thresholds{MinBalance: -100})
	err := e.Hold("alice", 1, 200)
	if err != ErrBelowMinBalance {
		t.Fatalf("expected ErrBelowMinBalance, got %v", err)
	}
	bal, _ := e.Balance("alice")
	if bal != 0 {
		t.Fatalf("expected balance unchanged at 0, got %d", bal)
	}
}

func TestSettlementTriggerFiresOnThresholdCross(t *testing.T) {
	var gotAccount string
	var gotAmount uint64
	e := NewEngine(func(_ context.Context, accountID string, amount uint64) {
		gotAccount = accountID
		gotAmount = amount
	})
	threshold := int64(100)
	e.Register("alice", Thresholds{MinBalance: -1000, SettleThreshold: &threshold, SettleTo: 0})

	e.CreditReceived(context.Background(), "alice", 150)

	if gotAccount != "alice" {
		t.Fatalf("expected trigger for alice, got %q", gotAccount)
	}
	if gotAmount != 150 {
		t.Fatalf("expected settle amount 150, got %d", gotAmount)
	}
}

func TestSettlementTriggerDoesNotFireBelowThreshold(t *testing.T) {
	fired := false
	e := NewEngine(func(_ context.Context, _ string, _ uint64) { fired = true })
	threshold := int64(100)
	e.Register("alice", Thresholds{MinBalance: -1000, SettleThreshold: &threshold, SettleTo: 0})
	e.CreditReceived(context.Background(), "alice", 50)
	if fired {
		t.Fatal("settlement trigger must not fire below threshold")
	}
}

func TestConcurrentAccountsIndependent(t *testing.T) {
	e := NewEngine(nil)
	e.Register("alice", Thresholds{MinBalance: -1000})
	e.Register("bob", Thresholds{MinBalance: -1000})

	done := make(chan struct{})
	go func() {
		for i := uint64(0); i < 100; i++ {
			_ = e.Hold("alice", i, 1)
			e.Commit(context.Background(), "alice", i)
		}
		done <- struct{}{}
	}()
	go func() {
		for i := uint64(0); i < 100; i++ {
			_ = e.Hold("bob", i, 1)
			e.Commit(context.Background(), "bob", i)
		}
		done <- struct{}{}
	}()
	<-done
	<-done

	aliceBal, _ := e.Balance("alice")
	bobBal, _ := e.Balance("bob")
	if aliceBal != -100 || bobBal != -100 {
		t.Fatalf("expected -100/-100, got %d/%d", aliceBal, bobBal)
	}
}
