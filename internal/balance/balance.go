// Package balance implements the per-account hold/commit/cancel ledger:
// an atomic increment-then-rollback counter generalized into a signed
// ledger with a min_balance floor and a settlement-trigger callback.
package balance

import (
	"context"
	"errors"
	"sync"
)

// ErrBelowMinBalance is returned by Hold when decrementing would push the
// account's effective balance below its configured floor.
var ErrBelowMinBalance = errors.New("balance: hold would breach min_balance")

// SettlementTrigger is invoked after a commit that crosses settle_threshold,
// amount is always >= 0.
type SettlementTrigger func(ctx context.Context, accountID string, amount uint64)

// Thresholds carries the per-account parameters the engine needs without
// depending on the store package's Account type, keeping this package
// reusable and its tests self-contained.
type Thresholds struct {
	MinBalance      int64
	SettleThreshold *int64
	SettleTo        int64
}

type account struct {
	mu      sync.Mutex
	balance int64 // settled
	prepaid int64 // uncommitted-incoming credit
	holds   map[uint64]uint64
	params  Thresholds
}

// Engine is the atomic per-account balance ledger. Hold/commit/cancel for a
// given account are serialized via that account's mutex; different
// accounts run fully concurrently.
type Engine struct {
	mu       sync.Mutex // guards the accounts map itself, not its contents
	accounts map[string]*account
	trigger  SettlementTrigger
}

// NewEngine creates an Engine that calls trigger after every commit that
// crosses settle_threshold. trigger may be nil to disable settlement
// triggering (e.g. in codec/unit tests).
func NewEngine(trigger SettlementTrigger) *Engine {
	return &Engine{accounts: make(map[string]*account), trigger: trigger}
}

// Register creates (or replaces the thresholds of) the ledger entry for
// accountID. Existing balance/holds are preserved if the account already
// exists; only Thresholds are updated, matching an admin settings change.
func (e *Engine) Register(accountID string, params Thresholds) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.accounts[accountID]
	if !ok {
		a = &account{holds: make(map[uint64]uint64)}
		e.accounts[accountID] = a
	}
	a.mu.Lock()
	a.params = params
	a.mu.Unlock()
}

func (e *Engine) get(accountID string) *account {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.accounts[accountID]
	if !ok {
		a = &account{holds: make(map[uint64]uint64)}
		e.accounts[accountID] = a
	}
	return a
}

// Balance returns the current (settled balance, prepaid) pair.
func (e *Engine) Balance(accountID string) (balance, prepaid int64) {
	a := e.get(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, a.prepaid
}

// Hold decrements the account's effective balance by amount and records the
// hold under seq, failing with ErrBelowMinBalance (which the incoming
// balance stage converts into Reject code T04) if the result would breach
// min_balance. The invariant "balance >= min_balance whenever a hold is
// outstanding" is enforced here.
func (e *Engine) Hold(accountID string, seq uint64, amount uint64) error {
	a := e.get(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.balance - int64(amount)
	if next < a.params.MinBalance {
		return ErrBelowMinBalance
	}
	a.balance = next
	a.holds[seq] = amount
	return nil
}

// Commit converts an outstanding hold into settled balance (the amount was
// already debited by Hold; commit simply releases the hold record and
// triggers settlement accounting): when the balance has reached the
// account's settle threshold, it calls the engine's settlement trigger with
// the amount above settle_to.
func (e *Engine) Commit(ctx context.Context, accountID string, seq uint64) {
	a := e.get(accountID)
	a.mu.Lock()
	_, ok := a.holds[seq]
	if ok {
		delete(a.holds, seq)
	}
	bal := a.balance
	threshold := a.params.SettleThreshold
	settleTo := a.params.SettleTo
	a.mu.Unlock()

	if !ok || threshold == nil || e.trigger == nil {
		return
	}
	if bal >= *threshold {
		settleAmt := bal - settleTo
		if settleAmt > 0 {
			e.trigger(ctx, accountID, uint64(settleAmt))
		}
	}
}

// Cancel restores the balance a prior Hold decremented and discards the
// hold record. Infallible.
func (e *Engine) Cancel(accountID string, seq uint64) {
	a := e.get(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()
	amt, ok := a.holds[seq]
	if !ok {
		return
	}
	delete(a.holds, seq)
	a.balance += int64(amt)
}

// CreditReceived adds amount directly to settled balance without a prior
// hold — used when this account is the receiving leg of a transfer that
// fulfilled (the sender's balance was held+committed on the incoming side;
// the receiving peer's balance here is credited outright), and by the
// settlement bridge's inbound notification handler.
func (e *Engine) CreditReceived(ctx context.Context, accountID string, amount uint64) {
	a := e.get(accountID)
	a.mu.Lock()
	a.balance += int64(amount)
	bal := a.balance
	threshold := a.params.SettleThreshold
	settleTo := a.params.SettleTo
	a.mu.Unlock()

	if threshold == nil || e.trigger == nil {
		return
	}
	if bal >= *threshold {
		settleAmt := bal - settleTo
		if settleAmt > 0 {
			e.trigger(ctx, accountID, uint64(settleAmt))
		}
	}
}

// DebitSettled reduces settled balance following a confirmed outbound
// settlement of amount.
func (e *Engine) DebitSettled(accountID string, amount uint64) {
	a := e.get(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance -= int64(amount)
}

// OutstandingHolds returns the sum of all holds currently recorded for
// accountID, used by tests asserting the hold-conservation invariant of
// the hold/commit/cancel invariant.
func (e *Engine) OutstandingHolds(accountID string) uint64 {
	a := e.get(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()
	var sum uint64
	for _, v := range a.holds {
		sum += v
	}
	return sum
}

