// Package settlement implements the bridge between the balance engine's
// settle_threshold crossings and each account's settlement-engine HTTP API:
// coalesced outbound calls, exponential-backoff retry, and
// idempotency-keyed inbound notification handling. The outbound HTTP call
// uses a context-aware POST with JSON response decode and
// status-code-to-error mapping.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/interledger/ilp-gateway/internal/store"
)

// CoalesceWindow is how long outbound settlement requests for the same
// account are coalesced into a single call.
const CoalesceWindow = 200 * time.Millisecond

// MaxRetries bounds the exponential-backoff retry loop. Backoff is
// 10ms * 2^n.
const MaxRetries = 10

const baseBackoff = 10 * time.Millisecond

// outboundRequest is the body POSTed to an account's settlement engine.
type outboundRequest struct {
	AccountID string `json:"account_id"`
	Amount    uint64 `json:"amount"`
	Scale     uint8  `json:"scale"`
}

// Bridge coalesces and delivers outbound settlement calls, and records
// inbound notifications idempotently.
type Bridge struct {
	Accounts store.AccountStore
	Balances BalanceCreditor
	Client   *http.Client

	mu      sync.Mutex
	pending map[string]*coalesced

	idemMu sync.Mutex
	idem   map[string]idempotentEntry

	// leftoverMu guards leftover, the per-account sub-unit remainder left
	// over from the last inbound notification's engine-scale-to-account-
	// scale conversion, folded into the next notification's amount before
	// it is divided again.
	leftoverMu sync.Mutex
	leftover   map[string]uint64
}

// BalanceCreditor is the subset of the balance engine the inbound
// notification handler needs.
type BalanceCreditor interface {
	CreditReceived(ctx context.Context, accountID string, amount uint64)
}

type coalesced struct {
	mu      sync.Mutex
	amount  uint64
	timer   *time.Timer
	flushed bool
}

type idempotentEntry struct {
	storedAt time.Time
	amount   uint64
	response []byte
}

// IdempotencyTTL is how long an inbound notification's response is cached
// for replay.
const IdempotencyTTL = 24 * time.Hour

// NewBridge builds a Bridge.
func NewBridge(accounts store.AccountStore, balances BalanceCreditor) *Bridge {
	return &Bridge{
		Accounts: accounts,
		Balances: balances,
		Client:   &http.Client{Timeout: 30 * time.Second},
		pending:  make(map[string]*coalesced),
		idem:     make(map[string]idempotentEntry),
		leftover: make(map[string]uint64),
	}
}

// EnqueueSettlement is the SettlementTrigger callback wired into
// internal/balance.Engine: it coalesces bursts within CoalesceWindow into
// one outbound call per account.
func (b *Bridge) EnqueueSettlement(ctx context.Context, accountID string, amount uint64) {
	b.mu.Lock()
	c, ok := b.pending[accountID]
	if !ok {
		c = &coalesced{}
		b.pending[accountID] = c
	}
	b.mu.Unlock()

	c.mu.Lock()
	c.amount += amount
	if c.timer == nil {
		c.timer = time.AfterFunc(CoalesceWindow, func() { b.flush(ctx, accountID, c) })
	}
	c.mu.Unlock()
}

func (b *Bridge) flush(ctx context.Context, accountID string, c *coalesced) {
	c.mu.Lock()
	amount := c.amount
	c.amount = 0
	c.timer = nil
	c.mu.Unlock()

	if amount == 0 {
		return
	}

	acct, err := b.Accounts.GetByUsername(ctx, accountID)
	if err != nil || acct.SettlementEngineURL == "" {
		return
	}

	if err := b.postWithRetry(ctx, acct, amount); err != nil {
		slog.Error("settlement delivery abandoned after retries", "account", accountID, "err", err)
	}
}

// postWithRetry delivers one settlement call, retrying with exponential
// backoff up to MaxRetries times. Settlement is eventually consistent: a
// final failure is logged and dropped, never propagated to the data plane.
func (b *Bridge) postWithRetry(ctx context.Context, acct *store.Account, amount uint64) error {
	body, err := json.Marshal(outboundRequest{AccountID: acct.Username, Amount: amount, Scale: acct.AssetScale})
	if err != nil {
		return fmt.Errorf("marshalling settlement request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := b.post(ctx, acct.SettlementEngineURL+"/accounts/"+acct.Username+"/settlements", body); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("after %d attempts: %w", MaxRetries+1, lastErr)
}

// post sends a JSON POST and discards a successful response body,
// with context propagation, an explicit Content-Type, and
// status-to-error mapping.
func (b *Bridge) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("settlement engine returned %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

// ErrIdempotencyConflict is returned when idempotencyKey was already used
// for a notification carrying a different amount.
var ErrIdempotencyConflict = errors.New("settlement: idempotency key reused with a different amount")

// HandleInbound processes an inbound settlement notification, keyed by
// idempotencyKey. amount is denominated in the settlement engine's own
// scale, which need not match the account's asset_scale; it is converted
// down to the account's scale before crediting, carrying any sub-unit
// remainder forward in the account's leftovers entry for the next
// notification to fold back in. The first call with a given key credits
// the account and caches the response; subsequent calls with the same key
// and amount replay the cached response without crediting again, and a
// call reusing the key with a different amount returns
// ErrIdempotencyConflict rather than silently replaying or
// double-crediting.
func (b *Bridge) HandleInbound(ctx context.Context, idempotencyKey, accountID string, amount uint64, engineScale uint8) ([]byte, error) {
	b.idemMu.Lock()
	if entry, ok := b.idem[idempotencyKey]; ok {
		b.idemMu.Unlock()
		if entry.amount != amount {
			return nil, ErrIdempotencyConflict
		}
		return entry.response, nil
	}
	b.idemMu.Unlock()

	acct, err := b.Accounts.GetByUsername(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("settlement: unknown account %s: %w", accountID, err)
	}

	credited := b.convertToAccountScale(accountID, amount, engineScale, acct.AssetScale)
	b.Balances.CreditReceived(ctx, accountID, credited)
	resp, _ := json.Marshal(map[string]interface{}{"accountId": accountID, "amount": amount, "accepted": true})

	b.idemMu.Lock()
	b.idem[idempotencyKey] = idempotentEntry{storedAt: time.Now(), amount: amount, response: resp}
	b.idemMu.Unlock()

	return resp, nil
}

// Leftover returns the sub-unit remainder currently pending for accountID,
// awaiting the next inbound settlement notification to fold back in.
func (b *Bridge) Leftover(accountID string) uint64 {
	b.leftoverMu.Lock()
	defer b.leftoverMu.Unlock()
	return b.leftover[accountID]
}

// convertToAccountScale scales amount, reported at engineScale, down to
// accountScale. When the engine reports at a finer scale than the
// account, the division remainder is stored rather than dropped, and
// folded into the amount on the account's next notification.
func (b *Bridge) convertToAccountScale(accountID string, amount uint64, engineScale, accountScale uint8) uint64 {
	if engineScale <= accountScale {
		return amount * pow10Uint(int(accountScale)-int(engineScale))
	}

	divisor := pow10Uint(int(engineScale) - int(accountScale))
	b.leftoverMu.Lock()
	total := amount + b.leftover[accountID]
	b.leftover[accountID] = total % divisor
	b.leftoverMu.Unlock()
	return total / divisor
}

func pow10Uint(exp int) uint64 {
	result := uint64(1)
	for i := 0; i < exp; i++ {
		result *= 10
	}
	return result
}

// SweepExpiredIdempotencyKeys evicts cached inbound responses older than
// IdempotencyTTL. Nothing in this repository calls it on a schedule;
// cached responses stay until a caller runs a sweep.
func (b *Bridge) SweepExpiredIdempotencyKeys(now time.Time) {
	b.idemMu.Lock()
	defer b.idemMu.Unlock()
	for k, v := range b.idem {
		if now.Sub(v.storedAt) > IdempotencyTTL {
			delete(b.idem, k)
		}
	}
}
