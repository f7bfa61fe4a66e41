package pipeline

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// amountBucket is a refundable token bucket tracking throughput in asset
// units per minute. golang.org/x/time/rate.Limiter has no refund primitive,
// and a rejected Prepare must credit the amount bucket back on a
// downstream reject, so this one piece is a small hand-rolled bucket
// (ecosystem search turned up nothing suitable), built as an
// atomic increment-then-rollback counter.
type amountBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	last       time.Time
}

func newAmountBucket(perMinute uint64) *amountBucket {
	cap := float64(perMinute)
	return &amountBucket{
		capacity:   cap,
		tokens:     cap,
		refillRate: cap / 60,
		last:       time.Now(),
	}
}

func (b *amountBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}

// take attempts to withdraw amount tokens, reporting whether it succeeded.
func (b *amountBucket) take(amount uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	if b.tokens < float64(amount) {
		return false
	}
	b.tokens -= float64(amount)
	return true
}

// refund returns amount tokens to the bucket, capped at capacity.
func (b *amountBucket) refund(amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	b.tokens += float64(amount)
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// perAccountLimits bundles the two independent limiters for one account.
type perAccountLimits struct {
	packets *rate.Limiter
	amount  *amountBucket
}

// RateLimiterRegistry holds the per-account rate-limit state the rate-limit
// stage consults, keyed by account username. Limits are configured per
// account (packets_per_minute_limit, amount_per_minute_limit);
// accounts with no configured limit are never throttled.
type RateLimiterRegistry struct {
	mu    sync.Mutex
	limit map[string]*perAccountLimits
}

// NewRateLimiterRegistry creates an empty registry.
func NewRateLimiterRegistry() *RateLimiterRegistry {
	return &RateLimiterRegistry{limit: make(map[string]*perAccountLimits)}
}

// Configure (re)installs the limiters for accountID, replacing any previous
// configuration. A nil limit pointer disables that dimension's throttling.
func (reg *RateLimiterRegistry) Configure(accountID string, packetsPerMinute *uint32, amountPerMinute *uint64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	pal := &perAccountLimits{}
	if packetsPerMinute != nil && *packetsPerMinute > 0 {
		perSecond := float64(*packetsPerMinute) / 60
		pal.packets = rate.NewLimiter(rate.Limit(perSecond), int(*packetsPerMinute))
	}
	if amountPerMinute != nil && *amountPerMinute > 0 {
		pal.amount = newAmountBucket(*amountPerMinute)
	}
	reg.limit[accountID] = pal
}

func (reg *RateLimiterRegistry) get(accountID string) *perAccountLimits {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.limit[accountID]
}

// allow reports whether a packet of the given amount from accountID may
// proceed, consuming from both buckets. If the amount bucket rejects after
// the packet bucket accepted, the packet token is not refunded (it
// legitimately represents one attempt); only the amount bucket supports
// refund, invoked by the rate-limit stage on downstream reject.
func (reg *RateLimiterRegistry) allow(accountID string, amount uint64) bool {
	pal := reg.get(accountID)
	if pal == nil {
		return true
	}
	if pal.packets != nil && !pal.packets.Allow() {
		return false
	}
	if pal.amount != nil && !pal.amount.take(amount) {
		return false
	}
	return true
}

// refund returns amount to accountID's amount bucket, a no-op if the account
// has no amount bucket configured.
func (reg *RateLimiterRegistry) refund(accountID string, amount uint64) {
	pal := reg.get(accountID)
	if pal == nil || pal.amount == nil {
		return
	}
	pal.amount.refund(amount)
}
