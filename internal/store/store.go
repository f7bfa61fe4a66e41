// Package store defines the account/settings/balance/rate/route contract
// the pipeline and admin API consume. Persistence itself is out of scope;
// this package specifies the interface and ships an in-memory reference
// implementation suitable for tests and for a single-process deployment.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// RoutingRelation classifies an account's place in the topology, per
// account configuration.
type RoutingRelation string

const (
	RelationParent            RoutingRelation = "Parent"
	RelationPeer              RoutingRelation = "Peer"
	RelationChild             RoutingRelation = "Child"
	RelationNonRoutingAccount RoutingRelation = "NonRoutingAccount"
)

// EncryptedToken wraps a token so default formatting never leaks it.
// String()/GoString() both redact; callers must go through Reveal() to get
// the bytes. The bytes are kept exactly as passed to NewEncryptedToken:
// this package does not encrypt or decrypt them.
type EncryptedToken struct {
	ciphertext []byte
}

// NewEncryptedToken wraps token bytes as given; no encryption is applied.
func NewEncryptedToken(ciphertext []byte) EncryptedToken {
	return EncryptedToken{ciphertext: ciphertext}
}

// Reveal returns the wrapped bytes exactly as passed to NewEncryptedToken.
// Named Reveal (not a field) so that accidental struct-literal
// copies and %+v formatting cannot reach the bytes.
func (t EncryptedToken) Reveal() []byte { return t.ciphertext }

// IsZero reports whether no token is set.
func (t EncryptedToken) IsZero() bool { return len(t.ciphertext) == 0 }

func (t EncryptedToken) String() string   { return "[redacted]" }
func (t EncryptedToken) GoString() string { return "EncryptedToken([redacted])" }

// Account is an account holder's identity and configuration.
type Account struct {
	ID              uuid.UUID
	Username        string
	ILPAddress      string
	AssetCode       string
	AssetScale      uint8
	MaxPacketAmount uint64
	MinBalance      int64
	SettleThreshold *int64
	SettleTo        int64
	RoutingRelation RoutingRelation
	RoundTripTimeMs uint32

	IncomingToken EncryptedToken
	OutgoingToken EncryptedToken

	// HTTPEndpointURL is where this peer's node listens for inbound
	// Prepare delivery over the HTTP transport (POST {URL}).
	HTTPEndpointURL string

	// BTPEndpointURL, if set, is the ws:// or wss:// address this peer
	// accepts BTP connections on; OutgoingToken doubles as the BTP auth
	// token sent in the post-connect auth frame.
	BTPEndpointURL string

	SettlementEngineURL string

	PacketsPerMinuteLimit *uint32
	AmountPerMinuteLimit  *uint64

	SendRoutesTo      bool
	ReceiveRoutesFrom bool
}

// ErrNotFound is returned by lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyExists is returned by creates that collide on a unique key.
var ErrAlreadyExists = errors.New("store: already exists")

// AccountStore is the subset of persistence the pipeline needs for account
// lookup and topology.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	// GetByIncomingToken authenticates a transport credential and returns
	// the owning account.
	GetByIncomingToken(ctx context.Context, token string) (*Account, error)
	List(ctx context.Context) ([]*Account, error)
	Create(ctx context.Context, a *Account) error
	Update(ctx context.Context, a *Account) error
	Delete(ctx context.Context, username string) error
}

// RateTable answers exchange-rate queries for the pipeline's exchange-rate
// stage. StaticRateTable, the implementation in this package, is never
// modified after construction and has no swap or update operation.
type RateTable interface {
	// Rate returns the multiplier to convert one minor unit of fromAsset
	// into toAsset, or ok=false if no rate is known.
	Rate(fromAsset, toAsset string) (rate float64, ok bool)
}

// InMemoryAccountStore is a reference AccountStore implementation guarded
// by a single RWMutex; adequate for tests and single-node deployments
// where the real persistence layer is out of scope.
type InMemoryAccountStore struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]*Account
	byUsername map[string]*Account
	byToken    map[string]*Account
}

// NewInMemoryAccountStore creates an empty store.
func NewInMemoryAccountStore() *InMemoryAccountStore {
	return &InMemoryAccountStore{
		byID:       make(map[uuid.UUID]*Account),
		byUsername: make(map[string]*Account),
		byToken:    make(map[string]*Account),
	}
}

func (s *InMemoryAccountStore) GetByID(_ context.Context, id uuid.UUID) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (s *InMemoryAccountStore) GetByUsername(_ context.Context, username string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (s *InMemoryAccountStore) GetByIncomingToken(_ context.Context, token string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (s *InMemoryAccountStore) List(_ context.Context) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a)
	}
	return out, nil
}

func (s *InMemoryAccountStore) Create(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUsername[a.Username]; ok {
		return ErrAlreadyExists
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.byID[a.ID] = a
	s.byUsername[a.Username] = a
	if !a.IncomingToken.IsZero() {
		s.byToken[string(a.IncomingToken.Reveal())] = a
	}
	return nil
}

func (s *InMemoryAccountStore) Update(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[a.ID]; !ok {
		return ErrNotFound
	}
	s.byID[a.ID] = a
	s.byUsername[a.Username] = a
	if !a.IncomingToken.IsZero() {
		s.byToken[string(a.IncomingToken.Reveal())] = a
	}
	return nil
}

func (s *InMemoryAccountStore) Delete(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byUsername[username]
	if !ok {
		return ErrNotFound
	}
	delete(s.byUsername, username)
	delete(s.byID, a.ID)
	if !a.IncomingToken.IsZero() {
		delete(s.byToken, string(a.IncomingToken.Reveal()))
	}
	return nil
}

// StaticRateTable is a RateTable backed by a plain map fixed at
// construction; nothing replaces or updates it afterwards.
type StaticRateTable struct {
	rates map[string]float64 // key: fromAsset+"/"+toAsset
}

// NewStaticRateTable builds a rate table from a flat map keyed "FROM/TO".
func NewStaticRateTable(rates map[string]float64) *StaticRateTable {
	return &StaticRateTable{rates: rates}
}

func (t *StaticRateTable) Rate(fromAsset, toAsset string) (float64, bool) {
	if fromAsset == toAsset {
		return 1, true
	}
	r, ok := t.rates[fromAsset+"/"+toAsset]
	return r, ok
}
