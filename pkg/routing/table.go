// Package routing implements the longest-prefix routing table: a
// hash-map-keyed prefix→route index with atomic whole-table snapshot swaps
// for lock-free concurrent lookup.
package routing

import (
	"strings"
	"sync/atomic"

	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
)

// Route describes how to reach destinations under a prefix.
type Route struct {
	Prefix string
	Path   []string
	Auth   [32]byte
	Props  []string
}

// Entry pairs a Route with the peer account that advertised it.
type Entry struct {
	AccountID string
	Route     Route
}

// snapshot is the immutable table contents a Table points to.
type snapshot struct {
	byPrefix map[string]Entry
	id       [16]byte
	epoch    uint32
}

// Table is a longest-prefix routing table. Readers call Lookup/Snapshot and
// always observe a consistent view; a single writer publishes new snapshots
// with Swap/Upsert/Remove. Safe for concurrent use: many readers, one
// writer per broadcast epoch.
type Table struct {
	ptr atomic.Pointer[snapshot]
}

// New creates an empty table with the given 16-byte id.
func New(id [16]byte) *Table {
	t := &Table{}
	t.ptr.Store(&snapshot{byPrefix: make(map[string]Entry), id: id})
	return t
}

// ID returns the table's 16-byte identity.
func (t *Table) ID() [16]byte {
	return t.ptr.Load().id
}

// Epoch returns the table's current monotonic epoch counter.
func (t *Table) Epoch() uint32 {
	return t.ptr.Load().epoch
}

// Lookup returns the entry whose prefix is the longest segment-aligned
// prefix of dest (longest-prefix invariant). Ties do
// not occur because prefixes are unique keys in the map.
func (t *Table) Lookup(dest ilpaddr.Address) (Entry, bool) {
	snap := t.ptr.Load()
	destStr := dest.String()
	var best Entry
	bestLen := -1
	for prefix, entry := range snap.byPrefix {
		if !ilpaddr.HasPrefixString(destStr, prefix) {
			continue
		}
		if len(prefix) > bestLen {
			bestLen = len(prefix)
			best = entry
		}
	}
	if bestLen < 0 {
		return Entry{}, false
	}
	return best, true
}

// Snapshot returns a read-only copy of all entries keyed by prefix, e.g. for
// serializing a route update.
func (t *Table) Snapshot() map[string]Entry {
	snap := t.ptr.Load()
	out := make(map[string]Entry, len(snap.byPrefix))
	for k, v := range snap.byPrefix {
		out[k] = v
	}
	return out
}

// Upsert installs or replaces the route at prefix, bumping the epoch, and
// publishes the new snapshot atomically. Safe to call concurrently with
// readers; writers (the broadcaster) must serialize calls to Upsert/Remove
// themselves.
func (t *Table) Upsert(accountID string, route Route) {
	old := t.ptr.Load()
	next := cloneSnapshot(old)
	next.byPrefix[route.Prefix] = Entry{AccountID: accountID, Route: route}
	next.epoch++
	t.ptr.Store(next)
}

// Remove withdraws the route at prefix, bumping the epoch.
func (t *Table) Remove(prefix string) {
	old := t.ptr.Load()
	if _, ok := old.byPrefix[prefix]; !ok {
		return
	}
	next := cloneSnapshot(old)
	delete(next.byPrefix, prefix)
	next.epoch++
	t.ptr.Store(next)
}

// RemoveAllForAccount withdraws every route advertised by accountID, e.g. on
// account delete.
func (t *Table) RemoveAllForAccount(accountID string) {
	old := t.ptr.Load()
	next := cloneSnapshot(old)
	changed := false
	for prefix, e := range next.byPrefix {
		if e.AccountID == accountID {
			delete(next.byPrefix, prefix)
			changed = true
		}
	}
	if changed {
		next.epoch++
		t.ptr.Store(next)
	}
}

// ResetEpoch sets the stored epoch to 0, used when a peer's table-id
// changes.
func (t *Table) ResetEpoch() {
	old := t.ptr.Load()
	next := cloneSnapshot(old)
	next.epoch = 0
	t.ptr.Store(next)
}

// SetID replaces the table's identity (used by the merge logic when a
// peer re-keys its table).
func (t *Table) SetID(id [16]byte) {
	old := t.ptr.Load()
	next := cloneSnapshot(old)
	next.id = id
	t.ptr.Store(next)
}

func cloneSnapshot(s *snapshot) *snapshot {
	out := &snapshot{
		byPrefix: make(map[string]Entry, len(s.byPrefix)),
		id:       s.id,
		epoch:    s.epoch,
	}
	for k, v := range s.byPrefix {
		out.byPrefix[k] = v
	}
	return out
}

// ContainsSelf reports whether addr appears in path, used for loop
// prevention on route receipt.
func ContainsSelf(path []string, self string) bool {
	for _, p := range path {
		if p == self {
			return true
		}
	}
	return false
}

// PreferRoute implements the route-selection tie-break rule: shortest path
// wins; ties broken by lower round-trip time; further ties by stable
// account id ordering. It returns true if candidate should replace current.
func PreferRoute(currentPath []string, currentRTTMs uint32, currentAccountID string,
	candidatePath []string, candidateRTTMs uint32, candidateAccountID string) bool {
	if len(candidatePath) != len(currentPath) {
		return len(candidatePath) < len(currentPath)
	}
	if candidateRTTMs != currentRTTMs {
		return candidateRTTMs < currentRTTMs
	}
	return strings.Compare(candidateAccountID, currentAccountID) < 0
}
