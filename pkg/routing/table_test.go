package routing

import (
	"testing"

	"github.com/interledger/ilp-gateway/pkg/ilpaddr"
)

func TestLongestPrefixLookup(t *testing.T) {
	tbl := New([16]byte{1})
	tbl.Upsert("acct-1", Route{Prefix: "g"})
	tbl.Upsert("acct-2", Route{Prefix: "g.foo"})
	tbl.Upsert("acct-3", Route{Prefix: "g.foo.bar"})

	got, ok := tbl.Lookup(ilpaddr.MustParse("g.foo.bar.baz"))
	if !ok {
		t.Fatal("expected a match")
	}
	if got.AccountID != "acct-3" {
		t.Fatalf("expected longest prefix acct-3, got %s", got.AccountID)
	}
}

func TestLookupNoMatch(t *testing.T) {
	tbl := New([16]byte{1})
	tbl.Upsert("acct-1", Route{Prefix: "g.foo"})
	if _, ok := tbl.Lookup(ilpaddr.MustParse("private.bar")); ok {
		t.Fatal("expected no match")
	}
}

func TestEpochIncrementsOnWrite(t *testing.T) {
	tbl := New([16]byte{1})
	e0 := tbl.Epoch()
	tbl.Upsert("acct-1", Route{Prefix: "g.foo"})
	if tbl.Epoch() != e0+1 {
		t.Fatalf("expected epoch to increment")
	}
	tbl.Remove("g.foo")
	if tbl.Epoch() != e0+2 {
		t.Fatalf("expected epoch to increment again on remove")
	}
}

func TestResetEpoch(t *testing.T) {
	tbl := New([16]byte{1})
	tbl.Upsert("acct-1", Route{Prefix: "g.foo"})
	tbl.ResetEpoch()
	if tbl.Epoch() != 0 {
		t.Fatalf("expected epoch reset to 0")
	}
}

func TestRemoveAllForAccount(t *testing.T) {
	tbl := New([16]byte{1})
	tbl.Upsert("acct-1", Route{Prefix: "g.a"})
	tbl.Upsert("acct-1", Route{Prefix: "g.b"})
	tbl.Upsert("acct-2", Route{Prefix: "g.c"})
	tbl.RemoveAllForAccount("acct-1")
	snap := tbl.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 remaining route, got %d", len(snap))
	}
	if _, ok := snap["g.c"]; !ok {
		t.Fatalf("expected acct-2's route to survive")
	}
}

func TestContainsSelf(t *testing.T) {
	if !ContainsSelf([]string{"g.a", "g.b"}, "g.b") {
		t.Fatal("expected self to be found")
	}
	if ContainsSelf([]string{"g.a"}, "g.c") {
		t.Fatal("expected self not to be found")
	}
}

func TestPreferRouteShortestPathWins(t *testing.T) {
	if !PreferRoute([]string{"a", "b"}, 10, "x", []string{"a"}, 100, "y") {
		t.Fatal("expected shorter path to win regardless of RTT")
	}
}

func TestPreferRouteRTTTiebreak(t *testing.T) {
	if !PreferRoute([]string{"a"}, 100, "x", []string{"a"}, 10, "y") {
		t.Fatal("expected lower RTT to win on equal path length")
	}
}

func TestPreferRouteAccountIDTiebreak(t *testing.T) {
	if !PreferRoute([]string{"a"}, 10, "zzz", []string{"a"}, 10, "aaa") {
		t.Fatal("expected lower account id to win on full tie")
	}
}
