package ilpaddr

import "testing"

func TestParseValid(t *testing.T) {
	cases := []string{
		"g.foo.bar",
		"private.node",
		"test.alice",
		"peer.config",
		"local.bob",
		"self.thing",
		"g.a_b-c~d",
	}
	for _, c := range cases {
		if _, err := Parse(c); err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", c, err)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	cases := map[string]error{
		"":          ErrEmpty,
		"foo.bar":   ErrUnknownScheme,
		"g.":        ErrInvalidSegment,
		"g..bar":    ErrInvalidSegment,
		"g.foo bar": ErrInvalidSegment,
		"g.foo!bar": ErrInvalidSegment,
	}
	for in, want := range cases {
		_, err := Parse(in)
		if err != want {
			t.Errorf("Parse(%q): got %v, want %v", in, err, want)
		}
	}
}

func TestTooLong(t *testing.T) {
	s := "g."
	for len(s) < MaxLength+10 {
		s += "a"
	}
	if _, err := Parse(s); err != ErrTooLong {
		t.Errorf("expected ErrTooLong, got %v", err)
	}
}

func TestSegments(t *testing.T) {
	a := MustParse("g.foo.bar")
	segs := a.Segments()
	want := []string{"g", "foo", "bar"}
	if len(segs) != len(want) {
		t.Fatalf("got %v want %v", segs, want)
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Errorf("segment %d: got %q want %q", i, segs[i], want[i])
		}
	}
}

func TestWithSuffix(t *testing.T) {
	a := MustParse("g.foo")
	b, err := a.WithSuffix("bar")
	if err != nil {
		t.Fatal(err)
	}
	if b.String() != "g.foo.bar" {
		t.Errorf("got %q", b.String())
	}
}

func TestStartsWith(t *testing.T) {
	a := MustParse("g.foo.bar")
	if !a.StartsWith(MustParse("g.foo")) {
		t.Error("expected g.foo.bar to start with g.foo")
	}
	if !a.StartsWith(MustParse("g.foo.bar")) {
		t.Error("an address starts with itself")
	}
	if a.StartsWith(MustParse("g.foobar")) {
		t.Error("g.foo.bar must not start with g.foobar (not segment-aligned)")
	}
	if a.StartsWith(MustParse("g.baz")) {
		t.Error("unexpected prefix match")
	}
}

func TestHasPrefixString(t *testing.T) {
	if !HasPrefixString("g.foo.bar", "g.foo") {
		t.Error("expected match")
	}
	if HasPrefixString("g.foobar", "g.foo") {
		t.Error("unexpected match")
	}
}
