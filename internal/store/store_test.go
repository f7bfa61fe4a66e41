package store

import (
	"context"
	"testing"
)

func TestInMemoryAccountStoreCRUD(t *testing.T) {
	s := NewInMemoryAccountStore()
	ctx := context.Background()

	a := &Account{Username: "alice", AssetCode: "XRP", AssetScale: 9, IncomingToken: NewEncryptedToken([]byte("tok-alice"))}
	if err := s.Create(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, a); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := s.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.AssetCode != "XRP" {
		t.Errorf("got %q", got.AssetCode)
	}

	byTok, err := s.GetByIncomingToken(ctx, "tok-alice")
	if err != nil {
		t.Fatal(err)
	}
	if byTok.Username != "alice" {
		t.Errorf("got %q", byTok.Username)
	}

	got.AssetScale = 12
	if err := s.Update(ctx, got); err != nil {
		t.Fatal(err)
	}
	got2, _ := s.GetByUsername(ctx, "alice")
	if got2.AssetScale != 12 {
		t.Errorf("update did not persist")
	}

	if err := s.Delete(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetByUsername(ctx, "alice"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestEncryptedTokenRedaction(t *testing.T) {
	tok := NewEncryptedToken([]byte("super-secret"))
	if tok.String() != "[redacted]" {
		t.Fatalf("token formatting leaked: %q", tok.String())
	}
}

func TestStaticRateTable(t *testing.T) {
	rt := NewStaticRateTable(map[string]float64{"XRP/USD": 0.5})
	r, ok := rt.Rate("XRP", "USD")
	if !ok || r != 0.5 {
		t.Fatalf("got %v %v", r, ok)
	}
	if r2, ok := rt.Rate("XRP", "XRP"); !ok || r2 != 1 {
		t.Fatalf("same-asset rate should be 1, got %v %v", r2, ok)
	}
	if _, ok := rt.Rate("XRP", "EUR"); ok {
		t.Fatal("expected no rate for unknown pair")
	}
}
